package cmd

import "testing"

func TestResolveConnectBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		insecure bool
		want     string
		wantErr  bool
	}{
		{name: "bare loopback stays http", target: "127.0.0.1:9753", want: "http://127.0.0.1:9753"},
		{name: "localhost stays http", target: "localhost:9753", want: "http://localhost:9753"},
		{name: "bare remote defaults to https", target: "music.example.com:9753", want: "https://music.example.com:9753"},
		{name: "bare remote with insecure flag", target: "music.example.com:9753", insecure: true, want: "http://music.example.com:9753"},
		{name: "explicit https passes", target: "https://music.example.com", want: "https://music.example.com"},
		{name: "explicit https trailing slash trimmed", target: "https://music.example.com/", want: "https://music.example.com"},
		{name: "explicit http to loopback passes", target: "http://127.0.0.1:9753", want: "http://127.0.0.1:9753"},
		{name: "explicit http to remote refused", target: "http://music.example.com", wantErr: true},
		{name: "explicit http to remote with flag", target: "http://music.example.com", insecure: true, want: "http://music.example.com"},
		{name: "unsupported scheme", target: "ftp://music.example.com", wantErr: true},
		{name: "empty target", target: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveConnectBaseURL(tt.target, tt.insecure)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveConnectBaseURL: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsLoopbackHost(t *testing.T) {
	for _, host := range []string{"localhost", "LOCALHOST", "127.0.0.1", "::1"} {
		if !isLoopbackHost(host) {
			t.Errorf("isLoopbackHost(%q) = false", host)
		}
	}
	for _, host := range []string{"music.example.com", "192.168.1.5", "10.0.0.1", ""} {
		if isLoopbackHost(host) {
			t.Errorf("isLoopbackHost(%q) = true", host)
		}
	}
}

func TestHostnameFromTarget(t *testing.T) {
	if got := hostnameFromTarget("music.example.com:9753"); got != "music.example.com" {
		t.Fatalf("got %q", got)
	}
	if got := hostnameFromTarget("music.example.com"); got != "music.example.com" {
		t.Fatalf("got %q", got)
	}
	if got := hostnameFromTarget("[::1]:9753"); got != "::1" {
		t.Fatalf("got %q", got)
	}
}
