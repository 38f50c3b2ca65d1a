package utils

import (
	"reflect"
	"testing"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"spaces only", "   ", nil, false},
		{"plain args", "--force --verbose", []string{"--force", "--verbose"}, false},
		{"double quoted", `--out "my music"`, []string{"--out", "my music"}, false},
		{"single quoted", `--out 'my music'`, []string{"--out", "my music"}, false},
		{"quote glued to word", `--out="a b"`, []string{"--out=a b"}, false},
		{"escaped space", `a\ b c`, []string{"a b", "c"}, false},
		{"empty quoted arg", `a "" b`, []string{"a", "", "b"}, false},
		{"backslash in single quotes", `'a\b'`, []string{`a\b`}, false},
		{"collapsed whitespace", "a \t  b", []string{"a", "b"}, false},
		{"unclosed double quote", `a "b`, nil, true},
		{"unclosed single quote", `a 'b`, nil, true},
		{"trailing backslash", `a\`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitArgs(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("SplitArgs(%q) succeeded with %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("SplitArgs(%q) failed: %v", tt.in, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitArgs(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Paranoid", "Paranoid"},
		{"AC/DC - Back In Black", "ACDC - Back In Black"},
		{`a<b>c:d"e`, "abcde"},
		{"  trimmed.  ", "trimmed"},
		{"///", "untitled"},
		{"", "untitled"},
	}

	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
