package testutil

import (
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"testing"
)

func TestNewFakeBinaryEmitsLines(t *testing.T) {
	bin := NewFakeBinary(t,
		WithStdoutLines("out one", "out two"),
		WithStderrLines("err one"),
		WithExitCode(3),
	)

	cmd := exec.Command(bin)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("expected exit error, got %v", err)
	}
	if exitErr.ExitCode() != 3 {
		t.Errorf("exit code = %d, want 3", exitErr.ExitCode())
	}
	if got := stdout.String(); got != "out one\nout two\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := stderr.String(); got != "err one\n" {
		t.Errorf("stderr = %q", got)
	}
}

func TestNewFakeBinaryFailuresThenSuccess(t *testing.T) {
	bin := NewFakeBinary(t,
		WithFailures(2, "connection reset by peer", 1),
		WithStdoutLines(Event("done", nil)),
	)

	for run := 1; run <= 3; run++ {
		cmd := exec.Command(bin)
		var stdout strings.Builder
		cmd.Stdout = &stdout
		err := cmd.Run()

		if run <= 2 {
			if err == nil {
				t.Fatalf("run %d: expected failure", run)
			}
			if !strings.Contains(stdout.String(), "connection reset") {
				t.Errorf("run %d: stdout = %q", run, stdout.String())
			}
		} else {
			if err != nil {
				t.Fatalf("run %d: expected success, got %v", run, err)
			}
			if !strings.Contains(stdout.String(), `"done"`) {
				t.Errorf("run %d: stdout = %q", run, stdout.String())
			}
		}
	}
}

func TestNewFakeBinaryRecordsArgs(t *testing.T) {
	argsFile := t.TempDir() + "/args.log"
	bin := NewFakeBinary(t, WithArgsFile(argsFile))

	if err := exec.Command(bin, "--format", "flac", "it's").Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args file: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "--format flac it's" {
		t.Errorf("recorded args = %q", got)
	}
}

func TestEventBuildsValidJSON(t *testing.T) {
	line := Event("track_start", map[string]any{"title": "Paranoid", "index": 1})
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("Event produced invalid JSON: %v", err)
	}
	if m["event"] != "track_start" || m["title"] != "Paranoid" {
		t.Errorf("unexpected payload: %v", m)
	}
}

func TestSuccessRunShape(t *testing.T) {
	lines := SuccessRun(2)
	if len(lines) != 2+3*2+1 {
		t.Fatalf("line count = %d", len(lines))
	}
	for _, line := range lines {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Errorf("line %q: %v", line, err)
		}
	}
	if !strings.Contains(lines[len(lines)-1], `"done"`) {
		t.Errorf("last line should be the done event, got %q", lines[len(lines)-1])
	}
}
