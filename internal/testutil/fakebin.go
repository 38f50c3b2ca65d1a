// Package testutil provides testing utilities for the spindle queue engine:
// fake downloader binaries emitting canned event streams, and HTTP listener
// helpers for API tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeBinaryConfig collects the script-building options.
type fakeBinaryConfig struct {
	stdoutLines []string
	stderrLines []string
	exitCode    int
	lineDelay   time.Duration
	hang        bool
	argsFile    string
	failTimes   int
	failLine    string
	failCode    int
}

// FakeBinaryOption configures a fake downloader script.
type FakeBinaryOption func(*fakeBinaryConfig)

// WithStdoutLines sets lines the fake binary prints to stdout, in order.
func WithStdoutLines(lines ...string) FakeBinaryOption {
	return func(c *fakeBinaryConfig) {
		c.stdoutLines = append(c.stdoutLines, lines...)
	}
}

// WithStderrLines sets lines the fake binary prints to stderr, in order.
func WithStderrLines(lines ...string) FakeBinaryOption {
	return func(c *fakeBinaryConfig) {
		c.stderrLines = append(c.stderrLines, lines...)
	}
}

// WithExitCode sets the fake binary's exit code (default 0).
func WithExitCode(code int) FakeBinaryOption {
	return func(c *fakeBinaryConfig) {
		c.exitCode = code
	}
}

// WithLineDelay sleeps between stdout lines (simulates a slow run).
func WithLineDelay(d time.Duration) FakeBinaryOption {
	return func(c *fakeBinaryConfig) {
		c.lineDelay = d
	}
}

// WithHang makes the fake binary sleep forever after its output, so tests
// can exercise timeouts and cancellation.
func WithHang() FakeBinaryOption {
	return func(c *fakeBinaryConfig) {
		c.hang = true
	}
}

// WithArgsFile records the argv of every invocation, one line per run,
// into the given file.
func WithArgsFile(path string) FakeBinaryOption {
	return func(c *fakeBinaryConfig) {
		c.argsFile = path
	}
}

// WithFailures makes the first n invocations print failLine and exit with
// failCode; later invocations run the normal script. A counter file next to
// the script tracks invocations across runs.
func WithFailures(n int, failLine string, failCode int) FakeBinaryOption {
	return func(c *fakeBinaryConfig) {
		c.failTimes = n
		c.failLine = failLine
		c.failCode = failCode
	}
}

// NewFakeBinary writes an executable shell script into a temp dir and
// returns its path. Skips the test on platforms without /bin/sh.
func NewFakeBinary(t *testing.T, opts ...FakeBinaryOption) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake downloader scripts need /bin/sh")
	}

	cfg := &fakeBinaryConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "spotifydl")

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	if cfg.argsFile != "" {
		fmt.Fprintf(&b, "printf '%%s\\n' \"$*\" >> %s\n", shQuote(cfg.argsFile))
	}
	if cfg.failTimes > 0 {
		counter := filepath.Join(dir, "fail_counter")
		fmt.Fprintf(&b, "n=0\n[ -f %[1]s ] && n=$(cat %[1]s)\nn=$((n+1))\nprintf '%%s' \"$n\" > %[1]s\n", shQuote(counter))
		fmt.Fprintf(&b, "if [ \"$n\" -le %d ]; then\n", cfg.failTimes)
		fmt.Fprintf(&b, "  printf '%%s\\n' %s\n", shQuote(cfg.failLine))
		fmt.Fprintf(&b, "  exit %d\nfi\n", cfg.failCode)
	}
	for _, line := range cfg.stderrLines {
		fmt.Fprintf(&b, "printf '%%s\\n' %s >&2\n", shQuote(line))
	}
	for _, line := range cfg.stdoutLines {
		fmt.Fprintf(&b, "printf '%%s\\n' %s\n", shQuote(line))
		if cfg.lineDelay > 0 {
			fmt.Fprintf(&b, "sleep %g\n", cfg.lineDelay.Seconds())
		}
	}
	if cfg.hang {
		b.WriteString("exec sleep 3600\n")
	}
	fmt.Fprintf(&b, "exit %d\n", cfg.exitCode)

	if err := os.WriteFile(path, []byte(b.String()), 0755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

// shQuote single-quotes a string for safe embedding in a shell script.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Event builds one structured event line the way the downloader emits them.
func Event(kind string, fields map[string]any) string {
	m := map[string]any{"event": kind}
	for k, v := range fields {
		m[k] = v
	}
	data, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// SuccessRun returns the stdout lines of a clean run downloading n tracks.
func SuccessRun(n int) []string {
	lines := []string{
		Event("stage", map[string]any{"name": "resolving"}),
		Event("stage", map[string]any{"name": "downloading"}),
	}
	for i := 1; i <= n; i++ {
		title := fmt.Sprintf("Track %d", i)
		lines = append(lines,
			Event("track_start", map[string]any{"title": title, "artist": "Artist", "index": i, "total": n}),
			Event("progress", map[string]any{"percent": 100 * i / n}),
			Event("track_complete", map[string]any{"title": title, "artist": "Artist"}),
		)
	}
	lines = append(lines, Event("done", map[string]any{"message": "complete"}))
	return lines
}

// RateLimitedRun returns stdout lines for a run that hits a rate limit and
// fails.
func RateLimitedRun() []string {
	return []string{
		Event("stage", map[string]any{"name": "downloading"}),
		Event("rate_limit_backoff", map[string]any{"delay_ms": 30000, "reason": "429 too many requests"}),
		Event("error", map[string]any{"message": "rate limit exceeded"}),
	}
}
