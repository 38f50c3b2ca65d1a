package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// binaryName is the downloader executable the runner drives.
const binaryName = "spotifydl"

// versionTimeout caps the --version probe.
const versionTimeout = 5 * time.Second

// Resolve locates the downloader executable. A copy sitting next to the
// spindle executable wins, then the configured override, then $PATH.
func Resolve(override string) (string, error) {
	var tried []string

	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		for _, name := range bundledNames() {
			p := filepath.Join(dir, name)
			if isRegularFile(p) {
				return p, nil
			}
			tried = append(tried, p)
		}
	}

	if override != "" {
		if isRegularFile(override) {
			return override, nil
		}
		tried = append(tried, override)
	}

	if p, err := exec.LookPath(binaryName); err == nil {
		return p, nil
	}
	tried = append(tried, binaryName+" ($PATH)")

	return "", &LaunchError{Tried: tried, Err: exec.ErrNotFound}
}

func bundledNames() []string {
	if runtime.GOOS == "windows" {
		return []string{binaryName + ".exe", binaryName}
	}
	return []string{binaryName}
}

func isRegularFile(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}

// Version asks the binary to report its version. The first output line is
// returned trimmed.
func Version(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return "", &LaunchError{Tried: []string{path}, Err: err}
	}
	line := string(out)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line), nil
}
