package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/core"
	"github.com/spindle-dl/spindle/internal/logger"
	"github.com/spindle-dl/spindle/internal/queue"
)

// Persistent connection flags shared by every queue-touching command.
var (
	globalHost  string
	globalToken string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&globalHost, "host", "", "Address of a spindle daemon (host:port or URL, or set SPINDLE_HOST)")
	rootCmd.PersistentFlags().StringVar(&globalToken, "token", "", "Bearer token for the daemon API (or set SPINDLE_TOKEN)")
}

// readActivePort reads the port the running daemon advertised, 0 if none.
func readActivePort() int {
	data, err := os.ReadFile(config.GetPortPath())
	if err != nil {
		return 0
	}
	var port int
	_, _ = fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &port)
	return port
}

// saveActivePort advertises the API port for CLI discovery.
func saveActivePort(port int) {
	_ = os.WriteFile(config.GetPortPath(), []byte(fmt.Sprintf("%d\n", port)), 0o644)
}

func removeActivePort() {
	_ = os.Remove(config.GetPortPath())
}

// readTargetsFromFile reads links from a file, one per line. Blank lines
// and # comments are skipped.
func readTargetsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open batch file: %w", err)
	}
	defer file.Close()

	var targets []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	return targets, nil
}

func resolveHostTarget() string {
	if host := strings.TrimSpace(globalHost); host != "" {
		return host
	}
	return strings.TrimSpace(os.Getenv("SPINDLE_HOST"))
}

func resolveLocalToken() string {
	if token := strings.TrimSpace(globalToken); token != "" {
		return token
	}
	if token := strings.TrimSpace(os.Getenv("SPINDLE_TOKEN")); token != "" {
		return token
	}
	return ensureAuthToken()
}

func resolveTokenForTarget(target string) (string, error) {
	if token := strings.TrimSpace(globalToken); token != "" {
		return token, nil
	}
	if token := strings.TrimSpace(os.Getenv("SPINDLE_TOKEN")); token != "" {
		return token, nil
	}
	// Only the local token is reused, and only for loopback targets.
	if isLoopbackHost(hostnameFromTarget(target)) {
		return ensureAuthToken(), nil
	}
	return "", errors.New("no token provided; use --token or set SPINDLE_TOKEN")
}

// resolveAPIConnection locates a daemon to talk to: an explicit --host /
// SPINDLE_HOST target first, else the locally advertised port. With
// requireDaemon false a missing daemon is not an error.
func resolveAPIConnection(requireDaemon bool) (string, string, error) {
	target := resolveHostTarget()
	if target == "" {
		if port := readActivePort(); port > 0 {
			return fmt.Sprintf("http://127.0.0.1:%d", port), resolveLocalToken(), nil
		}
		if !requireDaemon {
			return "", "", nil
		}
		return "", "", errors.New("spindle is not running locally; start it or pass --host (or set SPINDLE_HOST)")
	}

	baseURL, err := resolveConnectBaseURL(target, false)
	if err != nil {
		return "", "", err
	}
	token, err := resolveTokenForTarget(target)
	if err != nil {
		return "", "", err
	}
	return baseURL, token, nil
}

// daemonService returns a client for the running daemon. With require
// false it returns nil when no daemon is reachable.
func daemonService(require bool) (*core.RemoteService, error) {
	baseURL, token, err := resolveAPIConnection(require)
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		return nil, nil
	}
	return core.NewRemoteService(baseURL, token), nil
}

// withOfflineQueue runs fn against the snapshot store directly. The
// instance lock proves no engine is mutating the same file.
func withOfflineQueue(fn func(*queue.Queue) error) error {
	if err := config.EnsureDirs(); err != nil {
		return err
	}

	ok, err := AcquireLock()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("spindle is running but its API is unreachable; check the port file or pass --host")
	}
	defer ReleaseLock()

	log := logger.New(logger.Config{Level: "warn", Format: "text"})
	q := queue.New(queue.NewSnapshotStore(config.GetQueuePath(), log), log)
	// A corrupt snapshot is quarantined by Load; continue with an empty
	// queue the same way the engine does.
	if err := q.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	return fn(q)
}
