package config

import (
	"os"
	"path/filepath"
)

// GetConfigDir returns the directory holding settings.json. The
// SPINDLE_CONFIG_DIR environment variable overrides the platform default.
func GetConfigDir() string {
	if dir := os.Getenv("SPINDLE_CONFIG_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "spindle")
}

// GetStateDir returns the runtime state directory: queue snapshot, history
// database, log file, pid/port/token files and the instance lock. The
// SPINDLE_STATE_DIR environment variable overrides the platform default.
func GetStateDir() string {
	if dir := os.Getenv("SPINDLE_STATE_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserCacheDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "spindle")
}

// EnsureDirs creates the config and state directories if needed.
func EnsureDirs() error {
	if err := os.MkdirAll(GetConfigDir(), 0755); err != nil {
		return err
	}
	return os.MkdirAll(GetStateDir(), 0700)
}

// GetQueuePath returns the queue snapshot file path.
func GetQueuePath() string {
	return filepath.Join(GetStateDir(), "queue.json")
}

// GetHistoryDBPath returns the history database path.
func GetHistoryDBPath() string {
	return filepath.Join(GetStateDir(), "history.db")
}

// GetLogPath returns the engine log file path.
func GetLogPath() string {
	return filepath.Join(GetStateDir(), "spindle.log")
}

// GetPidPath returns the daemon pid file path.
func GetPidPath() string {
	return filepath.Join(GetStateDir(), "spindle.pid")
}

// GetPortPath returns the file recording the running API port.
func GetPortPath() string {
	return filepath.Join(GetStateDir(), "spindle.port")
}

// GetTokenPath returns the API auth token file path.
func GetTokenPath() string {
	return filepath.Join(GetStateDir(), "token")
}

// GetLockPath returns the single-instance lock file path.
func GetLockPath() string {
	return filepath.Join(GetStateDir(), "spindle.lock")
}
