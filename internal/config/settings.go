package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General    GeneralSettings    `json:"general"`
	Downloader DownloaderSettings `json:"downloader"`
	Pacing     PacingSettings     `json:"pacing"`
	Retry      RetrySettings      `json:"retry"`
	Sentry     SentrySettings     `json:"sentry"`
	Scheduler  SchedulerSettings  `json:"scheduler"`
	Remote     RemoteSettings     `json:"remote"`
	History    HistorySettings    `json:"history"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	DownloadDir   string `json:"download_dir"`
	DefaultFormat string `json:"default_format"`
	LogLevel      string `json:"log_level"`
	Theme         int    `json:"theme"`
}

const (
	ThemeAdaptive = 0
	ThemeLight    = 1
	ThemeDark     = 2
)

// DownloaderSettings controls how the external binary is invoked.
type DownloaderSettings struct {
	BinaryPath       string        `json:"binary_path"`
	ExtraArgs        string        `json:"extra_args"`
	Workers          int           `json:"workers"`
	TrackParallel    int           `json:"track_parallel"`
	AdaptiveParallel bool          `json:"adaptive_parallel"`
	Force            bool          `json:"force"`
	JobTimeout       time.Duration `json:"job_timeout"`

	FailureDelayMs         int     `json:"failure_delay_ms"`
	FailureDelayMultiplier float64 `json:"failure_delay_multiplier"`
	FailureDelayMaxMs      int     `json:"failure_delay_max_ms"`
}

// PacingSettings controls the gaps between dispatches.
type PacingSettings struct {
	// BackoffLadder is a comma-separated list of seconds, e.g. "10,20,30".
	BackoffLadder           string `json:"backoff_ladder"`
	ThrottleTracksThreshold int    `json:"throttle_tracks_threshold"`
	SentryGapSec            int    `json:"sentry_gap_sec"`
}

// RetrySettings controls automatic re-dispatch of transient failures.
type RetrySettings struct {
	MaxAttempts int `json:"max_attempts"`
}

// SentrySettings controls the clipboard watcher.
type SentrySettings struct {
	Enabled      bool          `json:"enabled"`
	PollInterval time.Duration `json:"poll_interval"`
}

// SchedulerSettings controls the daily unattended run.
type SchedulerSettings struct {
	Enabled bool   `json:"enabled"`
	Time    string `json:"time"` // "HH:MM", 24h local
}

// RemoteSettings controls the HTTP listener.
type RemoteSettings struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// HistorySettings controls the completed-run archive.
type HistorySettings struct {
	Limit int `json:"limit"`
}

// SettingMeta provides metadata for a single setting (for UI rendering).
type SettingMeta struct {
	Key         string // JSON key name
	Label       string // Human-readable label
	Description string // Help text displayed in right pane
	Type        string // "string", "int", "bool", "duration", "float64"
}

// GetSettingsMetadata returns metadata for all settings organized by category.
func GetSettingsMetadata() map[string][]SettingMeta {
	return map[string][]SettingMeta{
		"General": {
			{Key: "download_dir", Label: "Download Dir", Description: "Destination directory for downloaded files.", Type: "string"},
			{Key: "default_format", Label: "Default Format", Description: "Audio format used when a job does not specify one (flac, mp3, m4a, opus).", Type: "string"},
			{Key: "log_level", Label: "Log Level", Description: "Minimum log level (debug, info, warn, error).", Type: "string"},
			{Key: "theme", Label: "App Theme", Description: "UI Theme (System, Light, Dark).", Type: "int"},
		},
		"Downloader": {
			{Key: "binary_path", Label: "Binary Path", Description: "Explicit path to the spotifydl binary. Leave empty to use the bundled copy or $PATH.", Type: "string"},
			{Key: "extra_args", Label: "Extra Args", Description: "Additional arguments appended to every invocation.", Type: "string"},
			{Key: "workers", Label: "Workers", Description: "Jobs processed at once (1-8). Sentry captures always run alone.", Type: "int"},
			{Key: "track_parallel", Label: "Track Parallel", Description: "Desired per-job track concurrency passed as --parallel.", Type: "int"},
			{Key: "adaptive_parallel", Label: "Adaptive Parallel", Description: "Lower --parallel after failures, restore it after successes.", Type: "bool"},
			{Key: "force", Label: "Force", Description: "Pass --force so existing files are re-downloaded.", Type: "bool"},
			{Key: "job_timeout", Label: "Job Timeout", Description: "Kill a job that runs longer than this (e.g. 2h). 0 disables.", Type: "duration"},
			{Key: "failure_delay_ms", Label: "Failure Delay (ms)", Description: "Initial in-binary delay after a track failure.", Type: "int"},
			{Key: "failure_delay_multiplier", Label: "Failure Delay Multiplier", Description: "Growth factor for the in-binary failure delay.", Type: "float64"},
			{Key: "failure_delay_max_ms", Label: "Failure Delay Max (ms)", Description: "Upper bound for the in-binary failure delay.", Type: "int"},
		},
		"Pacing": {
			{Key: "backoff_ladder", Label: "Backoff Ladder", Description: "Cool-down seconds between jobs after failures, e.g. 10,20,30.", Type: "string"},
			{Key: "throttle_tracks_threshold", Label: "Throttle Threshold", Description: "Jobs that reported at least this many tracks force a cool-down before the next dispatch.", Type: "int"},
			{Key: "sentry_gap_sec", Label: "Sentry Gap (s)", Description: "Minimum seconds between dispatches while Sentry mode is on (floor 25).", Type: "int"},
		},
		"Retry": {
			{Key: "max_attempts", Label: "Max Attempts", Description: "Automatic retries for transient failures before a job goes to Failed.", Type: "int"},
		},
		"Sentry": {
			{Key: "enabled", Label: "Sentry Mode", Description: "Watch the clipboard and enqueue recognized links automatically.", Type: "bool"},
			{Key: "poll_interval", Label: "Poll Interval", Description: "How often the clipboard is checked (e.g. 1s).", Type: "duration"},
		},
		"Scheduler": {
			{Key: "enabled", Label: "Scheduler", Description: "Start the queue unattended once per day.", Type: "bool"},
			{Key: "time", Label: "Time", Description: "HH:MM (24h) local time for the daily run, e.g. 02:30.", Type: "string"},
		},
		"Remote": {
			{Key: "enabled", Label: "Remote API", Description: "Serve the HTTP control API.", Type: "bool"},
			{Key: "host", Label: "Host", Description: "Listen address for the HTTP API.", Type: "string"},
			{Key: "port", Label: "Port", Description: "Listen port for the HTTP API.", Type: "int"},
		},
		"History": {
			{Key: "limit", Label: "Limit", Description: "Completed runs kept before the oldest are evicted (minimum 10).", Type: "int"},
		},
	}
}

// CategoryOrder returns the order of categories for UI tabs.
func CategoryOrder() []string {
	return []string{"General", "Downloader", "Pacing", "Retry", "Sentry", "Scheduler", "Remote", "History"}
}

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	defaultDir := filepath.Join(homeDir, "Music", "spindle")

	return &Settings{
		General: GeneralSettings{
			DownloadDir:   defaultDir,
			DefaultFormat: "flac",
			LogLevel:      "info",
			Theme:         ThemeAdaptive,
		},
		Downloader: DownloaderSettings{
			BinaryPath:       "",
			ExtraArgs:        "",
			Workers:          3,
			TrackParallel:    5,
			AdaptiveParallel: true,
			Force:            false,
			JobTimeout:       2 * time.Hour,

			FailureDelayMs:         2000,
			FailureDelayMultiplier: 2.0,
			FailureDelayMaxMs:      60000,
		},
		Pacing: PacingSettings{
			BackoffLadder:           "10,20,30",
			ThrottleTracksThreshold: 30,
			SentryGapSec:            25,
		},
		Retry: RetrySettings{
			MaxAttempts: 3,
		},
		Sentry: SentrySettings{
			Enabled:      false,
			PollInterval: time.Second,
		},
		Scheduler: SchedulerSettings{
			Enabled: false,
			Time:    "",
		},
		Remote: RemoteSettings{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9753,
		},
		History: HistorySettings{
			Limit: 100,
		},
	}
}

// BackoffDelays parses the pacing ladder into durations. Bad entries are
// skipped; an empty or unparseable ladder falls back to the default.
func (s *Settings) BackoffDelays() []time.Duration {
	var out []time.Duration
	for _, part := range strings.Split(s.Pacing.BackoffLadder, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			continue
		}
		out = append(out, time.Duration(n)*time.Second)
	}
	if len(out) == 0 {
		return []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}
	}
	return out
}

// SentryGap returns the sentry dispatch gap with its 25s floor applied.
func (s *Settings) SentryGap() time.Duration {
	gap := s.Pacing.SentryGapSec
	if gap < 25 {
		gap = 25
	}
	return time.Duration(gap) * time.Second
}

// Validate collects every problem with the settings into one error.
func (s *Settings) Validate() error {
	var problems []string

	switch s.General.DefaultFormat {
	case "flac", "mp3", "m4a", "opus":
	default:
		problems = append(problems, fmt.Sprintf("general.default_format: unsupported %q", s.General.DefaultFormat))
	}
	switch s.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("general.log_level: unknown %q", s.General.LogLevel))
	}
	if s.Downloader.Workers < 1 || s.Downloader.Workers > 8 {
		problems = append(problems, fmt.Sprintf("downloader.workers: %d outside 1-8", s.Downloader.Workers))
	}
	if s.Downloader.TrackParallel < 1 {
		problems = append(problems, fmt.Sprintf("downloader.track_parallel: %d must be >= 1", s.Downloader.TrackParallel))
	}
	if s.Downloader.JobTimeout < 0 {
		problems = append(problems, "downloader.job_timeout: negative")
	}
	if s.Downloader.FailureDelayMs < 0 || s.Downloader.FailureDelayMaxMs < 0 {
		problems = append(problems, "downloader.failure_delay: negative")
	}
	if s.Downloader.FailureDelayMultiplier < 1 {
		problems = append(problems, fmt.Sprintf("downloader.failure_delay_multiplier: %g must be >= 1", s.Downloader.FailureDelayMultiplier))
	}
	if s.Retry.MaxAttempts < 1 {
		problems = append(problems, fmt.Sprintf("retry.max_attempts: %d must be >= 1", s.Retry.MaxAttempts))
	}
	if s.Sentry.PollInterval <= 0 {
		problems = append(problems, "sentry.poll_interval: must be positive")
	}
	if s.Scheduler.Enabled {
		if _, _, err := ParseClock(s.Scheduler.Time); err != nil {
			problems = append(problems, fmt.Sprintf("scheduler.time: %v", err))
		}
	}
	if s.Remote.Port < 1 || s.Remote.Port > 65535 {
		problems = append(problems, fmt.Sprintf("remote.port: %d outside 1-65535", s.Remote.Port))
	}
	if s.History.Limit < 10 {
		problems = append(problems, fmt.Sprintf("history.limit: %d below minimum 10", s.History.Limit))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid settings:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// ParseClock parses "HH:MM" (24h) into hour and minute.
func ParseClock(v string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(v), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", v)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", v)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", v)
	}
	return hour, minute, nil
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetConfigDir(), "settings.json")
}

// LoadSettings loads settings from disk. Returns defaults if file doesn't exist.
func LoadSettings() (*Settings, error) {
	path := GetSettingsPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings() // Start with defaults to fill any missing fields
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	path := GetSettingsPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}
