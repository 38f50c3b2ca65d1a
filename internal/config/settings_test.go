package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolateDirs(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SPINDLE_CONFIG_DIR", filepath.Join(dir, "config"))
	t.Setenv("SPINDLE_STATE_DIR", filepath.Join(dir, "state"))
}

func TestDefaultSettings(t *testing.T) {
	settings := DefaultSettings()

	if settings == nil {
		t.Fatal("DefaultSettings returned nil")
	}

	t.Run("GeneralSettings", func(t *testing.T) {
		if settings.General.DownloadDir == "" {
			t.Error("Default download directory should not be empty")
		}
		if settings.General.DefaultFormat != "flac" {
			t.Errorf("DefaultFormat = %q, want flac", settings.General.DefaultFormat)
		}
		if settings.General.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", settings.General.LogLevel)
		}
	})

	t.Run("DownloaderSettings", func(t *testing.T) {
		if settings.Downloader.Workers < 1 || settings.Downloader.Workers > 8 {
			t.Errorf("Workers should be within 1-8, got: %d", settings.Downloader.Workers)
		}
		if settings.Downloader.TrackParallel < 1 {
			t.Errorf("TrackParallel should be positive, got: %d", settings.Downloader.TrackParallel)
		}
		if !settings.Downloader.AdaptiveParallel {
			t.Error("AdaptiveParallel should be true by default")
		}
		if settings.Downloader.Force {
			t.Error("Force should be false by default")
		}
		if settings.Downloader.FailureDelayMs != 2000 {
			t.Errorf("FailureDelayMs = %d, want 2000", settings.Downloader.FailureDelayMs)
		}
		if settings.Downloader.FailureDelayMultiplier != 2.0 {
			t.Errorf("FailureDelayMultiplier = %g, want 2.0", settings.Downloader.FailureDelayMultiplier)
		}
		if settings.Downloader.FailureDelayMaxMs != 60000 {
			t.Errorf("FailureDelayMaxMs = %d, want 60000", settings.Downloader.FailureDelayMaxMs)
		}
	})

	t.Run("PacingSettings", func(t *testing.T) {
		delays := settings.BackoffDelays()
		want := []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}
		if len(delays) != len(want) {
			t.Fatalf("BackoffDelays len = %d, want %d", len(delays), len(want))
		}
		for i := range want {
			if delays[i] != want[i] {
				t.Errorf("BackoffDelays[%d] = %v, want %v", i, delays[i], want[i])
			}
		}
		if settings.Pacing.ThrottleTracksThreshold != 30 {
			t.Errorf("ThrottleTracksThreshold = %d, want 30", settings.Pacing.ThrottleTracksThreshold)
		}
		if settings.SentryGap() != 25*time.Second {
			t.Errorf("SentryGap = %v, want 25s", settings.SentryGap())
		}
	})

	t.Run("RemoteSettings", func(t *testing.T) {
		if settings.Remote.Enabled {
			t.Error("Remote API should be off by default")
		}
		if settings.Remote.Host != "127.0.0.1" {
			t.Errorf("Host = %q, want 127.0.0.1", settings.Remote.Host)
		}
		if settings.Remote.Port != 9753 {
			t.Errorf("Port = %d, want 9753", settings.Remote.Port)
		}
	})

	t.Run("HistorySettings", func(t *testing.T) {
		if settings.History.Limit < 10 {
			t.Errorf("History limit should be at least 10, got: %d", settings.History.Limit)
		}
	})

	// Defaults must pass their own validation.
	if err := settings.Validate(); err != nil {
		t.Errorf("default settings do not validate: %v", err)
	}
}

func TestDefaultSettings_Consistency(t *testing.T) {
	// Multiple calls should return equivalent (but not same pointer) settings
	s1 := DefaultSettings()
	s2 := DefaultSettings()

	if s1 == s2 {
		t.Error("DefaultSettings should return new instance each time")
	}

	if s1.Downloader.Workers != s2.Downloader.Workers {
		t.Error("Default settings should be consistent")
	}
}

func TestSentryGapFloor(t *testing.T) {
	s := DefaultSettings()
	s.Pacing.SentryGapSec = 5
	if got := s.SentryGap(); got != 25*time.Second {
		t.Errorf("SentryGap = %v, want the 25s floor", got)
	}
	s.Pacing.SentryGapSec = 60
	if got := s.SentryGap(); got != 60*time.Second {
		t.Errorf("SentryGap = %v, want 60s", got)
	}
}

func TestBackoffDelaysParsing(t *testing.T) {
	tests := []struct {
		ladder string
		want   []time.Duration
	}{
		{"10,20,30", []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}},
		{"5", []time.Duration{5 * time.Second}},
		{" 1 , 2 ", []time.Duration{1 * time.Second, 2 * time.Second}},
		{"abc,15", []time.Duration{15 * time.Second}},
		// Garbage falls back to the default ladder.
		{"", []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}},
		{"x,y", []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}},
	}

	for _, tt := range tests {
		s := DefaultSettings()
		s.Pacing.BackoffLadder = tt.ladder
		got := s.BackoffDelays()
		if len(got) != len(tt.want) {
			t.Errorf("ladder %q: len = %d, want %d", tt.ladder, len(got), len(tt.want))
			continue
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("ladder %q: [%d] = %v, want %v", tt.ladder, i, got[i], tt.want[i])
			}
		}
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{"02:30", 2, 30, false},
		{"00:00", 0, 0, false},
		{"23:59", 23, 59, false},
		{" 9:05 ", 9, 5, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"noon", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, tt := range tests {
		h, m, err := ParseClock(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q) failed: %v", tt.in, err)
			continue
		}
		if h != tt.hour || m != tt.minute {
			t.Errorf("ParseClock(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.hour, tt.minute)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		wantIn string
	}{
		{"bad format", func(s *Settings) { s.General.DefaultFormat = "wav" }, "default_format"},
		{"bad log level", func(s *Settings) { s.General.LogLevel = "loud" }, "log_level"},
		{"workers too high", func(s *Settings) { s.Downloader.Workers = 9 }, "workers"},
		{"workers too low", func(s *Settings) { s.Downloader.Workers = 0 }, "workers"},
		{"zero parallel", func(s *Settings) { s.Downloader.TrackParallel = 0 }, "track_parallel"},
		{"zero attempts", func(s *Settings) { s.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"scheduler without time", func(s *Settings) { s.Scheduler.Enabled = true }, "scheduler.time"},
		{"bad port", func(s *Settings) { s.Remote.Port = 0 }, "port"},
		{"history below floor", func(s *Settings) { s.History.Limit = 5 }, "history.limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(s)
			err := s.Validate()
			if err == nil {
				t.Fatal("Validate succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("error %q does not mention %q", err, tt.wantIn)
			}
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	s := DefaultSettings()
	s.Downloader.Workers = 0
	s.History.Limit = 1
	err := s.Validate()
	if err == nil {
		t.Fatal("Validate succeeded, want error")
	}
	if !strings.Contains(err.Error(), "workers") || !strings.Contains(err.Error(), "history.limit") {
		t.Errorf("error should report every problem, got: %v", err)
	}
}

func TestGetSettingsPath(t *testing.T) {
	isolateDirs(t)

	path := GetSettingsPath()
	if path == "" {
		t.Error("GetSettingsPath returned empty string")
	}
	if !strings.HasPrefix(path, GetConfigDir()) {
		t.Errorf("Settings path should be under the config dir. Path: %s, ConfigDir: %s", path, GetConfigDir())
	}
	if !strings.HasSuffix(path, "settings.json") {
		t.Errorf("Settings path should end with 'settings.json', got: %s", path)
	}
	if !filepath.IsAbs(path) {
		t.Errorf("Settings path should be absolute, got: %s", path)
	}
}

func TestStatePaths(t *testing.T) {
	isolateDirs(t)

	state := GetStateDir()
	for name, path := range map[string]string{
		"queue":   GetQueuePath(),
		"history": GetHistoryDBPath(),
		"log":     GetLogPath(),
		"pid":     GetPidPath(),
		"port":    GetPortPath(),
		"token":   GetTokenPath(),
		"lock":    GetLockPath(),
	} {
		if !strings.HasPrefix(path, state) {
			t.Errorf("%s path %s not under state dir %s", name, path, state)
		}
	}

	if err := EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs failed: %v", err)
	}
	if _, err := os.Stat(state); err != nil {
		t.Errorf("state dir not created: %v", err)
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	isolateDirs(t)

	settings, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings with no file should return defaults, got error: %v", err)
	}
	if settings.Downloader.Workers != DefaultSettings().Downloader.Workers {
		t.Error("Should return default settings when the file is missing")
	}
}

func TestLoadSettings_PartialJSON(t *testing.T) {
	// Missing fields get filled with defaults.
	partial := `{
		"general": {
			"download_dir": "/custom/path"
		}
	}`

	settings := DefaultSettings()
	if err := json.Unmarshal([]byte(partial), settings); err != nil {
		t.Fatalf("Failed to unmarshal partial JSON: %v", err)
	}

	if settings.General.DownloadDir != "/custom/path" {
		t.Errorf("Custom field not set: %s", settings.General.DownloadDir)
	}
	if settings.Downloader.Workers <= 0 {
		t.Error("Default values should be preserved for missing fields")
	}
}

func TestSaveAndLoadSettings_RoundTrip(t *testing.T) {
	isolateDirs(t)

	original := DefaultSettings()
	original.General.DownloadDir = "/test/path"
	original.Downloader.Workers = 2
	original.Downloader.ExtraArgs = "--verbose"
	original.Downloader.JobTimeout = 45 * time.Minute
	original.Pacing.SentryGapSec = 40
	original.Scheduler.Enabled = true
	original.Scheduler.Time = "02:30"
	original.Remote.Enabled = true
	original.Remote.Port = 9800

	if err := SaveSettings(original); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	if _, err := os.Stat(GetSettingsPath()); os.IsNotExist(err) {
		t.Error("Settings file was not created by SaveSettings")
	}

	loaded, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}

	if loaded.General.DownloadDir != original.General.DownloadDir {
		t.Error("DownloadDir mismatch")
	}
	if loaded.Downloader.Workers != original.Downloader.Workers {
		t.Error("Workers mismatch")
	}
	if loaded.Downloader.ExtraArgs != original.Downloader.ExtraArgs {
		t.Error("ExtraArgs mismatch")
	}
	if loaded.Downloader.JobTimeout != original.Downloader.JobTimeout {
		t.Error("JobTimeout mismatch (duration)")
	}
	if loaded.Pacing.SentryGapSec != original.Pacing.SentryGapSec {
		t.Error("SentryGapSec mismatch")
	}
	if loaded.Scheduler.Time != original.Scheduler.Time {
		t.Error("Scheduler time mismatch")
	}
	if loaded.Remote.Port != original.Remote.Port {
		t.Error("Remote port mismatch")
	}
}

func TestLoadSettings_CorruptedJSON(t *testing.T) {
	isolateDirs(t)

	if err := os.MkdirAll(GetConfigDir(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(GetSettingsPath(), []byte("{invalid json"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := LoadSettings(); err == nil {
		t.Error("Expected error when loading invalid JSON")
	}
}

func TestGetSettingsMetadata(t *testing.T) {
	metadata := GetSettingsMetadata()

	if metadata == nil {
		t.Fatal("GetSettingsMetadata returned nil")
	}

	// Verify all categories exist
	expectedCategories := CategoryOrder()
	for _, cat := range expectedCategories {
		if _, ok := metadata[cat]; !ok {
			t.Errorf("Missing metadata for category: %s", cat)
		}
	}

	// Verify each metadata entry has required fields
	for category, settings := range metadata {
		for i, setting := range settings {
			if setting.Key == "" {
				t.Errorf("Category %s, index %d: Key is empty", category, i)
			}
			if setting.Label == "" {
				t.Errorf("Category %s, key %s: Label is empty", category, setting.Key)
			}
			if setting.Description == "" {
				t.Errorf("Category %s, key %s: Description is empty", category, setting.Key)
			}
			if setting.Type == "" {
				t.Errorf("Category %s, key %s: Type is empty", category, setting.Key)
			}

			validTypes := map[string]bool{
				"string": true, "int": true,
				"bool": true, "duration": true, "float64": true,
			}
			if !validTypes[setting.Type] {
				t.Errorf("Category %s, key %s: Invalid type %q", category, setting.Key, setting.Type)
			}
		}
	}
}

func TestCategoryOrder(t *testing.T) {
	order := CategoryOrder()

	if len(order) == 0 {
		t.Error("CategoryOrder returned empty slice")
	}

	// Check for duplicates
	seen := make(map[string]bool)
	for _, cat := range order {
		if seen[cat] {
			t.Errorf("Duplicate category: %s", cat)
		}
		seen[cat] = true
	}

	// Verify order matches metadata keys
	metadata := GetSettingsMetadata()
	if len(order) != len(metadata) {
		t.Errorf("CategoryOrder has %d categories, metadata has %d", len(order), len(metadata))
	}
	for _, cat := range order {
		if _, ok := metadata[cat]; !ok {
			t.Errorf("Category %s in order but not in metadata", cat)
		}
	}
}

func TestSettingsJSON_Serialization(t *testing.T) {
	original := DefaultSettings()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	loaded := &Settings{}
	if err := json.Unmarshal(data, loaded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	if loaded.Downloader.Workers != original.Downloader.Workers {
		t.Error("Round-trip failed for Workers")
	}
	if loaded.Sentry.PollInterval != original.Sentry.PollInterval {
		t.Error("Round-trip failed for PollInterval (duration)")
	}
}
