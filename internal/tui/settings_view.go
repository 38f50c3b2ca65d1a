package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/core"
)

// viewSettings renders the btop-style settings page.
func (m RootModel) viewSettings() string {
	width := 78
	height := 20
	if m.width < width+4 {
		width = m.width - 4
	}
	if m.height < height+4 {
		height = m.height - 4
	}

	categories := config.CategoryOrder()
	metadata := config.GetSettingsMetadata()

	// === TAB BAR ===
	var tabItems []string
	for i, cat := range categories {
		label := fmt.Sprintf("[%d] %s", i+1, cat)
		if i == m.SettingsActiveTab {
			tabItems = append(tabItems, ActiveTabStyle.Render(label))
		} else {
			tabItems = append(tabItems, TabStyle.Render(label))
		}
	}
	tabBar := lipgloss.JoinHorizontal(lipgloss.Left, tabItems...)

	currentCategory := categories[m.SettingsActiveTab]
	settingsMeta := metadata[currentCategory]
	settingsValues := m.settingsValues(currentCategory)

	leftWidth := 26
	rightWidth := width - leftWidth - 7

	// === LEFT COLUMN: setting names ===
	var listLines []string
	for i, meta := range settingsMeta {
		line := meta.Label
		if i == m.SettingsSelectedRow {
			line = lipgloss.NewStyle().
				Foreground(ColorNeonPink).
				Bold(true).
				Render("> " + line)
		} else {
			line = lipgloss.NewStyle().
				Foreground(ColorLightGray).
				Render("  " + line)
		}
		listLines = append(listLines, line)
	}
	listBox := lipgloss.NewStyle().
		Width(leftWidth).
		Render(lipgloss.JoinVertical(lipgloss.Left, listLines...))

	// === SEPARATOR ===
	var separatorLines []string
	for range settingsMeta {
		separatorLines = append(separatorLines, "│")
	}
	separator := lipgloss.NewStyle().
		Foreground(ColorGray).
		Render(strings.Join(separatorLines, "\n"))

	// === RIGHT COLUMN: value + description ===
	var rightContent string
	if m.SettingsSelectedRow < len(settingsMeta) {
		meta := settingsMeta[m.SettingsSelectedRow]
		valueStr := formatSettingValue(settingsValues[meta.Key], meta.Type)
		if m.SettingsIsEditing {
			valueStr = m.SettingsInput.View()
		}

		valueDisplay := lipgloss.NewStyle().
			Foreground(ColorNeonCyan).
			Bold(true).
			Render("Value: " + valueStr)

		descDisplay := lipgloss.NewStyle().
			Foreground(ColorGray).
			Width(rightWidth - 2).
			Render(meta.Description)

		rightContent = valueDisplay + "\n\n" + descDisplay
	}
	rightBox := lipgloss.NewStyle().
		Width(rightWidth).
		PaddingLeft(1).
		Render(rightContent)

	content := lipgloss.JoinHorizontal(lipgloss.Top, listBox, separator, rightBox)

	helpLine := "[Enter] Edit  [R] Reset  [1-8] Tab  [Esc] Save"
	if m.remote {
		helpLine = "settings are managed where the daemon runs  [Esc] Back"
	}
	helpText := lipgloss.NewStyle().
		Foreground(ColorGray).
		Render(helpLine)

	fullContent := lipgloss.JoinVertical(lipgloss.Left,
		tabBar,
		"",
		content,
		"",
		helpText,
	)

	box := renderBtopBox("Settings", lipgloss.NewStyle().Padding(0, 2).Render(fullContent), width, height, ColorNeonPink, false)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m RootModel) handleSettingsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.SettingsIsEditing {
		switch msg.String() {
		case "esc":
			m.SettingsIsEditing = false
			return m, nil
		case "enter":
			m.SettingsIsEditing = false
			category := config.CategoryOrder()[m.SettingsActiveTab]
			key := m.currentSettingKey()
			if err := m.setSettingValue(category, key, m.SettingsInput.Value()); err != nil {
				m.lastError = err.Error()
				return m, clearNoteAfter()
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.SettingsInput, cmd = m.SettingsInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "esc":
		m.state = DashboardState
		if m.remote {
			return m, nil
		}
		ApplyTheme(m.Settings.General.Theme)
		settings := m.Settings
		return m, doAction("settings saved", func() error {
			err := settings.Validate()
			if err != nil {
				return err
			}
			if err := m.svc.UpdateSettings(settings); err != nil {
				if errors.Is(err, core.ErrRemoteSettings) {
					return fmt.Errorf("settings are managed where the daemon runs")
				}
				return err
			}
			return config.SaveSettings(settings)
		})

	case "up", "k":
		if m.SettingsSelectedRow > 0 {
			m.SettingsSelectedRow--
		}
		return m, nil

	case "down", "j":
		if m.SettingsSelectedRow < m.settingsCount()-1 {
			m.SettingsSelectedRow++
		}
		return m, nil

	case "enter":
		if m.remote {
			return m, nil
		}
		category := config.CategoryOrder()[m.SettingsActiveTab]
		key := m.currentSettingKey()
		if m.currentSettingType() == "bool" {
			// Booleans toggle in place, no text entry.
			_ = m.setSettingValue(category, key, "")
			return m, nil
		}
		m.SettingsIsEditing = true
		current := m.settingsValues(category)[key]
		m.SettingsInput.SetValue(editableValue(current))
		m.SettingsInput.Focus()
		return m, nil

	case "r":
		if m.remote {
			return m, nil
		}
		category := config.CategoryOrder()[m.SettingsActiveTab]
		m.resetSettingToDefault(category, m.currentSettingKey(), config.DefaultSettings())
		return m, nil
	}

	// Number keys jump between category tabs.
	if n, err := strconv.Atoi(msg.String()); err == nil {
		if n >= 1 && n <= len(config.CategoryOrder()) {
			m.SettingsActiveTab = n - 1
			m.SettingsSelectedRow = 0
		}
	}
	return m, nil
}

// settingsValues maps setting key to current value for one category.
func (m RootModel) settingsValues(category string) map[string]any {
	values := make(map[string]any)

	switch category {
	case "General":
		values["download_dir"] = m.Settings.General.DownloadDir
		values["default_format"] = m.Settings.General.DefaultFormat
		values["log_level"] = m.Settings.General.LogLevel
		values["theme"] = m.Settings.General.Theme
	case "Downloader":
		values["binary_path"] = m.Settings.Downloader.BinaryPath
		values["extra_args"] = m.Settings.Downloader.ExtraArgs
		values["workers"] = m.Settings.Downloader.Workers
		values["track_parallel"] = m.Settings.Downloader.TrackParallel
		values["adaptive_parallel"] = m.Settings.Downloader.AdaptiveParallel
		values["force"] = m.Settings.Downloader.Force
		values["job_timeout"] = m.Settings.Downloader.JobTimeout
		values["failure_delay_ms"] = m.Settings.Downloader.FailureDelayMs
		values["failure_delay_multiplier"] = m.Settings.Downloader.FailureDelayMultiplier
		values["failure_delay_max_ms"] = m.Settings.Downloader.FailureDelayMaxMs
	case "Pacing":
		values["backoff_ladder"] = m.Settings.Pacing.BackoffLadder
		values["throttle_tracks_threshold"] = m.Settings.Pacing.ThrottleTracksThreshold
		values["sentry_gap_sec"] = m.Settings.Pacing.SentryGapSec
	case "Retry":
		values["max_attempts"] = m.Settings.Retry.MaxAttempts
	case "Sentry":
		values["enabled"] = m.Settings.Sentry.Enabled
		values["poll_interval"] = m.Settings.Sentry.PollInterval
	case "Scheduler":
		values["enabled"] = m.Settings.Scheduler.Enabled
		values["time"] = m.Settings.Scheduler.Time
	case "Remote":
		values["enabled"] = m.Settings.Remote.Enabled
		values["host"] = m.Settings.Remote.Host
		values["port"] = m.Settings.Remote.Port
	case "History":
		values["limit"] = m.Settings.History.Limit
	}

	return values
}

// setSettingValue applies one edited value. Booleans toggle; everything
// else parses per the setting's declared type.
func (m *RootModel) setSettingValue(category, key, value string) error {
	switch category {
	case "General":
		return m.setGeneralSetting(key, value)
	case "Downloader":
		return m.setDownloaderSetting(key, value)
	case "Pacing":
		return m.setPacingSetting(key, value)
	case "Retry":
		if key == "max_attempts" {
			return parseInt(value, &m.Settings.Retry.MaxAttempts)
		}
	case "Sentry":
		switch key {
		case "enabled":
			m.Settings.Sentry.Enabled = !m.Settings.Sentry.Enabled
		case "poll_interval":
			return parseDuration(value, &m.Settings.Sentry.PollInterval)
		}
	case "Scheduler":
		switch key {
		case "enabled":
			m.Settings.Scheduler.Enabled = !m.Settings.Scheduler.Enabled
		case "time":
			if _, _, err := config.ParseClock(value); err != nil {
				return err
			}
			m.Settings.Scheduler.Time = value
		}
	case "Remote":
		switch key {
		case "enabled":
			m.Settings.Remote.Enabled = !m.Settings.Remote.Enabled
		case "host":
			m.Settings.Remote.Host = value
		case "port":
			return parseInt(value, &m.Settings.Remote.Port)
		}
	case "History":
		if key == "limit" {
			return parseInt(value, &m.Settings.History.Limit)
		}
	}
	return nil
}

func (m *RootModel) setGeneralSetting(key, value string) error {
	switch key {
	case "download_dir":
		m.Settings.General.DownloadDir = value
	case "default_format":
		m.Settings.General.DefaultFormat = value
	case "log_level":
		m.Settings.General.LogLevel = value
	case "theme":
		return parseInt(value, &m.Settings.General.Theme)
	}
	return nil
}

func (m *RootModel) setDownloaderSetting(key, value string) error {
	switch key {
	case "binary_path":
		m.Settings.Downloader.BinaryPath = value
	case "extra_args":
		m.Settings.Downloader.ExtraArgs = value
	case "workers":
		return parseInt(value, &m.Settings.Downloader.Workers)
	case "track_parallel":
		return parseInt(value, &m.Settings.Downloader.TrackParallel)
	case "adaptive_parallel":
		m.Settings.Downloader.AdaptiveParallel = !m.Settings.Downloader.AdaptiveParallel
	case "force":
		m.Settings.Downloader.Force = !m.Settings.Downloader.Force
	case "job_timeout":
		return parseDuration(value, &m.Settings.Downloader.JobTimeout)
	case "failure_delay_ms":
		return parseInt(value, &m.Settings.Downloader.FailureDelayMs)
	case "failure_delay_multiplier":
		return parseFloat(value, &m.Settings.Downloader.FailureDelayMultiplier)
	case "failure_delay_max_ms":
		return parseInt(value, &m.Settings.Downloader.FailureDelayMaxMs)
	}
	return nil
}

func (m *RootModel) setPacingSetting(key, value string) error {
	switch key {
	case "backoff_ladder":
		m.Settings.Pacing.BackoffLadder = value
	case "throttle_tracks_threshold":
		return parseInt(value, &m.Settings.Pacing.ThrottleTracksThreshold)
	case "sentry_gap_sec":
		return parseInt(value, &m.Settings.Pacing.SentryGapSec)
	}
	return nil
}

func parseInt(value string, dst *int) error {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("not a number: %q", value)
	}
	*dst = v
	return nil
}

func parseFloat(value string, dst *float64) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", value)
	}
	*dst = v
	return nil
}

func parseDuration(value string, dst *time.Duration) error {
	v, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("not a duration (try 30s, 2h): %q", value)
	}
	*dst = v
	return nil
}

func (m RootModel) currentSettingKey() string {
	metas := config.GetSettingsMetadata()[config.CategoryOrder()[m.SettingsActiveTab]]
	if m.SettingsSelectedRow < len(metas) {
		return metas[m.SettingsSelectedRow].Key
	}
	return ""
}

func (m RootModel) currentSettingType() string {
	metas := config.GetSettingsMetadata()[config.CategoryOrder()[m.SettingsActiveTab]]
	if m.SettingsSelectedRow < len(metas) {
		return metas[m.SettingsSelectedRow].Type
	}
	return ""
}

func (m RootModel) settingsCount() int {
	return len(config.GetSettingsMetadata()[config.CategoryOrder()[m.SettingsActiveTab]])
}

// formatSettingValue renders a setting value for display.
func formatSettingValue(value any, typ string) string {
	if value == nil {
		return "-"
	}

	switch typ {
	case "bool":
		if b, ok := value.(bool); ok {
			if b {
				return "On"
			}
			return "Off"
		}
	case "duration":
		if d, ok := value.(time.Duration); ok {
			if d == 0 {
				return "off"
			}
			return d.String()
		}
	case "string":
		if s, ok := value.(string); ok {
			if s == "" {
				return "(default)"
			}
			if len(s) > 34 {
				return s[:31] + "..."
			}
			return s
		}
	case "float64":
		if v, ok := value.(float64); ok {
			return fmt.Sprintf("%.2f", v)
		}
	case "int":
		if v, ok := value.(int); ok {
			return strconv.Itoa(v)
		}
	}
	return fmt.Sprintf("%v", value)
}

// editableValue seeds the edit input with the raw current value.
func editableValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Duration:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// resetSettingToDefault restores one setting from the defaults.
func (m *RootModel) resetSettingToDefault(category, key string, defaults *config.Settings) {
	switch category {
	case "General":
		switch key {
		case "download_dir":
			m.Settings.General.DownloadDir = defaults.General.DownloadDir
		case "default_format":
			m.Settings.General.DefaultFormat = defaults.General.DefaultFormat
		case "log_level":
			m.Settings.General.LogLevel = defaults.General.LogLevel
		case "theme":
			m.Settings.General.Theme = defaults.General.Theme
		}
	case "Downloader":
		switch key {
		case "binary_path":
			m.Settings.Downloader.BinaryPath = defaults.Downloader.BinaryPath
		case "extra_args":
			m.Settings.Downloader.ExtraArgs = defaults.Downloader.ExtraArgs
		case "workers":
			m.Settings.Downloader.Workers = defaults.Downloader.Workers
		case "track_parallel":
			m.Settings.Downloader.TrackParallel = defaults.Downloader.TrackParallel
		case "adaptive_parallel":
			m.Settings.Downloader.AdaptiveParallel = defaults.Downloader.AdaptiveParallel
		case "force":
			m.Settings.Downloader.Force = defaults.Downloader.Force
		case "job_timeout":
			m.Settings.Downloader.JobTimeout = defaults.Downloader.JobTimeout
		case "failure_delay_ms":
			m.Settings.Downloader.FailureDelayMs = defaults.Downloader.FailureDelayMs
		case "failure_delay_multiplier":
			m.Settings.Downloader.FailureDelayMultiplier = defaults.Downloader.FailureDelayMultiplier
		case "failure_delay_max_ms":
			m.Settings.Downloader.FailureDelayMaxMs = defaults.Downloader.FailureDelayMaxMs
		}
	case "Pacing":
		switch key {
		case "backoff_ladder":
			m.Settings.Pacing.BackoffLadder = defaults.Pacing.BackoffLadder
		case "throttle_tracks_threshold":
			m.Settings.Pacing.ThrottleTracksThreshold = defaults.Pacing.ThrottleTracksThreshold
		case "sentry_gap_sec":
			m.Settings.Pacing.SentryGapSec = defaults.Pacing.SentryGapSec
		}
	case "Retry":
		if key == "max_attempts" {
			m.Settings.Retry.MaxAttempts = defaults.Retry.MaxAttempts
		}
	case "Sentry":
		switch key {
		case "enabled":
			m.Settings.Sentry.Enabled = defaults.Sentry.Enabled
		case "poll_interval":
			m.Settings.Sentry.PollInterval = defaults.Sentry.PollInterval
		}
	case "Scheduler":
		switch key {
		case "enabled":
			m.Settings.Scheduler.Enabled = defaults.Scheduler.Enabled
		case "time":
			m.Settings.Scheduler.Time = defaults.Scheduler.Time
		}
	case "Remote":
		switch key {
		case "enabled":
			m.Settings.Remote.Enabled = defaults.Remote.Enabled
		case "host":
			m.Settings.Remote.Host = defaults.Remote.Host
		case "port":
			m.Settings.Remote.Port = defaults.Remote.Port
		}
	case "History":
		if key == "limit" {
			m.Settings.History.Limit = defaults.History.Limit
		}
	}
}
