package tui

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSettings(t *testing.T) (RootModel, *fakeService) {
	t.Helper()
	m, f := newTestModel(t)
	m, _ = press(t, m, "o")
	require.Equal(t, SettingsState, m.state)
	return m, f
}

func TestSettingsNumberKeysJumpTabs(t *testing.T) {
	m, _ := openSettings(t)

	m, _ = press(t, m, "4")
	assert.Equal(t, 3, m.SettingsActiveTab) // Retry
	assert.Equal(t, 0, m.SettingsSelectedRow)

	m, _ = press(t, m, "9")
	assert.Equal(t, 3, m.SettingsActiveTab, "out-of-range tab keys are ignored")
}

func TestSettingsRowNavigationBounded(t *testing.T) {
	m, _ := openSettings(t)
	m, _ = press(t, m, "2") // Downloader, ten rows

	for i := 0; i < 20; i++ {
		m, _ = press(t, m, "down")
	}
	assert.Equal(t, 9, m.SettingsSelectedRow)

	m, _ = press(t, m, "up")
	assert.Equal(t, 8, m.SettingsSelectedRow)
}

func TestSettingsBoolTogglesInPlace(t *testing.T) {
	m, _ := openSettings(t)
	m, _ = press(t, m, "5") // Sentry, row 0 is the enable switch
	require.False(t, m.Settings.Sentry.Enabled)

	m, _ = press(t, m, "enter")
	assert.True(t, m.Settings.Sentry.Enabled)
	assert.False(t, m.SettingsIsEditing, "booleans never open the editor")

	m, _ = press(t, m, "enter")
	assert.False(t, m.Settings.Sentry.Enabled)
}

func TestSettingsEditCommitsValue(t *testing.T) {
	m, _ := openSettings(t)
	m, _ = press(t, m, "4") // Retry / max attempts

	m, _ = press(t, m, "enter")
	require.True(t, m.SettingsIsEditing)
	assert.Equal(t, "3", m.SettingsInput.Value(), "editor is seeded with the current value")

	m.SettingsInput.SetValue("5")
	m, _ = press(t, m, "enter")
	assert.False(t, m.SettingsIsEditing)
	assert.Equal(t, 5, m.Settings.Retry.MaxAttempts)
}

func TestSettingsEditRejectsGarbage(t *testing.T) {
	m, _ := openSettings(t)
	m, _ = press(t, m, "4")
	m, _ = press(t, m, "enter")
	require.True(t, m.SettingsIsEditing)

	m.SettingsInput.SetValue("many")
	next, _ := m.Update(key("enter")) // do not run the expiry command
	m = next.(RootModel)

	assert.Contains(t, m.lastError, "not a number")
	assert.Equal(t, 3, m.Settings.Retry.MaxAttempts, "bad input leaves the setting alone")
}

func TestSettingsEditEscCancels(t *testing.T) {
	m, _ := openSettings(t)
	m, _ = press(t, m, "4")
	m, _ = press(t, m, "enter")
	m.SettingsInput.SetValue("7")

	m, _ = press(t, m, "esc")
	assert.False(t, m.SettingsIsEditing)
	assert.Equal(t, SettingsState, m.state, "first esc only closes the editor")
	assert.Equal(t, 3, m.Settings.Retry.MaxAttempts)
}

func TestSettingsResetRestoresDefault(t *testing.T) {
	m, _ := openSettings(t)
	m.Settings.Retry.MaxAttempts = 7
	m, _ = press(t, m, "4")

	m, _ = press(t, m, "r")
	assert.Equal(t, 3, m.Settings.Retry.MaxAttempts)
}

func TestSettingsEscSavesAndReturns(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SPINDLE_CONFIG_DIR", dir)

	m, f := openSettings(t)
	m.Settings.Downloader.Workers = 5

	m, msg := press(t, m, "esc")
	assert.Equal(t, DashboardState, m.state)
	require.IsType(t, noteMsg(""), msg)
	assert.Equal(t, "settings saved", string(msg.(noteMsg)))

	assert.Contains(t, f.recorded(), "update-settings")
	require.NotNil(t, f.settings)
	assert.Equal(t, 5, f.settings.Downloader.Workers)

	_, err := os.Stat(filepath.Join(dir, "settings.json"))
	assert.NoError(t, err, "esc persists the settings file")
}

func TestSettingsEscRejectsInvalid(t *testing.T) {
	t.Setenv("SPINDLE_CONFIG_DIR", t.TempDir())

	m, f := openSettings(t)
	m.Settings.General.DefaultFormat = "wav"

	next, cmd := m.Update(key("esc"))
	m = next.(RootModel)
	require.NotNil(t, cmd)
	msg := cmd()

	em, ok := msg.(errMsg)
	require.True(t, ok)
	assert.Contains(t, em.err.Error(), "default_format")
	assert.NotContains(t, f.recorded(), "update-settings")
}

func TestSettingsRemoteIsReadOnly(t *testing.T) {
	m, f := openSettings(t)
	m.remote = true

	m, _ = press(t, m, "5")
	m, _ = press(t, m, "enter")
	assert.False(t, m.Settings.Sentry.Enabled, "remote sessions cannot toggle settings")
	assert.False(t, m.SettingsIsEditing)

	m, msg := press(t, m, "esc")
	assert.Equal(t, DashboardState, m.state)
	assert.Nil(t, msg, "remote esc leaves without saving")
	assert.NotContains(t, f.recorded(), "update-settings")
}

func TestSettingsViewSmoke(t *testing.T) {
	m, _ := openSettings(t)
	view := m.View()
	assert.Contains(t, view, "Settings")
	assert.Contains(t, view, "Download Dir")
	assert.Contains(t, view, "[Esc] Save")

	m.remote = true
	view = m.View()
	assert.Contains(t, view, "managed where the daemon runs")
}
