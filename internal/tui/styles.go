package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/spindle-dl/spindle/internal/config"
)

// Neon-on-dark palette in the btop spirit. ApplyTheme swaps the grays
// for a light terminal so the board stays readable.
var (
	ColorNeonPink   = lipgloss.Color("#ff79c6")
	ColorNeonCyan   = lipgloss.Color("#8be9fd")
	ColorNeonPurple = lipgloss.Color("#bd93f9")
	ColorLightGray  = lipgloss.Color("#d0d0d0")
	ColorGray       = lipgloss.Color("#6272a4")
	ColorDarkGray   = lipgloss.Color("#44475a")

	ColorStateQueued   = lipgloss.Color("#f1fa8c")
	ColorStateRunning  = lipgloss.Color("#8be9fd")
	ColorStatePaused   = lipgloss.Color("#ffb86c")
	ColorStateDone     = lipgloss.Color("#50fa7b")
	ColorStateError    = lipgloss.Color("#ff5555")
	ColorStateCancelled = lipgloss.Color("#6272a4")
)

var (
	LogoStyle         lipgloss.Style
	TabStyle          lipgloss.Style
	ActiveTabStyle    lipgloss.Style
	StatsLabelStyle   lipgloss.Style
	StatsValueStyle   lipgloss.Style
	NotificationStyle lipgloss.Style
	ErrorBannerStyle  lipgloss.Style
)

func init() {
	rebuildStyles()
}

// ApplyTheme picks the palette for the configured theme. Adaptive asks
// the terminal which background it draws on.
func ApplyTheme(theme int) {
	dark := true
	switch theme {
	case config.ThemeLight:
		dark = false
	case config.ThemeDark:
		dark = true
	default:
		dark = termenv.HasDarkBackground()
	}

	if dark {
		ColorLightGray = lipgloss.Color("#d0d0d0")
		ColorGray = lipgloss.Color("#6272a4")
		ColorDarkGray = lipgloss.Color("#44475a")
	} else {
		ColorLightGray = lipgloss.Color("#3b4048")
		ColorGray = lipgloss.Color("#57606f")
		ColorDarkGray = lipgloss.Color("#9ca3af")
	}
	rebuildStyles()
}

func rebuildStyles() {
	LogoStyle = lipgloss.NewStyle().Foreground(ColorNeonPurple).Bold(true)

	TabStyle = lipgloss.NewStyle().
		Foreground(ColorGray).
		Padding(0, 2)

	ActiveTabStyle = lipgloss.NewStyle().
		Foreground(ColorNeonPink).
		Bold(true).
		Padding(0, 2)

	StatsLabelStyle = lipgloss.NewStyle().
		Foreground(ColorGray).
		Width(12)

	StatsValueStyle = lipgloss.NewStyle().
		Foreground(ColorLightGray)

	NotificationStyle = lipgloss.NewStyle().
		Foreground(ColorStateDone).
		Bold(true)

	ErrorBannerStyle = lipgloss.NewStyle().
		Foreground(ColorStateError).
		Bold(true)
}
