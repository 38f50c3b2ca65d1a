package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/spindle-dl/spindle/internal/history"
	"github.com/spindle-dl/spindle/internal/queue"
	"github.com/spindle-dl/spindle/internal/tui/components"
)

// Layout ratios.
const (
	ListWidthRatio = 0.6 // queue list takes 60% width
)

func (m RootModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	switch m.state {
	case InputState:
		return m.viewAddForm()
	case SettingsState:
		return m.viewSettings()
	case DetailState:
		return m.viewDetail()
	}
	return m.viewDashboard()
}

func (m RootModel) viewAddForm() string {
	labelStyle := lipgloss.NewStyle().Width(10).Foreground(ColorLightGray)

	targetLine := lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render("Target:"),
		m.targetInput.View(),
	)

	// Format selector: left/right cycles when the row is focused.
	var formats []string
	for i, f := range formatChoices {
		if i == m.formatIdx {
			if m.formRow == 1 {
				formats = append(formats, ActiveTabStyle.Render("‹ "+f+" ›"))
			} else {
				formats = append(formats, ActiveTabStyle.Render(f))
			}
		} else {
			formats = append(formats, TabStyle.Render(f))
		}
	}
	formatLine := lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render("Format:"),
		lipgloss.JoinHorizontal(lipgloss.Left, formats...),
	)

	help := lipgloss.NewStyle().Foreground(ColorGray).
		Render("[Enter] Next/Queue  [↑/↓] Field  [←/→] Format  [Esc] Cancel")

	content := lipgloss.JoinVertical(lipgloss.Left,
		"",
		targetLine,
		"",
		formatLine,
		"",
		"",
		help,
	)

	paddedContent := lipgloss.NewStyle().Padding(0, 2).Render(content)
	box := renderBtopBox("Add Download", paddedContent, 76, 11, ColorNeonPink, false)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m RootModel) viewDetail() string {
	width := m.width - 8
	if width > 100 {
		width = 100
	}
	height := m.height - 4

	var header string
	if j := m.selectedJob(); j != nil {
		header = m.renderJobDetail(j, width-8)
	} else if e := m.selectedEntry(); e != nil {
		header = renderEntryDetail(e, width-8)
	} else {
		return m.viewDashboard()
	}

	divider := lipgloss.NewStyle().Foreground(ColorGray).
		Render(strings.Repeat("─", width-8))

	content := lipgloss.JoinVertical(lipgloss.Left,
		"",
		header,
		"",
		divider,
		lipgloss.NewStyle().Foreground(ColorNeonCyan).Bold(true).Render("Activity"),
		m.logView.View(),
	)

	paddedContent := lipgloss.NewStyle().Padding(0, 2).Render(content)
	box := renderBtopBox("Details", paddedContent, width, height, ColorNeonCyan, false)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m RootModel) viewDashboard() string {
	availableHeight := m.height - 2
	availableWidth := m.width - 4

	leftWidth := int(float64(availableWidth) * ListWidthRatio)
	rightWidth := availableWidth - leftWidth - 2

	headerHeight := 9
	listHeight := availableHeight - headerHeight
	if listHeight < 10 {
		listHeight = 10
	}

	graphHeight := availableHeight / 3
	if graphHeight < 9 {
		graphHeight = 9
	}
	detailHeight := availableHeight - graphHeight
	if detailHeight < 10 {
		detailHeight = 10
	}

	// --- SECTION 1: HEADER & LOGO (top left) ---
	logoText := `
███████ ██████  ██ ███    ██ ██████  ██      ███████
██      ██   ██ ██ ████   ██ ██   ██ ██      ██
███████ ██████  ██ ██ ██  ██ ██   ██ ██      █████
     ██ ██      ██ ██  ██ ██ ██   ██ ██      ██
███████ ██      ██ ██   ████ ██████  ███████ ███████`

	headerBox := lipgloss.NewStyle().
		Width(leftWidth).
		Height(headerHeight).
		Padding(1, 2).
		Render(lipgloss.JoinVertical(lipgloss.Left,
			LogoStyle.Render(logoText),
			"",
			m.renderStatusLine(),
		))

	// --- SECTION 2: QUEUE DEPTH GRAPH (top right) ---
	axisWidth := 4
	graphContentWidth := rightWidth - axisWidth - 5
	if graphContentWidth < 10 {
		graphContentWidth = 10
	}

	maxDepth := 1.0
	for _, v := range m.depth {
		if v > maxDepth {
			maxDepth = v
		}
	}

	graphContentHeight := graphHeight - 4
	if graphContentHeight < 1 {
		graphContentHeight = 1
	}

	graphVisual := renderMultiLineGraph(m.depth, graphContentWidth, graphContentHeight, maxDepth, ColorNeonPink)

	axisStyle := lipgloss.NewStyle().Width(axisWidth).Foreground(ColorGray).Align(lipgloss.Right)
	labelTop := axisStyle.Render(fmt.Sprintf("%.0f", maxDepth))
	labelBot := axisStyle.Render("0")

	spaces := graphContentHeight - 2
	if spaces < 0 {
		spaces = 0
	}
	axisColumn := lipgloss.JoinVertical(lipgloss.Right,
		labelTop,
		strings.Repeat("\n", spaces),
		labelBot,
	)

	fullGraphRow := lipgloss.JoinHorizontal(lipgloss.Top,
		axisColumn,
		lipgloss.NewStyle().MarginLeft(1).Render(graphVisual),
	)

	depthNow := fmt.Sprintf("Waiting: %d  Running: %d", m.status.QueueSize, m.status.Running)
	titleStyle := lipgloss.NewStyle().
		Width(rightWidth - 4).
		Align(lipgloss.Right).
		Foreground(ColorNeonPink).
		Bold(true)

	graphContent := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(depthNow),
		"",
		fullGraphRow,
	)

	graphBox := renderBtopBox("Queue Depth", graphContent, rightWidth, graphHeight, ColorNeonCyan, false)

	// --- SECTION 3: JOB LIST (bottom left) ---
	queued, running, done := m.queueCounts()
	tabBar := renderTabs(m.activeTab, queued+running+done, len(m.entries))

	visibleRows := listHeight - 6
	if visibleRows < 3 {
		visibleRows = 3
	}

	var listContent string
	if m.listLen() == 0 {
		empty := "queue is empty, press [a] to add"
		if m.activeTab == TabHistory {
			empty = "no completed runs yet"
		}
		listContent = lipgloss.Place(leftWidth-8, visibleRows, lipgloss.Center, lipgloss.Center,
			lipgloss.NewStyle().Foreground(ColorNeonCyan).Render(empty))
	} else if m.activeTab == TabQueue {
		listContent = m.renderJobRows(leftWidth-8, visibleRows)
	} else {
		listContent = m.renderHistoryRows(leftWidth-8, visibleRows)
	}

	listInner := lipgloss.NewStyle().Padding(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left,
		tabBar,
		"",
		listContent,
	))
	listBox := renderBtopBox("Downloads", listInner, leftWidth, listHeight, ColorNeonPink, true)

	// --- SECTION 4: DETAILS PANE (bottom right) ---
	var detailContent string
	if j := m.selectedJob(); j != nil {
		detailContent = lipgloss.NewStyle().Padding(0, 2).Render(m.renderJobDetail(j, rightWidth-6))
	} else if e := m.selectedEntry(); e != nil {
		detailContent = lipgloss.NewStyle().Padding(0, 2).Render(renderEntryDetail(e, rightWidth-6))
	} else {
		detailContent = lipgloss.Place(rightWidth-4, detailHeight-4, lipgloss.Center, lipgloss.Center,
			lipgloss.NewStyle().Foreground(ColorNeonCyan).Render("Nothing Selected"))
	}

	detailBox := renderBtopBox("Details", detailContent, rightWidth, detailHeight, ColorGray, true)

	// --- ASSEMBLY ---
	leftColumn := lipgloss.JoinVertical(lipgloss.Left, headerBox, listBox)
	rightColumn := lipgloss.JoinVertical(lipgloss.Left, graphBox, detailBox)
	body := lipgloss.JoinHorizontal(lipgloss.Top, leftColumn, rightColumn)

	var footer string
	switch {
	case m.lastError != "":
		footer = lipgloss.Place(m.width, 1, lipgloss.Center, lipgloss.Center,
			ErrorBannerStyle.Render(truncateString(m.lastError, m.width-4)))
	case m.notification != "":
		footer = lipgloss.Place(m.width, 1, lipgloss.Center, lipgloss.Center,
			NotificationStyle.Render(m.notification))
	default:
		footer = lipgloss.NewStyle().Foreground(ColorLightGray).Padding(0, 1).
			Render(" [A] Add  [Space] Hold  [P] Pause  [S] Stop After  [Y] Sentry  [R] Retry All  [O] Settings  [Tab] History  [Q] Quit")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		body,
		footer,
	)
}

// renderStatusLine builds the chip row under the logo.
func (m RootModel) renderStatusLine() string {
	chip := func(label string, color lipgloss.Color) string {
		return lipgloss.NewStyle().Foreground(color).Bold(true).Render(label)
	}

	parts := []string{
		lipgloss.NewStyle().Foreground(ColorGray).Render("v" + m.version),
	}
	if m.remote {
		parts = append(parts, chip("remote", ColorNeonPurple))
	}
	if m.status.Paused {
		parts = append(parts, chip("paused", ColorStatePaused))
	}
	if m.status.Stopping {
		parts = append(parts, chip("stop after current", ColorStatePaused))
	}
	if m.status.Sentry {
		parts = append(parts, chip("sentry", ColorNeonCyan))
	}
	if m.status.BinaryError != "" {
		parts = append(parts, ErrorBannerStyle.Render("downloader missing"))
	}
	if m.status.LastRun != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(ColorGray).Render("last run "+m.status.LastRun))
	}

	return strings.Join(parts, lipgloss.NewStyle().Foreground(ColorDarkGray).Render("  ·  "))
}

// renderJobRows draws the queue tab rows around the cursor.
func (m RootModel) renderJobRows(width, rows int) string {
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}

	var lines []string
	for i := start; i < len(m.jobs) && len(lines) < rows; i++ {
		j := m.jobs[i]

		marker := "  "
		if i == m.cursor {
			marker = lipgloss.NewStyle().Foreground(ColorNeonPink).Render("> ")
		}

		meta := string(j.Format)
		if j.Attempts > 0 {
			meta += fmt.Sprintf("  try %d", j.Attempts)
		}
		switch j.Source {
		case queue.SourceSentry:
			meta += "  [sentry]"
		case queue.SourceScheduler:
			meta += "  [sched]"
		case queue.SourceRemote:
			meta += "  [remote]"
		}

		var progressCell string
		switch j.State {
		case queue.StateRunning:
			if j.Percent >= 0 {
				progressCell = fmt.Sprintf("%3d%%", j.Percent)
			} else {
				progressCell = " ..."
			}
		default:
			progressCell = "    "
		}

		targetWidth := width - lipgloss.Width(marker) - 4 - len(meta) - 8
		if targetWidth < 10 {
			targetWidth = 10
		}

		line := fmt.Sprintf("%s%s %-*s %s %s",
			marker,
			stateIcon(j.State),
			targetWidth, truncateString(displayTarget(j), targetWidth),
			progressCell,
			lipgloss.NewStyle().Foreground(ColorGray).Render(meta),
		)
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

// renderHistoryRows draws the history tab rows around the cursor.
func (m RootModel) renderHistoryRows(width, rows int) string {
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}

	var lines []string
	for i := start; i < len(m.entries) && len(lines) < rows; i++ {
		e := m.entries[i]

		marker := "  "
		if i == m.cursor {
			marker = lipgloss.NewStyle().Foreground(ColorNeonPink).Render("> ")
		}

		meta := fmtDurationMs(e.DurationMs)
		if e.NewFiles > 0 {
			meta += fmt.Sprintf("  %d file(s)", e.NewFiles)
		}

		targetWidth := width - lipgloss.Width(marker) - 4 - len(meta) - 4
		if targetWidth < 10 {
			targetWidth = 10
		}

		line := fmt.Sprintf("%s%s %-*s %s",
			marker,
			stateIcon(queue.State(e.State)),
			targetWidth, truncateString(entryDisplay(e), targetWidth),
			lipgloss.NewStyle().Foreground(ColorGray).Render(meta),
		)
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

// renderJobDetail fills the right pane for a queue job.
func (m RootModel) renderJobDetail(j *queue.Job, w int) string {
	divider := lipgloss.NewStyle().
		Foreground(ColorGray).
		Render(strings.Repeat("─", w-2))

	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Left,
			StatsLabelStyle.Render(label),
			StatsValueStyle.Render(truncateString(value, w-14)))
	}

	info := lipgloss.JoinVertical(lipgloss.Left,
		row("Target:", j.Target),
		row("Kind:", string(j.Kind)),
		row("Format:", string(j.Format)),
		row("Source:", string(j.Source)),
		row("State:", renderState(j.State)),
	)

	var middle string
	switch {
	case j.State == queue.StateRunning:
		pct := 0.0
		if j.Percent >= 0 {
			pct = float64(j.Percent) / 100
		}
		bar := m.bar
		bar.Width = w - 10
		if bar.Width < 20 {
			bar.Width = 20
		}

		trackLine := ""
		if j.Track != "" {
			trackLine = lipgloss.NewStyle().Foreground(ColorNeonCyan).Render("♪ " + truncateString(j.Track, w-6))
		}

		grid := ""
		if last, ok := m.lastProgress[j.ID]; ok && last.Total > 0 {
			tm := components.TrackMap{
				Done:    last.Index - 1,
				Active:  1,
				Total:   last.Total,
				Width:   w - 6,
				Stalled: m.status.Paused,
			}
			grid = tm.View()
		}

		middle = lipgloss.JoinVertical(lipgloss.Left,
			lipgloss.NewStyle().MarginLeft(1).Render(bar.ViewAs(pct)),
			trackLine,
			grid,
		)

	case j.LastError != "":
		middle = lipgloss.JoinVertical(lipgloss.Left,
			lipgloss.NewStyle().Foreground(ColorStateError).Render("last error"),
			lipgloss.NewStyle().Foreground(ColorLightGray).Width(w-4).Render(j.LastError),
		)
		if j.Attempts > 0 {
			middle = lipgloss.JoinVertical(lipgloss.Left, middle,
				row("Attempts:", fmt.Sprintf("%d", j.Attempts)))
		}

	default:
		middle = row("Enqueued:", j.EnqueuedAt.Format("15:04:05"))
	}

	var elapsed string
	if j.State == queue.StateRunning && !j.StartedAt.IsZero() {
		elapsed = row("Elapsed:", time.Since(j.StartedAt).Round(time.Second).String())
	}

	sections := []string{"", info, divider, "", middle}
	if elapsed != "" {
		sections = append(sections, elapsed)
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderEntryDetail fills the right pane for a history row.
func renderEntryDetail(e *history.Entry, w int) string {
	row := func(label, value string) string {
		if value == "" {
			return ""
		}
		return lipgloss.JoinHorizontal(lipgloss.Left,
			StatsLabelStyle.Render(label),
			StatsValueStyle.Render(truncateString(value, w-14)))
	}

	lines := []string{
		"",
		row("Target:", e.Target),
		row("State:", renderState(queue.State(e.State))),
		row("Artist:", e.Artist),
		row("Album:", e.Album),
		row("Format:", e.Format),
		row("Duration:", fmtDurationMs(e.DurationMs)),
	}
	if e.NewFiles > 0 {
		lines = append(lines, row("Files:", fmt.Sprintf("%d new", e.NewFiles)))
	}
	if e.Suspects > 0 {
		lines = append(lines, row("Suspect:", fmt.Sprintf("%d file(s)", e.Suspects)))
	}
	if e.Attempts > 1 {
		lines = append(lines, row("Attempts:", fmt.Sprintf("%d", e.Attempts)))
	}
	if e.Reason != "" {
		lines = append(lines,
			"",
			lipgloss.NewStyle().Foreground(ColorStateError).Render("reason"),
			lipgloss.NewStyle().Foreground(ColorLightGray).Width(w-4).Render(e.Reason),
		)
	}
	if e.Destination != "" {
		lines = append(lines, row("Dest:", e.Destination))
	}

	var kept []string
	for _, l := range lines {
		if l != "" || len(kept) == 0 || kept[len(kept)-1] != "" {
			kept = append(kept, l)
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, kept...)
}

func renderState(s queue.State) string {
	return lipgloss.NewStyle().Foreground(stateColor(s)).Render(string(s))
}

func stateIcon(s queue.State) string {
	style := lipgloss.NewStyle().Foreground(stateColor(s))
	switch s {
	case queue.StateRunning:
		return style.Render("▶")
	case queue.StatePaused:
		return style.Render("⏸")
	case queue.StateSucceeded:
		return style.Render("✔")
	case queue.StateFailed:
		return style.Render("✖")
	case queue.StateCancelled:
		return style.Render("–")
	default:
		return style.Render("○")
	}
}

func stateColor(s queue.State) lipgloss.Color {
	switch s {
	case queue.StateRunning:
		return ColorStateRunning
	case queue.StatePaused:
		return ColorStatePaused
	case queue.StateSucceeded:
		return ColorStateDone
	case queue.StateFailed:
		return ColorStateError
	case queue.StateCancelled:
		return ColorStateCancelled
	default:
		return ColorStateQueued
	}
}

// displayTarget prefers the live track title for a running job.
func displayTarget(j queue.Job) string {
	if j.State == queue.StateRunning && j.Track != "" {
		return j.Track
	}
	return j.Target
}

// entryDisplay prefers artist/album metadata over the raw target.
func entryDisplay(e history.Entry) string {
	if e.Artist != "" && e.Album != "" {
		return e.Artist + " - " + e.Album
	}
	if e.Album != "" {
		return e.Album
	}
	return e.Target
}

func fmtDurationMs(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}

func renderTabs(activeTab, queueCount, historyCount int) string {
	tabs := []struct {
		Label string
		Count int
	}{
		{"Queue", queueCount},
		{"History", historyCount},
	}
	var rendered []string
	for i, t := range tabs {
		var style lipgloss.Style
		if i == activeTab {
			style = ActiveTabStyle
		} else {
			style = TabStyle
		}
		rendered = append(rendered, style.Render(fmt.Sprintf("%s (%d)", t.Label, t.Count)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func truncateString(s string, i int) string {
	if i < 1 {
		return ""
	}
	runes := []rune(s)
	if len(runes) > i {
		if i <= 3 {
			return string(runes[:i])
		}
		return string(runes[:i-3]) + "..."
	}
	return s
}

// renderBtopBox draws a box with the title embedded in the top border.
// titleRight picks which end of the border carries the title.
// Example (left):  ╭─ TITLE ─────────────────────────────────╮
// Example (right): ╭─────────────────────────────── TITLE ─╮
func renderBtopBox(title string, content string, width, height int, borderColor lipgloss.Color, titleRight bool) string {
	const (
		topLeft     = "╭"
		topRight    = "╮"
		bottomLeft  = "╰"
		bottomRight = "╯"
		horizontal  = "─"
		vertical    = "│"
	)

	innerWidth := width - 2
	if innerWidth < 1 {
		innerWidth = 1
	}

	titleText := fmt.Sprintf(" %s ", title)
	titleLen := len(titleText)
	remainingWidth := innerWidth - titleLen - 1
	if remainingWidth < 0 {
		remainingWidth = 0
	}

	borderStyle := lipgloss.NewStyle().Foreground(borderColor)
	titleStyle := lipgloss.NewStyle().Foreground(ColorNeonCyan).Bold(true)

	var topBorder string
	if titleRight {
		topBorder = borderStyle.Render(topLeft+strings.Repeat(horizontal, remainingWidth)) +
			titleStyle.Render(titleText) +
			borderStyle.Render(horizontal+topRight)
	} else {
		topBorder = borderStyle.Render(topLeft+horizontal) +
			titleStyle.Render(titleText) +
			borderStyle.Render(strings.Repeat(horizontal, remainingWidth)) +
			borderStyle.Render(topRight)
	}

	bottomBorder := borderStyle.Render(
		bottomLeft + strings.Repeat(horizontal, innerWidth) + bottomRight,
	)

	contentLines := strings.Split(content, "\n")
	innerHeight := height - 2

	var wrappedLines []string
	for i := 0; i < innerHeight; i++ {
		var line string
		if i < len(contentLines) {
			line = contentLines[i]
		}
		lineWidth := lipgloss.Width(line)
		if lineWidth < innerWidth {
			line = line + strings.Repeat(" ", innerWidth-lineWidth)
		} else if lineWidth > innerWidth {
			runes := []rune(line)
			if len(runes) > innerWidth {
				line = string(runes[:innerWidth])
			}
		}
		wrappedLines = append(wrappedLines, borderStyle.Render(vertical)+line+borderStyle.Render(vertical))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		topBorder,
		strings.Join(wrappedLines, "\n"),
		bottomBorder,
	)
}
