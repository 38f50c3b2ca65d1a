package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/spindle-dl/spindle/internal/core"
	"github.com/spindle-dl/spindle/internal/engine/events"
	"github.com/spindle-dl/spindle/internal/history"
	"github.com/spindle-dl/spindle/internal/queue"
)

// Messages internal to the dashboard.
type (
	tickMsg      time.Time
	snapshotMsg  queue.Snapshot
	historyMsg   []history.Entry
	statusMsg    events.StatusMsg
	noteMsg      string
	clearNoteMsg struct{}
	errMsg       struct{ err error }

	// streamMsg wraps one bus message from the service event channel so
	// pushed status updates stay distinct from polled ones.
	streamMsg       struct{ msg any }
	streamClosedMsg struct{}
)

func tickCmd() tea.Cmd {
	return tea.Tick(TickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func clearNoteAfter() tea.Cmd {
	return tea.Tick(NotificationDuration, func(time.Time) tea.Msg { return clearNoteMsg{} })
}

func refreshSnapshot(svc core.QueueService) tea.Cmd {
	return func() tea.Msg {
		snap, err := svc.Snapshot()
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg(snap)
	}
}

func refreshStatus(svc core.QueueService) tea.Cmd {
	return func() tea.Msg {
		st, err := svc.Status()
		if err != nil {
			return errMsg{err}
		}
		return statusMsg(st)
	}
}

func refreshHistory(svc core.QueueService) tea.Cmd {
	return func() tea.Msg {
		entries, err := svc.History(HistoryFetch)
		if err != nil {
			return errMsg{err}
		}
		return historyMsg(entries)
	}
}

// doAction runs one service call off the update loop and reports the
// outcome as a notification.
func doAction(note string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return errMsg{err}
		}
		return noteMsg(note)
	}
}

// doCount is doAction for calls that report how many jobs they touched.
func doCount(verb string, fn func() (int, error)) tea.Cmd {
	return func() tea.Msg {
		n, err := fn()
		if err != nil {
			return errMsg{err}
		}
		return noteMsg(fmt.Sprintf("%s %d job(s)", verb, n))
	}
}

func enqueueCmd(svc core.QueueService, target, format string) tea.Cmd {
	return func() tea.Msg {
		if _, err := svc.Enqueue(target, format); err != nil {
			return errMsg{err}
		}
		return noteMsg("queued " + truncateString(target, 40))
	}
}

func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.logView.Width = msg.Width/2 - 8
		m.logView.Height = msg.Height - 14
		if m.logView.Height < 4 {
			m.logView.Height = 4
		}
		return m, nil

	case tickMsg:
		m.depth = append(m.depth, float64(m.status.QueueSize+m.status.Running))
		if len(m.depth) > DepthHistoryMax {
			m.depth = m.depth[len(m.depth)-DepthHistoryMax:]
		}
		cmds = append(cmds, tickCmd(), refreshStatus(m.svc))

	case snapshotMsg:
		m.jobs = msg.Jobs
		m.clampCursor()

	case historyMsg:
		m.entries = msg
		m.clampCursor()

	case statusMsg:
		m.status = events.StatusMsg(msg)

	case streamMsg:
		cmds = append(cmds, listenForActivity(m.stream))
		switch ev := msg.msg.(type) {
		case events.QueueChangedMsg:
			if ev.Revision > m.queueRevision {
				m.queueRevision = ev.Revision
				cmds = append(cmds, refreshSnapshot(m.svc))
			}
		case events.StatusMsg:
			m.status = ev
		case events.HistoryChangedMsg:
			cmds = append(cmds, refreshHistory(m.svc))
		case events.ProgressEvent:
			m.applyProgress(ev)
			if m.state == DetailState {
				m.refreshLogView()
			}
		case events.JobErrorMsg:
			if ev.Err != nil {
				m.lastError = fmt.Sprintf("%s: %v", truncateString(ev.Target, 40), ev.Err)
				cmds = append(cmds, clearNoteAfter())
			}
		}

	case streamClosedMsg:
		m.lastError = "event stream closed"

	case noteMsg:
		m.notification = string(msg)
		m.lastError = ""
		cmds = append(cmds, clearNoteAfter())

	case clearNoteMsg:
		m.notification = ""
		m.lastError = ""

	case errMsg:
		m.lastError = msg.err.Error()
		cmds = append(cmds, clearNoteAfter())

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, tea.Batch(cmds...)
}

func (m RootModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.state {
	case DashboardState:
		return m.handleDashboardKey(msg)
	case InputState:
		return m.handleInputKey(msg)
	case DetailState:
		return m.handleDetailKey(msg)
	case SettingsState:
		return m.handleSettingsKey(msg)
	}
	return m, nil
}

func (m RootModel) handleDashboardKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "a":
		m.state = InputState
		m.formRow = 0
		m.targetInput.SetValue("")
		m.targetInput.Focus()
		m.formatIdx = formatIndex(m.Settings.General.DefaultFormat)
		return m, nil

	case "o":
		m.state = SettingsState
		m.SettingsActiveTab = 0
		m.SettingsSelectedRow = 0
		m.SettingsIsEditing = false
		return m, nil

	case "tab":
		if m.activeTab == TabQueue {
			m.activeTab = TabHistory
		} else {
			m.activeTab = TabQueue
		}
		m.cursor = 0
		return m, nil

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case "down", "j":
		if m.cursor < m.listLen()-1 {
			m.cursor++
		}
		return m, nil

	case "enter":
		if m.selectedJob() != nil || m.selectedEntry() != nil {
			m.state = DetailState
			m.refreshLogView()
		}
		return m, nil

	case "p":
		if m.status.Paused {
			return m, doAction("queue resumed", m.svc.Resume)
		}
		return m, doAction("queue paused", m.svc.Pause)

	case "s":
		on := !m.status.Stopping
		note := "stop after current armed"
		if !on {
			note = "stop after current disarmed"
		}
		return m, doAction(note, func() error { return m.svc.SetStopAfterCurrent(on) })

	case "y":
		on := !m.status.Sentry
		note := "sentry on"
		if !on {
			note = "sentry off"
		}
		return m, doAction(note, func() error { return m.svc.SetSentry(on) })

	case " ":
		j := m.selectedJob()
		if j == nil {
			return m, nil
		}
		switch j.State {
		case queue.StatePaused:
			return m, doAction("job resumed", func() error { return m.svc.ResumeJob(j.ID) })
		case queue.StateQueued:
			return m, doAction("job paused", func() error { return m.svc.PauseJob(j.ID) })
		}
		return m, nil

	case "x":
		if j := m.selectedJob(); j != nil {
			return m, doAction("job cancelled", func() error { return m.svc.CancelJob(j.ID) })
		}
		return m, nil

	case "d":
		if j := m.selectedJob(); j != nil {
			return m, doAction("job removed", func() error { return m.svc.RemoveJob(j.ID) })
		}
		return m, nil

	case "r":
		if j := m.selectedJob(); j != nil {
			return m, doAction("job requeued", func() error { return m.svc.RetryJob(j.ID) })
		}
		return m, nil

	case "R":
		return m, doCount("requeued", m.svc.RetryAllFailed)

	case "c":
		return m, doCount("cleared", m.svc.ClearCompleted)

	case "K":
		if j := m.selectedJob(); j != nil && m.cursor > 0 {
			idx := m.cursor - 1
			m.cursor--
			return m, doAction("job moved up", func() error { return m.svc.MoveJob(j.ID, idx) })
		}
		return m, nil

	case "J":
		if j := m.selectedJob(); j != nil && m.cursor < len(m.jobs)-1 {
			idx := m.cursor + 1
			m.cursor++
			return m, doAction("job moved down", func() error { return m.svc.MoveJob(j.ID, idx) })
		}
		return m, nil
	}
	return m, nil
}

func (m RootModel) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.state = DashboardState
		return m, nil

	case "enter":
		if m.formRow == 0 {
			m.formRow = 1
			m.targetInput.Blur()
			return m, nil
		}
		target := strings.TrimSpace(m.targetInput.Value())
		if target == "" {
			m.formRow = 0
			m.targetInput.Focus()
			return m, nil
		}
		m.state = DashboardState
		return m, enqueueCmd(m.svc, target, formatChoices[m.formatIdx])

	case "up":
		if m.formRow > 0 {
			m.formRow--
			m.targetInput.Focus()
		}
		return m, nil

	case "down":
		if m.formRow < 1 {
			m.formRow++
			m.targetInput.Blur()
		}
		return m, nil

	case "left":
		if m.formRow == 1 {
			m.formatIdx = (m.formatIdx + len(formatChoices) - 1) % len(formatChoices)
		}
		return m, nil

	case "right":
		if m.formRow == 1 {
			m.formatIdx = (m.formatIdx + 1) % len(formatChoices)
		}
		return m, nil
	}

	if m.formRow == 0 {
		var cmd tea.Cmd
		m.targetInput, cmd = m.targetInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m RootModel) handleDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q", "enter":
		m.state = DashboardState
		return m, nil
	}
	var cmd tea.Cmd
	m.logView, cmd = m.logView.Update(msg)
	return m, cmd
}

// applyProgress folds one progress event into the job rows and the
// activity feed.
func (m *RootModel) applyProgress(ev events.ProgressEvent) {
	for i := range m.jobs {
		if m.jobs[i].ID == ev.JobID {
			if ev.Percent >= 0 {
				m.jobs[i].Percent = ev.Percent
			}
			if ev.Track != "" {
				m.jobs[i].Track = ev.Track
			}
			break
		}
	}
	if ev.JobID != "" && ev.Total > 0 {
		m.lastProgress[ev.JobID] = ev
	}
	if text := formatActivity(ev); text != "" {
		m.activity = append(m.activity, activityLine{jobID: ev.JobID, text: text, at: ev.At})
		if len(m.activity) > ActivityMax {
			m.activity = m.activity[len(m.activity)-ActivityMax:]
		}
	}
}

// formatActivity renders one event as a feed line, "" to drop it.
func formatActivity(ev events.ProgressEvent) string {
	switch ev.Kind {
	case events.KindProgress:
		if ev.Track == "" {
			return ""
		}
		if ev.Total > 0 {
			return fmt.Sprintf("[%d/%d] %s", ev.Index, ev.Total, ev.Track)
		}
		return ev.Track
	case events.KindDone:
		if ev.Track != "" {
			return "done: " + ev.Track
		}
		return "done"
	case events.KindRetry:
		return "retry: " + ev.Reason
	case events.KindRateLimit:
		return fmt.Sprintf("rate limited, backing off %s", ev.Delay)
	case events.KindError:
		return "error: " + ev.Message
	case events.KindLog:
		return truncateString(ev.Message, 120)
	}
	return ""
}

func (m *RootModel) refreshLogView() {
	var id string
	if j := m.selectedJob(); j != nil {
		id = j.ID
	} else if e := m.selectedEntry(); e != nil {
		id = e.JobID
	} else {
		return
	}
	lines := m.activityFor(id)
	if len(lines) == 0 {
		lines = []string{"no activity observed yet"}
	}
	m.logView.SetContent(strings.Join(lines, "\n"))
	m.logView.GotoBottom()
}

func (m *RootModel) clampCursor() {
	if max := m.listLen() - 1; m.cursor > max {
		m.cursor = max
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m RootModel) listLen() int {
	if m.activeTab == TabHistory {
		return len(m.entries)
	}
	return len(m.jobs)
}

func formatIndex(format string) int {
	for i, f := range formatChoices {
		if f == format {
			return i
		}
	}
	return 0
}
