package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/core"
	"github.com/spindle-dl/spindle/internal/engine/events"
	"github.com/spindle-dl/spindle/internal/history"
	"github.com/spindle-dl/spindle/internal/queue"
)

type UIState int

const (
	DashboardState UIState = iota
	InputState
	DetailState
	SettingsState
)

// Dashboard tabs.
const (
	TabQueue = iota
	TabHistory
)

var formatChoices = []string{"flac", "mp3", "m4a", "opus"}

// activityLine is one observed progress line, kept for the detail view.
type activityLine struct {
	jobID string
	text  string
	at    time.Time
}

type RootModel struct {
	svc     core.QueueService
	version string
	remote  bool

	// stream carries bus messages from the service; listenForActivity
	// re-arms after every receive.
	stream <-chan any

	width  int
	height int

	state     UIState
	activeTab int
	cursor    int

	jobs          []queue.Job
	queueRevision uint64
	status        events.StatusMsg
	entries       []history.Entry
	depth         []float64 // queue size samples for the graph
	activity      []activityLine

	// lastProgress keeps the newest structured update per job for the
	// track grid in the detail pane.
	lastProgress map[string]events.ProgressEvent

	bar     progress.Model
	logView viewport.Model

	// Add form
	targetInput textinput.Model
	formatIdx   int
	formRow     int // 0 = target, 1 = format

	// Settings page
	Settings            *config.Settings
	SettingsActiveTab   int
	SettingsSelectedRow int
	SettingsIsEditing   bool
	SettingsInput       textinput.Model

	notification string
	lastError    string
}

// InitialRootModel builds the dashboard over a queue service. stream is
// the service's event channel; remote disables settings editing hints.
func InitialRootModel(svc core.QueueService, version string, stream <-chan any, settings *config.Settings, remote bool) RootModel {
	ApplyTheme(settings.General.Theme)

	targetInput := textinput.New()
	targetInput.Placeholder = "https://open.spotify.com/album/..."
	targetInput.Width = InputWidth
	targetInput.Prompt = ""
	targetInput.Focus()

	settingsInput := textinput.New()
	settingsInput.Width = 30
	settingsInput.Prompt = ""

	return RootModel{
		svc:           svc,
		version:       version,
		remote:        remote,
		stream:        stream,
		state:         DashboardState,
		bar:           progress.New(progress.WithDefaultGradient()),
		logView:       viewport.New(60, 10),
		targetInput:   targetInput,
		SettingsInput: settingsInput,
		Settings:      settings,
		lastProgress:  make(map[string]events.ProgressEvent),
	}
}

func (m RootModel) Init() tea.Cmd {
	return tea.Batch(
		listenForActivity(m.stream),
		tickCmd(),
		refreshSnapshot(m.svc),
		refreshStatus(m.svc),
		refreshHistory(m.svc),
	)
}

func listenForActivity(sub <-chan any) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-sub
		if !ok {
			return streamClosedMsg{}
		}
		return streamMsg{msg}
	}
}

// selectedJob returns the job under the cursor, nil when the queue tab
// is empty or another tab is active.
func (m RootModel) selectedJob() *queue.Job {
	if m.activeTab != TabQueue || m.cursor < 0 || m.cursor >= len(m.jobs) {
		return nil
	}
	j := m.jobs[m.cursor]
	return &j
}

// selectedEntry returns the history row under the cursor.
func (m RootModel) selectedEntry() *history.Entry {
	if m.activeTab != TabHistory || m.cursor < 0 || m.cursor >= len(m.entries) {
		return nil
	}
	e := m.entries[m.cursor]
	return &e
}

// activityFor collects the retained progress lines for one job, oldest
// first.
func (m RootModel) activityFor(jobID string) []string {
	var out []string
	for _, line := range m.activity {
		if line.jobID == jobID || line.jobID == "" {
			out = append(out, line.text)
		}
	}
	return out
}

func (m RootModel) queueCounts() (queued, running, done int) {
	for _, j := range m.jobs {
		switch j.State {
		case queue.StateRunning:
			running++
		case queue.StateSucceeded, queue.StateFailed, queue.StateCancelled:
			done++
		default:
			queued++
		}
	}
	return
}
