// Package queue holds the job model and the ordered, durable queue the
// engine dispatches from.
package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spindle-dl/spindle/internal/links"
)

// State is a job's lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final for automatic processing.
// Failed jobs are terminal but stay eligible for a manual retry.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Source records which origin enqueued a job. All origins go through the
// same Enqueue entry point; the source only matters for pacing (sentry jobs
// run one at a time) and display.
type Source string

const (
	SourceManual    Source = "manual"
	SourceRemote    Source = "remote"
	SourceSentry    Source = "sentry"
	SourceScheduler Source = "scheduler"
)

// Format is the requested output audio format.
type Format string

const (
	FormatFLAC Format = "flac"
	FormatMP3  Format = "mp3"
	FormatM4A  Format = "m4a"
	FormatOpus Format = "opus"
)

// ParseFormat validates a format string, defaulting empty input to FLAC.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "":
		return FormatFLAC, nil
	case FormatFLAC, FormatMP3, FormatM4A, FormatOpus:
		return Format(s), nil
	}
	return "", fmt.Errorf("unsupported format %q (want flac, mp3, m4a, or opus)", s)
}

// allowedTransitions is the job state machine. The empty string is the
// pre-enqueue state.
var allowedTransitions = map[State]map[State]bool{
	"": {
		StateQueued: true,
	},
	StateQueued: {
		StateRunning:   true,
		StatePaused:    true,
		StateCancelled: true,
	},
	StatePaused: {
		StateQueued:    true,
		StateCancelled: true,
	},
	StateRunning: {
		StateSucceeded: true,
		StateFailed:    true,
		StateCancelled: true,
		StateQueued:    true, // automatic retry, and stale-state reset on load
	},
	StateFailed: {
		StateQueued: true, // manual retry
	},
	StateSucceeded: {},
	StateCancelled: {},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to State) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Job is one requested download.
type Job struct {
	ID       string     `json:"id"`
	Target   string     `json:"target"`
	Kind     links.Kind `json:"kind"`
	Format   Format     `json:"format"`
	Source   Source     `json:"source"`
	State    State      `json:"state"`
	Attempts int        `json:"attempts"`

	// LastError is the most recent failure summary, kept across retries.
	LastError string `json:"last_error,omitempty"`

	// Live display state, refreshed from progress events.
	Percent int    `json:"percent"`
	Track   string `json:"track,omitempty"`

	// NotBefore holds a queued job back until its retry delay elapses.
	// Transient: a restart makes the job immediately eligible again.
	NotBefore time.Time `json:"-"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// NewJob builds a queued job for a recognized target.
func NewJob(target string, format Format, source Source) (*Job, error) {
	kind, ok := links.Classify(target)
	if !ok {
		return nil, fmt.Errorf("unrecognized target %q", target)
	}
	if source == "" {
		source = SourceManual
	}
	return &Job{
		ID:         uuid.New().String(),
		Target:     target,
		Kind:       kind,
		Format:     format,
		Source:     source,
		State:      StateQueued,
		Percent:    -1,
		EnqueuedAt: time.Now(),
	}, nil
}

// Transition moves the job to a new state, enforcing the state machine.
func (j *Job) Transition(to State) error {
	if !CanTransition(j.State, to) {
		return fmt.Errorf("job %s: illegal transition %s -> %s", shortID(j.ID), j.State, to)
	}
	j.State = to
	switch to {
	case StateRunning:
		j.StartedAt = time.Now()
		j.FinishedAt = time.Time{}
	case StateSucceeded, StateFailed, StateCancelled:
		j.FinishedAt = time.Now()
	case StateQueued:
		j.Percent = -1
		j.Track = ""
		j.NotBefore = time.Time{}
	}
	return nil
}

// Duration is the wall-clock run time of the last attempt, zero until the
// job has both started and finished.
func (j *Job) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.FinishedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
