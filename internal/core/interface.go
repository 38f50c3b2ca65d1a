// Package core abstracts the engine behind QueueService so the TUI can
// run against an embedded engine or a remote daemon without knowing
// which one it has.
package core

import (
	"context"
	"errors"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/engine/events"
	"github.com/spindle-dl/spindle/internal/history"
	"github.com/spindle-dl/spindle/internal/queue"
)

// ErrRemoteSettings marks operations that only work where the engine
// itself runs.
var ErrRemoteSettings = errors.New("settings can only be edited where the engine runs")

// QueueService is the queue surface the TUI drives. The local
// implementation wraps the embedded engine; the remote one speaks the
// HTTP API of a daemon.
type QueueService interface {
	// Enqueue adds one target to the queue and returns its job id.
	Enqueue(target, format string) (string, error)

	// Snapshot returns the current ordered queue.
	Snapshot() (queue.Snapshot, error)

	// Status returns the engine-wide status line.
	Status() (events.StatusMsg, error)

	// History returns the n most recent finished runs, newest first.
	History(n int) ([]history.Entry, error)

	Pause() error
	Resume() error
	SetStopAfterCurrent(on bool) error
	SetSentry(on bool) error

	PauseJob(id string) error
	ResumeJob(id string) error
	CancelJob(id string) error
	RetryJob(id string) error
	RemoveJob(id string) error
	MoveJob(id string, index int) error

	RetryAllFailed() (int, error)
	ClearCompleted() (int, error)

	// UpdateSettings applies new settings to the engine. Remote services
	// return ErrRemoteSettings.
	UpdateSettings(s *config.Settings) error

	// Events delivers engine messages until cancel is called or the
	// context ends. Remote implementations reconnect on stream loss.
	Events(ctx context.Context) (<-chan any, func(), error)

	// Close releases the service. The engine's own lifecycle is managed
	// by whoever started it.
	Close() error
}
