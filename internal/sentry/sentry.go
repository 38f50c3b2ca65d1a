// Package sentry watches the system clipboard and enqueues every
// recognized link it sees. Captures share the normal enqueue path; the
// only special treatment is pacing, which the engine slows down while a
// watcher is active.
package sentry

import (
	"context"
	"time"

	"github.com/atotto/clipboard"

	"github.com/spindle-dl/spindle/internal/links"
	"github.com/spindle-dl/spindle/internal/logger"
	"github.com/spindle-dl/spindle/internal/queue"
)

// Clipboard reads the current clipboard text.
type Clipboard interface {
	Read() (string, error)
}

// SystemClipboard is the real clipboard.
type SystemClipboard struct{}

func (SystemClipboard) Read() (string, error) { return clipboard.ReadAll() }

// Control is the slice of the engine a watcher drives.
type Control interface {
	Enqueue(target, format string, source queue.Source) (string, error)
	HasTarget(target string) bool
	SetSentry(on bool)
}

// Options tunes a watcher.
type Options struct {
	// Interval between clipboard polls. Defaults to one second.
	Interval time.Duration

	// Format requested for captured jobs, "" for the engine default.
	Format string

	// Done holds targets that already finished successfully; captures of
	// these are skipped so copying an old link does not re-download it.
	Done map[string]bool

	Log *logger.Logger
}

// Watcher polls the clipboard and captures links. One goroutine, owned by
// Run; not safe for concurrent use beyond that.
type Watcher struct {
	ctl      Control
	clip     Clipboard
	interval time.Duration
	format   string
	log      *logger.Logger

	last string          // previous clipboard content
	seen map[string]bool // captured this session
	done map[string]bool // archived as succeeded before this session
}

// New builds a watcher. A nil clipboard means the system clipboard.
func New(ctl Control, clip Clipboard, opts Options) *Watcher {
	if clip == nil {
		clip = SystemClipboard{}
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	done := opts.Done
	if done == nil {
		done = make(map[string]bool)
	}
	return &Watcher{
		ctl:      ctl,
		clip:     clip,
		interval: opts.Interval,
		format:   opts.Format,
		log:      log.WithComponent("sentry"),
		seen:     make(map[string]bool),
		done:     done,
	}
}

// Run polls until ctx is cancelled. Sentry pacing is enabled for the
// whole watch and restored on the way out.
func (w *Watcher) Run(ctx context.Context) error {
	w.ctl.SetSentry(true)
	defer w.ctl.SetSentry(false)
	w.log.Info("sentry watching clipboard", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("sentry stopped", "captured", len(w.seen))
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll captures links from the clipboard when its content changed.
// Whatever is on the clipboard when the watcher starts counts as a
// change: copy-then-enable is a normal way to use sentry mode.
func (w *Watcher) poll() {
	text, err := w.clip.Read()
	if err != nil {
		// Headless sessions and some window managers fail reads; the
		// next poll tries again.
		w.log.Debug("clipboard read failed", "error", err)
		return
	}
	if text == w.last {
		return
	}
	w.last = text
	for _, target := range links.ExtractAll(text) {
		w.capture(target)
	}
}

func (w *Watcher) capture(target string) {
	if w.seen[target] {
		return
	}
	if w.done[target] {
		w.log.Debug("already downloaded, skipping", "target", target)
		return
	}
	if w.ctl.HasTarget(target) {
		w.log.Debug("already queued, skipping", "target", target)
		return
	}
	id, err := w.ctl.Enqueue(target, w.format, queue.SourceSentry)
	if err != nil {
		w.log.Warn("capture rejected", "target", target, "error", err)
		return
	}
	w.seen[target] = true
	w.log.Info("link captured", "target", target, "job_id", id)
}
