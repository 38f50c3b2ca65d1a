package engine

import (
	"fmt"
	"time"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/engine/events"
	"github.com/spindle-dl/spindle/internal/history"
	"github.com/spindle-dl/spindle/internal/queue"
	"github.com/spindle-dl/spindle/internal/runner"
)

// Enqueue adds a job. Every origin funnels through here: the UI, the
// clipboard sentry, the scheduler, and the remote API all enqueue the
// same way. An empty format falls back to the configured default.
func (e *Engine) Enqueue(target, format string, source queue.Source) (string, error) {
	if format == "" {
		format = e.settings().General.DefaultFormat
	}
	f, err := queue.ParseFormat(format)
	if err != nil {
		return "", err
	}
	id, err := e.q.Enqueue(target, f, source)
	if err != nil {
		return "", err
	}
	e.poke()
	return id, nil
}

// HasTarget reports whether a non-terminal job already references the
// target. Used by capture paths to avoid double-enqueueing.
func (e *Engine) HasTarget(target string) bool {
	return e.q.HasTarget(target)
}

// Pause stops dispatching new jobs. Running jobs are unaffected.
func (e *Engine) Pause() {
	e.q.Pause()
	e.poke()
}

// Resume lifts a global pause.
func (e *Engine) Resume() {
	e.q.Resume()
	e.poke()
}

// SetStopAfterCurrent arms or disarms the soft stop: in-flight jobs
// finish, nothing new starts until the flag is cleared.
func (e *Engine) SetStopAfterCurrent(v bool) {
	e.q.SetStopAfterCurrent(v)
	e.poke()
}

// PauseJob parks one queued job.
func (e *Engine) PauseJob(id string) error {
	if err := e.q.PauseJob(id); err != nil {
		return err
	}
	e.poke()
	return nil
}

// ResumeJob returns a paused job to the queue at its original position.
func (e *Engine) ResumeJob(id string) error {
	if err := e.q.ResumeJob(id); err != nil {
		return err
	}
	e.poke()
	return nil
}

// Cancel terminates a job. A running job's subprocess is stopped
// gracefully first; a waiting job goes straight to Cancelled. Cancelled
// jobs are not retried automatically.
func (e *Engine) Cancel(id string) error {
	e.cmu.Lock()
	cancel, running := e.cancels[id]
	e.cmu.Unlock()
	if running {
		cancel()
		e.log.Info("cancel requested", "job_id", id)
		return nil
	}

	job, ok := e.q.Get(id)
	if !ok {
		return fmt.Errorf("cancel: unknown job id %s", id)
	}
	if job.State.Terminal() {
		return fmt.Errorf("job already %s", job.State)
	}
	if err := e.q.Transition(id, queue.StateCancelled); err != nil {
		return err
	}

	// The dispatcher may have started the job between the lookup and the
	// transition; tear its runner down too.
	e.cmu.Lock()
	if cancel, ok := e.cancels[id]; ok {
		cancel()
	}
	e.cmu.Unlock()

	now := e.now()
	e.appendHistory(job, jobResult{
		jobID:   id,
		outcome: runner.Outcome{Start: now, End: now, ExitCode: -1},
	}, queue.StateCancelled, "cancelled before start")
	e.log.Info("job cancelled", "job_id", id, "state", job.State)
	e.poke()
	return nil
}

// Retry puts one failed job back in line with a fresh attempt budget.
func (e *Engine) Retry(id string) error {
	if err := e.q.RetryJob(id); err != nil {
		return err
	}
	e.poke()
	return nil
}

// RetryAllFailed retries every failed job and reports how many.
func (e *Engine) RetryAllFailed() int {
	n := e.q.RetryAllFailed()
	if n > 0 {
		e.poke()
	}
	return n
}

// Remove drops a job from the queue. Running jobs must be cancelled first.
func (e *Engine) Remove(id string) error {
	return e.q.Remove(id)
}

// Reorder rearranges the queue to exactly the given id order.
func (e *Engine) Reorder(ids []string) error {
	if err := e.q.Reorder(ids); err != nil {
		return err
	}
	e.poke()
	return nil
}

// Move places a job at the given position.
func (e *Engine) Move(id string, index int) error {
	if err := e.q.Move(id, index); err != nil {
		return err
	}
	e.poke()
	return nil
}

// ClearCompleted removes terminal jobs and reports how many went.
func (e *Engine) ClearCompleted() int {
	return e.q.ClearCompleted()
}

// Snapshot returns a copy of the current queue.
func (e *Engine) Snapshot() queue.Snapshot {
	return e.q.Snapshot()
}

// History exposes the archive store, nil when archiving is disabled.
func (e *Engine) History() *history.Store {
	return e.hist
}

// Subscribe attaches an observer to the event stream.
func (e *Engine) Subscribe(buffer int) (<-chan any, func()) {
	return e.bus.Subscribe(buffer)
}

// SetSentry toggles sentry pacing: one job at a time with a fixed gap
// between dispatches.
func (e *Engine) SetSentry(on bool) {
	e.mu.Lock()
	changed := e.sentry != on
	e.sentry = on
	e.mu.Unlock()
	if !changed {
		return
	}
	e.pacer.SetSentry(on)
	e.log.Info("sentry pacing", "enabled", on)
	e.bus.Publish(e.Status())
	e.poke()
}

// SentryOn reports whether sentry pacing is active.
func (e *Engine) SentryOn() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sentry
}

// UpdateSettings swaps the live configuration. The pacer keeps its
// position, the binary path is re-resolved, and the adaptive parallelism
// baseline resets.
func (e *Engine) UpdateSettings(s *config.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = s
	e.retry = RetryPolicy{MaxAttempts: s.Retry.MaxAttempts, Ladder: s.BackoffDelays()}
	e.parallel = s.Downloader.TrackParallel
	e.mu.Unlock()

	e.pacer.Reconfigure(s.BackoffDelays(), s.Pacing.ThrottleTracksThreshold, s.SentryGap())
	e.resolveBinary(s.Downloader.BinaryPath)
	e.bus.Publish(e.Status())
	e.poke()
	return nil
}

// Status summarizes the engine for observers.
func (e *Engine) Status() events.StatusMsg {
	st := events.StatusMsg{
		QueueSize: e.q.Len(),
		Running:   e.runningCount(),
		Paused:    e.q.IsPaused(),
		Stopping:  e.q.StoppingAfterCurrent(),
	}
	e.mu.Lock()
	st.Sentry = e.sentry
	if e.binaryErr != nil {
		st.BinaryError = e.binaryErr.Error()
	}
	e.mu.Unlock()
	if e.hist != nil {
		if last, err := e.hist.LastRun(); err == nil && last != nil {
			st.LastRun = last.FinishedAt.Format(time.RFC3339)
		}
	}
	return st
}
