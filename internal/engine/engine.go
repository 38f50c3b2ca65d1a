// Package engine runs the download queue: one control loop owns dispatch
// decisions, runner goroutines execute jobs, and every result comes back
// over a single channel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/engine/events"
	"github.com/spindle-dl/spindle/internal/history"
	"github.com/spindle-dl/spindle/internal/logger"
	"github.com/spindle-dl/spindle/internal/queue"
	"github.com/spindle-dl/spindle/internal/runner"
	"github.com/spindle-dl/spindle/internal/scan"
)

const (
	// busyTick bounds how long the loop sleeps while queued work is
	// waiting on a pacer gap or a retry hold.
	busyTick = 250 * time.Millisecond

	// idleTick is the heartbeat when nothing is queued.
	idleTick = 5 * time.Second
)

// jobResult is what a runner goroutine reports back to the control loop.
type jobResult struct {
	jobID   string
	dest    string
	outcome runner.Outcome
	report  *scan.Report // post-run destination diff, nil unless the run succeeded
}

// Engine couples the queue, the pacer, the runner and the history store.
// All dispatching happens on the goroutine inside Run; the exported
// mutators are safe to call from anywhere.
type Engine struct {
	q    *queue.Queue
	hist *history.Store
	run  *runner.Runner

	pacer *Pacer
	bus   *Bus
	log   *logger.Logger

	mu        sync.Mutex
	cfg       *config.Settings
	retry     RetryPolicy
	binary    string
	binaryErr error
	sentry    bool
	parallel  int // adaptive per-job track parallelism

	cmu     sync.Mutex
	cancels map[string]context.CancelFunc

	results chan jobResult
	wake    chan struct{}

	now func() time.Time
}

// New wires an engine. The settings must already be validated. A nil
// history store disables archiving but not the queue itself.
func New(q *queue.Queue, hist *history.Store, cfg *config.Settings, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	e := &Engine{
		q:        q,
		hist:     hist,
		run:      runner.New(log),
		pacer:    NewPacer(cfg.BackoffDelays(), cfg.Pacing.ThrottleTracksThreshold, cfg.SentryGap()),
		bus:      NewBus(),
		log:      log.WithComponent("engine"),
		cfg:      cfg,
		retry:    RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, Ladder: cfg.BackoffDelays()},
		parallel: cfg.Downloader.TrackParallel,
		cancels:  make(map[string]context.CancelFunc),
		results:  make(chan jobResult, 8),
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
	e.resolveBinary(cfg.Downloader.BinaryPath)
	q.OnChange(func(revision uint64) {
		e.bus.Publish(events.QueueChangedMsg{Revision: revision})
		e.poke()
	})
	return e
}

// Run is the control loop. It blocks until ctx is cancelled, then waits
// for in-flight jobs to terminate and puts interrupted ones back in line.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine started", "workers", e.slots(), "queued", e.q.CountState(queue.StateQueued))
	for {
		e.dispatch(ctx)

		timer := time.NewTimer(e.wakeAfter())
		select {
		case <-ctx.Done():
			timer.Stop()
			e.drain()
			e.log.Info("engine stopped")
			return nil
		case res := <-e.results:
			e.handleResult(res, false)
		case <-e.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// drain collects results for every job that was running when the loop
// context died. The runner kills its subprocess on cancellation, so each
// result arrives within the grace period.
func (e *Engine) drain() {
	for e.runningCount() > 0 {
		e.handleResult(<-e.results, true)
	}
}

// dispatch starts queued jobs until a limit bites: the worker count, the
// pacer gap, a global pause, or a missing binary.
func (e *Engine) dispatch(ctx context.Context) {
	if e.q.IsPaused() || e.q.StoppingAfterCurrent() || e.launchBlocked() {
		return
	}
	for e.runningCount() < e.slots() && e.pacer.PermitNow() {
		job, ok := e.q.NextQueued()
		if !ok {
			return
		}
		e.startJob(ctx, job)
	}
}

func (e *Engine) startJob(ctx context.Context, job queue.Job) {
	attempt := e.q.IncAttempts(job.ID)
	if err := e.q.Transition(job.ID, queue.StateRunning); err != nil {
		e.log.Warn("dispatch skipped", "job_id", job.ID, "error", err)
		return
	}
	e.pacer.RecordDispatch()

	s := e.settings()
	opts := runner.Options{
		Binary:      e.binaryPath(),
		Destination: s.General.DownloadDir,
		Format:      string(job.Format),
		Parallel:    e.effectiveParallel(),
		Force:       s.Downloader.Force,
		ExtraArgs:   s.Downloader.ExtraArgs,

		FailureDelayMs:         s.Downloader.FailureDelayMs,
		FailureDelayMultiplier: s.Downloader.FailureDelayMultiplier,
		FailureDelayMaxMs:      s.Downloader.FailureDelayMaxMs,

		Timeout:   s.Downloader.JobTimeout,
		RunLogDir: filepath.Join(s.General.DownloadDir, "_logs"),
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cmu.Lock()
	e.cancels[job.ID] = cancel
	e.cmu.Unlock()

	e.log.Info("job started", "job_id", job.ID, "target", job.Target, "attempt", attempt)
	go func() {
		before, _ := scan.Snapshot(opts.Destination)
		out := e.run.Run(runCtx, job.ID, job.Target, opts, e.emitFor(job.ID))

		var report *scan.Report
		if out.Err == nil && !out.Cancelled {
			rep, err := scan.Diff(opts.Destination, before)
			if err != nil {
				e.log.Warn("post-run scan failed", "job_id", job.ID, "error", err)
			} else {
				report = rep
			}
		}
		e.results <- jobResult{jobID: job.ID, dest: opts.Destination, outcome: out, report: report}
	}()
}

// emitFor forwards runner events to subscribers and mirrors progress onto
// the job for display. Called from the runner's read goroutine.
func (e *Engine) emitFor(jobID string) func(events.ProgressEvent) {
	return func(ev events.ProgressEvent) {
		switch ev.Kind {
		case events.KindProgress, events.KindDone:
			e.q.UpdateProgress(jobID, ev.Percent, ev.Track)
		}
		e.bus.Publish(ev)
	}
}

// handleResult finalizes one finished run. Runs on the control loop
// goroutine; queue transitions and history appends stay single-writer.
func (e *Engine) handleResult(res jobResult, shuttingDown bool) {
	e.cmu.Lock()
	if cancel, ok := e.cancels[res.jobID]; ok {
		cancel()
		delete(e.cancels, res.jobID)
	}
	e.cmu.Unlock()

	out := res.outcome
	if out.RateLimited {
		// The hold applies even when the run recovered and finished.
		e.pacer.RecordRateLimit()
		e.log.Warn("rate limit observed", "job_id", res.jobID)
	}

	if out.Cancelled {
		e.finishCancelled(res, shuttingDown)
		return
	}
	if out.Err == nil {
		e.finishSucceeded(res)
		return
	}
	e.finishFailed(res)
}

func (e *Engine) finishCancelled(res jobResult, shuttingDown bool) {
	if shuttingDown {
		// Interrupted, not abandoned: the job runs again after restart.
		if err := e.q.Transition(res.jobID, queue.StateQueued); err != nil {
			e.log.Warn("requeue on shutdown failed", "job_id", res.jobID, "error", err)
		}
		return
	}
	job, ok := e.q.Get(res.jobID)
	if !ok {
		return
	}
	if err := e.q.Transition(res.jobID, queue.StateCancelled); err != nil {
		// Already finalized by a direct cancel that raced the dispatcher.
		return
	}
	e.appendHistory(job, res, queue.StateCancelled, "cancelled")
	e.bus.Publish(events.ProgressEvent{
		JobID:   res.jobID,
		Kind:    events.KindLog,
		Percent: -1,
		Message: "job cancelled",
		At:      e.now(),
	})
	e.log.Info("job cancelled", "job_id", res.jobID)
}

func (e *Engine) finishSucceeded(res jobResult) {
	job, ok := e.q.Get(res.jobID)
	if !ok {
		return
	}
	if err := e.q.Transition(res.jobID, queue.StateSucceeded); err != nil {
		e.log.Warn("finalize failed", "job_id", res.jobID, "error", err)
		return
	}
	e.pacer.RecordOutcome(true, res.outcome.TracksDone)
	e.adjustParallel(true)
	e.clearBinaryError()
	e.appendHistory(job, res, queue.StateSucceeded, "")

	fields := []any{"job_id", res.jobID, "tracks", res.outcome.TracksDone, "duration", res.outcome.Duration().Round(time.Millisecond)}
	if res.report != nil {
		fields = append(fields, "new_files", res.report.NewFiles, "suspects", res.report.Suspects)
	}
	e.log.Info("job succeeded", fields...)
}

func (e *Engine) finishFailed(res jobResult) {
	out := res.outcome
	reason := failureReason(out.Err)
	e.q.SetLastError(res.jobID, reason)
	e.pacer.RecordOutcome(false, out.TracksDone)
	e.adjustParallel(false)

	var launch *runner.LaunchError
	if errors.As(out.Err, &launch) {
		e.setBinaryError(launch)
	}

	job, ok := e.q.Get(res.jobID)
	if !ok {
		return
	}

	rp := e.retryPolicy()
	if rp.ShouldRetry(out.Err, job.Attempts) {
		delay := rp.NextDelay(job.Attempts)
		if err := e.q.Transition(res.jobID, queue.StateQueued); err != nil {
			e.log.Warn("requeue for retry failed", "job_id", res.jobID, "error", err)
			return
		}
		e.q.SetNotBefore(res.jobID, e.now().Add(delay))
		e.bus.Publish(events.ProgressEvent{
			JobID:   res.jobID,
			Kind:    events.KindRetry,
			Percent: -1,
			Message: fmt.Sprintf("retrying in %s (attempt %d of %d)", delay, job.Attempts+1, rp.MaxAttempts),
			Reason:  reason,
			Delay:   delay,
			At:      e.now(),
		})
		e.log.Info("job retry scheduled", "job_id", res.jobID, "attempt", job.Attempts, "delay", delay, "reason", reason)
		return
	}

	if err := e.q.Transition(res.jobID, queue.StateFailed); err != nil {
		e.log.Warn("finalize failed", "job_id", res.jobID, "error", err)
		return
	}
	e.appendHistory(job, res, queue.StateFailed, reason)
	e.bus.Publish(events.ProgressEvent{
		JobID:   res.jobID,
		Kind:    events.KindError,
		Percent: -1,
		Message: reason,
		At:      e.now(),
	})
	e.bus.Publish(events.JobErrorMsg{JobID: res.jobID, Target: job.Target, Err: out.Err})
	e.log.Warn("job failed", "job_id", res.jobID, "attempts", job.Attempts, "reason", reason)
}

// appendHistory archives a terminal job. job carries the pre-transition
// attempt count; res carries timing and scan results.
func (e *Engine) appendHistory(job queue.Job, res jobResult, state queue.State, reason string) {
	if e.hist == nil {
		return
	}
	entry := history.Entry{
		JobID:       job.ID,
		Target:      job.Target,
		Kind:        string(job.Kind),
		Format:      string(job.Format),
		State:       string(state),
		Reason:      reason,
		Attempts:    job.Attempts,
		Source:      string(job.Source),
		StartedAt:   res.outcome.Start,
		FinishedAt:  res.outcome.End,
		Destination: res.dest,
		LogPath:     res.outcome.LogPath,
	}
	if res.report != nil {
		entry.NewFiles = res.report.NewFiles
		entry.Suspects = res.report.Suspects
		entry.Artist = res.report.Artist
		entry.Album = res.report.Album
	}
	if _, err := e.hist.Append(entry); err != nil {
		e.log.Warn("history append failed", "job_id", job.ID, "error", err)
		return
	}
	e.bus.Publish(events.HistoryChangedMsg{JobID: job.ID})
}

// failureReason flattens the error taxonomy into the line shown in the
// queue and kept in history.
func failureReason(err error) string {
	var (
		transient *runner.TransientError
		permanent *runner.PermanentError
		launch    *runner.LaunchError
	)
	switch {
	case errors.As(err, &launch):
		return "downloader unavailable: " + launch.Error()
	case errors.As(err, &permanent):
		return permanent.Reason
	case errors.As(err, &transient):
		return transient.Reason
	case err != nil:
		return err.Error()
	}
	return ""
}

// wakeAfter picks the loop's sleep. Queued work keeps the loop on a short
// leash so pacer gaps and retry holds are honored promptly.
func (e *Engine) wakeAfter() time.Duration {
	if e.q.CountState(queue.StateQueued) == 0 {
		return idleTick
	}
	d := time.Until(e.pacer.NextPermit())
	if d < busyTick {
		d = busyTick
	}
	if d > idleTick {
		d = idleTick
	}
	return d
}

func (e *Engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) runningCount() int {
	e.cmu.Lock()
	defer e.cmu.Unlock()
	return len(e.cancels)
}

// slots is the current concurrent-job limit. Sentry captures run alone.
func (e *Engine) slots() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sentry {
		return 1
	}
	n := e.cfg.Downloader.Workers
	if n < 1 {
		n = 1
	}
	if n > 8 {
		n = 8
	}
	return n
}

func (e *Engine) settings() *config.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) retryPolicy() RetryPolicy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retry
}

func (e *Engine) binaryPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.binary
}

func (e *Engine) launchBlocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.binaryErr != nil
}

func (e *Engine) resolveBinary(override string) {
	bin, err := runner.Resolve(override)
	e.mu.Lock()
	e.binary, e.binaryErr = bin, err
	e.mu.Unlock()
	if err != nil {
		e.log.Warn("downloader binary unavailable", "error", err)
	}
}

func (e *Engine) setBinaryError(err error) {
	e.mu.Lock()
	e.binaryErr = err
	e.mu.Unlock()
	e.log.Error("downloader launch failed; dispatch blocked", "error", err)
	e.bus.Publish(e.Status())
}

func (e *Engine) clearBinaryError() {
	e.mu.Lock()
	cleared := e.binaryErr != nil
	e.binaryErr = nil
	e.mu.Unlock()
	if cleared {
		e.bus.Publish(e.Status())
	}
}

// effectiveParallel returns the track parallelism for the next dispatch,
// clamped to the configured ceiling.
func (e *Engine) effectiveParallel() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	desired := e.cfg.Downloader.TrackParallel
	if !e.cfg.Downloader.AdaptiveParallel {
		return desired
	}
	if e.parallel < 1 {
		e.parallel = 1
	}
	if e.parallel > desired {
		e.parallel = desired
	}
	return e.parallel
}

// adjustParallel nudges the adaptive parallelism: down one step after a
// failure, back up one step after a success.
func (e *Engine) adjustParallel(success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Downloader.AdaptiveParallel {
		return
	}
	if success {
		if e.parallel < e.cfg.Downloader.TrackParallel {
			e.parallel++
		}
	} else if e.parallel > 1 {
		e.parallel--
	}
}
