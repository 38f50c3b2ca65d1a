package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/spindle-dl/spindle/internal/logger"
)

// Queue is the ordered collection of jobs plus the global pause and
// stop-after-current flags. All mutations are serialized behind one mutex,
// persist the full snapshot, and bump the revision counter so observers can
// cheaply detect change. Readers always see fully-formed jobs.
type Queue struct {
	mu        sync.RWMutex
	jobs      []*Job
	paused    bool
	stopAfter bool
	revision  uint64
	saveErr   string

	store    *SnapshotStore
	log      *logger.Logger
	onChange func(revision uint64)
}

// New builds a queue. store may be nil for a purely in-memory queue (tests,
// import previews).
func New(store *SnapshotStore, log *logger.Logger) *Queue {
	if log == nil {
		log = logger.Discard()
	}
	return &Queue{
		store: store,
		log:   log.WithComponent("queue"),
	}
}

// OnChange registers a single callback invoked (outside the queue lock)
// after every mutation. The engine uses it to fan out change notifications.
func (q *Queue) OnChange(fn func(revision uint64)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onChange = fn
}

// Load replaces the queue contents from the persisted snapshot. Jobs found
// in Running state are reset to Queued with their attempt count preserved:
// no subprocess survives a restart. Missing or corrupt snapshots leave the
// queue empty and are reported, not fatal.
func (q *Queue) Load() error {
	if q.store == nil {
		return nil
	}
	snap, err := q.store.Load()
	if err != nil {
		q.log.Warn("starting with an empty queue", "error", err)
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs = q.jobs[:0]
	for i := range snap.Jobs {
		j := snap.Jobs[i]
		if j.ID == "" || j.Target == "" {
			continue
		}
		if j.State == StateRunning {
			j.State = StateQueued
			j.Percent = -1
			j.Track = ""
		}
		q.jobs = append(q.jobs, &j)
	}
	q.paused = snap.Paused
	q.stopAfter = snap.StopAfterCurrent
	q.revision++
	return nil
}

// Enqueue validates and appends a job, returning its id. This is the single
// submission entry point for every origin: UI, clipboard capture, remote
// calls, and the scheduler.
func (q *Queue) Enqueue(target string, format Format, source Source) (string, error) {
	job, err := NewJob(target, format, source)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.bumpLocked()
	q.mu.Unlock()

	q.notify()
	q.log.Info("job enqueued", "job_id", job.ID, "kind", job.Kind, "source", job.Source)
	return job.ID, nil
}

// Get returns a copy of the job, if present.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if j := q.findLocked(id); j != nil {
		return *j, true
	}
	return Job{}, false
}

// HasTarget reports whether any non-terminal job carries the target.
// Sentry capture uses it to avoid re-enqueueing what is already waiting.
func (q *Queue) HasTarget(target string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, j := range q.jobs {
		if j.Target == target && !j.State.Terminal() {
			return true
		}
	}
	return false
}

// Reorder rearranges the queue to exactly the given id sequence. The ids
// must be a permutation of the current queue.
func (q *Queue) Reorder(ids []string) error {
	q.mu.Lock()
	if len(ids) != len(q.jobs) {
		n := len(q.jobs)
		q.mu.Unlock()
		return fmt.Errorf("reorder: got %d ids, queue has %d jobs", len(ids), n)
	}
	byID := make(map[string]*Job, len(q.jobs))
	for _, j := range q.jobs {
		byID[j.ID] = j
	}
	next := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, ok := byID[id]
		if !ok {
			q.mu.Unlock()
			return fmt.Errorf("reorder: unknown job id %s", id)
		}
		delete(byID, id)
		next = append(next, j)
	}
	q.jobs = next
	q.bumpLocked()
	q.mu.Unlock()

	q.notify()
	return nil
}

// Move shifts one job to a new index, clamping to the queue bounds.
func (q *Queue) Move(id string, index int) error {
	q.mu.Lock()
	from := -1
	for i, j := range q.jobs {
		if j.ID == id {
			from = i
			break
		}
	}
	if from == -1 {
		q.mu.Unlock()
		return fmt.Errorf("move: unknown job id %s", id)
	}
	if index < 0 {
		index = 0
	}
	if index >= len(q.jobs) {
		index = len(q.jobs) - 1
	}
	if index == from {
		q.mu.Unlock()
		return nil
	}

	j := q.jobs[from]
	q.jobs = append(q.jobs[:from], q.jobs[from+1:]...)
	rest := append(make([]*Job, 0, len(q.jobs)+1), q.jobs[:index]...)
	rest = append(rest, j)
	q.jobs = append(rest, q.jobs[index:]...)
	q.bumpLocked()
	q.mu.Unlock()

	q.notify()
	return nil
}

// Remove deletes a job from the queue. Running jobs must be cancelled first.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	for i, j := range q.jobs {
		if j.ID != id {
			continue
		}
		if j.State == StateRunning {
			q.mu.Unlock()
			return fmt.Errorf("job %s is running; cancel it first", shortID(id))
		}
		q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
		q.bumpLocked()
		q.mu.Unlock()

		q.notify()
		return nil
	}
	q.mu.Unlock()
	return fmt.Errorf("remove: unknown job id %s", id)
}

// Transition applies a state change to one job and persists.
func (q *Queue) Transition(id string, to State) error {
	q.mu.Lock()
	j := q.findLocked(id)
	if j == nil {
		q.mu.Unlock()
		return fmt.Errorf("transition: unknown job id %s", id)
	}
	if err := j.Transition(to); err != nil {
		q.mu.Unlock()
		return err
	}
	q.bumpLocked()
	q.mu.Unlock()

	q.notify()
	return nil
}

// RetryJob re-queues a failed job with a fresh attempt counter. The job
// keeps its queue position.
func (q *Queue) RetryJob(id string) error {
	q.mu.Lock()
	j := q.findLocked(id)
	if j == nil {
		q.mu.Unlock()
		return fmt.Errorf("retry: unknown job id %s", id)
	}
	if j.State != StateFailed {
		q.mu.Unlock()
		return fmt.Errorf("retry: job %s is %s, only failed jobs can be retried", shortID(id), j.State)
	}
	j.State = StateQueued
	j.Attempts = 0
	j.Percent = -1
	j.Track = ""
	j.StartedAt = time.Time{}
	j.FinishedAt = time.Time{}
	q.bumpLocked()
	q.mu.Unlock()

	q.notify()
	return nil
}

// RetryAllFailed re-queues every failed job, returning how many.
func (q *Queue) RetryAllFailed() int {
	q.mu.Lock()
	n := 0
	for _, j := range q.jobs {
		if j.State == StateFailed {
			j.State = StateQueued
			j.Attempts = 0
			j.Percent = -1
			j.Track = ""
			n++
		}
	}
	if n > 0 {
		q.bumpLocked()
	}
	q.mu.Unlock()

	if n > 0 {
		q.notify()
	}
	return n
}

// ClearCompleted drops succeeded and cancelled jobs, returning how many.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	kept := q.jobs[:0]
	n := 0
	for _, j := range q.jobs {
		if j.State == StateSucceeded || j.State == StateCancelled {
			n++
			continue
		}
		kept = append(kept, j)
	}
	q.jobs = kept
	if n > 0 {
		q.bumpLocked()
	}
	q.mu.Unlock()

	if n > 0 {
		q.notify()
	}
	return n
}

// PauseJob parks a queued job so dispatch skips it.
func (q *Queue) PauseJob(id string) error {
	return q.Transition(id, StatePaused)
}

// ResumeJob returns a paused job to the dispatchable set.
func (q *Queue) ResumeJob(id string) error {
	return q.Transition(id, StateQueued)
}

// Pause sets the global pause flag: nothing new is dispatched.
func (q *Queue) Pause() {
	q.mu.Lock()
	if q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = true
	q.bumpLocked()
	q.mu.Unlock()
	q.notify()
}

// Resume clears the global pause flag.
func (q *Queue) Resume() {
	q.mu.Lock()
	if !q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = false
	q.bumpLocked()
	q.mu.Unlock()
	q.notify()
}

// SetStopAfterCurrent arms or disarms the drain flag: with it set, in-flight
// jobs finish, nothing new starts, and the control loop halts once idle.
func (q *Queue) SetStopAfterCurrent(v bool) {
	q.mu.Lock()
	if q.stopAfter == v {
		q.mu.Unlock()
		return
	}
	q.stopAfter = v
	q.bumpLocked()
	q.mu.Unlock()
	q.notify()
}

// IsPaused reports the global pause flag.
func (q *Queue) IsPaused() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.paused
}

// StoppingAfterCurrent reports the drain flag.
func (q *Queue) StoppingAfterCurrent() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stopAfter
}

// NextQueued returns a copy of the earliest dispatchable job, honoring the
// global pause flag and skipping per-job paused entries.
func (q *Queue) NextQueued() (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.paused || q.stopAfter {
		return Job{}, false
	}
	now := time.Now()
	for _, j := range q.jobs {
		if j.State == StateQueued && !j.NotBefore.After(now) {
			return *j, true
		}
	}
	return Job{}, false
}

// SetNotBefore holds a queued job back until t, used for retry delays.
// The hold is transient orchestration state and does not touch the
// snapshot revision.
func (q *Queue) SetNotBefore(id string, t time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j := q.findLocked(id); j != nil {
		j.NotBefore = t
	}
}

// CountState returns how many jobs are in the given state.
func (q *Queue) CountState(s State) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, j := range q.jobs {
		if j.State == s {
			n++
		}
	}
	return n
}

// Len returns the number of jobs in the queue, terminal ones included.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.jobs)
}

// UpdateProgress refreshes a job's live display fields. Display-only, so it
// does not persist or bump the revision.
func (q *Queue) UpdateProgress(id string, percent int, track string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.findLocked(id)
	if j == nil {
		return
	}
	if percent >= 0 {
		j.Percent = percent
	}
	if track != "" {
		j.Track = track
	}
}

// SetLastError records a failure summary on the job without changing state.
func (q *Queue) SetLastError(id string, msg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j := q.findLocked(id); j != nil {
		j.LastError = msg
	}
}

// IncAttempts bumps the attempt counter at dispatch time and returns the
// new value.
func (q *Queue) IncAttempts(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j := q.findLocked(id); j != nil {
		j.Attempts++
		return j.Attempts
	}
	return 0
}

// Snapshot returns a point-in-time copy of the whole queue.
func (q *Queue) Snapshot() Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() Snapshot {
	jobs := make([]Job, len(q.jobs))
	for i, j := range q.jobs {
		jobs[i] = *j
	}
	return Snapshot{
		Version:          snapshotVersion,
		Paused:           q.paused,
		StopAfterCurrent: q.stopAfter,
		Jobs:             jobs,
	}
}

// Revision returns the mutation counter. It only moves forward.
func (q *Queue) Revision() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.revision
}

// LastSaveError returns the most recent snapshot write failure, or "" when
// the last write succeeded.
func (q *Queue) LastSaveError() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.saveErr
}

// Stats summarizes job counts by state.
func (q *Queue) Stats() map[State]int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := map[State]int{
		StateQueued:    0,
		StateRunning:   0,
		StatePaused:    0,
		StateSucceeded: 0,
		StateFailed:    0,
		StateCancelled: 0,
	}
	for _, j := range q.jobs {
		out[j.State]++
	}
	return out
}

// Targets returns the targets of all non-terminal jobs in queue order.
func (q *Queue) Targets() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]string, 0, len(q.jobs))
	for _, j := range q.jobs {
		if !j.State.Terminal() {
			out = append(out, j.Target)
		}
	}
	return out
}

// findLocked requires q.mu held.
func (q *Queue) findLocked(id string) *Job {
	for _, j := range q.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// bumpLocked requires q.mu held: bumps the revision and writes the snapshot.
// A write failure is recorded and logged but never rolls back memory; the
// exposure is bounded to the last unsaved mutation.
func (q *Queue) bumpLocked() {
	q.revision++
	if q.store == nil {
		return
	}
	if err := q.store.Save(q.snapshotLocked()); err != nil {
		q.saveErr = err.Error()
		q.log.Error("snapshot write failed", "error", err)
		return
	}
	q.saveErr = ""
}

func (q *Queue) notify() {
	q.mu.RLock()
	fn := q.onChange
	rev := q.revision
	q.mu.RUnlock()
	if fn != nil {
		fn(rev)
	}
}
