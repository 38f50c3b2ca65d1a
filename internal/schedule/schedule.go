// Package schedule fires the queue once a day at a configured local
// time: failed jobs get a fresh attempt budget and a global pause is
// lifted, so an unattended machine works through its backlog overnight.
package schedule

import (
	"context"
	"time"

	"github.com/spindle-dl/spindle/internal/config"
	"github.com/spindle-dl/spindle/internal/logger"
	"github.com/spindle-dl/spindle/internal/queue"
)

// checkInterval is deliberately well under a minute so a trigger minute
// is never stepped over by ticker drift.
const checkInterval = 20 * time.Second

// Control is the slice of the engine the scheduler drives.
type Control interface {
	Snapshot() queue.Snapshot
	RetryAllFailed() int
	Resume()
}

// Scheduler triggers one queue run per day.
type Scheduler struct {
	ctl    Control
	hour   int
	minute int
	log    *logger.Logger

	lastFired string // local date of the last trigger, "" for never
	now       func() time.Time
}

// New parses the "HH:MM" trigger and builds a scheduler.
func New(ctl Control, clock string, log *logger.Logger) (*Scheduler, error) {
	hour, minute, err := config.ParseClock(clock)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Scheduler{
		ctl:    ctl,
		hour:   hour,
		minute: minute,
		log:    log.WithComponent("schedule"),
		now:    time.Now,
	}, nil
}

// Run checks the clock until ctx is cancelled. A trigger time already in
// the past when Run starts counts as consumed; the first fire is
// tomorrow's.
func (s *Scheduler) Run(ctx context.Context) error {
	now := s.now()
	if now.After(s.triggerFor(now)) {
		s.lastFired = localDate(now)
	}
	s.log.Info("scheduler armed", "at", s.clockString(), "first_fire_tomorrow", s.lastFired != "")

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.check()
		}
	}
}

// check fires when today's trigger time has been reached and today has
// not fired yet. Comparing against the full trigger instant instead of
// minute equality means a machine asleep over the trigger still fires on
// wake.
func (s *Scheduler) check() {
	now := s.now()
	today := localDate(now)
	if s.lastFired == today || now.Before(s.triggerFor(now)) {
		return
	}
	s.lastFired = today

	snap := s.ctl.Snapshot()
	var running, eligible int
	for _, j := range snap.Jobs {
		switch j.State {
		case queue.StateRunning:
			running++
		case queue.StateQueued, queue.StateFailed:
			eligible++
		}
	}
	if running > 0 {
		// Already working; the daily trigger is idempotent.
		s.log.Info("scheduled run skipped, jobs already running", "running", running)
		return
	}
	if eligible == 0 {
		s.log.Debug("scheduled run skipped, nothing eligible")
		return
	}

	retried := s.ctl.RetryAllFailed()
	s.ctl.Resume()
	s.log.Info("scheduled run started", "eligible", eligible, "retried", retried)
}

func (s *Scheduler) triggerFor(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
}

func (s *Scheduler) clockString() string {
	return time.Date(0, 1, 1, s.hour, s.minute, 0, 0, time.UTC).Format("15:04")
}

func localDate(t time.Time) string {
	return t.Format("2006-01-02")
}
