package engine

import (
	"errors"
	"time"

	"github.com/spindle-dl/spindle/internal/runner"
)

// RetryPolicy decides whether a failed job goes back into the queue and
// how long it waits before becoming eligible again.
type RetryPolicy struct {
	// MaxAttempts caps automatic attempts per job. A manual retry resets
	// the count and earns a fresh budget.
	MaxAttempts int

	// Ladder maps attempt number to hold time. Attempts past the last
	// rung reuse it.
	Ladder []time.Duration
}

// ShouldRetry reports whether err warrants another automatic attempt.
// Only transient failures qualify; permanent and launch failures never
// come back on their own.
func (rp RetryPolicy) ShouldRetry(err error, attempts int) bool {
	if err == nil || attempts >= rp.MaxAttempts {
		return false
	}
	var te *runner.TransientError
	return errors.As(err, &te)
}

// NextDelay returns the hold before re-dispatching attempt+1. The first
// failure (attempt 1) waits Ladder[0], the second Ladder[1], and so on.
func (rp RetryPolicy) NextDelay(attempt int) time.Duration {
	if len(rp.Ladder) == 0 {
		return 0
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(rp.Ladder) {
		i = len(rp.Ladder) - 1
	}
	return rp.Ladder[i]
}
