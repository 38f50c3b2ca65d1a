package engine

import (
	"sync"
	"time"
)

// Pacer spaces job dispatches. Failures climb a backoff ladder, a
// rate-limit sighting jumps to the top rung and latches a hard wait,
// success drops back to the floor. A run that downloaded a large batch of
// tracks raises the floor for the next dispatch, and sentry mode replaces
// the whole scheme with one fixed gap.
type Pacer struct {
	mu sync.Mutex

	ladder         []time.Duration
	throttleTracks int           // track count that triggers the floor raise
	sentryGap      time.Duration // fixed gap while sentry mode is on

	sentry    bool
	rung      int  // 0 = healthy, len(ladder) = top
	throttled bool // last outcome downloaded >= throttleTracks tracks

	// baseAt is the last pacing-relevant instant (a dispatch or an
	// outcome). The permitted time is derived from it on demand, so a
	// regime change such as leaving sentry mode takes effect at once.
	baseAt       time.Time
	limitedUntil time.Time

	now func() time.Time
}

// NewPacer builds a pacer. The ladder must be non-empty and ascending;
// config.BackoffDelays guarantees that.
func NewPacer(ladder []time.Duration, throttleTracks int, sentryGap time.Duration) *Pacer {
	if len(ladder) == 0 {
		ladder = []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}
	}
	return &Pacer{
		ladder:         ladder,
		throttleTracks: throttleTracks,
		sentryGap:      sentryGap,
		now:            time.Now,
	}
}

// SetSentry toggles the fixed sentry gap.
func (p *Pacer) SetSentry(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sentry = on
}

// Reconfigure swaps the tunables without losing the current backoff
// position or an active rate-limit hold.
func (p *Pacer) Reconfigure(ladder []time.Duration, throttleTracks int, sentryGap time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(ladder) > 0 {
		p.ladder = ladder
	}
	p.throttleTracks = throttleTracks
	p.sentryGap = sentryGap
	if p.rung > len(p.ladder) {
		p.rung = len(p.ladder)
	}
}

// PermitNow reports whether a dispatch may happen immediately.
func (p *Pacer) PermitNow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	return !now.Before(p.baseAt.Add(p.gapLocked())) && !now.Before(p.limitedUntil)
}

// NextPermit returns the earliest time a dispatch will be allowed.
func (p *Pacer) NextPermit() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	at := p.baseAt.Add(p.gapLocked())
	if p.limitedUntil.After(at) {
		at = p.limitedUntil
	}
	return at
}

// RecordDispatch marks a dispatch so the gap is measured from it.
func (p *Pacer) RecordDispatch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseAt = p.now()
}

// RecordRateLimit reacts to a rate-limit signal: jump to the top rung and
// hold every dispatch for the top delay. Repeated signals never shorten
// the hold.
func (p *Pacer) RecordRateLimit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rung = len(p.ladder)
	until := p.now().Add(p.ladder[len(p.ladder)-1])
	if until.After(p.limitedUntil) {
		p.limitedUntil = until
	}
}

// RecordOutcome adjusts pacing after a finished run. tracks is the number
// of tracks the run completed, which drives the batch-throttle floor.
func (p *Pacer) RecordOutcome(success bool, tracks int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if success {
		p.rung = 0
	} else if p.rung < len(p.ladder) {
		p.rung++
	}
	p.throttled = p.throttleTracks > 0 && tracks >= p.throttleTracks
	p.baseAt = p.now()
}

// Gap reports the current inter-dispatch gap, for status display.
func (p *Pacer) Gap() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gapLocked()
}

func (p *Pacer) gapLocked() time.Duration {
	if p.sentry {
		return p.sentryGap
	}
	var gap time.Duration
	if p.rung > 0 {
		gap = p.ladder[p.rung-1]
	}
	if p.throttled && gap < p.ladder[0] {
		gap = p.ladder[0]
	}
	return gap
}
