package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives a pacer deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testPacer(throttleTracks int) (*Pacer, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)}
	p := NewPacer([]time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}, throttleTracks, 25*time.Second)
	p.now = clock.Now
	return p, clock
}

func TestPacerStartsOpen(t *testing.T) {
	p, _ := testPacer(0)
	assert.True(t, p.PermitNow())
	assert.Equal(t, time.Duration(0), p.Gap())
}

func TestPacerHealthyDispatchesBackToBack(t *testing.T) {
	p, _ := testPacer(0)
	p.RecordDispatch()
	assert.True(t, p.PermitNow(), "no failures yet, the gap must stay zero")
}

func TestPacerFailuresClimbTheLadder(t *testing.T) {
	p, clock := testPacer(0)

	p.RecordOutcome(false, 0)
	assert.Equal(t, 10*time.Second, p.Gap())
	assert.False(t, p.PermitNow())
	clock.Advance(10 * time.Second)
	assert.True(t, p.PermitNow())

	p.RecordOutcome(false, 0)
	assert.Equal(t, 20*time.Second, p.Gap())

	p.RecordOutcome(false, 0)
	assert.Equal(t, 30*time.Second, p.Gap())

	// The top rung is a ceiling.
	p.RecordOutcome(false, 0)
	assert.Equal(t, 30*time.Second, p.Gap())
}

func TestPacerSuccessResetsTheLadder(t *testing.T) {
	p, clock := testPacer(0)
	p.RecordOutcome(false, 0)
	p.RecordOutcome(false, 0)
	require.Equal(t, 20*time.Second, p.Gap())

	clock.Advance(time.Minute)
	p.RecordOutcome(true, 3)
	assert.Equal(t, time.Duration(0), p.Gap())
	assert.True(t, p.PermitNow())
}

func TestPacerRateLimitLatchSurvivesSuccess(t *testing.T) {
	p, clock := testPacer(0)
	start := clock.Now()

	p.RecordRateLimit()
	// A success right after the signal resets the ladder but not the hold.
	p.RecordOutcome(true, 1)
	assert.False(t, p.PermitNow())
	assert.Equal(t, start.Add(30*time.Second), p.NextPermit())

	clock.Advance(30 * time.Second)
	assert.True(t, p.PermitNow())
}

func TestPacerRepeatedRateLimitsNeverShortenTheHold(t *testing.T) {
	p, clock := testPacer(0)

	var last time.Time
	for i := 0; i < 5; i++ {
		p.RecordRateLimit()
		p.RecordOutcome(false, 0)
		next := p.NextPermit()
		require.False(t, next.Before(last), "permit %d moved backwards: %s < %s", i, next, last)
		last = next
		clock.Advance(3 * time.Second)
	}
}

func TestPacerSuccessesNarrowTowardTheFloor(t *testing.T) {
	p, clock := testPacer(0)
	for i := 0; i < 3; i++ {
		p.RecordOutcome(false, 0)
	}
	require.Equal(t, 30*time.Second, p.Gap())

	prev := p.Gap()
	for i := 0; i < 3; i++ {
		clock.Advance(time.Minute)
		p.RecordOutcome(true, 1)
		gap := p.Gap()
		require.LessOrEqual(t, gap, prev, "gap widened after a success")
		prev = gap
	}
	assert.Equal(t, time.Duration(0), prev)
}

func TestPacerBigBatchRaisesTheFloor(t *testing.T) {
	p, clock := testPacer(30)

	p.RecordOutcome(true, 45)
	assert.Equal(t, 10*time.Second, p.Gap(), "a big batch keeps the first rung as a floor")
	assert.False(t, p.PermitNow())
	clock.Advance(10 * time.Second)
	assert.True(t, p.PermitNow())

	p.RecordOutcome(true, 3)
	assert.Equal(t, time.Duration(0), p.Gap(), "a small batch clears the floor")
}

func TestPacerSentryGapOverridesTheLadder(t *testing.T) {
	p, clock := testPacer(0)
	p.SetSentry(true)

	assert.Equal(t, 25*time.Second, p.Gap())
	p.RecordDispatch()
	assert.False(t, p.PermitNow())
	clock.Advance(25 * time.Second)
	assert.True(t, p.PermitNow())
}

func TestPacerLeavingSentryDropsTheGapAtOnce(t *testing.T) {
	p, _ := testPacer(0)
	p.SetSentry(true)
	p.RecordDispatch()
	require.False(t, p.PermitNow())

	p.SetSentry(false)
	assert.True(t, p.PermitNow(), "the sentry gap must not outlive sentry mode")
}

func TestPacerReconfigureKeepsPositionAndHold(t *testing.T) {
	p, clock := testPacer(0)
	p.RecordOutcome(false, 0)
	p.RecordOutcome(false, 0)
	p.RecordRateLimit()
	hold := p.NextPermit()

	p.Reconfigure([]time.Duration{5 * time.Second, 15 * time.Second}, 0, 40*time.Second)
	assert.Equal(t, 15*time.Second, p.Gap(), "rung clamps to the new ladder")
	assert.False(t, p.NextPermit().Before(hold), "an active hold survives reconfiguration")

	clock.Advance(time.Minute)
	assert.True(t, p.PermitNow())
}
