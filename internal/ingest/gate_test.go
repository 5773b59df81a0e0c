package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when sleeps happen, so the gate's spacing math is
// checked deterministically.
type fakeClock struct {
	now    time.Time
	slept  []time.Duration
	sleepE error
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	if c.sleepE != nil {
		return c.sleepE
	}
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestGate(rps float64) (*Gate, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, time.September, 14, 9, 30, 0, 0, time.UTC)}
	g := NewGate(rps)
	g.now = clock.Now
	g.sleep = clock.Sleep
	return g, clock
}

func TestGateFirstCallOnlyJitters(t *testing.T) {
	g, _ := newTestGate(2) // 500ms gap
	wait, err := g.Wait(context.Background())
	require.NoError(t, err)
	// no prior fetch: only the anti-lockstep jitter, bounded by gap/10
	assert.LessOrEqual(t, wait, 50*time.Millisecond)
}

func TestGateEnforcesMinimumGap(t *testing.T) {
	g, clock := newTestGate(2) // 500ms gap

	_, err := g.Wait(context.Background())
	require.NoError(t, err)
	first := clock.now

	wait, err := g.Wait(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, wait, 500*time.Millisecond)
	assert.LessOrEqual(t, wait, 550*time.Millisecond)
	assert.GreaterOrEqual(t, clock.now.Sub(first), 500*time.Millisecond)
}

func TestGateNoWaitAfterIdlePeriod(t *testing.T) {
	g, clock := newTestGate(2)

	_, err := g.Wait(context.Background())
	require.NoError(t, err)

	// upstream has been idle far longer than the gap
	clock.now = clock.now.Add(10 * time.Second)
	wait, err := g.Wait(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, wait, 50*time.Millisecond, "idle gate should only jitter")
}

func TestGateCancelledSleepPropagates(t *testing.T) {
	g, clock := newTestGate(2)
	_, err := g.Wait(context.Background())
	require.NoError(t, err)

	clock.sleepE = context.Canceled
	_, err = g.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGateZeroRPSDefaultsToOnePerSecond(t *testing.T) {
	g := NewGate(0)
	assert.Equal(t, time.Second, g.gap)
}
