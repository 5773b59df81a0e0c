package ingest

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Gate enforces a minimum gap of 1/rps between any two upstream fetches
// across all workers, plus a small randomized jitter. Deliberately not a
// token bucket: the goal is a floor on inter-request spacing, not burst
// capacity.
//
// The shared timestamp is read and the wait computed under the mutex, the
// mutex is released for the sleep, and re-acquired to record the new
// timestamp.
type Gate struct {
	mu   sync.Mutex
	last time.Time
	gap  time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewGate builds a gate for the given average requests/second.
func NewGate(rps float64) *Gate {
	if rps <= 0 {
		rps = 1
	}
	return &Gate{
		gap:   time.Duration(float64(time.Second) / rps),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Wait blocks until the caller may fetch, returning the time actually
// waited.
func (g *Gate) Wait(ctx context.Context) (time.Duration, error) {
	g.mu.Lock()
	now := g.now()
	var wait time.Duration
	if !g.last.IsZero() {
		if due := g.last.Add(g.gap); due.After(now) {
			wait = due.Sub(now)
		}
	}
	// up to 10% of the gap, so workers do not fall into lockstep
	wait += time.Duration(rand.Int63n(int64(g.gap)/10 + 1))
	g.mu.Unlock()

	if wait > 0 {
		if err := g.sleep(ctx, wait); err != nil {
			return 0, err
		}
	}

	g.mu.Lock()
	g.last = g.now()
	g.mu.Unlock()
	return wait, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
