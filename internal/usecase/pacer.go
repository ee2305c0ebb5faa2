package usecase

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

// Pause is a randomized delay window emulating human cadence.
type Pause struct {
	Min time.Duration
	Max time.Duration
}

// Pacer sleeps for random durations on an injectable clock.
type Pacer struct {
	clock clockwork.Clock
	int64n func(int64) int64
}

// NewPacer uses the real clock when clock is nil.
func NewPacer(clock clockwork.Clock) *Pacer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pacer{clock: clock, int64n: rand.Int64N}
}

// Duration draws a delay from the window, inclusive of both ends.
func (p *Pacer) Duration(w Pause) time.Duration {
	if w.Max <= w.Min {
		return w.Min
	}
	return w.Min + time.Duration(p.int64n(int64(w.Max-w.Min)+1))
}

// Wait sleeps for a random duration in w or until ctx is done.
func (p *Pacer) Wait(ctx context.Context, w Pause) error {
	d := p.Duration(w)
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(d):
		return nil
	}
}
