package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"LeadScanner/internal/ports"
)

// IntervalScheduler ticks on a clockwork clock, so tests drive it with a fake clock.
// The next tick is not taken until the job returns.
type IntervalScheduler struct {
	interval   time.Duration
	clock      clockwork.Clock
	runOnStart bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler uses the real clock when clock is nil.
func NewIntervalScheduler(interval time.Duration, clock clockwork.Clock, runOnStart bool) *IntervalScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IntervalScheduler{interval: interval, clock: clock, runOnStart: runOnStart}
}

// Start launches the ticking goroutine.
func (s *IntervalScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil || s.interval <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := s.clock.NewTicker(s.interval)
		defer ticker.Stop()

		if s.runOnStart {
			job(s.clock.Now())
		}
		for {
			select {
			case t := <-ticker.Chan():
				job(t)
			case <-ctx.Done():
				return
			}
		}
	}(s.done)
	return nil
}

// Stop halts the ticker goroutine and waits for the current job.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
