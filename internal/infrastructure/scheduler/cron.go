package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"LeadScanner/internal/ports"
)

// CronScheduler runs a job on a cron expression or a fixed interval through gocron.
// Runs never overlap: a tick that arrives while the job is busy is dropped.
type CronScheduler struct {
	expr       string
	interval   time.Duration
	location   *time.Location
	runOnStart bool
	name       string
	clock      clockwork.Clock

	mu        sync.Mutex
	scheduler gocron.Scheduler
	stop      chan struct{}
	watcher   sync.WaitGroup
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// CronOption tunes a CronScheduler.
type CronOption func(*CronScheduler)

// WithLocation evaluates cron expressions in loc.
func WithLocation(loc *time.Location) CronOption {
	return func(c *CronScheduler) { c.location = loc }
}

// WithRunOnStart fires the job once right after Start.
func WithRunOnStart() CronOption {
	return func(c *CronScheduler) { c.runOnStart = true }
}

// WithName labels the job in gocron.
func WithName(name string) CronOption {
	return func(c *CronScheduler) { c.name = name }
}

// WithClock drives gocron from clock.
func WithClock(clock clockwork.Clock) CronOption {
	return func(c *CronScheduler) { c.clock = clock }
}

// NewCronScheduler builds a scheduler configured via cron expression string.
// An empty expression falls back to interval.
func NewCronScheduler(expr string, interval time.Duration, opts ...CronOption) *CronScheduler {
	c := &CronScheduler{expr: expr, interval: interval, location: time.UTC, name: "leadscanner"}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	return c
}

// Start registers the job and begins scheduling. It stops on its own when ctx is done.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduler != nil {
		return nil
	}

	definition, err := c.definition()
	if err != nil {
		return err
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(c.location), gocron.WithClock(c.clock))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	opts := []gocron.JobOption{
		gocron.WithName(c.name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if c.runOnStart {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	if _, err := s.NewJob(definition, gocron.NewTask(func() { job(c.clock.Now()) }), opts...); err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("register job: %w", err)
	}

	s.Start()
	c.scheduler = s
	c.stop = make(chan struct{})

	stop := c.stop
	c.watcher.Add(1)
	go func() {
		defer c.watcher.Done()
		select {
		case <-ctx.Done():
			_ = c.Stop(context.Background())
		case <-stop:
		}
	}()
	return nil
}

// Stop shuts gocron down and waits for a running job to return.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	s, stop := c.scheduler, c.stop
	c.scheduler, c.stop = nil, nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	close(stop)

	done := make(chan error, 1)
	go func() { done <- s.Shutdown() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the context watcher exits; used after Stop in tests.
func (c *CronScheduler) Wait() {
	c.watcher.Wait()
}

func (c *CronScheduler) definition() (gocron.JobDefinition, error) {
	switch {
	case c.expr != "":
		return gocron.CronJob(c.expr, false), nil
	case c.interval > 0:
		return gocron.DurationJob(c.interval), nil
	default:
		return nil, errors.New("scheduler needs a cron expression or a positive interval")
	}
}
