package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalSchedulerTicksOnClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewIntervalScheduler(time.Minute, clock, false)

	ticks := make(chan time.Time, 4)
	require.NoError(t, s.Start(context.Background(), func(at time.Time) { ticks <- at }))

	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	select {
	case at := <-ticks:
		assert.Equal(t, clock.Now(), at)
	case <-time.After(time.Second):
		t.Fatal("job did not run after one interval")
	}

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()), "second stop is a no-op")
}

func TestIntervalSchedulerRunOnStart(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewIntervalScheduler(time.Hour, clock, true)

	ran := make(chan struct{}, 1)
	require.NoError(t, s.Start(context.Background(), func(time.Time) { ran <- struct{}{} }))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job did not run on start")
	}
	require.NoError(t, s.Stop(context.Background()))
}

func TestIntervalSchedulerStopsWithContext(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewIntervalScheduler(time.Minute, clock, false)

	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	require.NoError(t, s.Start(ctx, func(time.Time) { runs.Add(1) }))
	clock.BlockUntil(1)
	cancel()

	require.NoError(t, s.Stop(context.Background()))
	clock.Advance(time.Hour)
	assert.Zero(t, runs.Load())
}

func TestIntervalSchedulerIgnoresNonPositiveInterval(t *testing.T) {
	s := NewIntervalScheduler(0, nil, true)
	require.NoError(t, s.Start(context.Background(), func(time.Time) { t.Fatal("must not run") }))
	require.NoError(t, s.Stop(context.Background()))
}

func TestCronSchedulerRunsDurationJob(t *testing.T) {
	s := NewCronScheduler("", 20*time.Millisecond, WithName("test"))

	var runs atomic.Int32
	require.NoError(t, s.Start(context.Background(), func(time.Time) { runs.Add(1) }))
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	s.Wait()
}

func TestCronSchedulerRunOnStartWithCron(t *testing.T) {
	s := NewCronScheduler("0 3 * * *", 0, WithRunOnStart(), WithLocation(time.UTC))

	ran := make(chan struct{}, 1)
	require.NoError(t, s.Start(context.Background(), func(time.Time) {
		select {
		case ran <- struct{}{}:
		default:
		}
	}))
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}
	require.NoError(t, s.Stop(context.Background()))
	s.Wait()
}

func TestCronSchedulerSkipsOverlappingRuns(t *testing.T) {
	s := NewCronScheduler("", 5*time.Millisecond)

	var active, overlaps, runs atomic.Int32
	require.NoError(t, s.Start(context.Background(), func(time.Time) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(30 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
	}))
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	s.Wait()

	assert.Zero(t, overlaps.Load())
}

func TestCronSchedulerStopsWhenContextEnds(t *testing.T) {
	s := NewCronScheduler("", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, func(time.Time) {}))
	cancel()
	s.Wait()

	require.NoError(t, s.Stop(context.Background()), "already stopped by the context")
}

func TestCronSchedulerRejectsEmptySchedule(t *testing.T) {
	s := NewCronScheduler("", 0)
	require.Error(t, s.Start(context.Background(), func(time.Time) {}))
}

func TestCronSchedulerRejectsBadExpression(t *testing.T) {
	s := NewCronScheduler("not a cron", 0)
	require.Error(t, s.Start(context.Background(), func(time.Time) {}))
}
