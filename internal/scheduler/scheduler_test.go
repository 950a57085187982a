package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/scheduler"
)

func TestAfterRunsTask(t *testing.T) {
	t.Parallel()
	s := scheduler.New(2)
	done := make(chan time.Duration, 1)
	start := time.Now()
	require.True(t, s.After(20*time.Millisecond, func(context.Context) {
		done <- time.Since(start)
	}))

	select {
	case elapsed := <-done:
		assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	require.NoError(t, s.Stop(context.Background()))
}

func TestZeroDelayRunsImmediately(t *testing.T) {
	t.Parallel()
	s := scheduler.New(1)
	var wg sync.WaitGroup
	wg.Add(1)
	s.After(0, func(context.Context) { wg.Done() })
	wg.Wait()
	require.NoError(t, s.Stop(context.Background()))
}

func TestWorkerBound(t *testing.T) {
	t.Parallel()
	s := scheduler.New(2)
	var running, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		s.After(0, func(context.Context) {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(2))
	require.NoError(t, s.Stop(context.Background()))
}

func TestStopDropsPendingTimers(t *testing.T) {
	t.Parallel()
	s := scheduler.New(1)
	var ran atomic.Bool
	s.After(time.Hour, func(context.Context) { ran.Store(true) })
	assert.EqualValues(t, 1, s.Pending())

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, ran.Load())
	assert.EqualValues(t, 0, s.Pending())
	assert.False(t, s.After(0, func(context.Context) {}), "stopped scheduler accepts no work")
	assert.ErrorIs(t, s.Stop(context.Background()), scheduler.ErrStopped)
}

func TestStopCancelsRunningTasksOnDeadline(t *testing.T) {
	t.Parallel()
	s := scheduler.New(1)
	started := make(chan struct{})
	s.After(0, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	s := scheduler.New(1)
	s.After(0, func(context.Context) { panic("boom") })
	var wg sync.WaitGroup
	wg.Add(1)
	s.After(0, func(context.Context) { wg.Done() })
	wg.Wait()
	require.NoError(t, s.Stop(context.Background()))
}
