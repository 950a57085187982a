// Package scheduler runs delayed tasks on a bounded worker pool.
//
// A delayed task holds a runtime timer, not a goroutine, until it is due. Due tasks
// compete for one of a fixed number of worker slots. Pending work lives only in memory
// and is dropped by Stop or a process exit.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var ErrStopped = errors.New("scheduler stopped")

type Scheduler struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
	wg      sync.WaitGroup

	pending  atomic.Int64
	inFlight atomic.Int64
}

type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New returns a scheduler that runs at most workers tasks at once.
func New(workers int64, opts ...Option) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		sem:    semaphore.NewWeighted(workers),
		ctx:    ctx,
		cancel: cancel,
		log:    zap.NewNop(),
		timers: map[*time.Timer]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// After runs task once delay has elapsed and a worker is free. It returns false
// when the scheduler has been stopped.
func (s *Scheduler) After(delay time.Duration, task func(context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	s.pending.Add(1)
	if delay <= 0 {
		go s.run(task)
		return true
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		s.run(task)
	})
	s.timers[t] = struct{}{}
	return true
}

func (s *Scheduler) run(task func(context.Context)) {
	defer s.wg.Done()
	defer s.pending.Add(-1)
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled task panicked", zap.Any("panic", r))
		}
	}()
	task(s.ctx)
}

// Pending counts tasks that are waiting for their delay or for a worker, plus running ones.
func (s *Scheduler) Pending() int64 { return s.pending.Load() }

// InFlight counts tasks currently running.
func (s *Scheduler) InFlight() int64 { return s.inFlight.Load() }

// Stop drops every task still waiting on its timer and waits for the rest to finish.
// When ctx expires first the running tasks see their context cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.stopped = true
	dropped := 0
	for t := range s.timers {
		if t.Stop() {
			dropped++
			s.pending.Add(-1)
			s.wg.Done()
		}
		delete(s.timers, t)
	}
	s.mu.Unlock()
	if dropped > 0 {
		s.log.Warn("dropped scheduled tasks on stop", zap.Int("count", dropped))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
