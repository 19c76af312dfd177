// Package scheduler fires one batch cycle per pool on the pool's own timer.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fair-sequencer/internal/orchestrator"
	"fair-sequencer/internal/observability"
)

// ErrShutdown is returned by Shutdown when in-flight cycles had to be
// interrupted after the grace deadline.
var ErrShutdown = errors.New("scheduler: in-flight cycles interrupted")

// Cycle runs one batch cycle for a pool.
type Cycle interface {
	ProcessPool(ctx context.Context, p orchestrator.Pool) (*orchestrator.CycleResult, error)
}

// Retirer closes pools that have been idle too long and returns how many it
// retired.
type Retirer interface {
	RetireIdle(ctx context.Context) int
}

// Options configures a Scheduler.
type Options struct {
	Cycle Cycle

	// Retirer is driven every RetireEvery by Run. Optional.
	Retirer     Retirer
	RetireEvery time.Duration

	Logger *zap.Logger
}

type worker struct {
	pool     orchestrator.Pool
	running  atomic.Bool
	reset    chan struct{}
	stop     chan struct{}
	done     chan struct{}
	inflight sync.WaitGroup
}

// Scheduler owns the per-pool timers. Each pool has its own goroutine, so a
// slow cycle in one pool never delays another.
type Scheduler struct {
	cycle       Cycle
	retirer     Retirer
	retireEvery time.Duration
	log         *zap.Logger

	// cycleCtx is canceled once the shutdown grace deadline passes.
	cycleCtx    context.Context
	cancelCycle context.CancelFunc

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
}

// New creates a scheduler. Pools are added with Track.
func New(opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cycle:       opts.Cycle,
		retirer:     opts.Retirer,
		retireEvery: opts.RetireEvery,
		log:         log.Named("scheduler"),
		cycleCtx:    ctx,
		cancelCycle: cancel,
		workers:     make(map[string]*worker),
	}
}

// Track starts the timer of p. It returns false when p is already tracked or
// the scheduler is shut down.
func (s *Scheduler) Track(p orchestrator.Pool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.workers[p.ID()]; ok {
		return false
	}
	w := &worker{
		pool:  p,
		reset: make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	s.workers[p.ID()] = w
	go s.loop(w)

	s.log.Debug("pool tracked",
		zap.String("pool_id", p.ID()),
		zap.Duration("interval", interval(p)),
	)
	return true
}

// Reset makes the pool's timer pick up a changed batch interval.
func (s *Scheduler) Reset(poolID string) bool {
	s.mu.Lock()
	w, ok := s.workers[poolID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case w.reset <- struct{}{}:
	default:
	}
	return true
}

// Untrack stops future fires for the pool and waits for its in-flight cycle,
// if any, to finish.
func (s *Scheduler) Untrack(poolID string) bool {
	s.mu.Lock()
	w, ok := s.workers[poolID]
	if ok {
		delete(s.workers, poolID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	close(w.stop)
	<-w.done
	w.inflight.Wait()
	return true
}

// Tracked returns the ids of tracked pools, sorted.
func (s *Scheduler) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run drives idle pool retirement until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.retirer == nil || s.retireEvery <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.retireEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.retirer.RetireIdle(ctx); n > 0 {
				s.log.Info("retired idle pools", zap.Int("count", n))
			}
		}
	}
}

// Shutdown stops every timer and waits for in-flight cycles. When ctx ends
// first, the remaining cycles are canceled, which makes them record their
// batch as interrupted, and ErrShutdown is returned once they have exited.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	workers := make([]*worker, 0, len(s.workers))
	for id, w := range s.workers {
		workers = append(workers, w)
		delete(s.workers, id)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			close(w.stop)
			<-w.done
			w.inflight.Wait()
			return nil
		})
	}
	finished := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		s.cancelCycle()
		s.log.Info("scheduler stopped", zap.Int("pools", len(workers)))
		return nil
	case <-ctx.Done():
		s.log.Warn("grace deadline reached, interrupting in-flight cycles")
		s.cancelCycle()
		<-finished
		return ErrShutdown
	}
}

func (s *Scheduler) loop(w *worker) {
	defer close(w.done)

	ticker := time.NewTicker(interval(w.pool))
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-w.reset:
			ticker.Reset(interval(w.pool))
		case <-ticker.C:
			s.fire(w)
		}
	}
}

// fire starts a cycle unless the previous one is still running.
func (s *Scheduler) fire(w *worker) {
	if !w.running.CompareAndSwap(false, true) {
		observability.RecordTickSkipped(w.pool.ID())
		s.log.Warn("previous cycle still running, tick skipped", zap.String("pool_id", w.pool.ID()))
		return
	}
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		defer w.running.Store(false)

		res, err := s.cycle.ProcessPool(s.cycleCtx, w.pool)
		if err != nil {
			s.log.Error("batch cycle failed", zap.String("pool_id", w.pool.ID()), zap.Error(err))
			return
		}
		if res != nil && !res.Skipped {
			s.log.Debug("batch cycle done",
				zap.String("pool_id", w.pool.ID()),
				zap.String("batch_id", res.Batch.BatchID),
				zap.String("status", string(res.Status())),
			)
		}
	}()
}

func interval(p orchestrator.Pool) time.Duration {
	ms := p.Config().BatchIntervalMs
	if ms <= 0 {
		return time.Second
	}
	return time.Duration(ms) * time.Millisecond
}
