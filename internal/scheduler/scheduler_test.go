package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/orchestrator"
)

type fakePool struct {
	id string

	mu  sync.Mutex
	cfg domain.PoolConfig
}

func newFakePool(id string, intervalMs int64) *fakePool {
	cfg := domain.DefaultPoolConfig(id)
	cfg.BatchIntervalMs = intervalMs
	return &fakePool{id: id, cfg: cfg}
}

func (p *fakePool) ID() string { return p.id }

func (p *fakePool) Config() domain.PoolConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *fakePool) setInterval(ms int64) {
	p.mu.Lock()
	p.cfg.BatchIntervalMs = ms
	p.mu.Unlock()
}

func (p *fakePool) SweepExpired(int64) []domain.PendingTransaction { return nil }
func (p *fakePool) DrainEligible() []domain.PendingTransaction { return nil }
func (p *fakePool) NextBatch() (uint64, string) { return 0, "" }
func (p *fakePool) RecordProcessed(string, int64) {}
func (p *fakePool) Len() int { return 0 }
func (p *fakePool) Settle(...string) {}

// fakeCycle counts calls per pool and optionally blocks until released or
// canceled.
type fakeCycle struct {
	mu     sync.Mutex
	calls  map[string]int
	block  chan struct{}
	ctxErr atomic.Value
}

func newFakeCycle() *fakeCycle {
	return &fakeCycle{calls: make(map[string]int)}
}

func (c *fakeCycle) ProcessPool(ctx context.Context, p orchestrator.Pool) (*orchestrator.CycleResult, error) {
	c.mu.Lock()
	c.calls[p.ID()]++
	block := c.block
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			c.ctxErr.Store(ctx.Err())
		}
	}
	return &orchestrator.CycleResult{Skipped: true}, nil
}

func (c *fakeCycle) count(poolID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[poolID]
}

func TestTrack_FiresPerPool(t *testing.T) {
	cycle := newFakeCycle()
	s := New(Options{Cycle: cycle})
	defer s.Shutdown(context.Background())

	require.True(t, s.Track(newFakePool("a", 5)))
	require.True(t, s.Track(newFakePool("b", 5)))
	assert.False(t, s.Track(newFakePool("a", 5)), "second track of same pool")
	assert.Equal(t, []string{"a", "b"}, s.Tracked())

	require.Eventually(t, func() bool {
		return cycle.count("a") >= 3 && cycle.count("b") >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFire_SkipsWhileCycleRunning(t *testing.T) {
	cycle := newFakeCycle()
	cycle.block = make(chan struct{})
	s := New(Options{Cycle: cycle})

	require.True(t, s.Track(newFakePool("a", 2)))

	// Many ticks pass while the first cycle is blocked.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, cycle.count("a"))

	close(cycle.block)
	require.Eventually(t, func() bool { return cycle.count("a") > 1 }, time.Second, 2*time.Millisecond)
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestSlowPoolDoesNotDelayOthers(t *testing.T) {
	cycle := newFakeCycle()
	slow := &blockingCycle{fakeCycle: cycle, blockPool: "slow", release: make(chan struct{})}
	s := New(Options{Cycle: slow})

	require.True(t, s.Track(newFakePool("slow", 2)))
	require.True(t, s.Track(newFakePool("fast", 2)))

	require.Eventually(t, func() bool { return cycle.count("fast") >= 5 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, 1, cycle.count("slow"))

	close(slow.release)
	require.NoError(t, s.Shutdown(context.Background()))
}

type blockingCycle struct {
	*fakeCycle
	blockPool string
	release   chan struct{}
}

func (c *blockingCycle) ProcessPool(ctx context.Context, p orchestrator.Pool) (*orchestrator.CycleResult, error) {
	res, err := c.fakeCycle.ProcessPool(ctx, p)
	if p.ID() == c.blockPool {
		<-c.release
	}
	return res, err
}

func TestReset_PicksUpNewInterval(t *testing.T) {
	cycle := newFakeCycle()
	s := New(Options{Cycle: cycle})
	defer s.Shutdown(context.Background())

	p := newFakePool("a", int64(time.Hour/time.Millisecond))
	require.True(t, s.Track(p))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, cycle.count("a"))

	p.setInterval(2)
	require.True(t, s.Reset("a"))
	require.Eventually(t, func() bool { return cycle.count("a") > 0 }, time.Second, 2*time.Millisecond)

	assert.False(t, s.Reset("missing"))
}

func TestUntrack_StopsFires(t *testing.T) {
	cycle := newFakeCycle()
	s := New(Options{Cycle: cycle})
	defer s.Shutdown(context.Background())

	require.True(t, s.Track(newFakePool("a", 2)))
	require.Eventually(t, func() bool { return cycle.count("a") > 0 }, time.Second, 2*time.Millisecond)

	require.True(t, s.Untrack("a"))
	n := cycle.count("a")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, cycle.count("a"))
	assert.Empty(t, s.Tracked())
	assert.False(t, s.Untrack("a"))
}

func TestShutdown_InterruptsAfterGrace(t *testing.T) {
	cycle := newFakeCycle()
	cycle.block = make(chan struct{})
	s := New(Options{Cycle: cycle})
	require.True(t, s.Track(newFakePool("a", 2)))
	require.Eventually(t, func() bool { return cycle.count("a") == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Shutdown(ctx)
	assert.ErrorIs(t, err, ErrShutdown)
	assert.Equal(t, context.Canceled, cycle.ctxErr.Load())

	assert.False(t, s.Track(newFakePool("b", 2)), "track after shutdown")
}

func TestShutdown_WaitsForInFlight(t *testing.T) {
	cycle := newFakeCycle()
	cycle.block = make(chan struct{})
	s := New(Options{Cycle: cycle})
	require.True(t, s.Track(newFakePool("a", 2)))
	require.Eventually(t, func() bool { return cycle.count("a") == 1 }, time.Second, time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(cycle.block)
	}()
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Nil(t, cycle.ctxErr.Load())
}

type countingRetirer struct{ n atomic.Int32 }

func (r *countingRetirer) RetireIdle(context.Context) int {
	r.n.Add(1)
	return 0
}

func TestRun_DrivesRetirement(t *testing.T) {
	retirer := &countingRetirer{}
	s := New(Options{Cycle: newFakeCycle(), Retirer: retirer, RetireEvery: 2 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return retirer.n.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
