package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fair-sequencer/internal/commitreveal"
	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/idhash"
	"fair-sequencer/internal/randomness"
)

func newTestRegistry(clock *manualClock) *Registry {
	return NewRegistry(RegistryOptions{Clock: clock.Now})
}

func TestRegistry_GetOrCreateSingleInstance(t *testing.T) {
	r := newTestRegistry(newManualClock())

	const workers = 32
	pools := make([]*OrderingPool, workers)
	created := make([]bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, c, err := r.GetOrCreate("eth-usdc", nil)
			assert.NoError(t, err)
			pools[i], created[i] = p, c
		}(i)
	}
	wg.Wait()

	creations := 0
	for i := range pools {
		assert.Same(t, pools[0], pools[i])
		if created[i] {
			creations++
		}
	}
	assert.Equal(t, 1, creations)
	assert.Len(t, r.Pools(), 1)
}

func TestRegistry_OnCreate(t *testing.T) {
	r := newTestRegistry(newManualClock())
	var seen []string
	r.OnCreate(func(p *OrderingPool) { seen = append(seen, p.ID()) })

	_, _, err := r.GetOrCreate("a", nil)
	require.NoError(t, err)
	_, _, err = r.GetOrCreate("a", nil)
	require.NoError(t, err)
	_, _, err = r.GetOrCreate("b", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestRegistry_Configure(t *testing.T) {
	r := newTestRegistry(newManualClock())

	cfg := domain.PoolConfig{PoolID: "p", Algorithm: domain.AlgorithmRandomized}
	p, created, err := r.Configure(cfg)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.AlgorithmRandomized, p.Config().Algorithm)
	assert.Equal(t, int64(domain.DefaultBatchIntervalMs), p.Config().BatchIntervalMs)

	cfg.Algorithm = domain.AlgorithmPriorityByFee
	cfg.BatchIntervalMs = 250
	p2, created, err := r.Configure(cfg)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, p, p2)
	assert.Equal(t, int64(250), p.Config().BatchIntervalMs)

	_, _, err = r.Configure(domain.PoolConfig{PoolID: "p", Algorithm: "LIFO"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, _, err = r.Configure(domain.PoolConfig{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestRegistry_DuplicateAcrossPools(t *testing.T) {
	r := newTestRegistry(newManualClock())

	_, _, err := r.Submit("a", plainTx("tx-1"))
	require.NoError(t, err)
	_, _, err = r.Submit("b", plainTx("tx-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateTx)

	p, _ := r.Get("b")
	assert.Equal(t, 0, p.Len())
}

func TestRegistry_FailedSubmitFreesID(t *testing.T) {
	r := newTestRegistry(newManualClock())

	bad := plainTx("tx-1")
	bad.Sender = ""
	_, _, err := r.Submit("a", bad)
	require.ErrorIs(t, err, domain.ErrMalformedTx)

	_, _, err = r.Submit("a", plainTx("tx-1"))
	assert.NoError(t, err)
}

func TestRegistry_IndexFollowsDrain(t *testing.T) {
	r := newTestRegistry(newManualClock())

	p, res, err := r.Submit("a", plainTx(""))
	require.NoError(t, err)

	_, ok := r.Lookup(res.Tx.ID)
	assert.True(t, ok)

	p.DrainEligible()
	_, ok = r.Lookup(res.Tx.ID)
	assert.False(t, ok)
	_, err = r.PoolForTx(res.Tx.ID)
	assert.ErrorIs(t, err, domain.ErrUnknownTx)
}

func TestRegistry_RemoveAndIdle(t *testing.T) {
	clock := newManualClock()
	r := newTestRegistry(clock)

	_, _, err := r.GetOrCreate("idle", nil)
	require.NoError(t, err)
	_, _, err = r.Submit("busy", plainTx("tx-1"))
	require.NoError(t, err)

	clock.Advance(time.Minute)
	idle := r.IdlePools(30 * time.Second)
	require.Len(t, idle, 1)
	assert.Equal(t, "idle", idle[0].ID())

	assert.True(t, r.Remove("idle"))
	assert.False(t, r.Remove("idle"))
	_, ok := r.Get("idle")
	assert.False(t, ok)
}

func TestRegistry_CommitRevealThroughCoordinator(t *testing.T) {
	clock := newManualClock()
	r := newTestRegistry(clock)
	_, _, err := r.Configure(domain.PoolConfig{
		PoolID:           "p",
		RevealDelayMinMs: 100,
		RevealDelayMaxMs: 200,
	})
	require.NoError(t, err)

	coord := commitreveal.NewCoordinator(commitreveal.Options{
		Pools:      r,
		Randomness: randomness.NewSeededProvider([32]byte{7}),
		Clock:      clock.Now,
	})

	p, res, err := r.Submit("p", liquidationTx("hi"))
	require.NoError(t, err)
	require.True(t, res.Tx.RequiresCommit)

	payload := []byte("calldata")
	cres, err := coord.Commit(context.Background(), "hi", idhash.ComputeCommitHash(payload))
	require.NoError(t, err)
	assert.True(t, cres.Accepted)
	assert.GreaterOrEqual(t, cres.Delay.Value, uint64(100))
	assert.LessOrEqual(t, cres.Delay.Value, uint64(200))

	clock.Advance(50 * time.Millisecond)
	rres, err := coord.Reveal(context.Background(), "hi", payload)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRevealed, rres.State)

	drained := p.DrainEligible()
	require.Len(t, drained, 1)
	assert.Equal(t, "hi", drained[0].ID)
}

func TestRegistry_DrainedIDReservedUntilSettled(t *testing.T) {
	r := newTestRegistry(newManualClock())

	p, _, err := r.Submit("a", plainTx("tx-1"))
	require.NoError(t, err)
	require.Len(t, p.DrainEligible(), 1)

	state, ok := r.Departed("tx-1")
	require.True(t, ok)
	assert.Equal(t, domain.StateOpen, state)

	_, _, err = r.Submit("a", plainTx("tx-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateTx, "same pool while in flight")
	_, _, err = r.Submit("b", plainTx("tx-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateTx, "other pool while in flight")
	assert.Equal(t, 0, p.Len())

	p.Settle("tx-1")
	_, ok = r.Departed("tx-1")
	assert.False(t, ok)
	_, _, err = r.Submit("a", plainTx("tx-1"))
	assert.NoError(t, err)
}

func TestRegistry_SweptIDKeepsExpiredState(t *testing.T) {
	clock := newManualClock()
	r := newTestRegistry(clock)
	_, _, err := r.Configure(domain.PoolConfig{PoolID: "p", CommitTimeoutMs: 100})
	require.NoError(t, err)

	p, _, err := r.Submit("p", liquidationTx("hi"))
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.Len(t, p.SweepExpired(clock.Now().UnixMilli()), 1)

	state, ok := r.Departed("hi")
	require.True(t, ok)
	assert.Equal(t, domain.StateExpired, state)
	_, err = r.PoolForTx("hi")
	assert.ErrorIs(t, err, domain.ErrUnknownTx)
}

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry(RegistryOptions{Defaults: func(poolID string) domain.PoolConfig {
		c := domain.DefaultPoolConfig(poolID)
		c.MaxPending = 3
		return c
	}})

	c := r.Defaults("p")
	assert.Equal(t, "p", c.PoolID)
	assert.Equal(t, 3, c.MaxPending)

	p, _, err := r.GetOrCreate("p", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Config().MaxPending)
}

func TestRegistry_ClaimIdleSkipsBusyPool(t *testing.T) {
	clock := newManualClock()
	r := newTestRegistry(clock)

	_, _, err := r.GetOrCreate("quiet", nil)
	require.NoError(t, err)
	busy, _, err := r.GetOrCreate("busy", nil)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	// Work lands on "busy" after the idle scan would have seen it.
	_, err = busy.Submit(plainTx("tx-1"))
	require.NoError(t, err)

	claimed := r.ClaimIdle(30 * time.Second)
	require.Len(t, claimed, 1)
	assert.Equal(t, "quiet", claimed[0].ID())
	assert.Equal(t, domain.PoolDraining, claimed[0].State())
	assert.Equal(t, domain.PoolOpen, busy.State())
}
