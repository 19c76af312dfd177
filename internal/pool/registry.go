package pool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"fair-sequencer/internal/commitreveal"
	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/idhash"
	"fair-sequencer/internal/observability"
	"fair-sequencer/internal/risk"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Defaults returns the configuration of a pool created on first
	// submission. Defaults to domain.DefaultPoolConfig.
	Defaults      func(poolID string) domain.PoolConfig
	Classifier    *risk.Classifier
	FeeWindowSize int
	Logger        *zap.Logger
	Clock         func() time.Time
}

type departure struct {
	poolID string
	state  domain.ProtectionState
}

// Registry maps pool ids to pools. Lookups are lock free; createMu guards
// only the create and remove paths.
type Registry struct {
	pools    sync.Map // pool id -> *OrderingPool
	createMu sync.Mutex
	count    int

	txIndex  sync.Map // tx id -> pool id, while pending
	departed sync.Map // tx id -> departure, until the outcome is recorded

	onCreate []func(*OrderingPool)

	defaults      func(poolID string) domain.PoolConfig
	classifier    *risk.Classifier
	feeWindowSize int
	log           *zap.Logger
	clock         func() time.Time
}

var _ commitreveal.Resolver = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	r := &Registry{
		defaults:      opts.Defaults,
		classifier:    opts.Classifier,
		feeWindowSize: opts.FeeWindowSize,
		log:           opts.Logger,
		clock:         opts.Clock,
	}
	if r.defaults == nil {
		r.defaults = domain.DefaultPoolConfig
	}
	if r.classifier == nil {
		r.classifier = risk.NewClassifier(risk.DefaultConfig())
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	return r
}

// OnCreate registers fn to run for every pool the registry creates.
// Must be called before the registry is shared.
func (r *Registry) OnCreate(fn func(*OrderingPool)) {
	r.onCreate = append(r.onCreate, fn)
}

// Get returns the pool with the given id.
func (r *Registry) Get(poolID string) (*OrderingPool, bool) {
	v, ok := r.pools.Load(poolID)
	if !ok {
		return nil, false
	}
	return v.(*OrderingPool), true
}

// Defaults returns the configuration a new pool with the given id gets.
func (r *Registry) Defaults(poolID string) domain.PoolConfig {
	c := r.defaults(poolID)
	c.PoolID = poolID
	return c
}

// GetOrCreate returns the pool with the given id, creating it from cfg (or
// the defaults when cfg is nil) if absent. Concurrent callers for the same
// new id receive the same instance. The bool reports whether this call
// created the pool.
func (r *Registry) GetOrCreate(poolID string, cfg *domain.PoolConfig) (*OrderingPool, bool, error) {
	if p, ok := r.Get(poolID); ok {
		return p, false, nil
	}

	r.createMu.Lock()
	if p, ok := r.Get(poolID); ok {
		r.createMu.Unlock()
		return p, false, nil
	}

	c := r.defaults(poolID)
	if cfg != nil {
		c = *cfg
	}
	c.PoolID = poolID

	p, err := New(Options{
		Config:        c,
		Classifier:    r.classifier,
		FeeWindowSize: r.feeWindowSize,
		Logger:        r.log,
		Clock:         r.clock,
		Released:      r.depart,
	})
	if err != nil {
		r.createMu.Unlock()
		return nil, false, err
	}
	r.pools.Store(poolID, p)
	r.count++
	observability.UpdatePoolsActive(r.count)
	r.createMu.Unlock()

	r.log.Info("pool created",
		zap.String("pool_id", poolID),
		zap.String("algorithm", string(p.Config().Algorithm)),
	)
	for _, fn := range r.onCreate {
		fn(p)
	}
	return p, true, nil
}

// Configure upserts a pool configuration.
func (r *Registry) Configure(cfg domain.PoolConfig) (*OrderingPool, bool, error) {
	if cfg.PoolID == "" {
		return nil, false, fmt.Errorf("%w: missing pool id", domain.ErrInvalidConfig)
	}
	full := cfg.WithDefaults()
	if err := full.Validate(); err != nil {
		return nil, false, err
	}

	p, created, err := r.GetOrCreate(cfg.PoolID, &full)
	if err != nil || created {
		return p, created, err
	}
	return p, false, p.Configure(full)
}

// Submit routes tx to its pool, creating the pool on first use. Transaction
// ids are unique across pools while pending and until the outcome of a
// transaction that left its pool has been recorded.
func (r *Registry) Submit(poolID string, tx domain.PendingTransaction) (*OrderingPool, SubmitResult, error) {
	p, _, err := r.GetOrCreate(poolID, nil)
	if err != nil {
		return nil, SubmitResult{}, err
	}

	tx.PoolID = poolID
	if tx.ID == "" {
		tx.ID = idhash.NewTxID()
	}
	if _, loaded := r.txIndex.LoadOrStore(tx.ID, poolID); loaded {
		return p, SubmitResult{}, fmt.Errorf("%w: %s", domain.ErrDuplicateTx, tx.ID)
	}
	// depart stores the reservation before it drops the index entry.
	if _, ok := r.departed.Load(tx.ID); ok {
		r.txIndex.CompareAndDelete(tx.ID, poolID)
		return p, SubmitResult{}, fmt.Errorf("%w: %s", domain.ErrDuplicateTx, tx.ID)
	}

	res, err := p.Submit(tx)
	if err != nil {
		r.txIndex.CompareAndDelete(tx.ID, poolID)
		return p, res, err
	}
	return p, res, nil
}

// PoolForTx returns the pool holding txID.
func (r *Registry) PoolForTx(txID string) (commitreveal.Pool, error) {
	p, err := r.poolForTx(txID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Lookup returns a pending transaction by id.
func (r *Registry) Lookup(txID string) (domain.PendingTransaction, bool) {
	p, err := r.poolForTx(txID)
	if err != nil {
		return domain.PendingTransaction{}, false
	}
	return p.Get(txID)
}

func (r *Registry) poolForTx(txID string) (*OrderingPool, error) {
	v, ok := r.txIndex.Load(txID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTx, txID)
	}
	p, ok := r.Get(v.(string))
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTx, txID)
	}
	return p, nil
}

// Departed reports the protection state a transaction had when it left its
// pool, while its outcome is still being recorded.
func (r *Registry) Departed(txID string) (domain.ProtectionState, bool) {
	v, ok := r.departed.Load(txID)
	if !ok {
		return "", false
	}
	return v.(departure).state, true
}

func (r *Registry) depart(txs []domain.PendingTransaction) {
	for _, tx := range txs {
		r.departed.Store(tx.ID, departure{poolID: tx.PoolID, state: tx.State})
		r.txIndex.Delete(tx.ID)
	}
}

func (r *Registry) settle(txIDs []string) {
	for _, id := range txIDs {
		r.departed.Delete(id)
	}
}

// Pools returns all pools sorted by id.
func (r *Registry) Pools() []*OrderingPool {
	var out []*OrderingPool
	r.pools.Range(func(_, v any) bool {
		out = append(out, v.(*OrderingPool))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Remove drops a pool from the registry.
func (r *Registry) Remove(poolID string) bool {
	r.createMu.Lock()
	defer r.createMu.Unlock()
	if _, ok := r.pools.LoadAndDelete(poolID); !ok {
		return false
	}
	r.count--
	observability.UpdatePoolsActive(r.count)
	observability.ForgetPool(poolID)
	return true
}

// IdlePools returns open pools that are empty and have been inactive for
// at least idleFor.
func (r *Registry) IdlePools(idleFor time.Duration) []*OrderingPool {
	cutoff := r.clock().Add(-idleFor).UnixMilli()
	var idle []*OrderingPool
	for _, p := range r.Pools() {
		if p.State() == domain.PoolOpen && p.IdleSince(cutoff) {
			idle = append(idle, p)
		}
	}
	return idle
}

// ClaimIdle moves every idle pool to DRAINING and returns the pools it
// claimed. A pool that received work since IdlePools saw it is skipped.
func (r *Registry) ClaimIdle(idleFor time.Duration) []*OrderingPool {
	cutoff := r.clock().Add(-idleFor).UnixMilli()
	var claimed []*OrderingPool
	for _, p := range r.IdlePools(idleFor) {
		if p.BeginCloseIfIdle(cutoff) {
			claimed = append(claimed, p)
		}
	}
	return claimed
}
