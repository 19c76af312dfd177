// Package pool holds pending transactions per market and the registry that
// maps pool ids to pools.
//
// Every mutation of a pool (submit, drain, commit, reveal, expire) runs under
// the pool's own mutex; nothing here takes a lock shared with another pool.
// Classification runs between two short critical sections so the lock is
// never held across it.
package pool

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fair-sequencer/internal/commitreveal"
	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/idhash"
	"fair-sequencer/internal/risk"
)

type entry struct {
	tx     domain.PendingTransaction
	ticket *commitreveal.Ticket
}

// snapshot returns a copy of the transaction with the ticket state applied.
func (e *entry) snapshot() domain.PendingTransaction {
	tx := e.tx.Clone()
	e.ticket.Snapshot().Apply(&tx)
	return tx
}

func (e *entry) eligible() bool {
	switch e.ticket.State() {
	case domain.StateRevealed:
		return true
	case domain.StateOpen:
		return !e.tx.RequiresCommit
	default:
		return false
	}
}

// commitDeadline is the time after which an uncommitted gated transaction
// expires, 0 when it never does.
func (e *entry) commitDeadline(timeoutMs int64) int64 {
	if !e.tx.RequiresCommit || timeoutMs <= 0 {
		return 0
	}
	return e.tx.SubmittedAt + timeoutMs
}

// SubmitResult is returned by Submit.
type SubmitResult struct {
	Tx             domain.PendingTransaction
	Classification risk.Result
}

// Options configures an OrderingPool.
type Options struct {
	Config        domain.PoolConfig
	Classifier    *risk.Classifier
	FeeWindowSize int
	Logger        *zap.Logger
	Clock         func() time.Time

	// Released is called, outside the lock, with the transactions that
	// left the pool. Settled is called once their outcome is recorded.
	Released func(txs []domain.PendingTransaction)
	Settled  func(txIDs []string)
}

// OrderingPool is the pending queue of one pool.
type OrderingPool struct {
	id string

	mu sync.Mutex

	cfg   domain.PoolConfig
	state domain.PoolState

	queue []*entry // insertion order
	byID  map[string]*entry

	fees               *risk.FeeWindow
	liquidationTargets map[string]int

	batchSeq        uint64
	lastBatchID     string
	lastProcessedAt int64
	lastActivityAt  int64

	classifier *risk.Classifier
	released   func(txs []domain.PendingTransaction)
	settled    func(txIDs []string)
	log        *zap.Logger
	clock      func() time.Time
}

// New creates an open pool.
func New(opts Options) (*OrderingPool, error) {
	cfg := opts.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &OrderingPool{
		id:                 cfg.PoolID,
		cfg:                cfg,
		state:              domain.PoolOpen,
		byID:               make(map[string]*entry),
		fees:               risk.NewFeeWindow(opts.FeeWindowSize),
		liquidationTargets: make(map[string]int),
		classifier:         opts.Classifier,
		released:           opts.Released,
		settled:            opts.Settled,
		log:                opts.Logger,
		clock:              opts.Clock,
	}
	if p.classifier == nil {
		p.classifier = risk.NewClassifier(risk.DefaultConfig())
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	p.log = p.log.Named("pool").With(zap.String("pool_id", cfg.PoolID))
	if p.clock == nil {
		p.clock = time.Now
	}
	p.lastActivityAt = p.clock().UnixMilli()
	return p, nil
}

// ID returns the pool id.
func (p *OrderingPool) ID() string {
	return p.id
}

// Config returns the current configuration.
func (p *OrderingPool) Config() domain.PoolConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Configure replaces the configuration. Transactions already queued keep
// the commit requirement they were admitted with.
func (p *OrderingPool) Configure(cfg domain.PoolConfig) error {
	if cfg.PoolID == "" {
		cfg.PoolID = p.id
	}
	if cfg.PoolID != p.id {
		return fmt.Errorf("%w: pool id mismatch %q != %q", domain.ErrInvalidConfig, cfg.PoolID, p.id)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == domain.PoolClosed {
		return domain.ErrPoolClosed
	}
	p.cfg = cfg
	return nil
}

// Submit validates, classifies and enqueues tx. The submission time is
// assigned by the pool.
func (p *OrderingPool) Submit(tx domain.PendingTransaction) (SubmitResult, error) {
	if tx.PoolID == "" {
		tx.PoolID = p.id
	}
	if tx.PoolID != p.id {
		return SubmitResult{}, fmt.Errorf("%w: transaction for pool %q submitted to %q", domain.ErrMalformedTx, tx.PoolID, p.id)
	}
	if err := tx.Validate(); err != nil {
		return SubmitResult{}, err
	}
	if tx.ID == "" {
		tx.ID = idhash.NewTxID()
	}

	pc, err := p.classificationContext(tx.ID)
	if err != nil {
		return SubmitResult{}, err
	}

	result := p.classifier.Classify(tx, pc)
	if result.LowConfidence {
		p.log.Debug("low confidence classification", zap.String("tx_id", tx.ID))
	}

	p.mu.Lock()
	if err := p.admitLocked(tx.ID); err != nil {
		p.mu.Unlock()
		return SubmitResult{}, err
	}

	now := p.clock().UnixMilli()
	tx.SubmittedAt = now
	tx.RiskLevel = result.Level
	tx.Patterns = result.Patterns
	tx.RequiresCommit = p.cfg.RequiresCommit(result.Level)
	tx.State = domain.StateOpen
	tx.CommitHash, tx.CommittedAt, tx.RevealDeadline, tx.RevealedAt, tx.Payload = "", 0, 0, 0, nil

	e := &entry{tx: tx, ticket: commitreveal.NewTicket()}
	p.queue = append(p.queue, e)
	p.byID[tx.ID] = e
	p.fees.Add(tx.Fee)
	if tx.Liquidation {
		p.liquidationTargets[tx.Target]++
	}
	p.lastActivityAt = now
	out := e.snapshot()
	p.mu.Unlock()

	return SubmitResult{Tx: out, Classification: result}, nil
}

// classificationContext checks admission and snapshots what the classifier reads.
func (p *OrderingPool) classificationContext(txID string) (risk.PoolContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.admitLocked(txID); err != nil {
		return risk.PoolContext{}, err
	}

	targets := make(map[string]bool, len(p.liquidationTargets))
	for t := range p.liquidationTargets {
		targets[t] = true
	}
	return risk.PoolContext{
		PoolID:             p.id,
		RecentAvgFee:       p.fees.Average(),
		FeeSamples:         p.fees.Len(),
		LiquidityDepth:     p.cfg.LiquidityDepth,
		LiquidationTargets: targets,
	}, nil
}

func (p *OrderingPool) admitLocked(txID string) error {
	if p.state != domain.PoolOpen {
		return domain.ErrPoolClosed
	}
	if _, ok := p.byID[txID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateTx, txID)
	}
	if p.cfg.MaxPending > 0 && len(p.queue) >= p.cfg.MaxPending {
		return domain.ErrPoolFull
	}
	return nil
}

// Commit applies a commitment to a gated transaction. Commits are accepted
// only while the pool is open and within the commit window; a late commit
// expires the transaction.
func (p *OrderingPool) Commit(txID, commitHash string, now, deadline int64) (domain.PendingTransaction, error) {
	p.mu.Lock()

	e, ok := p.byID[txID]
	if !ok {
		p.mu.Unlock()
		return domain.PendingTransaction{}, fmt.Errorf("%w: %s", domain.ErrUnknownTx, txID)
	}
	if p.state != domain.PoolOpen {
		tx := e.snapshot()
		p.mu.Unlock()
		return tx, fmt.Errorf("%w: pool %s", domain.ErrCommitClosed, p.state)
	}
	if !e.tx.RequiresCommit {
		tx := e.snapshot()
		p.mu.Unlock()
		return tx, domain.ErrCommitNotRequired
	}

	if e.ticket.Expire(now, e.commitDeadline(p.cfg.CommitTimeoutMs)) {
		tx := p.removeLocked(e)
		p.mu.Unlock()
		p.release(tx)
		return tx, fmt.Errorf("%w: commit window elapsed", domain.ErrCommitClosed)
	}

	err := e.ticket.Commit(commitHash, now, deadline)
	p.lastActivityAt = now
	tx := e.snapshot()
	p.mu.Unlock()
	return tx, err
}

// Reveal applies a reveal. A late or mismatching reveal removes the
// transaction from the pool.
func (p *OrderingPool) Reveal(txID string, payload []byte, now int64) (domain.PendingTransaction, error) {
	p.mu.Lock()

	e, ok := p.byID[txID]
	if !ok {
		p.mu.Unlock()
		return domain.PendingTransaction{}, fmt.Errorf("%w: %s", domain.ErrUnknownTx, txID)
	}
	if !e.tx.RequiresCommit {
		tx := e.snapshot()
		p.mu.Unlock()
		return tx, domain.ErrCommitNotRequired
	}

	state, err := e.ticket.Reveal(payload, now)
	p.lastActivityAt = now
	if state.IsTerminal() {
		tx := p.removeLocked(e)
		p.mu.Unlock()
		p.release(tx)
		return tx, err
	}
	tx := e.snapshot()
	p.mu.Unlock()
	return tx, err
}

// Reject rejects a gated transaction after a malformed commit.
func (p *OrderingPool) Reject(txID string) (domain.PendingTransaction, error) {
	p.mu.Lock()

	e, ok := p.byID[txID]
	if !ok {
		p.mu.Unlock()
		return domain.PendingTransaction{}, fmt.Errorf("%w: %s", domain.ErrUnknownTx, txID)
	}
	if !e.tx.RequiresCommit {
		tx := e.snapshot()
		p.mu.Unlock()
		return tx, domain.ErrCommitNotRequired
	}
	if !e.ticket.Reject() {
		tx := e.snapshot()
		p.mu.Unlock()
		return tx, domain.ErrInvalidTransition
	}
	tx := p.removeLocked(e)
	p.mu.Unlock()
	p.release(tx)
	return tx, nil
}

// SweepExpired expires overdue commitments and removes them.
func (p *OrderingPool) SweepExpired(now int64) []domain.PendingTransaction {
	p.mu.Lock()

	var expired []domain.PendingTransaction
	kept := p.queue[:0]
	for _, e := range p.queue {
		if e.ticket.Expire(now, e.commitDeadline(p.cfg.CommitTimeoutMs)) || e.ticket.State().IsTerminal() {
			expired = append(expired, e.snapshot())
			p.forgetLocked(e)
			continue
		}
		kept = append(kept, e)
	}
	clearTail(p.queue, len(kept))
	p.queue = kept
	p.mu.Unlock()

	p.release(expired...)
	return expired
}

// DrainEligible removes and returns every eligible transaction in
// insertion order. It is the only way a transaction leaves the pool for a
// batch, so each transaction is drained at most once.
func (p *OrderingPool) DrainEligible() []domain.PendingTransaction {
	p.mu.Lock()

	var drained []domain.PendingTransaction
	kept := p.queue[:0]
	for _, e := range p.queue {
		if e.eligible() {
			drained = append(drained, e.snapshot())
			p.forgetLocked(e)
			continue
		}
		kept = append(kept, e)
	}
	clearTail(p.queue, len(kept))
	p.queue = kept
	p.mu.Unlock()

	p.release(drained...)
	return drained
}

// NextBatch assigns the next batch sequence and id.
func (p *OrderingPool) NextBatch() (uint64, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchSeq++
	return p.batchSeq, idhash.ComputeBatchID(p.id, p.batchSeq)
}

// RecordProcessed stores the last processed batch.
func (p *OrderingPool) RecordProcessed(batchID string, at int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastBatchID = batchID
	p.lastProcessedAt = at
	p.lastActivityAt = at
}

// Status returns a point-in-time view of the pool.
func (p *OrderingPool) Status() domain.PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	eligible := 0
	for _, e := range p.queue {
		if e.eligible() {
			eligible++
		}
	}
	return domain.PoolStatus{
		PoolID:          p.id,
		State:           p.state,
		Algorithm:       p.cfg.Algorithm,
		BatchIntervalMs: p.cfg.BatchIntervalMs,
		PendingCount:    len(p.queue),
		EligibleCount:   eligible,
		LastBatchID:     p.lastBatchID,
		LastProcessedAt: p.lastProcessedAt,
	}
}

// Get returns a pending transaction.
func (p *OrderingPool) Get(txID string) (domain.PendingTransaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byID[txID]
	if !ok {
		return domain.PendingTransaction{}, false
	}
	return e.snapshot(), true
}

// Len returns the number of pending transactions.
func (p *OrderingPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// State returns the lifecycle state.
func (p *OrderingPool) State() domain.PoolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// BeginClose stops accepting submissions and commits. Reveals and drains
// continue until Close.
func (p *OrderingPool) BeginClose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == domain.PoolOpen {
		p.state = domain.PoolDraining
	}
}

// Close marks the pool closed and returns the transactions still queued.
func (p *OrderingPool) Close() []domain.PendingTransaction {
	p.mu.Lock()
	p.state = domain.PoolClosed
	left := make([]domain.PendingTransaction, 0, len(p.queue))
	for _, e := range p.queue {
		left = append(left, e.snapshot())
		p.forgetLocked(e)
	}
	clearTail(p.queue, 0)
	p.queue = nil
	p.mu.Unlock()

	p.release(left...)
	return left
}

// IdleSince reports whether the pool is empty and has seen no activity since
// the given time.
func (p *OrderingPool) IdleSince(cutoff int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) == 0 && p.lastActivityAt <= cutoff
}

// BeginCloseIfIdle is BeginClose applied only when the pool is open, empty
// and inactive since cutoff. The check and the transition share one
// critical section, so a submission either lands first and keeps the pool
// open or is refused with domain.ErrPoolClosed.
func (p *OrderingPool) BeginCloseIfIdle(cutoff int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != domain.PoolOpen || len(p.queue) > 0 || p.lastActivityAt > cutoff {
		return false
	}
	p.state = domain.PoolDraining
	return true
}

func (p *OrderingPool) removeLocked(e *entry) domain.PendingTransaction {
	tx := e.snapshot()
	for i, q := range p.queue {
		if q == e {
			copy(p.queue[i:], p.queue[i+1:])
			p.queue[len(p.queue)-1] = nil
			p.queue = p.queue[:len(p.queue)-1]
			break
		}
	}
	p.forgetLocked(e)
	return tx
}

func (p *OrderingPool) forgetLocked(e *entry) {
	delete(p.byID, e.tx.ID)
	if e.tx.Liquidation {
		p.liquidationTargets[e.tx.Target]--
		if p.liquidationTargets[e.tx.Target] <= 0 {
			delete(p.liquidationTargets, e.tx.Target)
		}
	}
}

func (p *OrderingPool) release(txs ...domain.PendingTransaction) {
	if p.released != nil && len(txs) > 0 {
		p.released(txs)
	}
}

// Settle reports that the outcome of transactions that left the pool has
// been recorded. Until then their ids stay reserved.
func (p *OrderingPool) Settle(txIDs ...string) {
	if p.settled != nil && len(txIDs) > 0 {
		p.settled(txIDs)
	}
}

func clearTail(q []*entry, from int) {
	for i := from; i < len(q); i++ {
		q[i] = nil
	}
}
