// Package orchestrator runs one batch cycle of a pool.
// It coordinates: sweep → drain → order → permutation check → proof → submission → audit
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fair-sequencer/internal/audit"
	"fair-sequencer/internal/commitreveal"
	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/metrics"
	"fair-sequencer/internal/observability"
	"fair-sequencer/internal/ordering"
)

// Pool is the part of an ordering pool a batch cycle drives.
type Pool interface {
	commitreveal.Sweeper
	Config() domain.PoolConfig
	DrainEligible() []domain.PendingTransaction
	NextBatch() (uint64, string)
	RecordProcessed(batchID string, at int64)
	Len() int
}

// Sweeper expires overdue commitments before a drain.
type Sweeper interface {
	Sweep(ctx context.Context, p commitreveal.Sweeper) []domain.PendingTransaction
}

// Orderer applies an ordering algorithm.
type Orderer interface {
	Order(ctx context.Context, txs []domain.PendingTransaction, algorithm domain.Algorithm) (ordering.Result, error)
}

// ProofBuilder signs a batch.
type ProofBuilder interface {
	Build(ctx context.Context, batch domain.OrderedBatch) (domain.FairnessProof, int, error)
}

// Submitter sends a batch to the chain.
type Submitter interface {
	Submit(ctx context.Context, batch domain.OrderedBatch, txs []domain.PendingTransaction, proof domain.FairnessProof) ([]domain.SubmissionOutcome, error)
}

// Recorder persists audits, outcomes and held batches.
type Recorder interface {
	RecordBatch(ctx context.Context, a *domain.BatchAudit, outcomes []*domain.TxOutcome) error
	RecordHeld(ctx context.Context, held *domain.HeldBatch, a *domain.BatchAudit, outcomes []*domain.TxOutcome) error
	HeldBatch(ctx context.Context, batchID string) (*domain.HeldBatch, error)
	ReleaseHeld(ctx context.Context, batchID string) error
}

// Options for creating Orchestrator.
type Options struct {
	// Required collaborators
	Sweeper   Sweeper
	Engine    Orderer
	Proofs    ProofBuilder
	Submitter Submitter
	Recorder  Recorder

	// Aggregator recomputes the pool's fairness aggregate every
	// AggregateEvery batches. Optional.
	Aggregator     *metrics.Aggregator
	AggregateEvery uint64

	// RecordTimeout bounds audit writes made after the cycle context was
	// canceled.
	RecordTimeout time.Duration

	Logger *zap.Logger
	Clock  func() time.Time
}

// Orchestrator coordinates the batch cycle.
type Orchestrator struct {
	sweeper   Sweeper
	engine    Orderer
	proofs    ProofBuilder
	submitter Submitter
	recorder  Recorder

	aggregator     *metrics.Aggregator
	aggregateEvery uint64
	recordTimeout  time.Duration

	releasing sync.Map // batch id -> struct{}, while ReleaseHeld runs

	log   *zap.Logger
	clock func() time.Time
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		sweeper:        opts.Sweeper,
		engine:         opts.Engine,
		proofs:         opts.Proofs,
		submitter:      opts.Submitter,
		recorder:       opts.Recorder,
		aggregator:     opts.Aggregator,
		aggregateEvery: opts.AggregateEvery,
		recordTimeout:  opts.RecordTimeout,
		log:            opts.Logger,
		clock:          opts.Clock,
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	o.log = o.log.Named("orchestrator")
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.recordTimeout <= 0 {
		o.recordTimeout = 5 * time.Second
	}
	return o
}

// CycleResult describes one batch cycle.
type CycleResult struct {
	Skipped bool // nothing was eligible, no batch was created
	Expired int  // commitments expired by the sweep
	Batch   domain.OrderedBatch
	Audit   *domain.BatchAudit
}

// Status returns the audit status, or "" for a skipped cycle.
func (r *CycleResult) Status() domain.BatchStatus {
	if r == nil || r.Audit == nil {
		return ""
	}
	return r.Audit.Status
}

// ProcessPool runs one cycle for p.
// Phases:
//  1. Sweep overdue commitments
//  2. Drain eligible transactions (skip when empty)
//  3. Order with the pool's algorithm
//  4. Check the permutation invariant (discard on violation)
//  5. Build the fairness proof (hold on exhausted retries)
//  6. Submit and record per-transaction outcomes
//
// Dependency and invariant failures end the batch with the matching status
// and are not returned; the error is only set when the audit could not be
// recorded.
func (o *Orchestrator) ProcessPool(ctx context.Context, p Pool) (*CycleResult, error) {
	start := time.Now()
	result := &CycleResult{}

	// Phase 1: Sweep
	result.Expired = len(o.sweeper.Sweep(ctx, p))

	// Phase 2: Drain
	txs := p.DrainEligible()
	observability.UpdatePoolPending(p.ID(), p.Len())
	if len(txs) == 0 {
		result.Skipped = true
		return result, nil
	}

	cfg := p.Config()
	seq, batchID := p.NextBatch()
	batch := domain.OrderedBatch{
		BatchID:      batchID,
		Sequence:     seq,
		PoolID:       p.ID(),
		Algorithm:    cfg.Algorithm,
		DrainedTxIDs: txIDs(txs),
		CreatedAt:    o.clock().UnixMilli(),
		Transactions: txs,
	}
	log := o.log.With(zap.String("pool_id", batch.PoolID), zap.String("batch_id", batchID))

	// Phases 3-6
	a, err := o.complete(ctx, log, batch)
	p.Settle(batch.DrainedTxIDs...)
	result.Audit = a
	if a != nil {
		result.Batch = batch
		result.Batch.OrderedTxIDs = a.OrderedTxIDs
		result.Batch.FairnessScore = a.FairnessScore
		result.Batch.RandomSeed = a.RandomSeed
	}

	now := o.clock().UnixMilli()
	p.RecordProcessed(batchID, now)
	if a != nil {
		observability.RecordBatch(string(batch.Algorithm), string(a.Status), len(txs), a.FairnessScore, time.Since(start).Seconds())
		if a.Status == domain.BatchSubmitted || a.Status == domain.BatchPartial {
			observability.MarkBatchSucceeded(now / 1000)
		}
	}
	o.maybeAggregate(ctx, log, p.ID(), cfg.Algorithm, seq)

	return result, err
}

// ReleaseHeld retries proof and submission for a held batch. A batch held
// before ordering is ordered first. The held record is removed only when
// the batch leaves the HELD status. Only one release of a batch runs at a
// time; a concurrent call fails with domain.ErrBatchHeld.
func (o *Orchestrator) ReleaseHeld(ctx context.Context, batchID string) (*CycleResult, error) {
	if _, busy := o.releasing.LoadOrStore(batchID, struct{}{}); busy {
		return nil, fmt.Errorf("%w: %s: release already in progress", domain.ErrBatchHeld, batchID)
	}
	defer o.releasing.Delete(batchID)

	held, err := o.recorder.HeldBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrUnknownBatch, batchID, err)
	}
	batch := held.Batch
	log := o.log.With(zap.String("pool_id", batch.PoolID), zap.String("batch_id", batchID))
	log.Info("releasing held batch", zap.String("reason", held.Reason))

	a, err := o.complete(ctx, log, batch)
	if err != nil {
		return &CycleResult{Batch: batch, Audit: a}, err
	}
	if a.Status == domain.BatchHeld {
		return &CycleResult{Batch: batch, Audit: a}, fmt.Errorf("%w: %s", domain.ErrBatchHeld, a.Error)
	}
	rctx, cancel := o.recordContext(ctx)
	defer cancel()
	if err := o.recorder.ReleaseHeld(rctx, batchID); err != nil {
		return &CycleResult{Batch: batch, Audit: a}, fmt.Errorf("remove held batch %s: %w", batchID, err)
	}

	observability.RecordBatch(string(batch.Algorithm), string(a.Status), len(batch.Transactions), a.FairnessScore, 0)
	batch.OrderedTxIDs = a.OrderedTxIDs
	batch.FairnessScore = a.FairnessScore
	return &CycleResult{Batch: batch, Audit: a}, nil
}

// complete orders (when not yet ordered), proves, submits and records a batch.
func (o *Orchestrator) complete(ctx context.Context, log *zap.Logger, batch domain.OrderedBatch) (*domain.BatchAudit, error) {
	if len(batch.OrderedTxIDs) == 0 {
		res, err := o.engine.Order(ctx, batch.Transactions, batch.Algorithm)
		if err != nil {
			if ctx.Err() != nil {
				return o.interrupt(ctx, log, batch, nil, err)
			}
			log.Error("ordering failed, holding batch", zap.Error(err))
			return o.hold(ctx, log, batch, 0, err)
		}

		if err := ordering.ValidatePermutation(batch.DrainedTxIDs, res.OrderedIDs); err != nil {
			batch.OrderedTxIDs = res.OrderedIDs
			return o.discard(ctx, log, batch, err)
		}

		batch.OrderedTxIDs = res.OrderedIDs
		batch.Transactions = res.Transactions
		batch.FairnessScore = res.FairnessScore
		if res.Seed != nil {
			batch.RandomSeed = res.Seed.Hex()
		}
	}

	proof, attempts, err := o.proofs.Build(ctx, batch)
	if err != nil {
		if errors.Is(err, domain.ErrInterrupted) || ctx.Err() != nil {
			return o.interrupt(ctx, log, batch, nil, err)
		}
		log.Error("proof signing exhausted, holding batch",
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return o.hold(ctx, log, batch, attempts, err)
	}

	outcomes, err := o.submitter.Submit(ctx, batch, batch.Transactions, proof)
	if err != nil && errors.Is(err, domain.ErrInterrupted) {
		return o.interrupt(ctx, log, batch, &proof, err, outcomes...)
	}

	a := newAudit(batch, &proof, audit.BatchStatusOf(outcomes), o.clock().UnixMilli())
	a.Outcomes = outcomes
	if err != nil {
		a.Error = err.Error()
	}

	log.Info("batch processed",
		zap.String("status", string(a.Status)),
		zap.Int("size", len(batch.Transactions)),
		zap.Int("included", a.IncludedCount()),
		zap.Float64("fairness", batch.FairnessScore),
	)
	rctx, cancel := o.recordContext(ctx)
	defer cancel()
	return a, o.recorder.RecordBatch(rctx, a, audit.BuildOutcomes(a, batch.Transactions))
}

func (o *Orchestrator) hold(ctx context.Context, log *zap.Logger, batch domain.OrderedBatch, attempts int, cause error) (*domain.BatchAudit, error) {
	now := o.clock().UnixMilli()
	a := newAudit(batch, nil, domain.BatchHeld, now)
	a.Error = cause.Error()

	held := &domain.HeldBatch{
		Batch:    batch,
		Reason:   cause.Error(),
		Attempts: attempts,
		HeldAt:   now,
	}
	outcomes := audit.BuildOutcomes(a, batch.Transactions)

	rctx, cancel := o.recordContext(ctx)
	defer cancel()
	existing, err := o.recorder.HeldBatch(rctx, batch.BatchID)
	if err == nil && existing != nil {
		// Already held: refresh the audit, keep the original held record.
		return a, o.recorder.RecordBatch(rctx, a, outcomes)
	}
	if err := o.recorder.RecordHeld(rctx, held, a, outcomes); err != nil {
		log.Error("record held batch failed", zap.Error(err))
		return a, err
	}
	return a, nil
}

func (o *Orchestrator) discard(ctx context.Context, log *zap.Logger, batch domain.OrderedBatch, cause error) (*domain.BatchAudit, error) {
	observability.RecordInvariantFailure(batch.PoolID)
	log.Error("ordered set is not a permutation of the drained set, discarding batch",
		zap.Strings("drained", batch.DrainedTxIDs),
		zap.Strings("ordered", batch.OrderedTxIDs),
		zap.Error(cause),
	)

	a := newAudit(batch, nil, domain.BatchDiscarded, o.clock().UnixMilli())
	a.Error = cause.Error()

	rctx, cancel := o.recordContext(ctx)
	defer cancel()
	return a, o.recorder.RecordBatch(rctx, a, audit.BuildOutcomes(a, batch.Transactions))
}

func (o *Orchestrator) interrupt(ctx context.Context, log *zap.Logger, batch domain.OrderedBatch, proof *domain.FairnessProof, cause error, outcomes ...domain.SubmissionOutcome) (*domain.BatchAudit, error) {
	log.Warn("batch interrupted by shutdown", zap.Error(cause))

	a := newAudit(batch, proof, domain.BatchInterrupted, o.clock().UnixMilli())
	a.Outcomes = outcomes
	a.Error = domain.ErrInterrupted.Error()

	recorded := audit.BuildOutcomes(a, batch.Transactions)
	for _, rec := range recorded {
		for _, so := range outcomes {
			if so.TxID == rec.TxID && so.Included {
				rec.Status = domain.TxIncluded
				rec.ErrorKind, rec.Error = "", ""
			}
		}
	}
	rctx, cancel := o.recordContext(ctx)
	defer cancel()
	return a, o.recorder.RecordBatch(rctx, a, recorded)
}

// recordContext keeps audit writes alive after the cycle context is canceled.
func (o *Orchestrator) recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), o.recordTimeout)
}

func (o *Orchestrator) maybeAggregate(ctx context.Context, log *zap.Logger, poolID string, algorithm domain.Algorithm, seq uint64) {
	if o.aggregator == nil || o.aggregateEvery == 0 || seq%o.aggregateEvery != 0 {
		return
	}
	if _, err := o.aggregator.ComputeAndStore(ctx, poolID, algorithm); err != nil && !errors.Is(err, metrics.ErrNoBatches) {
		log.Warn("fairness aggregate failed", zap.Error(err))
	}
}

func newAudit(batch domain.OrderedBatch, proof *domain.FairnessProof, status domain.BatchStatus, completedAt int64) *domain.BatchAudit {
	a := &domain.BatchAudit{
		BatchID:       batch.BatchID,
		PoolID:        batch.PoolID,
		Sequence:      batch.Sequence,
		Algorithm:     batch.Algorithm,
		FairnessScore: batch.FairnessScore,
		OrderedTxIDs:  batch.OrderedTxIDs,
		Status:        status,
		RandomSeed:    batch.RandomSeed,
		CreatedAt:     batch.CreatedAt,
		CompletedAt:   completedAt,
	}
	if proof != nil {
		a.Proof = proof
		a.ProofReference = proof.Signature
	}
	return a
}

func txIDs(txs []domain.PendingTransaction) []string {
	out := make([]string, len(txs))
	for i := range txs {
		out[i] = txs[i].ID
	}
	return out
}
