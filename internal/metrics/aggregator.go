package metrics

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage"
)

// ErrNoBatches is returned when no audited batches are available for aggregation.
var ErrNoBatches = errors.New("no batches available for aggregation")

// Aggregator computes per-pool fairness aggregates from batch audits.
type Aggregator struct {
	audits     storage.BatchAuditStore
	aggregates storage.FairnessAggregateStore
	window     int
	log        *zap.Logger
	now        func() time.Time
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithWindow limits aggregation to the most recent n audits of a pool.
func WithWindow(n int) AggregatorOption {
	return func(a *Aggregator) { a.window = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) AggregatorOption {
	return func(a *Aggregator) { a.log = l.Named("metrics") }
}

// WithClock overrides the time source used for ComputedAt.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates a new fairness aggregator.
func NewAggregator(audits storage.BatchAuditStore, aggregates storage.FairnessAggregateStore, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		audits:     audits,
		aggregates: aggregates,
		window:     1000,
		log:        zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ComputeAggregate computes the aggregate of (pool_id, algorithm).
// Discarded batches carry no meaningful score and are skipped.
// Returns ErrNoBatches if no audit matches.
func (a *Aggregator) ComputeAggregate(ctx context.Context, poolID string, algorithm domain.Algorithm) (*domain.FairnessAggregate, error) {
	audits, err := a.audits.GetByPool(ctx, poolID, a.window)
	if err != nil {
		return nil, err
	}

	var filtered []*domain.BatchAudit
	for _, au := range audits {
		if au.Algorithm == algorithm && au.Status != domain.BatchDiscarded {
			filtered = append(filtered, au)
		}
	}
	if len(filtered) == 0 {
		return nil, ErrNoBatches
	}

	agg := computeFromAudits(filtered)
	agg.PoolID = poolID
	agg.Algorithm = algorithm
	agg.ComputedAt = a.now().UnixMilli()
	return agg, nil
}

// ComputeAndStore computes and persists the aggregate.
func (a *Aggregator) ComputeAndStore(ctx context.Context, poolID string, algorithm domain.Algorithm) (*domain.FairnessAggregate, error) {
	agg, err := a.ComputeAggregate(ctx, poolID, algorithm)
	if err != nil {
		return nil, err
	}
	if err := a.aggregates.Insert(ctx, agg); err != nil {
		return nil, err
	}

	a.log.Debug("fairness aggregate stored",
		zap.String("pool_id", poolID),
		zap.String("algorithm", algorithm.String()),
		zap.Int("batches", agg.BatchCount),
		zap.Float64("mean", agg.Mean),
	)
	return agg, nil
}
