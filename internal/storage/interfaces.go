package storage

import (
	"context"

	"fair-sequencer/internal/domain"
)

// BatchAuditStore provides access to batch_audits storage.
type BatchAuditStore interface {
	// Insert adds a new audit. Returns ErrDuplicateKey if batch_id exists.
	Insert(ctx context.Context, a *domain.BatchAudit) error

	// Replace overwrites an existing audit (a released held batch).
	// Returns ErrNotFound if batch_id does not exist.
	Replace(ctx context.Context, a *domain.BatchAudit) error

	// GetByID retrieves an audit by batch ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, batchID string) (*domain.BatchAudit, error)

	// GetByPool retrieves the audits of a pool ordered by sequence ASC.
	// limit <= 0 returns all.
	GetByPool(ctx context.Context, poolID string, limit int) ([]*domain.BatchAudit, error)

	// GetByTimeRange retrieves audits created within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.BatchAudit, error)
}

// HeldBatchStore provides access to held_batches storage.
type HeldBatchStore interface {
	// Insert adds a held batch. Returns ErrDuplicateKey if batch_id exists.
	Insert(ctx context.Context, h *domain.HeldBatch) error

	// GetByID retrieves a held batch. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, batchID string) (*domain.HeldBatch, error)

	// List returns all held batches ordered by held_at ASC.
	List(ctx context.Context) ([]*domain.HeldBatch, error)

	// Delete removes a held batch. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, batchID string) error
}

// TxOutcomeStore provides access to tx_outcomes storage. Outcomes are
// upserted: the latest outcome of a transaction wins.
type TxOutcomeStore interface {
	// Upsert inserts or replaces the outcome of one transaction.
	Upsert(ctx context.Context, o *domain.TxOutcome) error

	// UpsertBulk upserts multiple outcomes atomically.
	UpsertBulk(ctx context.Context, outcomes []*domain.TxOutcome) error

	// GetByID retrieves the outcome of a transaction. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, txID string) (*domain.TxOutcome, error)

	// GetByBatch retrieves the outcomes recorded for a batch.
	GetByBatch(ctx context.Context, batchID string) ([]*domain.TxOutcome, error)
}

// ClassificationStore provides access to classification_events storage.
type ClassificationStore interface {
	// InsertBulk appends classification records.
	InsertBulk(ctx context.Context, records []*domain.ClassificationRecord) error

	// CountByLevel returns the number of classifications per risk level for a
	// pool within [start, end] (inclusive).
	CountByLevel(ctx context.Context, poolID string, start, end int64) (map[domain.RiskLevel]int, error)
}

// FairnessAggregateStore provides access to fairness_aggregates storage.
type FairnessAggregateStore interface {
	// Insert appends an aggregate snapshot.
	Insert(ctx context.Context, a *domain.FairnessAggregate) error

	// GetLatest returns the most recent aggregate of a pool and algorithm.
	// Returns ErrNotFound if none exists.
	GetLatest(ctx context.Context, poolID string, algorithm domain.Algorithm) (*domain.FairnessAggregate, error)
}

// Stores groups the stores the sequencer writes to.
type Stores struct {
	Audits         BatchAuditStore
	Held           HeldBatchStore
	Outcomes       TxOutcomeStore
	Classification ClassificationStore
	Fairness       FairnessAggregateStore
}
