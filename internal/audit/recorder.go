// Package audit persists what happened to every batch and transaction:
// batch audits, held batches, per-transaction outcomes and classification
// events, and mirrors them onto an optional event stream.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fair-sequencer/internal/commitreveal"
	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/observability"
	"fair-sequencer/internal/risk"
	"fair-sequencer/internal/storage"
)

// Publisher mirrors audit records onto an external stream.
type Publisher interface {
	PublishBatch(ctx context.Context, a *domain.BatchAudit) error
	PublishOutcomes(ctx context.Context, outcomes []*domain.TxOutcome) error
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithPublisher mirrors every record onto p. Publish failures are logged
// and never fail the record.
func WithPublisher(p Publisher) Option {
	return func(r *Recorder) { r.pub = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) { r.clock = clock }
}

// Recorder writes audit records to the configured stores.
type Recorder struct {
	stores storage.Stores
	pub    Publisher
	log    *zap.Logger
	clock  func() time.Time
}

var _ commitreveal.Reporter = (*Recorder)(nil)

// NewRecorder creates a recorder over stores.
func NewRecorder(stores storage.Stores, opts ...Option) *Recorder {
	r := &Recorder{
		stores: stores,
		log:    zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Named("audit")
	return r
}

// ReportTerminal records a transaction that left its pool as EXPIRED or
// REJECTED.
func (r *Recorder) ReportTerminal(ctx context.Context, tx domain.PendingTransaction, cause error) {
	status := domain.TxRejected
	if tx.State == domain.StateExpired {
		status = domain.TxExpired
	}
	o := &domain.TxOutcome{
		TxID:      tx.ID,
		PoolID:    tx.PoolID,
		Status:    status,
		State:     tx.State,
		ErrorKind: domain.KindOf(cause),
		UpdatedAt: r.clock().UnixMilli(),
	}
	if cause != nil {
		o.Error = cause.Error()
	}

	observability.RecordTxOutcome(string(status))
	if err := r.timed("outcomes", "upsert", func() error {
		return r.stores.Outcomes.Upsert(ctx, o)
	}); err != nil {
		r.log.Error("record terminal outcome failed",
			zap.String("tx_id", tx.ID),
			zap.Error(err),
		)
		return
	}
	r.publishOutcomes(ctx, []*domain.TxOutcome{o})
}

// RecordClassification stores the classifier decision for an admitted
// transaction.
func (r *Recorder) RecordClassification(ctx context.Context, tx domain.PendingTransaction, res risk.Result) error {
	rec := &domain.ClassificationRecord{
		TxID:          tx.ID,
		PoolID:        tx.PoolID,
		RiskLevel:     res.Level,
		Patterns:      res.Patterns,
		LowConfidence: res.LowConfidence,
		Fee:           tx.Fee.String(),
		ClassifiedAt:  tx.SubmittedAt,
	}
	return r.timed("classification", "insert", func() error {
		return r.stores.Classification.InsertBulk(ctx, []*domain.ClassificationRecord{rec})
	})
}

// RecordBatch stores the audit of a finished batch together with the
// outcome of each of its transactions. An audit already present (a held
// batch being released) is replaced.
func (r *Recorder) RecordBatch(ctx context.Context, a *domain.BatchAudit, outcomes []*domain.TxOutcome) error {
	err := r.timed("audits", "insert", func() error {
		return r.stores.Audits.Insert(ctx, a)
	})
	if errors.Is(err, storage.ErrDuplicateKey) {
		err = r.timed("audits", "replace", func() error {
			return r.stores.Audits.Replace(ctx, a)
		})
	}
	if err != nil {
		return fmt.Errorf("store batch audit %s: %w", a.BatchID, err)
	}

	if err := r.timed("outcomes", "upsert_bulk", func() error {
		return r.stores.Outcomes.UpsertBulk(ctx, outcomes)
	}); err != nil {
		return fmt.Errorf("store outcomes of %s: %w", a.BatchID, err)
	}
	for _, o := range outcomes {
		observability.RecordTxOutcome(string(o.Status))
	}

	r.publishBatch(ctx, a)
	r.publishOutcomes(ctx, outcomes)
	return nil
}

// RecordHeld stores a batch whose proof could not be signed, plus its HELD
// audit and outcomes.
func (r *Recorder) RecordHeld(ctx context.Context, held *domain.HeldBatch, a *domain.BatchAudit, outcomes []*domain.TxOutcome) error {
	if err := r.timed("held", "insert", func() error {
		return r.stores.Held.Insert(ctx, held)
	}); err != nil {
		return fmt.Errorf("store held batch %s: %w", held.Batch.BatchID, err)
	}
	if err := r.RecordBatch(ctx, a, outcomes); err != nil {
		return err
	}
	r.refreshHeldGauge(ctx)
	return nil
}

// HeldBatch returns a held batch.
func (r *Recorder) HeldBatch(ctx context.Context, batchID string) (*domain.HeldBatch, error) {
	return r.stores.Held.GetByID(ctx, batchID)
}

// ReleaseHeld removes a held batch after it has been re-processed.
func (r *Recorder) ReleaseHeld(ctx context.Context, batchID string) error {
	if err := r.timed("held", "delete", func() error {
		return r.stores.Held.Delete(ctx, batchID)
	}); err != nil {
		return err
	}
	r.refreshHeldGauge(ctx)
	return nil
}

// TxStatus returns the latest recorded outcome of a transaction.
func (r *Recorder) TxStatus(ctx context.Context, txID string) (*domain.TxOutcome, error) {
	return r.stores.Outcomes.GetByID(ctx, txID)
}

// Audit returns the stored audit of a batch.
func (r *Recorder) Audit(ctx context.Context, batchID string) (*domain.BatchAudit, error) {
	return r.stores.Audits.GetByID(ctx, batchID)
}

func (r *Recorder) refreshHeldGauge(ctx context.Context) {
	held, err := r.stores.Held.List(ctx)
	if err != nil {
		r.log.Warn("list held batches failed", zap.Error(err))
		return
	}
	observability.SetHeldBatches(len(held))
}

func (r *Recorder) publishBatch(ctx context.Context, a *domain.BatchAudit) {
	if r.pub == nil {
		return
	}
	if err := r.pub.PublishBatch(ctx, a); err != nil {
		r.log.Warn("publish batch failed", zap.String("batch_id", a.BatchID), zap.Error(err))
	}
}

func (r *Recorder) publishOutcomes(ctx context.Context, outcomes []*domain.TxOutcome) {
	if r.pub == nil || len(outcomes) == 0 {
		return
	}
	if err := r.pub.PublishOutcomes(ctx, outcomes); err != nil {
		r.log.Warn("publish outcomes failed", zap.Int("count", len(outcomes)), zap.Error(err))
	}
}

func (r *Recorder) timed(store, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	observability.RecordDBQuery(store, op, time.Since(start).Seconds(), err)
	return err
}
