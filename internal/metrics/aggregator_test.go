package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage/memory"
)

func insertAudit(t *testing.T, store *memory.BatchAuditStore, seq uint64, alg domain.Algorithm, status domain.BatchStatus, score float64) {
	t.Helper()
	err := store.Insert(context.Background(), &domain.BatchAudit{
		BatchID:       fmt.Sprintf("pool-%d", seq),
		PoolID:        "pool",
		Sequence:      seq,
		Algorithm:     alg,
		Status:        status,
		FairnessScore: score,
		CreatedAt:     int64(seq) * 1000,
	})
	if err != nil {
		t.Fatalf("insert audit: %v", err)
	}
}

func TestAggregator_ComputeAndStore(t *testing.T) {
	ctx := context.Background()
	audits := memory.NewBatchAuditStore()
	aggs := memory.NewFairnessAggregateStore()

	insertAudit(t, audits, 1, domain.AlgorithmRandomized, domain.BatchSubmitted, 0.4)
	insertAudit(t, audits, 2, domain.AlgorithmRandomized, domain.BatchPartial, 0.6)
	insertAudit(t, audits, 3, domain.AlgorithmRandomized, domain.BatchDiscarded, 0.0)
	insertAudit(t, audits, 4, domain.AlgorithmFCFS, domain.BatchSubmitted, 0.1)

	now := time.UnixMilli(42_000)
	agg := NewAggregator(audits, aggs, WithClock(func() time.Time { return now }))

	got, err := agg.ComputeAndStore(ctx, "pool", domain.AlgorithmRandomized)
	if err != nil {
		t.Fatalf("ComputeAndStore: %v", err)
	}
	if got.BatchCount != 2 {
		t.Errorf("expected 2 batches (discarded and FCFS excluded), got %d", got.BatchCount)
	}
	if got.Mean != 0.5 {
		t.Errorf("expected Mean 0.5, got %f", got.Mean)
	}
	if got.ComputedAt != 42_000 {
		t.Errorf("expected ComputedAt 42000, got %d", got.ComputedAt)
	}

	stored, err := aggs.GetLatest(ctx, "pool", domain.AlgorithmRandomized)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if stored.BatchCount != 2 {
		t.Errorf("stored aggregate mismatch: %+v", stored)
	}
}

func TestAggregator_Window(t *testing.T) {
	ctx := context.Background()
	audits := memory.NewBatchAuditStore()

	insertAudit(t, audits, 1, domain.AlgorithmFCFS, domain.BatchSubmitted, 0.0)
	insertAudit(t, audits, 2, domain.AlgorithmFCFS, domain.BatchSubmitted, 1.0)
	insertAudit(t, audits, 3, domain.AlgorithmFCFS, domain.BatchSubmitted, 1.0)

	agg := NewAggregator(audits, memory.NewFairnessAggregateStore(), WithWindow(2))
	got, err := agg.ComputeAggregate(ctx, "pool", domain.AlgorithmFCFS)
	if err != nil {
		t.Fatalf("ComputeAggregate: %v", err)
	}
	if got.BatchCount != 2 || got.Mean != 1.0 {
		t.Errorf("window not applied: %+v", got)
	}
}

func TestAggregator_NoBatches(t *testing.T) {
	agg := NewAggregator(memory.NewBatchAuditStore(), memory.NewFairnessAggregateStore())
	_, err := agg.ComputeAggregate(context.Background(), "pool", domain.AlgorithmFCFS)
	if !errors.Is(err, ErrNoBatches) {
		t.Errorf("expected ErrNoBatches, got %v", err)
	}
}
