package memory

import (
	"context"
	"errors"
	"testing"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage"
)

func TestClassificationStore_CountByLevel(t *testing.T) {
	store := NewClassificationStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.ClassificationRecord{
		{TxID: "a", PoolID: "p", RiskLevel: domain.RiskHigh, ClassifiedAt: 1000},
		{TxID: "b", PoolID: "p", RiskLevel: domain.RiskHigh, ClassifiedAt: 1500},
		{TxID: "c", PoolID: "p", RiskLevel: domain.RiskNone, ClassifiedAt: 2000},
		{TxID: "d", PoolID: "p", RiskLevel: domain.RiskHigh, ClassifiedAt: 9000},
		{TxID: "e", PoolID: "q", RiskLevel: domain.RiskHigh, ClassifiedAt: 1000},
	})
	if err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	counts, err := store.CountByLevel(ctx, "p", 1000, 2000)
	if err != nil {
		t.Fatalf("CountByLevel failed: %v", err)
	}
	if counts[domain.RiskHigh] != 2 {
		t.Errorf("HIGH = %d, want 2", counts[domain.RiskHigh])
	}
	if counts[domain.RiskNone] != 1 {
		t.Errorf("NONE = %d, want 1", counts[domain.RiskNone])
	}
	if store.Len() != 5 {
		t.Errorf("Len = %d, want 5", store.Len())
	}
}

func TestFairnessAggregateStore_GetLatest(t *testing.T) {
	store := NewFairnessAggregateStore()
	ctx := context.Background()

	if _, err := store.GetLatest(ctx, "p", domain.AlgorithmFCFS); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	_ = store.Insert(ctx, &domain.FairnessAggregate{PoolID: "p", Algorithm: domain.AlgorithmFCFS, Mean: 0.4, ComputedAt: 1000})
	_ = store.Insert(ctx, &domain.FairnessAggregate{PoolID: "p", Algorithm: domain.AlgorithmFCFS, Mean: 0.6, ComputedAt: 3000})
	_ = store.Insert(ctx, &domain.FairnessAggregate{PoolID: "p", Algorithm: domain.AlgorithmRandomized, Mean: 0.9, ComputedAt: 5000})

	got, err := store.GetLatest(ctx, "p", domain.AlgorithmFCFS)
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if got.Mean != 0.6 {
		t.Errorf("Mean = %f, want 0.6", got.Mean)
	}
}
