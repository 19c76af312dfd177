package memory

import (
	"context"
	"errors"
	"testing"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage"
)

func TestTxOutcomeStore_UpsertOverwrites(t *testing.T) {
	store := NewTxOutcomeStore()
	ctx := context.Background()

	held := &domain.TxOutcome{TxID: "tx1", PoolID: "p", Status: domain.TxHeld, BatchID: "p-1", UpdatedAt: 1000}
	if err := store.Upsert(ctx, held); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	included := &domain.TxOutcome{TxID: "tx1", PoolID: "p", Status: domain.TxIncluded, BatchID: "p-1", UpdatedAt: 2000}
	if err := store.Upsert(ctx, included); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "tx1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != domain.TxIncluded {
		t.Errorf("Status = %s, want %s", got.Status, domain.TxIncluded)
	}
}

func TestTxOutcomeStore_UpsertBulkAndGetByBatch(t *testing.T) {
	store := NewTxOutcomeStore()
	ctx := context.Background()

	err := store.UpsertBulk(ctx, []*domain.TxOutcome{
		{TxID: "b", BatchID: "p-1", Status: domain.TxFailed},
		{TxID: "a", BatchID: "p-1", Status: domain.TxIncluded},
		{TxID: "c", BatchID: "p-2", Status: domain.TxIncluded},
	})
	if err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}

	got, err := store.GetByBatch(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetByBatch failed: %v", err)
	}
	if len(got) != 2 || got[0].TxID != "a" || got[1].TxID != "b" {
		t.Errorf("Unexpected outcomes: %+v", got)
	}

	if err := store.UpsertBulk(ctx, []*domain.TxOutcome{{TxID: "d"}, {TxID: ""}}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	if _, err := store.GetByID(ctx, "d"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Partial bulk upsert leaked a row: %v", err)
	}
}
