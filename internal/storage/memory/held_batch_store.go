package memory

import (
	"context"
	"sort"
	"sync"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage"
)

// HeldBatchStore is an in-memory implementation of storage.HeldBatchStore.
type HeldBatchStore struct {
	mu   sync.RWMutex
	data map[string]*domain.HeldBatch // keyed by batch_id
}

// NewHeldBatchStore creates a new in-memory held batch store.
func NewHeldBatchStore() *HeldBatchStore {
	return &HeldBatchStore{
		data: make(map[string]*domain.HeldBatch),
	}
}

var _ storage.HeldBatchStore = (*HeldBatchStore)(nil)

// Insert adds a held batch. Returns ErrDuplicateKey if batch_id exists.
func (s *HeldBatchStore) Insert(_ context.Context, h *domain.HeldBatch) error {
	if h == nil || h.Batch.BatchID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[h.Batch.BatchID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[h.Batch.BatchID] = cloneHeld(h)
	return nil
}

// GetByID retrieves a held batch.
func (s *HeldBatchStore) GetByID(_ context.Context, batchID string) (*domain.HeldBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.data[batchID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneHeld(h), nil
}

// List returns all held batches ordered by held_at ASC.
func (s *HeldBatchStore) List(_ context.Context) ([]*domain.HeldBatch, error) {
	s.mu.RLock()
	result := make([]*domain.HeldBatch, 0, len(s.data))
	for _, h := range s.data {
		result = append(result, cloneHeld(h))
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].HeldAt != result[j].HeldAt {
			return result[i].HeldAt < result[j].HeldAt
		}
		return result[i].Batch.BatchID < result[j].Batch.BatchID
	})
	return result, nil
}

// Delete removes a held batch.
func (s *HeldBatchStore) Delete(_ context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[batchID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.data, batchID)
	return nil
}

func cloneHeld(h *domain.HeldBatch) *domain.HeldBatch {
	c := *h
	b := h.Batch
	b.OrderedTxIDs = append([]string(nil), b.OrderedTxIDs...)
	b.DrainedTxIDs = append([]string(nil), b.DrainedTxIDs...)
	b.Transactions = make([]domain.PendingTransaction, len(h.Batch.Transactions))
	for i := range h.Batch.Transactions {
		b.Transactions[i] = h.Batch.Transactions[i].Clone()
	}
	c.Batch = b
	return &c
}
