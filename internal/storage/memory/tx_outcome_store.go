package memory

import (
	"context"
	"sort"
	"sync"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage"
)

// TxOutcomeStore is an in-memory implementation of storage.TxOutcomeStore.
type TxOutcomeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TxOutcome // keyed by tx_id
}

// NewTxOutcomeStore creates a new in-memory outcome store.
func NewTxOutcomeStore() *TxOutcomeStore {
	return &TxOutcomeStore{
		data: make(map[string]*domain.TxOutcome),
	}
}

var _ storage.TxOutcomeStore = (*TxOutcomeStore)(nil)

// Upsert inserts or replaces the outcome of one transaction.
func (s *TxOutcomeStore) Upsert(_ context.Context, o *domain.TxOutcome) error {
	if o == nil || o.TxID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *o
	s.data[o.TxID] = &c
	return nil
}

// UpsertBulk upserts multiple outcomes atomically.
func (s *TxOutcomeStore) UpsertBulk(_ context.Context, outcomes []*domain.TxOutcome) error {
	for _, o := range outcomes {
		if o == nil || o.TxID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range outcomes {
		c := *o
		s.data[o.TxID] = &c
	}
	return nil
}

// GetByID retrieves the outcome of a transaction.
func (s *TxOutcomeStore) GetByID(_ context.Context, txID string) (*domain.TxOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.data[txID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *o
	return &c, nil
}

// GetByBatch retrieves the outcomes recorded for a batch, ordered by tx_id.
func (s *TxOutcomeStore) GetByBatch(_ context.Context, batchID string) ([]*domain.TxOutcome, error) {
	s.mu.RLock()
	var result []*domain.TxOutcome
	for _, o := range s.data {
		if o.BatchID == batchID {
			c := *o
			result = append(result, &c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].TxID < result[j].TxID })
	return result, nil
}
