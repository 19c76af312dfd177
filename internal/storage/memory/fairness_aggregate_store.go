package memory

import (
	"context"
	"sync"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage"
)

// FairnessAggregateStore is an in-memory implementation of storage.FairnessAggregateStore.
type FairnessAggregateStore struct {
	mu   sync.RWMutex
	data map[string][]domain.FairnessAggregate // keyed by pool_id|algorithm, append order
}

// NewFairnessAggregateStore creates a new in-memory aggregate store.
func NewFairnessAggregateStore() *FairnessAggregateStore {
	return &FairnessAggregateStore{
		data: make(map[string][]domain.FairnessAggregate),
	}
}

var _ storage.FairnessAggregateStore = (*FairnessAggregateStore)(nil)

// Insert appends an aggregate snapshot.
func (s *FairnessAggregateStore) Insert(_ context.Context, a *domain.FairnessAggregate) error {
	if a == nil || a.PoolID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := a.PoolID + "|" + string(a.Algorithm)
	s.data[key] = append(s.data[key], *a)
	return nil
}

// GetLatest returns the most recent aggregate of a pool and algorithm.
func (s *FairnessAggregateStore) GetLatest(_ context.Context, poolID string, algorithm domain.Algorithm) (*domain.FairnessAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.data[poolID+"|"+string(algorithm)]
	if len(list) == 0 {
		return nil, storage.ErrNotFound
	}
	latest := list[0]
	for _, a := range list[1:] {
		if a.ComputedAt >= latest.ComputedAt {
			latest = a
		}
	}
	return &latest, nil
}
