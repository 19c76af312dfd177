package memory

import (
	"context"
	"sync"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage"
)

// ClassificationStore is an in-memory implementation of storage.ClassificationStore.
type ClassificationStore struct {
	mu      sync.RWMutex
	records []domain.ClassificationRecord
}

// NewClassificationStore creates a new in-memory classification store.
func NewClassificationStore() *ClassificationStore {
	return &ClassificationStore{}
}

var _ storage.ClassificationStore = (*ClassificationStore)(nil)

// InsertBulk appends classification records.
func (s *ClassificationStore) InsertBulk(_ context.Context, records []*domain.ClassificationRecord) error {
	for _, r := range records {
		if r == nil || r.TxID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		c := *r
		c.Patterns = append([]domain.Pattern(nil), r.Patterns...)
		s.records = append(s.records, c)
	}
	return nil
}

// CountByLevel returns classifications per risk level for a pool within [start, end].
func (s *ClassificationStore) CountByLevel(_ context.Context, poolID string, start, end int64) (map[domain.RiskLevel]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.RiskLevel]int)
	for _, r := range s.records {
		if r.PoolID == poolID && r.ClassifiedAt >= start && r.ClassifiedAt <= end {
			counts[r.RiskLevel]++
		}
	}
	return counts, nil
}

// Len returns the number of stored records.
func (s *ClassificationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
