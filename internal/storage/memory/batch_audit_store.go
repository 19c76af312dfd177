package memory

import (
	"context"
	"sort"
	"sync"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage"
)

// BatchAuditStore is an in-memory implementation of storage.BatchAuditStore.
type BatchAuditStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BatchAudit // keyed by batch_id
}

// NewBatchAuditStore creates a new in-memory batch audit store.
func NewBatchAuditStore() *BatchAuditStore {
	return &BatchAuditStore{
		data: make(map[string]*domain.BatchAudit),
	}
}

var _ storage.BatchAuditStore = (*BatchAuditStore)(nil)

// Insert adds a new audit. Returns ErrDuplicateKey if batch_id exists.
func (s *BatchAuditStore) Insert(_ context.Context, a *domain.BatchAudit) error {
	if a == nil || a.BatchID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.BatchID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[a.BatchID] = cloneAudit(a)
	return nil
}

// Replace overwrites an existing audit.
func (s *BatchAuditStore) Replace(_ context.Context, a *domain.BatchAudit) error {
	if a == nil || a.BatchID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.BatchID]; !exists {
		return storage.ErrNotFound
	}
	s.data[a.BatchID] = cloneAudit(a)
	return nil
}

// GetByID retrieves an audit by batch ID.
func (s *BatchAuditStore) GetByID(_ context.Context, batchID string) (*domain.BatchAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data[batchID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneAudit(a), nil
}

// GetByPool retrieves the audits of a pool ordered by sequence ASC.
func (s *BatchAuditStore) GetByPool(_ context.Context, poolID string, limit int) ([]*domain.BatchAudit, error) {
	s.mu.RLock()
	var result []*domain.BatchAudit
	for _, a := range s.data {
		if a.PoolID == poolID {
			result = append(result, cloneAudit(a))
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Sequence < result[j].Sequence
	})
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// GetByTimeRange retrieves audits created within [start, end].
func (s *BatchAuditStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.BatchAudit, error) {
	s.mu.RLock()
	var result []*domain.BatchAudit
	for _, a := range s.data {
		if a.CreatedAt >= start && a.CreatedAt <= end {
			result = append(result, cloneAudit(a))
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].BatchID < result[j].BatchID
	})
	return result, nil
}

func cloneAudit(a *domain.BatchAudit) *domain.BatchAudit {
	c := *a
	c.OrderedTxIDs = append([]string(nil), a.OrderedTxIDs...)
	c.Outcomes = append([]domain.SubmissionOutcome(nil), a.Outcomes...)
	if a.Proof != nil {
		p := *a.Proof
		c.Proof = &p
	}
	return &c
}
