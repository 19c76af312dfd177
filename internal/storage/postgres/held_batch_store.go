package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage"
)

// HeldBatchStore implements storage.HeldBatchStore using PostgreSQL.
// The ordered batch, transactions included, is stored as JSONB.
type HeldBatchStore struct {
	pool *Pool
}

// NewHeldBatchStore creates a new HeldBatchStore.
func NewHeldBatchStore(pool *Pool) *HeldBatchStore {
	return &HeldBatchStore{pool: pool}
}

// Compile-time interface check.
var _ storage.HeldBatchStore = (*HeldBatchStore)(nil)

// Insert adds a held batch. Returns ErrDuplicateKey if batch_id exists.
func (s *HeldBatchStore) Insert(ctx context.Context, h *domain.HeldBatch) error {
	if h == nil || h.Batch.BatchID == "" {
		return storage.ErrInvalidInput
	}
	batch, err := json.Marshal(h.Batch)
	if err != nil {
		return fmt.Errorf("encode held batch: %w", err)
	}

	query := `
		INSERT INTO held_batches (batch_id, pool_id, batch, reason, attempts, held_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.pool.Exec(ctx, query,
		h.Batch.BatchID, h.Batch.PoolID, batch, h.Reason, h.Attempts, h.HeldAt,
	)
	if err != nil {
		return storeError("insert held batch", err)
	}
	return nil
}

// GetByID retrieves a held batch. Returns ErrNotFound if not exists.
func (s *HeldBatchStore) GetByID(ctx context.Context, batchID string) (*domain.HeldBatch, error) {
	query := `SELECT batch, reason, attempts, held_at FROM held_batches WHERE batch_id = $1`

	h, err := scanHeldBatch(s.pool.QueryRow(ctx, query, batchID))
	if err != nil {
		return nil, storeError("get held batch by id", err)
	}
	return h, nil
}

// List returns all held batches ordered by held_at ASC.
func (s *HeldBatchStore) List(ctx context.Context) ([]*domain.HeldBatch, error) {
	query := `
		SELECT batch, reason, attempts, held_at FROM held_batches
		ORDER BY held_at ASC, batch_id ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list held batches: %w", err)
	}
	defer rows.Close()

	var result []*domain.HeldBatch
	for rows.Next() {
		h, err := scanHeldBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan held batch: %w", err)
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate held batches: %w", err)
	}
	return result, nil
}

// Delete removes a held batch. Returns ErrNotFound if not exists.
func (s *HeldBatchStore) Delete(ctx context.Context, batchID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM held_batches WHERE batch_id = $1`, batchID)
	if err != nil {
		return fmt.Errorf("delete held batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanHeldBatch(row pgx.Row) (*domain.HeldBatch, error) {
	var (
		h     domain.HeldBatch
		batch []byte
	)
	if err := row.Scan(&batch, &h.Reason, &h.Attempts, &h.HeldAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(batch, &h.Batch); err != nil {
		return nil, fmt.Errorf("decode held batch: %w", err)
	}
	return &h, nil
}
