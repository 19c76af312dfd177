package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage"
)

// TxOutcomeStore implements storage.TxOutcomeStore using PostgreSQL.
type TxOutcomeStore struct {
	pool *Pool
}

// NewTxOutcomeStore creates a new TxOutcomeStore.
func NewTxOutcomeStore(pool *Pool) *TxOutcomeStore {
	return &TxOutcomeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TxOutcomeStore = (*TxOutcomeStore)(nil)

const upsertTxOutcomeQuery = `
	INSERT INTO tx_outcomes (tx_id, pool_id, status, state, batch_id, error_kind, error, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (tx_id) DO UPDATE SET
		pool_id = EXCLUDED.pool_id,
		status = EXCLUDED.status,
		state = EXCLUDED.state,
		batch_id = EXCLUDED.batch_id,
		error_kind = EXCLUDED.error_kind,
		error = EXCLUDED.error,
		updated_at = EXCLUDED.updated_at
`

func outcomeArgs(o *domain.TxOutcome) []any {
	return []any{
		o.TxID, o.PoolID, string(o.Status), string(o.State),
		o.BatchID, o.ErrorKind, o.Error, o.UpdatedAt,
	}
}

// Upsert inserts or replaces the outcome of one transaction.
func (s *TxOutcomeStore) Upsert(ctx context.Context, o *domain.TxOutcome) error {
	if o == nil || o.TxID == "" {
		return storage.ErrInvalidInput
	}
	if _, err := s.pool.Exec(ctx, upsertTxOutcomeQuery, outcomeArgs(o)...); err != nil {
		return fmt.Errorf("upsert tx outcome: %w", err)
	}
	return nil
}

// UpsertBulk upserts multiple outcomes in one transaction.
func (s *TxOutcomeStore) UpsertBulk(ctx context.Context, outcomes []*domain.TxOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	for _, o := range outcomes {
		if o == nil || o.TxID == "" {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, o := range outcomes {
		batch.Queue(upsertTxOutcomeQuery, outcomeArgs(o)...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert tx outcomes in bulk: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID retrieves the outcome of a transaction. Returns ErrNotFound if not exists.
func (s *TxOutcomeStore) GetByID(ctx context.Context, txID string) (*domain.TxOutcome, error) {
	query := `
		SELECT tx_id, pool_id, status, state, batch_id, error_kind, error, updated_at
		FROM tx_outcomes WHERE tx_id = $1
	`
	o, err := scanTxOutcome(s.pool.QueryRow(ctx, query, txID))
	if err != nil {
		return nil, storeError("get tx outcome by id", err)
	}
	return o, nil
}

// GetByBatch retrieves the outcomes recorded for a batch, ordered by tx_id.
func (s *TxOutcomeStore) GetByBatch(ctx context.Context, batchID string) ([]*domain.TxOutcome, error) {
	query := `
		SELECT tx_id, pool_id, status, state, batch_id, error_kind, error, updated_at
		FROM tx_outcomes WHERE batch_id = $1
		ORDER BY tx_id ASC
	`
	rows, err := s.pool.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("get tx outcomes by batch: %w", err)
	}
	defer rows.Close()

	var result []*domain.TxOutcome
	for rows.Next() {
		o, err := scanTxOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tx outcome: %w", err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tx outcomes: %w", err)
	}
	return result, nil
}

func scanTxOutcome(row pgx.Row) (*domain.TxOutcome, error) {
	var (
		o      domain.TxOutcome
		status string
		state  string
	)
	err := row.Scan(&o.TxID, &o.PoolID, &status, &state, &o.BatchID, &o.ErrorKind, &o.Error, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = domain.TxStatus(status)
	o.State = domain.ProtectionState(state)
	return &o, nil
}
