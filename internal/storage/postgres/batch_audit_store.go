package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage"
)

// BatchAuditStore implements storage.BatchAuditStore using PostgreSQL.
type BatchAuditStore struct {
	pool *Pool
}

// NewBatchAuditStore creates a new BatchAuditStore.
func NewBatchAuditStore(pool *Pool) *BatchAuditStore {
	return &BatchAuditStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BatchAuditStore = (*BatchAuditStore)(nil)

const batchAuditColumns = `
	batch_id, pool_id, sequence, algorithm, fairness_score, ordered_tx_ids,
	proof_reference, proof, outcomes, status, error, random_seed,
	created_at, completed_at
`

// Insert adds a new audit. Returns ErrDuplicateKey if batch_id exists.
func (s *BatchAuditStore) Insert(ctx context.Context, a *domain.BatchAudit) error {
	if a == nil || a.BatchID == "" {
		return storage.ErrInvalidInput
	}
	proof, outcomes, err := encodeAuditJSON(a)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO batch_audits (` + batchAuditColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14
		)
	`

	_, err = s.pool.Exec(ctx, query,
		a.BatchID, a.PoolID, int64(a.Sequence), string(a.Algorithm), a.FairnessScore, orEmpty(a.OrderedTxIDs),
		a.ProofReference, proof, outcomes, string(a.Status), a.Error, a.RandomSeed,
		a.CreatedAt, a.CompletedAt,
	)
	if err != nil {
		return storeError("insert batch audit", err)
	}
	return nil
}

// Replace overwrites an existing audit. Returns ErrNotFound if batch_id does not exist.
func (s *BatchAuditStore) Replace(ctx context.Context, a *domain.BatchAudit) error {
	if a == nil || a.BatchID == "" {
		return storage.ErrInvalidInput
	}
	proof, outcomes, err := encodeAuditJSON(a)
	if err != nil {
		return err
	}

	query := `
		UPDATE batch_audits SET
			pool_id = $2, sequence = $3, algorithm = $4, fairness_score = $5, ordered_tx_ids = $6,
			proof_reference = $7, proof = $8, outcomes = $9, status = $10, error = $11,
			random_seed = $12, created_at = $13, completed_at = $14
		WHERE batch_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		a.BatchID, a.PoolID, int64(a.Sequence), string(a.Algorithm), a.FairnessScore, orEmpty(a.OrderedTxIDs),
		a.ProofReference, proof, outcomes, string(a.Status), a.Error,
		a.RandomSeed, a.CreatedAt, a.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("replace batch audit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves an audit by batch ID. Returns ErrNotFound if not exists.
func (s *BatchAuditStore) GetByID(ctx context.Context, batchID string) (*domain.BatchAudit, error) {
	query := `SELECT ` + batchAuditColumns + ` FROM batch_audits WHERE batch_id = $1`

	a, err := scanBatchAudit(s.pool.QueryRow(ctx, query, batchID))
	if err != nil {
		return nil, storeError("get batch audit by id", err)
	}
	return a, nil
}

// GetByPool retrieves the audits of a pool ordered by sequence ASC.
// With limit > 0 only the most recent limit audits are returned.
func (s *BatchAuditStore) GetByPool(ctx context.Context, poolID string, limit int) ([]*domain.BatchAudit, error) {
	query := `
		SELECT * FROM (
			SELECT ` + batchAuditColumns + ` FROM batch_audits
			WHERE pool_id = $1
			ORDER BY sequence DESC
			LIMIT NULLIF($2, 0)
		) recent
		ORDER BY sequence ASC
	`
	if limit < 0 {
		limit = 0
	}

	rows, err := s.pool.Query(ctx, query, poolID, limit)
	if err != nil {
		return nil, fmt.Errorf("get batch audits by pool: %w", err)
	}
	defer rows.Close()

	return scanBatchAudits(rows)
}

// GetByTimeRange retrieves audits created within [start, end] (inclusive).
func (s *BatchAuditStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.BatchAudit, error) {
	query := `
		SELECT ` + batchAuditColumns + ` FROM batch_audits
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at ASC, batch_id ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get batch audits by time range: %w", err)
	}
	defer rows.Close()

	return scanBatchAudits(rows)
}

func encodeAuditJSON(a *domain.BatchAudit) (proof, outcomes []byte, err error) {
	if a.Proof != nil {
		proof, err = json.Marshal(a.Proof)
		if err != nil {
			return nil, nil, fmt.Errorf("encode proof: %w", err)
		}
	}
	outcomes, err = json.Marshal(orEmpty(a.Outcomes))
	if err != nil {
		return nil, nil, fmt.Errorf("encode outcomes: %w", err)
	}
	return proof, outcomes, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// scanBatchAudit scans a single row into BatchAudit.
func scanBatchAudit(row pgx.Row) (*domain.BatchAudit, error) {
	var (
		a         domain.BatchAudit
		seq       int64
		algorithm string
		status    string
		proof     []byte
		outcomes  []byte
	)
	err := row.Scan(
		&a.BatchID, &a.PoolID, &seq, &algorithm, &a.FairnessScore, &a.OrderedTxIDs,
		&a.ProofReference, &proof, &outcomes, &status, &a.Error, &a.RandomSeed,
		&a.CreatedAt, &a.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Sequence = uint64(seq)
	a.Algorithm = domain.Algorithm(algorithm)
	a.Status = domain.BatchStatus(status)

	if len(proof) > 0 {
		var p domain.FairnessProof
		if err := json.Unmarshal(proof, &p); err != nil {
			return nil, fmt.Errorf("decode proof: %w", err)
		}
		a.Proof = &p
	}
	if len(outcomes) > 0 {
		if err := json.Unmarshal(outcomes, &a.Outcomes); err != nil {
			return nil, fmt.Errorf("decode outcomes: %w", err)
		}
	}
	return &a, nil
}

// scanBatchAudits scans multiple rows into BatchAudit slice.
func scanBatchAudits(rows pgx.Rows) ([]*domain.BatchAudit, error) {
	var result []*domain.BatchAudit
	for rows.Next() {
		a, err := scanBatchAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch audit: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch audits: %w", err)
	}
	return result, nil
}
