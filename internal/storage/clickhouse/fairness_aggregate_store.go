package clickhouse

import (
	"context"
	"fmt"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage"
)

// FairnessAggregateStore implements storage.FairnessAggregateStore using ClickHouse.
// Snapshots are append-only; the latest computed_at wins on read.
type FairnessAggregateStore struct {
	conn *Conn
}

// NewFairnessAggregateStore creates a new FairnessAggregateStore.
func NewFairnessAggregateStore(conn *Conn) *FairnessAggregateStore {
	return &FairnessAggregateStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FairnessAggregateStore = (*FairnessAggregateStore)(nil)

// Insert appends an aggregate snapshot.
func (s *FairnessAggregateStore) Insert(ctx context.Context, a *domain.FairnessAggregate) error {
	if a == nil || a.PoolID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO fairness_aggregates (
			pool_id, algorithm, batch_count,
			mean, stddev, min, p10, p50, p90,
			computed_at
		) VALUES (
			?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?
		)
	`

	err := s.conn.Exec(ctx, query,
		a.PoolID, string(a.Algorithm), uint32(a.BatchCount),
		a.Mean, a.Stddev, a.Min, a.P10, a.P50, a.P90,
		a.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fairness aggregate: %w", err)
	}
	return nil
}

// GetLatest returns the most recent aggregate of a pool and algorithm.
func (s *FairnessAggregateStore) GetLatest(ctx context.Context, poolID string, algorithm domain.Algorithm) (*domain.FairnessAggregate, error) {
	query := `
		SELECT
			pool_id, algorithm, batch_count,
			mean, stddev, min, p10, p50, p90,
			computed_at
		FROM fairness_aggregates
		WHERE pool_id = ? AND algorithm = ?
		ORDER BY computed_at DESC
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, poolID, string(algorithm))
	if err != nil {
		return nil, fmt.Errorf("query latest fairness aggregate: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate fairness aggregates: %w", err)
		}
		return nil, storage.ErrNotFound
	}

	var (
		a     domain.FairnessAggregate
		alg   string
		count uint32
	)
	err = rows.Scan(
		&a.PoolID, &alg, &count,
		&a.Mean, &a.Stddev, &a.Min, &a.P10, &a.P50, &a.P90,
		&a.ComputedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan fairness aggregate: %w", err)
	}
	a.Algorithm = domain.Algorithm(alg)
	a.BatchCount = int(count)
	return &a, nil
}
