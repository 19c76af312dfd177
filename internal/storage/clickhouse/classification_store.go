package clickhouse

import (
	"context"
	"fmt"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage"
)

// ClassificationStore implements storage.ClassificationStore using ClickHouse.
type ClassificationStore struct {
	conn *Conn
}

// NewClassificationStore creates a new ClassificationStore.
func NewClassificationStore(conn *Conn) *ClassificationStore {
	return &ClassificationStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ClassificationStore = (*ClassificationStore)(nil)

// InsertBulk appends classification records using a native batch.
func (s *ClassificationStore) InsertBulk(ctx context.Context, records []*domain.ClassificationRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.TxID == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO classification_events (
			tx_id, pool_id, risk_level, patterns, low_confidence, fee, classified_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		patterns := make([]string, len(r.Patterns))
		for i, p := range r.Patterns {
			patterns[i] = string(p)
		}
		var low uint8
		if r.LowConfidence {
			low = 1
		}
		err = batch.Append(
			r.TxID, r.PoolID, r.RiskLevel.String(), patterns, low, r.Fee, r.ClassifiedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CountByLevel returns classifications per risk level for a pool within [start, end].
func (s *ClassificationStore) CountByLevel(ctx context.Context, poolID string, start, end int64) (map[domain.RiskLevel]int, error) {
	query := `
		SELECT risk_level, count() AS n
		FROM classification_events
		WHERE pool_id = ? AND classified_at >= ? AND classified_at <= ?
		GROUP BY risk_level
	`

	rows, err := s.conn.Query(ctx, query, poolID, start, end)
	if err != nil {
		return nil, fmt.Errorf("count classifications: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.RiskLevel]int)
	for rows.Next() {
		var (
			level string
			n     uint64
		)
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("scan classification count: %w", err)
		}
		rl, err := domain.ParseRiskLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse risk level: %w", err)
		}
		counts[rl] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classification counts: %w", err)
	}
	return counts, nil
}
