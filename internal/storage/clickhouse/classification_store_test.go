package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage"
)

func TestClassificationStore_InsertBulkAndCount(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewClassificationStore(conn)

	err := store.InsertBulk(ctx, []*domain.ClassificationRecord{
		{TxID: "a", PoolID: "pool", RiskLevel: domain.RiskHigh, Patterns: []domain.Pattern{domain.PatternLiquidation}, Fee: "10", ClassifiedAt: 1000},
		{TxID: "b", PoolID: "pool", RiskLevel: domain.RiskHigh, Patterns: []domain.Pattern{domain.PatternSandwich}, Fee: "5", ClassifiedAt: 1100},
		{TxID: "c", PoolID: "pool", RiskLevel: domain.RiskMedium, Patterns: []domain.Pattern{domain.PatternFrontRun}, LowConfidence: true, Fee: "1", ClassifiedAt: 1200},
		{TxID: "d", PoolID: "pool", RiskLevel: domain.RiskNone, Fee: "1", ClassifiedAt: 5000},
		{TxID: "e", PoolID: "other", RiskLevel: domain.RiskHigh, Fee: "1", ClassifiedAt: 1000},
	})
	require.NoError(t, err)

	counts, err := store.CountByLevel(ctx, "pool", 1000, 2000)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.RiskHigh])
	assert.Equal(t, 1, counts[domain.RiskMedium])
	assert.Equal(t, 0, counts[domain.RiskNone])

	assert.ErrorIs(t, store.InsertBulk(ctx, []*domain.ClassificationRecord{{}}), storage.ErrInvalidInput)
}
