package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/storage"
)

func TestFairnessAggregateStore_GetLatest(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewFairnessAggregateStore(conn)

	_, err := store.GetLatest(ctx, "pool", domain.AlgorithmFCFS)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Insert(ctx, &domain.FairnessAggregate{
		PoolID: "pool", Algorithm: domain.AlgorithmFCFS, BatchCount: 4,
		Mean: 0.4, Stddev: 0.1, Min: 0.2, P10: 0.25, P50: 0.4, P90: 0.55, ComputedAt: 1000,
	}))
	require.NoError(t, store.Insert(ctx, &domain.FairnessAggregate{
		PoolID: "pool", Algorithm: domain.AlgorithmFCFS, BatchCount: 8,
		Mean: 0.5, Stddev: 0.1, Min: 0.3, P10: 0.35, P50: 0.5, P90: 0.65, ComputedAt: 2000,
	}))

	got, err := store.GetLatest(ctx, "pool", domain.AlgorithmFCFS)
	require.NoError(t, err)
	assert.Equal(t, 8, got.BatchCount)
	assert.InDelta(t, 0.5, got.Mean, 1e-9)
	assert.Equal(t, int64(2000), got.ComputedAt)
}
