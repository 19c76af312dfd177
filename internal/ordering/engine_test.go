package ordering

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/randomness"
)

func tx(id string, fee int64, submittedAt int64) domain.PendingTransaction {
	return domain.PendingTransaction{
		ID:          id,
		PoolID:      "pool-1",
		Sender:      "s",
		Target:      "t",
		Fee:         decimal.NewFromInt(fee),
		SubmittedAt: submittedAt,
		State:       domain.StateOpen,
	}
}

func revealed(id string, fee, submittedAt, revealedAt int64) domain.PendingTransaction {
	t := tx(id, fee, submittedAt)
	t.RequiresCommit = true
	t.State = domain.StateRevealed
	t.RevealedAt = revealedAt
	return t
}

type failingSeed struct{}

func (failingSeed) GetRandom(context.Context, uint64, uint64) (randomness.Value, error) {
	return randomness.Value{}, errors.New("down")
}

func (failingSeed) GetRandomPermutationSeed(context.Context) (randomness.Seed, error) {
	return randomness.Seed{}, errors.New("down")
}

func TestOrder_Scenarios(t *testing.T) {
	a := tx("A", 10, 0)
	b := tx("B", 100, 1)
	engine := NewEngine(nil)

	tests := []struct {
		name      string
		algorithm domain.Algorithm
		want      []string
	}{
		{"fcfs keeps submission order", domain.AlgorithmFCFS, []string{"A", "B"}},
		{"priority puts higher fee first", domain.AlgorithmPriorityByFee, []string{"B", "A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := engine.Order(context.Background(), []domain.PendingTransaction{a, b}, tt.algorithm)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.OrderedIDs)
			assert.Nil(t, res.Seed)
		})
	}
}

func TestOrder_FCFSTieBreaksByID(t *testing.T) {
	res, err := NewEngine(nil).Order(context.Background(), []domain.PendingTransaction{
		tx("c", 1, 5), tx("a", 1, 5), tx("b", 1, 4),
	}, domain.AlgorithmFCFS)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, res.OrderedIDs)
}

func TestOrder_PriorityTieBreaks(t *testing.T) {
	res, err := NewEngine(nil).Order(context.Background(), []domain.PendingTransaction{
		tx("late", 50, 9), tx("early", 50, 3), tx("z", 50, 3), tx("cheap", 1, 0),
	}, domain.AlgorithmPriorityByFee)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "z", "late", "cheap"}, res.OrderedIDs)
}

func TestOrder_CommitRevealAwareUsesRevealTime(t *testing.T) {
	res, err := NewEngine(nil).Order(context.Background(), []domain.PendingTransaction{
		revealed("gated", 10, 0, 900),
		tx("plain", 10, 500),
		revealed("gated-2", 10, 100, 200),
	}, domain.AlgorithmCommitRevealAware)
	require.NoError(t, err)
	assert.Equal(t, []string{"gated-2", "plain", "gated"}, res.OrderedIDs)
}

func TestOrder_RandomizedIsSeedDeterministic(t *testing.T) {
	var txs []domain.PendingTransaction
	for i := 0; i < 20; i++ {
		txs = append(txs, tx(fmt.Sprintf("tx-%02d", i), int64(i+1), int64(i)))
	}

	seed := [32]byte{1, 2, 3}
	first, err := NewEngine(randomness.NewSeededProvider(seed)).Order(context.Background(), txs, domain.AlgorithmRandomized)
	require.NoError(t, err)
	second, err := NewEngine(randomness.NewSeededProvider(seed)).Order(context.Background(), txs, domain.AlgorithmRandomized)
	require.NoError(t, err)

	require.NotNil(t, first.Seed)
	assert.Equal(t, first.OrderedIDs, second.OrderedIDs)
	assert.NoError(t, ValidatePermutation(ids(txs), first.OrderedIDs))

	// Replaying the recorded seed reproduces the order regardless of input order.
	reversed := make([]domain.PendingTransaction, len(txs))
	for i := range txs {
		reversed[len(txs)-1-i] = txs[i]
	}
	Shuffle(reversed, first.Seed.Seed)
	assert.Equal(t, first.OrderedIDs, ids(reversed))
}

func TestOrder_RandomizedWithoutProvider(t *testing.T) {
	_, err := NewEngine(failingSeed{}).Order(context.Background(), []domain.PendingTransaction{tx("a", 1, 0)}, domain.AlgorithmRandomized)
	assert.ErrorIs(t, err, domain.ErrRandomness)
	assert.ErrorIs(t, err, domain.ErrDependencyFailure)

	_, err = NewEngine(nil).Order(context.Background(), []domain.PendingTransaction{tx("a", 1, 0)}, domain.AlgorithmRandomized)
	assert.ErrorIs(t, err, domain.ErrRandomness)
}

func TestOrder_UnknownAlgorithm(t *testing.T) {
	_, err := NewEngine(nil).Order(context.Background(), nil, "LIFO")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestOrder_DoesNotMutateInput(t *testing.T) {
	in := []domain.PendingTransaction{tx("a", 1, 0), tx("b", 9, 1)}
	_, err := NewEngine(nil).Order(context.Background(), in, domain.AlgorithmPriorityByFee)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(in))
}

func TestValidatePermutation(t *testing.T) {
	assert.NoError(t, ValidatePermutation([]string{"a", "b"}, []string{"b", "a"}))
	assert.ErrorIs(t, ValidatePermutation([]string{"a", "b"}, []string{"a"}), domain.ErrPermutation)
	assert.ErrorIs(t, ValidatePermutation([]string{"a", "b"}, []string{"a", "a"}), domain.ErrPermutation)
	assert.ErrorIs(t, ValidatePermutation([]string{"a", "b"}, []string{"a", "c"}), domain.ErrPermutation)
	assert.ErrorIs(t, ValidatePermutation([]string{"a"}, []string{"b"}), domain.ErrInvariantViolation)
}

func ids(txs []domain.PendingTransaction) []string {
	out := make([]string, len(txs))
	for i := range txs {
		out[i] = txs[i].ID
	}
	return out
}
