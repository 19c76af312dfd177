// Package ordering turns a drained set of transactions into a final
// sequence.
package ordering

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/randomness"
)

// Result is the output of Order.
type Result struct {
	Transactions  []domain.PendingTransaction // final order
	OrderedIDs    []string
	FairnessScore float64

	// Seed is the permutation seed for RANDOMIZED, nil otherwise.
	Seed *randomness.Seed
}

// Engine applies a pool's ordering algorithm.
type Engine struct {
	random randomness.Provider
}

// NewEngine creates an engine. random is only used by RANDOMIZED.
func NewEngine(random randomness.Provider) *Engine {
	return &Engine{random: random}
}

// Order sorts txs with the given algorithm and scores the result. The input
// slice is not modified.
func (e *Engine) Order(ctx context.Context, txs []domain.PendingTransaction, algorithm domain.Algorithm) (Result, error) {
	out := make([]domain.PendingTransaction, len(txs))
	copy(out, txs)

	var res Result
	switch algorithm {
	case domain.AlgorithmFCFS:
		SortFCFS(out)
	case domain.AlgorithmPriorityByFee:
		SortByFee(out)
	case domain.AlgorithmCommitRevealAware:
		SortByEffectiveTime(out)
	case domain.AlgorithmRandomized:
		if e.random == nil {
			return Result{}, fmt.Errorf("%w: no randomness provider", domain.ErrRandomness)
		}
		seed, err := e.random.GetRandomPermutationSeed(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("%w: permutation seed: %v", domain.ErrRandomness, err)
		}
		Shuffle(out, seed.Seed)
		res.Seed = &seed
	default:
		return Result{}, fmt.Errorf("%w: unknown algorithm %q", domain.ErrInvalidConfig, algorithm)
	}

	res.Transactions = out
	res.OrderedIDs = make([]string, len(out))
	for i := range out {
		res.OrderedIDs[i] = out[i].ID
	}
	res.FairnessScore = FairnessScore(out)
	return res, nil
}

// SortFCFS orders by (submittedAt ASC, id ASC).
func SortFCFS(txs []domain.PendingTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		return compareFCFS(&txs[i], &txs[j]) < 0
	})
}

// SortByFee orders by (fee DESC, submittedAt ASC, id ASC).
func SortByFee(txs []domain.PendingTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		return compareFee(&txs[i], &txs[j]) < 0
	})
}

// SortByEffectiveTime orders by (effective time ASC, id ASC), where the
// effective time of a revealed transaction is its reveal time.
func SortByEffectiveTime(txs []domain.PendingTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		a, b := txs[i].EffectiveTime(), txs[j].EffectiveTime()
		if a != b {
			return a < b
		}
		return txs[i].ID < txs[j].ID
	})
}

// Shuffle puts txs in canonical FCFS order and applies a Fisher-Yates
// shuffle driven by seed. The same set and seed always give the same order.
func Shuffle(txs []domain.PendingTransaction, seed [32]byte) {
	SortFCFS(txs)
	rng := rand.New(rand.NewChaCha8(seed))
	for i := len(txs) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		txs[i], txs[j] = txs[j], txs[i]
	}
}

// ValidatePermutation checks that ordered holds exactly the ids in drained.
func ValidatePermutation(drained, ordered []string) error {
	if len(drained) != len(ordered) {
		return fmt.Errorf("%w: drained %d, ordered %d", domain.ErrPermutation, len(drained), len(ordered))
	}
	counts := make(map[string]int, len(drained))
	for _, id := range drained {
		counts[id]++
	}
	for _, id := range ordered {
		counts[id]--
		if counts[id] < 0 {
			return fmt.Errorf("%w: unexpected or repeated id %s", domain.ErrPermutation, id)
		}
	}
	return nil
}

// compareFCFS returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (submittedAt ASC, id ASC)
func compareFCFS(a, b *domain.PendingTransaction) int {
	if a.SubmittedAt != b.SubmittedAt {
		if a.SubmittedAt < b.SubmittedAt {
			return -1
		}
		return 1
	}
	if a.ID != b.ID {
		if a.ID < b.ID {
			return -1
		}
		return 1
	}
	return 0
}

// compareFee orders by (fee DESC, submittedAt ASC, id ASC).
func compareFee(a, b *domain.PendingTransaction) int {
	if c := a.Fee.Cmp(b.Fee); c != 0 {
		return -c
	}
	return compareFCFS(a, b)
}
