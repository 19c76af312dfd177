package ordering

import (
	"sort"

	"fair-sequencer/internal/domain"
)

// FairnessScore measures how far an order deviates from naive fee ranking:
//
//	1 - Σ|position - feeRank| / maxDisplacement
//
// where maxDisplacement = floor(n²/2), the displacement of a full reversal.
// A batch of one (or none) scores 1.0.
func FairnessScore(ordered []domain.PendingTransaction) float64 {
	n := len(ordered)
	if n <= 1 {
		return 1.0
	}

	ranked := make([]domain.PendingTransaction, n)
	copy(ranked, ordered)
	sort.Slice(ranked, func(i, j int) bool {
		return compareFee(&ranked[i], &ranked[j]) < 0
	})
	rank := make(map[string]int, n)
	for i := range ranked {
		rank[ranked[i].ID] = i
	}

	total := 0
	for pos := range ordered {
		d := pos - rank[ordered[pos].ID]
		if d < 0 {
			d = -d
		}
		total += d
	}

	maxDisplacement := n * n / 2
	score := 1 - float64(total)/float64(maxDisplacement)
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}
