package metrics

import (
	"math"
	"sort"

	"fair-sequencer/internal/domain"
)

// computeFromAudits calculates the fairness distribution of a set of audits.
// Audits must be pre-filtered by (pool_id, algorithm).
func computeFromAudits(audits []*domain.BatchAudit) *domain.FairnessAggregate {
	n := len(audits)
	if n == 0 {
		return &domain.FairnessAggregate{}
	}

	scores := make([]float64, n)
	for i, a := range audits {
		scores[i] = a.FairnessScore
	}

	sorted := make([]float64, n)
	copy(sorted, scores)
	sort.Float64s(sorted)

	mean := computeMean(scores)

	return &domain.FairnessAggregate{
		BatchCount: n,
		Mean:       mean,
		Stddev:     computeStddev(scores, mean),
		Min:        sorted[0],
		P10:        computePercentile(sorted, 0.10),
		P50:        computePercentile(sorted, 0.50),
		P90:        computePercentile(sorted, 0.90),
	}
}

// computeMean calculates the arithmetic mean.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC.
// p is percentile (0.10 = 10th percentile).
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
