package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Algorithm selects how a pool orders a drained batch.
type Algorithm string

const (
	AlgorithmFCFS              Algorithm = "FCFS"
	AlgorithmPriorityByFee     Algorithm = "PRIORITY_BY_FEE"
	AlgorithmRandomized        Algorithm = "RANDOMIZED"
	AlgorithmCommitRevealAware Algorithm = "COMMIT_REVEAL_AWARE"
)

// String returns the string representation of Algorithm.
func (a Algorithm) String() string {
	return string(a)
}

// IsValid checks if the algorithm is a known value.
func (a Algorithm) IsValid() bool {
	switch a {
	case AlgorithmFCFS, AlgorithmPriorityByFee, AlgorithmRandomized, AlgorithmCommitRevealAware:
		return true
	}
	return false
}

// PoolState is the lifecycle state of an ordering pool.
type PoolState string

const (
	PoolOpen     PoolState = "OPEN"
	PoolDraining PoolState = "DRAINING" // closing, in-flight batch may finish
	PoolClosed   PoolState = "CLOSED"
)

// PoolConfig is the per-pool configuration. Zero values are filled from
// DefaultPoolConfig by WithDefaults.
type PoolConfig struct {
	PoolID          string
	Algorithm       Algorithm
	BatchIntervalMs int64

	// RequireCommitForMedium routes MEDIUM risk through commit-reveal.
	// HIGH risk always requires it.
	RequireCommitForMedium bool

	RevealDelayMinMs int64 // lower bound of the random reveal delay
	RevealDelayMaxMs int64 // upper bound of the random reveal delay
	CommitTimeoutMs  int64 // gated transactions not committed in time expire
	MaxPending       int   // 0 = unbounded

	// LiquidityDepth is the market depth used by the sandwich heuristic.
	// Zero disables the depth check.
	LiquidityDepth decimal.Decimal
}

// Default pool settings.
const (
	DefaultBatchIntervalMs  = 1000
	DefaultRevealDelayMinMs = 500
	DefaultRevealDelayMaxMs = 3000
	DefaultCommitTimeoutMs  = 10000
	DefaultMaxPending       = 10000
)

// DefaultPoolConfig returns the configuration used for pools created on
// first submission.
func DefaultPoolConfig(poolID string) PoolConfig {
	return PoolConfig{
		PoolID:                 poolID,
		Algorithm:              AlgorithmFCFS,
		BatchIntervalMs:        DefaultBatchIntervalMs,
		RequireCommitForMedium: true,
		RevealDelayMinMs:       DefaultRevealDelayMinMs,
		RevealDelayMaxMs:       DefaultRevealDelayMaxMs,
		CommitTimeoutMs:        DefaultCommitTimeoutMs,
		MaxPending:             DefaultMaxPending,
	}
}

// WithDefaults fills zero fields from DefaultPoolConfig.
func (c PoolConfig) WithDefaults() PoolConfig {
	d := DefaultPoolConfig(c.PoolID)
	if c.Algorithm == "" {
		c.Algorithm = d.Algorithm
	}
	if c.BatchIntervalMs == 0 {
		c.BatchIntervalMs = d.BatchIntervalMs
	}
	if c.RevealDelayMinMs == 0 && c.RevealDelayMaxMs == 0 {
		c.RevealDelayMinMs = d.RevealDelayMinMs
		c.RevealDelayMaxMs = d.RevealDelayMaxMs
	}
	if c.CommitTimeoutMs == 0 {
		c.CommitTimeoutMs = d.CommitTimeoutMs
	}
	return c
}

// Validate checks the configuration.
func (c PoolConfig) Validate() error {
	switch {
	case c.PoolID == "":
		return fmt.Errorf("%w: missing pool id", ErrInvalidConfig)
	case !c.Algorithm.IsValid():
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, c.Algorithm)
	case c.BatchIntervalMs <= 0:
		return fmt.Errorf("%w: batch interval must be positive", ErrInvalidConfig)
	case c.RevealDelayMinMs < 0 || c.RevealDelayMaxMs < c.RevealDelayMinMs:
		return fmt.Errorf("%w: invalid reveal delay window [%d,%d]", ErrInvalidConfig, c.RevealDelayMinMs, c.RevealDelayMaxMs)
	case c.CommitTimeoutMs < 0:
		return fmt.Errorf("%w: negative commit timeout", ErrInvalidConfig)
	case c.MaxPending < 0:
		return fmt.Errorf("%w: negative max pending", ErrInvalidConfig)
	case c.LiquidityDepth.IsNegative():
		return fmt.Errorf("%w: negative liquidity depth", ErrInvalidConfig)
	}
	return nil
}

// RequiresCommit reports whether a transaction at the given risk level must
// pass through commit-reveal in a pool with this configuration.
func (c PoolConfig) RequiresCommit(level RiskLevel) bool {
	if level >= RiskHigh {
		return true
	}
	return level == RiskMedium && c.RequireCommitForMedium
}

// PoolStatus is a point-in-time view of a pool.
type PoolStatus struct {
	PoolID          string
	State           PoolState
	Algorithm       Algorithm
	BatchIntervalMs int64
	PendingCount    int
	EligibleCount   int
	LastBatchID     string
	LastProcessedAt int64 // ms, 0 = never
}
