// Package risk classifies pending transactions for extraction risk.
//
// Classification is a pure function of the transaction and a snapshot of its
// pool: no hidden state, no I/O. Each heuristic maps to one pattern tag with a
// severity; the transaction's risk level is the highest severity matched.
package risk

import (
	"strings"

	"github.com/shopspring/decimal"

	"fair-sequencer/internal/domain"
)

// PoolContext is the pool state the classifier reads.
type PoolContext struct {
	PoolID         string
	RecentAvgFee   decimal.Decimal // zero when the pool has no fee history
	FeeSamples     int             // number of fees behind RecentAvgFee
	LiquidityDepth decimal.Decimal // zero when unknown

	// LiquidationTargets holds targets with a pending liquidation call.
	LiquidationTargets map[string]bool
}

// Config holds classifier thresholds.
type Config struct {
	// FeeOutlierMultiplier: fee >= avg * m is a front-run candidate (MEDIUM).
	FeeOutlierMultiplier decimal.Decimal
	// FeeExtremeMultiplier: fee >= avg * m escalates the front-run to HIGH.
	FeeExtremeMultiplier decimal.Decimal
	// MinFeeSamples is the history needed before the fee check applies.
	MinFeeSamples int
	// SandwichDepthRatio: swap size / depth >= ratio is a sandwich candidate.
	SandwichDepthRatio decimal.Decimal
	// LiquidationWindowMs: liquidation calls with a window at or below this
	// are liquidation candidates.
	LiquidationWindowMs int64
	// SwapSelectors lists function selectors of known AMM swaps.
	SwapSelectors map[string]bool
}

// Known AMM swap selectors (Uniswap V2 router, V3 router, universal router).
var defaultSwapSelectors = []string{
	"0x38ed1739", // swapExactTokensForTokens
	"0x8803dbee", // swapTokensForExactTokens
	"0x7ff36ab5", // swapExactETHForTokens
	"0x18cbafe5", // swapExactTokensForETH
	"0xfb3bdb41", // swapETHForExactTokens
	"0x414bf389", // exactInputSingle
	"0xc04b8d59", // exactInput
	"0xdb3e2198", // exactOutputSingle
	"0x3593564c", // execute
}

// DefaultConfig returns the default classifier thresholds.
func DefaultConfig() Config {
	selectors := make(map[string]bool, len(defaultSwapSelectors))
	for _, s := range defaultSwapSelectors {
		selectors[s] = true
	}
	return Config{
		FeeOutlierMultiplier: decimal.NewFromInt(3),
		FeeExtremeMultiplier: decimal.NewFromInt(10),
		MinFeeSamples:        5,
		SandwichDepthRatio:   decimal.NewFromFloat(0.02),
		LiquidationWindowMs:  30_000,
		SwapSelectors:        selectors,
	}
}

// Result is the outcome of classifying one transaction.
type Result struct {
	Level    domain.RiskLevel
	Patterns []domain.Pattern
	// LowConfidence is set when no heuristic could evaluate the transaction.
	LowConfidence bool
}

// Classifier applies the risk heuristics.
type Classifier struct {
	cfg Config
}

// NewClassifier creates a classifier with the given thresholds.
func NewClassifier(cfg Config) *Classifier {
	if cfg.SwapSelectors == nil {
		cfg.SwapSelectors = DefaultConfig().SwapSelectors
	}
	return &Classifier{cfg: cfg}
}

// Classify returns the risk level and detected patterns of tx.
// Patterns are returned in a fixed order: front-run, sandwich, liquidation, back-run.
func (c *Classifier) Classify(tx domain.PendingTransaction, pc PoolContext) Result {
	var res Result
	evaluated := false

	if level, ok, known := c.frontRun(tx, pc); known {
		evaluated = true
		if ok {
			res.add(domain.PatternFrontRun, level)
		}
	}

	isSwap := c.isSwap(tx.Selector)
	if isSwap {
		evaluated = true
		if c.sandwich(tx, pc) {
			res.add(domain.PatternSandwich, domain.RiskHigh)
		}
	}

	if tx.Liquidation {
		evaluated = true
		if tx.LiquidationWindowMs > 0 && tx.LiquidationWindowMs <= c.cfg.LiquidationWindowMs {
			res.add(domain.PatternLiquidation, domain.RiskHigh)
		}
	}

	if isSwap && !tx.Liquidation && pc.LiquidationTargets[tx.Target] {
		res.add(domain.PatternBackRun, domain.RiskLow)
	}

	res.LowConfidence = !evaluated
	return res
}

func (r *Result) add(p domain.Pattern, level domain.RiskLevel) {
	r.Patterns = append(r.Patterns, p)
	if level > r.Level {
		r.Level = level
	}
}

// frontRun returns (level, matched, evaluated).
func (c *Classifier) frontRun(tx domain.PendingTransaction, pc PoolContext) (domain.RiskLevel, bool, bool) {
	if pc.FeeSamples < c.cfg.MinFeeSamples || !pc.RecentAvgFee.IsPositive() {
		return domain.RiskNone, false, false
	}

	if !c.cfg.FeeExtremeMultiplier.IsZero() && tx.Fee.GreaterThanOrEqual(pc.RecentAvgFee.Mul(c.cfg.FeeExtremeMultiplier)) {
		return domain.RiskHigh, true, true
	}
	if tx.Fee.GreaterThanOrEqual(pc.RecentAvgFee.Mul(c.cfg.FeeOutlierMultiplier)) {
		return domain.RiskMedium, true, true
	}
	return domain.RiskNone, false, true
}

func (c *Classifier) sandwich(tx domain.PendingTransaction, pc PoolContext) bool {
	if !pc.LiquidityDepth.IsPositive() || !tx.TradeSize.IsPositive() {
		return false
	}
	ratio := tx.TradeSize.Div(pc.LiquidityDepth)
	return ratio.GreaterThanOrEqual(c.cfg.SandwichDepthRatio)
}

func (c *Classifier) isSwap(selector string) bool {
	if selector == "" {
		return false
	}
	return c.cfg.SwapSelectors[strings.ToLower(selector)]
}

// PatternStrings converts patterns to their string form.
func PatternStrings(patterns []domain.Pattern) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = string(p)
	}
	return out
}
