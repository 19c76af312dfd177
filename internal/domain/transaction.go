package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RiskLevel is the extraction risk assigned to a transaction by the classifier.
// Levels are ordered: a higher value is a higher severity.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
)

// String returns the string representation of RiskLevel.
func (r RiskLevel) String() string {
	switch r {
	case RiskNone:
		return "NONE"
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("RISK(%d)", int(r))
	}
}

// ParseRiskLevel parses the output of RiskLevel.String.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToUpper(s) {
	case "NONE":
		return RiskNone, nil
	case "LOW":
		return RiskLow, nil
	case "MEDIUM":
		return RiskMedium, nil
	case "HIGH":
		return RiskHigh, nil
	default:
		return RiskNone, fmt.Errorf("unknown risk level %q", s)
	}
}

// Pattern is a detected extraction pattern tag.
type Pattern string

const (
	PatternFrontRun    Pattern = "FRONT_RUN_CANDIDATE"
	PatternSandwich    Pattern = "SANDWICH_CANDIDATE"
	PatternLiquidation Pattern = "LIQUIDATION_CANDIDATE"
	PatternBackRun     Pattern = "BACK_RUN_CANDIDATE"
)

// ProtectionState is the commit-reveal state of a transaction.
type ProtectionState string

const (
	StateOpen      ProtectionState = "OPEN"
	StateCommitted ProtectionState = "COMMITTED"
	StateRevealed  ProtectionState = "REVEALED"
	StateExpired   ProtectionState = "EXPIRED"
	StateRejected  ProtectionState = "REJECTED"
)

// IsTerminal reports whether no further transition is possible.
func (s ProtectionState) IsTerminal() bool {
	return s == StateExpired || s == StateRejected
}

// PendingTransaction is a transaction waiting in an ordering pool.
type PendingTransaction struct {
	ID          string          // caller supplied or generated
	PoolID      string          // owning pool
	Sender      string          // originating account
	Target      string          // contract / market address
	PayloadHash string          // hash of the signed payload
	Selector    string          // function selector on Target ("" when unknown)
	TradeSize   decimal.Decimal // notional size of the trade (zero when unknown)
	Fee         decimal.Decimal // fee or gas price, used for priority ordering
	SubmittedAt int64           // Unix timestamp in milliseconds

	// Liquidation call flags
	Liquidation         bool
	LiquidationWindowMs int64 // remaining validity window, 0 when unknown

	// Set once by the classifier
	RiskLevel RiskLevel
	Patterns  []Pattern

	// Commit-reveal protection
	RequiresCommit bool
	State          ProtectionState
	CommitHash     string // present once Committed
	CommittedAt    int64  // ms
	RevealDeadline int64  // ms, present once Committed
	RevealedAt     int64  // ms, present once Revealed
	Payload        []byte // revealed payload
}

// Validate checks the fields a caller must supply.
func (tx *PendingTransaction) Validate() error {
	switch {
	case strings.TrimSpace(tx.PoolID) == "":
		return fmt.Errorf("%w: missing pool id", ErrMalformedTx)
	case strings.TrimSpace(tx.Sender) == "":
		return fmt.Errorf("%w: missing sender", ErrMalformedTx)
	case strings.TrimSpace(tx.Target) == "":
		return fmt.Errorf("%w: missing target", ErrMalformedTx)
	case !tx.Fee.IsPositive():
		return fmt.Errorf("%w: fee must be positive", ErrMalformedTx)
	case tx.TradeSize.IsNegative():
		return fmt.Errorf("%w: negative trade size", ErrMalformedTx)
	}
	return nil
}

// HasPattern reports whether p was detected on the transaction.
func (tx *PendingTransaction) HasPattern(p Pattern) bool {
	for _, got := range tx.Patterns {
		if got == p {
			return true
		}
	}
	return false
}

// Eligible reports whether the transaction may be drained into a batch.
func (tx *PendingTransaction) Eligible() bool {
	switch tx.State {
	case StateRevealed:
		return true
	case StateOpen:
		return !tx.RequiresCommit
	default:
		return false
	}
}

// EffectiveTime is the time used by commit-reveal-aware ordering:
// reveal time for revealed transactions, submission time otherwise.
func (tx *PendingTransaction) EffectiveTime() int64 {
	if tx.State == StateRevealed && tx.RevealedAt > 0 {
		return tx.RevealedAt
	}
	return tx.SubmittedAt
}

// Clone returns a deep copy of the transaction.
func (tx *PendingTransaction) Clone() PendingTransaction {
	c := *tx
	if tx.Patterns != nil {
		c.Patterns = append([]Pattern(nil), tx.Patterns...)
	}
	if tx.Payload != nil {
		c.Payload = append([]byte(nil), tx.Payload...)
	}
	return c
}
