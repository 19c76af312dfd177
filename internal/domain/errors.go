package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned across the sequencer API wraps one of these.
var (
	// ErrValidation: malformed input, rejected synchronously, never retried.
	ErrValidation = errors.New("validation error")
	// ErrPolicyViolation: protocol rule broken, transaction rejected or expired.
	ErrPolicyViolation = errors.New("policy violation")
	// ErrDependencyFailure: randomness, signing or chain client failed.
	ErrDependencyFailure = errors.New("dependency failure")
	// ErrInvariantViolation: internal consistency check failed for one batch.
	ErrInvariantViolation = errors.New("internal invariant violation")
)

// Validation errors.
var (
	ErrMalformedTx       = fmt.Errorf("%w: malformed transaction", ErrValidation)
	ErrDuplicateTx       = fmt.Errorf("%w: duplicate transaction id", ErrValidation)
	ErrPoolClosed        = fmt.Errorf("%w: pool closed", ErrValidation)
	ErrPoolFull          = fmt.Errorf("%w: pool full", ErrValidation)
	ErrUnknownTx         = fmt.Errorf("%w: unknown transaction", ErrValidation)
	ErrUnknownPool       = fmt.Errorf("%w: unknown pool", ErrValidation)
	ErrUnknownBatch      = fmt.Errorf("%w: unknown batch", ErrValidation)
	ErrInvalidConfig     = fmt.Errorf("%w: invalid pool config", ErrValidation)
	ErrCommitNotRequired = fmt.Errorf("%w: transaction does not use commit-reveal", ErrValidation)
)

// Policy violations.
var (
	ErrMalformedCommit   = fmt.Errorf("%w: malformed commit hash", ErrPolicyViolation)
	ErrCommitClosed      = fmt.Errorf("%w: commit not accepted", ErrPolicyViolation)
	ErrRevealMismatch    = fmt.Errorf("%w: payload does not match commit hash", ErrPolicyViolation)
	ErrRevealExpired     = fmt.Errorf("%w: reveal deadline passed", ErrPolicyViolation)
	ErrInvalidTransition = fmt.Errorf("%w: invalid protection state transition", ErrPolicyViolation)
)

// Dependency failures.
var (
	ErrRandomness  = fmt.Errorf("%w: randomness provider", ErrDependencyFailure)
	ErrSigning     = fmt.Errorf("%w: signing service", ErrDependencyFailure)
	ErrChainSubmit = fmt.Errorf("%w: chain submission", ErrDependencyFailure)
	ErrCircuitOpen = fmt.Errorf("%w: circuit open", ErrDependencyFailure)
	ErrBatchHeld   = fmt.Errorf("%w: batch held", ErrDependencyFailure)
	ErrNoEndpoint  = fmt.Errorf("%w: no chain endpoint configured", ErrDependencyFailure)
	ErrInterrupted = fmt.Errorf("%w: batch interrupted by shutdown", ErrDependencyFailure)
)

// Invariant violations.
var (
	ErrPermutation = fmt.Errorf("%w: ordered set is not a permutation of the drained set", ErrInvariantViolation)
	ErrBadProof    = fmt.Errorf("%w: fairness proof does not verify", ErrInvariantViolation)
)

// Error kind labels as reported to callers and stored in audit records.
const (
	KindValidation = "ValidationError"
	KindPolicy     = "PolicyViolation"
	KindDependency = "DependencyFailure"
	KindInvariant  = "InternalInvariantViolation"
	KindUnknown    = "Unknown"
)

// KindOf returns the taxonomy label of err, or "" for nil.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrPolicyViolation):
		return KindPolicy
	case errors.Is(err, ErrDependencyFailure):
		return KindDependency
	case errors.Is(err, ErrInvariantViolation):
		return KindInvariant
	default:
		return KindUnknown
	}
}
