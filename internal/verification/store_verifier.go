package verification

import (
	"context"
	"errors"
	"fmt"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/proof"
	"fair-sequencer/internal/storage"
)

// ErrBatchNotFound is returned when the batch id has no stored audit.
var ErrBatchNotFound = fmt.Errorf("%w: batch not found", domain.ErrValidation)

// StoreVerifier implements Verifier over an audit store.
type StoreVerifier struct {
	audits    storage.BatchAuditStore
	signature proof.SignatureVerifier
}

var _ Verifier = (*StoreVerifier)(nil)

// StoreVerifierOptions contains configuration for creating a StoreVerifier.
type StoreVerifierOptions struct {
	Audits storage.BatchAuditStore

	// Signature checks proof signatures. A signing.TrustedVerifier also
	// pins the accepted signer keys.
	Signature proof.SignatureVerifier
}

// NewStoreVerifier creates a new StoreVerifier.
func NewStoreVerifier(opts StoreVerifierOptions) *StoreVerifier {
	return &StoreVerifier{
		audits:    opts.Audits,
		signature: opts.Signature,
	}
}

// VerifyBatch verifies a single stored batch.
func (v *StoreVerifier) VerifyBatch(ctx context.Context, batchID string) (*VerificationResult, error) {
	a, err := v.audits.GetByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
		}
		return nil, err
	}
	res := CheckAudit(ctx, v.signature, a)
	return &res, nil
}

// VerifyPool verifies the last limit batches of a pool, 0 meaning all.
func (v *StoreVerifier) VerifyPool(ctx context.Context, poolID string, limit int) (*VerificationReport, error) {
	audits, err := v.audits.GetByPool(ctx, poolID, limit)
	if err != nil {
		return nil, err
	}
	return v.verifyAll(ctx, audits), nil
}

// VerifyRange verifies every batch created within [start, end] ms.
func (v *StoreVerifier) VerifyRange(ctx context.Context, start, end int64) (*VerificationReport, error) {
	audits, err := v.audits.GetByTimeRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return v.verifyAll(ctx, audits), nil
}

func (v *StoreVerifier) verifyAll(ctx context.Context, audits []*domain.BatchAudit) *VerificationReport {
	report := &VerificationReport{Results: make([]VerificationResult, 0, len(audits))}
	for _, a := range audits {
		if err := ctx.Err(); err != nil {
			// Record the remaining batches as unverified.
			report.add(errResult(a.BatchID, err))
			continue
		}
		report.add(CheckAudit(ctx, v.signature, a))
	}
	return report
}
