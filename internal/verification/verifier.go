// Package verification checks stored batch audits against their fairness
// proofs: hashes, signature, permutation and score bounds.
package verification

import (
	"context"
	"math"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/idhash"
	"fair-sequencer/internal/proof"
	"fair-sequencer/internal/signing"
)

// FloatTolerance is the tolerance for fairness score bound checks.
const FloatTolerance = 1e-9

// Check names.
const (
	CheckProofPresent   = "ProofPresent"
	CheckBatchID        = "BatchID"
	CheckAlgorithm      = "Algorithm"
	CheckInputSetHash   = "InputSetHash"
	CheckOutputHash     = "OutputOrderHash"
	CheckSignature      = "Signature"
	CheckProofReference = "ProofReference"
	CheckDuplicateIDs   = "DuplicateIDs"
	CheckOutcomes       = "Outcomes"
	CheckFairnessScore  = "FairnessScore"
	CheckRandomSeed     = "RandomSeed"
)

// FieldDivergence represents a mismatch between the stored audit and what
// the proof or the recomputation says.
type FieldDivergence struct {
	Field    string      // check name
	Expected interface{} // recomputed or required value
	Actual   interface{} // stored value
}

// VerificationResult contains the result of verifying one batch.
type VerificationResult struct {
	BatchID     string
	PoolID      string
	Status      domain.BatchStatus
	Valid       bool              // all checks passed
	Skipped     bool              // batch was never signed (held, discarded)
	Divergences []FieldDivergence // failed checks
}

// VerificationReport contains results for a set of batches.
type VerificationReport struct {
	TotalBatches   int
	ValidBatches   int
	InvalidBatches int
	SkippedBatches int
	Results        []VerificationResult
}

func (r *VerificationReport) add(res VerificationResult) {
	r.TotalBatches++
	switch {
	case res.Skipped:
		r.SkippedBatches++
	case res.Valid:
		r.ValidBatches++
	default:
		r.InvalidBatches++
	}
	r.Results = append(r.Results, res)
}

// Verifier verifies stored batches.
type Verifier interface {
	// VerifyBatch loads one audit and checks it.
	VerifyBatch(ctx context.Context, batchID string) (*VerificationResult, error)

	// VerifyPool checks the last limit audits of a pool (0 = all).
	VerifyPool(ctx context.Context, poolID string, limit int) (*VerificationReport, error)
}

// CheckAudit runs every check against a, verifying the signature with sv.
// Batches that were never signed are reported as skipped.
func CheckAudit(ctx context.Context, sv proof.SignatureVerifier, a *domain.BatchAudit) VerificationResult {
	res := VerificationResult{BatchID: a.BatchID, PoolID: a.PoolID, Status: a.Status}
	var divergences []FieldDivergence

	if a.Proof == nil {
		switch a.Status {
		case domain.BatchHeld, domain.BatchDiscarded, domain.BatchInterrupted:
			res.Skipped = true
			res.Valid = true
			return res
		}
		res.Divergences = []FieldDivergence{{Field: CheckProofPresent, Expected: true, Actual: false}}
		return res
	}
	p := a.Proof

	if dup := firstDuplicate(a.OrderedTxIDs); dup != "" {
		divergences = append(divergences, FieldDivergence{Field: CheckDuplicateIDs, Expected: "unique ids", Actual: dup})
	}

	// A permutation of the drained set has the same sorted-set digest, so
	// the ordered ids stand in for the drained ids.
	batch := domain.OrderedBatch{
		BatchID:      a.BatchID,
		Algorithm:    a.Algorithm,
		DrainedTxIDs: a.OrderedTxIDs,
		OrderedTxIDs: a.OrderedTxIDs,
	}
	if err := proof.Verify(ctx, sv, batch, *p); err != nil {
		divergences = append(divergences, proofDivergences(ctx, sv, a, p)...)
	}

	if a.ProofReference != "" && a.ProofReference != p.Signature {
		divergences = append(divergences, FieldDivergence{Field: CheckProofReference, Expected: p.Signature, Actual: a.ProofReference})
	}

	if a.FairnessScore < -FloatTolerance || a.FairnessScore > 1+FloatTolerance || math.IsNaN(a.FairnessScore) {
		divergences = append(divergences, FieldDivergence{Field: CheckFairnessScore, Expected: "[0,1]", Actual: a.FairnessScore})
	}
	if a.Algorithm == domain.AlgorithmRandomized && a.RandomSeed == "" {
		divergences = append(divergences, FieldDivergence{Field: CheckRandomSeed, Expected: "seed", Actual: ""})
	}

	ordered := make(map[string]struct{}, len(a.OrderedTxIDs))
	for _, id := range a.OrderedTxIDs {
		ordered[id] = struct{}{}
	}
	for _, o := range a.Outcomes {
		if _, ok := ordered[o.TxID]; !ok {
			divergences = append(divergences, FieldDivergence{Field: CheckOutcomes, Expected: "tx in ordered set", Actual: o.TxID})
		}
	}

	res.Divergences = divergences
	res.Valid = len(divergences) == 0
	return res
}

// proofDivergences pins down which part of a failing proof is wrong. The
// signature is checked over the hashes the proof claims.
func proofDivergences(ctx context.Context, sv proof.SignatureVerifier, a *domain.BatchAudit, p *domain.FairnessProof) []FieldDivergence {
	var divs []FieldDivergence
	if p.BatchID != a.BatchID {
		divs = append(divs, FieldDivergence{Field: CheckBatchID, Expected: a.BatchID, Actual: p.BatchID})
	}
	if p.Algorithm != a.Algorithm {
		divs = append(divs, FieldDivergence{Field: CheckAlgorithm, Expected: a.Algorithm, Actual: p.Algorithm})
	}
	if want := idhash.ComputeInputSetHash(a.OrderedTxIDs); want != p.InputSetHash {
		divs = append(divs, FieldDivergence{Field: CheckInputSetHash, Expected: want, Actual: p.InputSetHash})
	}
	if want := idhash.ComputeOutputOrderHash(a.OrderedTxIDs); want != p.OutputOrderHash {
		divs = append(divs, FieldDivergence{Field: CheckOutputHash, Expected: want, Actual: p.OutputOrderHash})
	}

	payload := idhash.ProofPayload(p.InputSetHash, p.OutputOrderHash, p.Algorithm)
	ok, err := sv.Verify(ctx, payload, signing.Signature{Value: p.Signature, PublicKey: p.SignerKey})
	if err != nil || !ok {
		divs = append(divs, FieldDivergence{Field: CheckSignature, Expected: "valid signature", Actual: describe(ok, err)})
	}
	return divs
}

func describe(ok bool, err error) string {
	if err != nil {
		return err.Error()
	}
	if !ok {
		return "signature does not verify"
	}
	return ""
}

func firstDuplicate(ids []string) string {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id
		}
		seen[id] = struct{}{}
	}
	return ""
}

// errResult records a load failure as a divergence.
func errResult(batchID string, err error) VerificationResult {
	return VerificationResult{
		BatchID: batchID,
		Divergences: []FieldDivergence{
			{Field: "Error", Expected: nil, Actual: err.Error()},
		},
	}
}
