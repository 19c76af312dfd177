package proof

import (
	"context"
	"fmt"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/signing"
)

// SignatureVerifier checks a detached signature.
type SignatureVerifier interface {
	Verify(ctx context.Context, payload []byte, sig signing.Signature) (bool, error)
}

// Verify recomputes the proof hashes from the batch and checks the
// signature. Any mismatch returns an error wrapping domain.ErrBadProof.
func Verify(ctx context.Context, v SignatureVerifier, batch domain.OrderedBatch, p domain.FairnessProof) error {
	if p.BatchID != batch.BatchID {
		return fmt.Errorf("%w: proof for batch %s, got %s", domain.ErrBadProof, p.BatchID, batch.BatchID)
	}
	if p.Algorithm != batch.Algorithm {
		return fmt.Errorf("%w: algorithm %s, batch used %s", domain.ErrBadProof, p.Algorithm, batch.Algorithm)
	}

	inputHash, outputHash, payload := Payload(batch)
	if p.InputSetHash != inputHash {
		return fmt.Errorf("%w: input set hash mismatch", domain.ErrBadProof)
	}
	if p.OutputOrderHash != outputHash {
		return fmt.Errorf("%w: output order hash mismatch", domain.ErrBadProof)
	}

	ok, err := v.Verify(ctx, payload, signing.Signature{Value: p.Signature, PublicKey: p.SignerKey})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadProof, err)
	}
	if !ok {
		return fmt.Errorf("%w: signature does not verify", domain.ErrBadProof)
	}
	return nil
}
