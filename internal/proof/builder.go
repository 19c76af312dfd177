// Package proof builds and checks fairness proofs.
//
// A proof binds the hash of the sorted drained ids, the hash of the final
// order and the algorithm with a signature from the signing service.
package proof

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/idhash"
	"fair-sequencer/internal/observability"
	"fair-sequencer/internal/signing"
)

// Config bounds signing retries.
type Config struct {
	MaxRetries      uint64        // retries after the first attempt
	InitialInterval time.Duration // first backoff
	MaxInterval     time.Duration // backoff ceiling
	AttemptTimeout  time.Duration // per Sign call, 0 = none
}

// DefaultConfig returns the default signing retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		AttemptTimeout:  2 * time.Second,
	}
}

// Builder signs fairness proofs.
type Builder struct {
	signer signing.Signer
	cfg    Config
	log    *zap.Logger
	clock  func() time.Time
}

// NewBuilder creates a builder.
func NewBuilder(signer signing.Signer, cfg Config, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		signer: signer,
		cfg:    cfg,
		log:    logger.Named("proof"),
		clock:  time.Now,
	}
}

// Payload returns the bytes that are signed for a batch.
func Payload(batch domain.OrderedBatch) (inputHash, outputHash string, payload []byte) {
	inputHash = idhash.ComputeInputSetHash(batch.DrainedTxIDs)
	outputHash = idhash.ComputeOutputOrderHash(batch.OrderedTxIDs)
	return inputHash, outputHash, idhash.ProofPayload(inputHash, outputHash, batch.Algorithm)
}

// Build hashes the batch and signs it, retrying failed signatures with
// exponential backoff. When retries are exhausted it returns an error
// wrapping domain.ErrBatchHeld together with the number of attempts made;
// the caller must hold the batch.
func (b *Builder) Build(ctx context.Context, batch domain.OrderedBatch) (domain.FairnessProof, int, error) {
	inputHash, outputHash, payload := Payload(batch)

	attempts := 0
	var sig signing.Signature
	op := func() error {
		attempts++
		actx, cancel := b.attemptContext(ctx)
		defer cancel()

		var err error
		sig, err = b.signer.Sign(actx, payload)
		if err != nil {
			observability.RecordSignFailure()
			b.log.Warn("sign attempt failed",
				zap.String("batch_id", batch.BatchID),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			if errors.Is(err, signing.ErrInvalidKey) {
				return backoff.Permanent(err)
			}
		}
		return err
	}

	if err := backoff.Retry(op, b.policy(ctx)); err != nil {
		if ctx.Err() != nil {
			return domain.FairnessProof{}, attempts, fmt.Errorf("%w: %v", domain.ErrInterrupted, err)
		}
		return domain.FairnessProof{}, attempts, fmt.Errorf("%w: %w: after %d attempts: %v", domain.ErrBatchHeld, domain.ErrSigning, attempts, err)
	}

	return domain.FairnessProof{
		BatchID:         batch.BatchID,
		InputSetHash:    inputHash,
		OutputOrderHash: outputHash,
		Algorithm:       batch.Algorithm,
		Signature:       sig.Value,
		SignerKey:       sig.PublicKey,
		SignedAt:        b.clock().UnixMilli(),
	}, attempts, nil
}

func (b *Builder) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.cfg.AttemptTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.cfg.AttemptTimeout)
}

func (b *Builder) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.cfg.InitialInterval
	eb.MaxInterval = b.cfg.MaxInterval
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, b.cfg.MaxRetries), ctx)
}
