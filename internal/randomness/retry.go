package randomness

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds retries of a failing provider.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns the default provider retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// RetryingProvider retries a provider with exponential backoff.
// ErrInvalidRange is permanent and returned immediately.
type RetryingProvider struct {
	inner Provider
	cfg   RetryConfig
}

var _ Provider = (*RetryingProvider)(nil)

// WithRetry wraps p.
func WithRetry(p Provider, cfg RetryConfig) *RetryingProvider {
	return &RetryingProvider{inner: p, cfg: cfg}
}

// GetRandom implements Provider.
func (r *RetryingProvider) GetRandom(ctx context.Context, min, max uint64) (Value, error) {
	var v Value
	err := backoff.Retry(func() error {
		var err error
		v, err = r.inner.GetRandom(ctx, min, max)
		if errors.Is(err, ErrInvalidRange) {
			return backoff.Permanent(err)
		}
		return err
	}, r.policy(ctx))
	return v, err
}

// GetRandomPermutationSeed implements Provider.
func (r *RetryingProvider) GetRandomPermutationSeed(ctx context.Context) (Seed, error) {
	var s Seed
	err := backoff.Retry(func() error {
		var err error
		s, err = r.inner.GetRandomPermutationSeed(ctx)
		return err
	}, r.policy(ctx))
	return s, err
}

func (r *RetryingProvider) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxRetries), ctx)
}
