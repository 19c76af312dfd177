package randomness

import (
	"context"
	"math/rand/v2"
	"sync"
)

// SeededProvider is a deterministic provider for replays and local runs.
// It must not be used where unpredictability matters.
type SeededProvider struct {
	mu  sync.Mutex
	rng *rand.ChaCha8
}

var _ Provider = (*SeededProvider)(nil)

// NewSeededProvider creates a provider whose output is fixed by seed.
func NewSeededProvider(seed [32]byte) *SeededProvider {
	return &SeededProvider{rng: rand.NewChaCha8(seed)}
}

// GetRandom returns a value in [min, max].
func (p *SeededProvider) GetRandom(ctx context.Context, min, max uint64) (Value, error) {
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}
	if min > max {
		return Value{}, ErrInvalidRange
	}

	p.mu.Lock()
	r := rand.New(p.rng)
	var v uint64
	if span := max - min; span == ^uint64(0) {
		v = r.Uint64()
	} else {
		v = min + r.Uint64N(span+1)
	}
	var nonce [16]byte
	p.rng.Read(nonce[:])
	p.mu.Unlock()

	n := encodeNonce(nonce)
	return Value{Value: v, Min: min, Max: max, Nonce: n, Proof: valueProof(n, v, min, max)}, nil
}

// GetRandomPermutationSeed returns the next 32 bytes of the stream.
func (p *SeededProvider) GetRandomPermutationSeed(ctx context.Context) (Seed, error) {
	if err := ctx.Err(); err != nil {
		return Seed{}, err
	}

	var s Seed
	var nonce [16]byte
	p.mu.Lock()
	p.rng.Read(s.Seed[:])
	p.rng.Read(nonce[:])
	p.mu.Unlock()

	s.Nonce = encodeNonce(nonce)
	s.Proof = seedProof(s.Nonce, s.Seed)
	return s, nil
}
