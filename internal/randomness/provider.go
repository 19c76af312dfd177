// Package randomness provides the secure randomness used for reveal delays
// and randomized ordering.
package randomness

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// ErrInvalidRange is returned when min > max.
var ErrInvalidRange = errors.New("randomness: min greater than max")

// Value is a random number in [Min, Max] with its proof.
type Value struct {
	Value uint64
	Min   uint64
	Max   uint64
	Nonce string // hex
	Proof string // hex SHA256(nonce|value|min|max)
}

// Seed is a 32-byte permutation seed with its proof.
type Seed struct {
	Seed  [32]byte
	Nonce string // hex
	Proof string // hex SHA256(nonce|seed)
}

// Hex returns the hex encoding of the seed bytes.
func (s Seed) Hex() string {
	return hex.EncodeToString(s.Seed[:])
}

// Provider is a source of unpredictable, after-the-fact verifiable randomness.
type Provider interface {
	GetRandom(ctx context.Context, min, max uint64) (Value, error)
	GetRandomPermutationSeed(ctx context.Context) (Seed, error)
}

// LocalProvider draws from crypto/rand.
type LocalProvider struct{}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider creates a provider backed by the operating system CSPRNG.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

// GetRandom returns a uniformly distributed value in [min, max].
func (p *LocalProvider) GetRandom(ctx context.Context, min, max uint64) (Value, error) {
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}
	if min > max {
		return Value{}, ErrInvalidRange
	}

	span := new(big.Int).SetUint64(max - min)
	span.Add(span, big.NewInt(1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return Value{}, fmt.Errorf("read random: %w", err)
	}

	nonce, err := newNonce()
	if err != nil {
		return Value{}, err
	}

	v := min + n.Uint64()
	return Value{
		Value: v,
		Min:   min,
		Max:   max,
		Nonce: nonce,
		Proof: valueProof(nonce, v, min, max),
	}, nil
}

// GetRandomPermutationSeed returns 32 random bytes.
func (p *LocalProvider) GetRandomPermutationSeed(ctx context.Context) (Seed, error) {
	if err := ctx.Err(); err != nil {
		return Seed{}, err
	}

	var s Seed
	if _, err := rand.Read(s.Seed[:]); err != nil {
		return Seed{}, fmt.Errorf("read random: %w", err)
	}
	nonce, err := newNonce()
	if err != nil {
		return Seed{}, err
	}
	s.Nonce = nonce
	s.Proof = seedProof(nonce, s.Seed)
	return s, nil
}

// VerifyValue checks a value against its proof and range.
func VerifyValue(v Value) bool {
	if v.Min > v.Max || v.Value < v.Min || v.Value > v.Max {
		return false
	}
	return v.Proof == valueProof(v.Nonce, v.Value, v.Min, v.Max)
}

// VerifySeed checks a seed against its proof.
func VerifySeed(s Seed) bool {
	return s.Proof == seedProof(s.Nonce, s.Seed)
}

func newNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	return encodeNonce(b), nil
}

func encodeNonce(b [16]byte) string {
	return hex.EncodeToString(b[:])
}

func valueProof(nonce string, v, min, max uint64) string {
	data := fmt.Sprintf("%s|%d|%d|%d", nonce, v, min, max)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

func seedProof(nonce string, seed [32]byte) string {
	data := fmt.Sprintf("%s|%s", nonce, hex.EncodeToString(seed[:]))
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
