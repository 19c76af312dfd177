// Package signing signs and verifies fairness proofs with ed25519 keys.
// Keys and signatures travel base58-encoded.
package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

var (
	// ErrInvalidKey is returned for keys of the wrong size or off the curve.
	ErrInvalidKey = errors.New("signing: invalid key")
	// ErrInvalidSignature is returned for undecodable signatures.
	ErrInvalidSignature = errors.New("signing: invalid signature encoding")
	// ErrUntrustedKey is returned when a signature names a key the verifier does not trust.
	ErrUntrustedKey = errors.New("signing: untrusted key")
)

// Signature is a detached signature and the key that produced it.
type Signature struct {
	Value     string // base58
	PublicKey string // base58
}

// Signer is the signing/attestation capability.
type Signer interface {
	Sign(ctx context.Context, payload []byte) (Signature, error)
	Verify(ctx context.Context, payload []byte, sig Signature) (bool, error)
}

// Ed25519Signer signs with a local ed25519 key.
type Ed25519Signer struct {
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	pubB58 string
}

var _ Signer = (*Ed25519Signer)(nil)

// NewEd25519Signer creates a signer from a 32-byte seed.
func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrInvalidKey, ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Ed25519Signer{priv: priv, pub: pub, pubB58: base58.Encode(pub)}, nil
}

// GenerateEd25519Signer creates a signer with a fresh random key.
func GenerateEd25519Signer() (*Ed25519Signer, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	return NewEd25519Signer(seed)
}

// ParseSigner creates a signer from a base58 seed (32 bytes) or
// full private key (64 bytes).
func ParseSigner(b58 string) (*Ed25519Signer, error) {
	raw, err := base58.Decode(b58)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return NewEd25519Signer(raw)
	case ed25519.PrivateKeySize:
		return NewEd25519Signer(raw[:ed25519.SeedSize])
	default:
		return nil, fmt.Errorf("%w: unexpected key length %d", ErrInvalidKey, len(raw))
	}
}

// PublicKey returns the base58 public key.
func (s *Ed25519Signer) PublicKey() string {
	return s.pubB58
}

// Sign signs payload.
func (s *Ed25519Signer) Sign(ctx context.Context, payload []byte) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return Signature{}, err
	}
	sig := ed25519.Sign(s.priv, payload)
	return Signature{Value: base58.Encode(sig), PublicKey: s.pubB58}, nil
}

// Verify checks sig over payload. Signatures by any other key are rejected.
func (s *Ed25519Signer) Verify(ctx context.Context, payload []byte, sig Signature) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if sig.PublicKey != s.pubB58 {
		return false, ErrUntrustedKey
	}
	return VerifyWithKey(sig.PublicKey, payload, sig.Value)
}

// VerifyWithKey checks a base58 signature against a base58 public key.
func VerifyWithKey(publicKey string, payload []byte, signature string) (bool, error) {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return false, err
	}
	raw, err := base58.Decode(signature)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return false, ErrInvalidSignature
	}
	return ed25519.Verify(pub, payload, raw), nil
}

// ParsePublicKey decodes a base58 public key and checks it is a valid
// curve point.
func ParsePublicKey(b58 string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(b58)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(raw))
	}
	if !isOnCurve(raw) {
		return nil, fmt.Errorf("%w: public key is not on the curve", ErrInvalidKey)
	}
	return ed25519.PublicKey(raw), nil
}

func isOnCurve(point []byte) bool {
	p, err := new(edwards25519.Point).SetBytes(point)
	if err != nil {
		return false
	}
	return p.Equal(edwards25519.NewIdentityPoint()) != 1
}

// TrustedVerifier verifies signatures made by any of a fixed set of keys.
type TrustedVerifier struct {
	keys map[string]bool
}

// NewTrustedVerifier creates a verifier for the given base58 public keys.
func NewTrustedVerifier(publicKeys ...string) (*TrustedVerifier, error) {
	keys := make(map[string]bool, len(publicKeys))
	for _, k := range publicKeys {
		if _, err := ParsePublicKey(k); err != nil {
			return nil, err
		}
		keys[k] = true
	}
	return &TrustedVerifier{keys: keys}, nil
}

// Verify checks sig over payload.
func (v *TrustedVerifier) Verify(ctx context.Context, payload []byte, sig Signature) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !v.keys[sig.PublicKey] {
		return false, ErrUntrustedKey
	}
	return VerifyWithKey(sig.PublicKey, payload, sig.Value)
}
