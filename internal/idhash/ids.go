package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewTxID generates an id for a transaction submitted without one.
func NewTxID() string {
	return uuid.NewString()
}

// ComputeBatchID returns the id of the seq-th batch of a pool.
// Format: <pool_id>-<seq>
func ComputeBatchID(poolID string, seq uint64) string {
	return fmt.Sprintf("%s-%d", poolID, seq)
}

// ComputePayloadHash computes the SHA256 of a raw payload.
// Returns hex-encoded hash (64 characters).
func ComputePayloadHash(payload []byte) string {
	hash := sha256.Sum256(payload)
	return hex.EncodeToString(hash[:])
}
