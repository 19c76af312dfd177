package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"fair-sequencer/internal/domain"
)

// ComputeInputSetHash hashes a drained id set independent of its order.
// Formula: SHA256(len(id_0):id_0|len(id_1):id_1|...) over the ids sorted ascending.
// Returns hex-encoded hash (64 characters).
func ComputeInputSetHash(ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return hashSequence(sorted)
}

// ComputeOutputOrderHash hashes an id sequence in the given order.
// Formula: SHA256(len(id_0):id_0|len(id_1):id_1|...).
// Returns hex-encoded hash (64 characters).
func ComputeOutputOrderHash(ids []string) string {
	return hashSequence(ids)
}

// ProofPayload returns the bytes signed for a fairness proof.
// Format: input_set_hash|output_order_hash|algorithm
func ProofPayload(inputSetHash, outputOrderHash string, algorithm domain.Algorithm) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s", inputSetHash, outputOrderHash, algorithm))
}

// Ids are length-prefixed so that an id containing the separator cannot
// collide with two shorter ids.
func hashSequence(ids []string) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte('|')
		}
		fmt.Fprintf(&b, "%d:%s", len(id), id)
	}

	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}
