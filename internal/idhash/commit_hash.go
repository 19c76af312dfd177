package idhash

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// CommitHashLen is the length of a commit hash string ("0x" + 64 hex chars).
const CommitHashLen = 66

// ComputeCommitHash returns the Keccak-256 commitment for a reveal payload,
// hex-encoded with a 0x prefix.
func ComputeCommitHash(payload []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(payload)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// ValidCommitHash reports whether s is a well-formed commit hash.
func ValidCommitHash(s string) bool {
	if len(s) != CommitHashLen || !strings.HasPrefix(s, "0x") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

// MatchesCommit reports whether payload hashes to commitHash.
// Hex case is ignored.
func MatchesCommit(commitHash string, payload []byte) bool {
	return strings.EqualFold(commitHash, ComputeCommitHash(payload))
}
