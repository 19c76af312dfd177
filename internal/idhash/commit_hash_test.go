package idhash

import (
	"strings"
	"testing"
)

func TestComputeCommitHash(t *testing.T) {
	// Keccak-256 of the empty string.
	const emptyKeccak = "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"

	if got := ComputeCommitHash(nil); got != emptyKeccak {
		t.Errorf("ComputeCommitHash(nil) = %s, want %s", got, emptyKeccak)
	}

	got := ComputeCommitHash([]byte("swap 100 A for B"))
	if len(got) != CommitHashLen {
		t.Errorf("ComputeCommitHash() length = %d, want %d", len(got), CommitHashLen)
	}
	if !ValidCommitHash(got) {
		t.Errorf("ComputeCommitHash() = %s is not a valid commit hash", got)
	}
}

func TestValidCommitHash(t *testing.T) {
	valid := ComputeCommitHash([]byte("payload"))

	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"valid", valid, true},
		{"upper hex", "0x" + strings.ToUpper(valid[2:]), true},
		{"missing prefix", valid[2:], false},
		{"short", valid[:20], false},
		{"not hex", "0x" + strings.Repeat("zz", 32), false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidCommitHash(tt.in); got != tt.want {
				t.Errorf("ValidCommitHash(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMatchesCommit(t *testing.T) {
	payload := []byte("payload")
	h := ComputeCommitHash(payload)

	if !MatchesCommit(h, payload) {
		t.Error("payload should match its own commit hash")
	}
	if !MatchesCommit("0x"+strings.ToUpper(h[2:]), payload) {
		t.Error("hex case should be ignored")
	}
	if MatchesCommit(h, []byte("other payload")) {
		t.Error("different payload should not match")
	}
}
