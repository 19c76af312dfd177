package idhash

import (
	"testing"

	"fair-sequencer/internal/domain"
)

func TestComputeInputSetHash(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		wantLen int // hash length should be 64
	}{
		{name: "single id", ids: []string{"tx-1"}, wantLen: 64},
		{name: "several ids", ids: []string{"tx-3", "tx-1", "tx-2"}, wantLen: 64},
		{name: "empty set", ids: nil, wantLen: 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeInputSetHash(tt.ids)

			if len(got) != tt.wantLen {
				t.Errorf("ComputeInputSetHash() length = %d, want %d", len(got), tt.wantLen)
			}

			got2 := ComputeInputSetHash(tt.ids)
			if got != got2 {
				t.Errorf("ComputeInputSetHash() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestComputeInputSetHash_OrderIndependent(t *testing.T) {
	a := ComputeInputSetHash([]string{"a", "b", "c"})
	b := ComputeInputSetHash([]string{"c", "a", "b"})
	if a != b {
		t.Errorf("input set hash depends on order: %s != %s", a, b)
	}
}

func TestComputeInputSetHash_DoesNotMutateInput(t *testing.T) {
	ids := []string{"z", "a"}
	ComputeInputSetHash(ids)
	if ids[0] != "z" || ids[1] != "a" {
		t.Errorf("input slice mutated: %v", ids)
	}
}

func TestComputeOutputOrderHash_OrderDependent(t *testing.T) {
	a := ComputeOutputOrderHash([]string{"a", "b"})
	b := ComputeOutputOrderHash([]string{"b", "a"})
	if a == b {
		t.Error("output order hash should change when order changes")
	}
}

func TestComputeOutputOrderHash_SeparatorCollision(t *testing.T) {
	joined := ComputeOutputOrderHash([]string{"a|b"})
	split := ComputeOutputOrderHash([]string{"a", "b"})
	if joined == split {
		t.Error("ids containing the separator should not collide")
	}
}

func TestProofPayload(t *testing.T) {
	got := string(ProofPayload("in", "out", domain.AlgorithmFCFS))
	if got != "in|out|FCFS" {
		t.Errorf("ProofPayload() = %q, want %q", got, "in|out|FCFS")
	}

	other := string(ProofPayload("in", "out", domain.AlgorithmRandomized))
	if got == other {
		t.Error("different algorithm should produce different payload")
	}
}
