package idhash

import (
	"testing"
)

func TestNewTxID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTxID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestComputeBatchID(t *testing.T) {
	if got := ComputeBatchID("eth-usdc", 7); got != "eth-usdc-7" {
		t.Errorf("ComputeBatchID() = %s, want eth-usdc-7", got)
	}
	if ComputeBatchID("p", 1) == ComputeBatchID("p", 2) {
		t.Error("different sequence should produce different id")
	}
}

func TestComputePayloadHash(t *testing.T) {
	got := ComputePayloadHash([]byte("payload"))
	if len(got) != 64 {
		t.Errorf("ComputePayloadHash() length = %d, want 64", len(got))
	}
	if got != ComputePayloadHash([]byte("payload")) {
		t.Error("ComputePayloadHash() not deterministic")
	}
}
