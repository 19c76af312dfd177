// Package chain talks to the chain submission endpoint that executes
// ordered batches.
package chain

import (
	"context"
	"fmt"

	"fair-sequencer/internal/domain"
)

// Client submits an ordered batch and reports inclusion per transaction.
// One call is one logical attempt; implementations may retry transport
// errors internally.
type Client interface {
	SubmitBatch(ctx context.Context, req BatchRequest) ([]TxResult, error)

	// Endpoint identifies the downstream for circuit breaking and metrics.
	Endpoint() string
}

// BatchRequest is the submitBatch payload.
type BatchRequest struct {
	BatchID      string   `json:"batchId"`
	PoolID       string   `json:"poolId"`
	Algorithm    string   `json:"algorithm"`
	Transactions []WireTx `json:"transactions"`
	Proof        Proof    `json:"proof"`
}

// WireTx is one transaction in submission order.
type WireTx struct {
	ID          string `json:"id"`
	Sender      string `json:"sender"`
	Target      string `json:"target"`
	PayloadHash string `json:"payloadHash"`
	Payload     []byte `json:"payload,omitempty"` // revealed payload, base64 in JSON
	Fee         string `json:"fee"`
}

// Proof is the wire form of a fairness proof.
type Proof struct {
	InputSetHash    string `json:"inputSetHash"`
	OutputOrderHash string `json:"outputOrderHash"`
	Signature       string `json:"signature"`
	SignerKey       string `json:"signerKey"`
	SignedAt        int64  `json:"signedAt"`
}

// TxResult is the per-transaction outcome returned by the endpoint.
type TxResult struct {
	ID       string `json:"id"`
	Included bool   `json:"included"`
	Error    string `json:"error,omitempty"`
}

// NewBatchRequest builds the wire request for txs, which must already be in
// final order.
func NewBatchRequest(batch domain.OrderedBatch, txs []domain.PendingTransaction, p domain.FairnessProof) BatchRequest {
	req := BatchRequest{
		BatchID:      batch.BatchID,
		PoolID:       batch.PoolID,
		Algorithm:    string(batch.Algorithm),
		Transactions: make([]WireTx, len(txs)),
		Proof: Proof{
			InputSetHash:    p.InputSetHash,
			OutputOrderHash: p.OutputOrderHash,
			Signature:       p.Signature,
			SignerKey:       p.SignerKey,
			SignedAt:        p.SignedAt,
		},
	}
	for i, tx := range txs {
		req.Transactions[i] = WireTx{
			ID:          tx.ID,
			Sender:      tx.Sender,
			Target:      tx.Target,
			PayloadHash: tx.PayloadHash,
			Payload:     tx.Payload,
			Fee:         tx.Fee.String(),
		}
	}
	return req
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Method names of the sequencer JSON-RPC API.
const (
	MethodSubmitBatch = "sequencer_submitBatch"
	MethodHealth      = "sequencer_health"
)
