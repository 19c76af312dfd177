package chain

import (
	"context"
	"sync"
)

// LoopbackClient accepts every batch in process and records it. It stands in
// for a chain endpoint in local runs and tests.
type LoopbackClient struct {
	name string

	mu      sync.Mutex
	batches []BatchRequest

	// Reject, when set, decides per transaction whether it is excluded and why.
	Reject func(tx WireTx) string
}

var _ Client = (*LoopbackClient)(nil)

// NewLoopbackClient creates a loopback client reporting the given endpoint name.
func NewLoopbackClient(name string) *LoopbackClient {
	return &LoopbackClient{name: name}
}

// Endpoint implements Client.
func (c *LoopbackClient) Endpoint() string {
	return c.name
}

// SubmitBatch implements Client.
func (c *LoopbackClient) SubmitBatch(ctx context.Context, req BatchRequest) ([]TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.batches = append(c.batches, req)
	c.mu.Unlock()

	results := make([]TxResult, len(req.Transactions))
	for i, tx := range req.Transactions {
		results[i] = TxResult{ID: tx.ID, Included: true}
		if c.Reject != nil {
			if reason := c.Reject(tx); reason != "" {
				results[i] = TxResult{ID: tx.ID, Error: reason}
			}
		}
	}
	return results, nil
}

// Batches returns the batches received so far.
func (c *LoopbackClient) Batches() []BatchRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]BatchRequest, len(c.batches))
	copy(out, c.batches)
	return out
}
