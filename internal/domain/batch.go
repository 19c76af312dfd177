package domain

// OrderedBatch is the result of ordering one drain of a pool.
type OrderedBatch struct {
	BatchID       string    // <pool_id>-<sequence>
	Sequence      uint64    // monotonically assigned per pool
	PoolID        string    // owning pool
	Algorithm     Algorithm // algorithm used
	OrderedTxIDs  []string  // final sequence
	DrainedTxIDs  []string  // drained set, insertion order
	FairnessScore float64   // 0.0 - 1.0, observational
	RandomSeed    string    // hex seed for RANDOMIZED, empty otherwise
	CreatedAt     int64     // ms

	// Transactions holds the drained transactions in final order.
	Transactions []PendingTransaction
}

// FairnessProof binds a batch's input set and output order to an algorithm.
type FairnessProof struct {
	BatchID         string
	InputSetHash    string // H(sorted drained ids)
	OutputOrderHash string // H(ordered ids)
	Algorithm       Algorithm
	Signature       string // base58
	SignerKey       string // base58 public key
	SignedAt        int64  // ms
}

// SubmissionOutcome is the per-transaction result of submitting a batch.
type SubmissionOutcome struct {
	TxID     string
	Included bool
	Error    string
	Attempts int
	Endpoint string
}

// BatchStatus is the final status of a batch in the audit trail.
type BatchStatus string

const (
	BatchSubmitted   BatchStatus = "SUBMITTED"   // every transaction included
	BatchPartial     BatchStatus = "PARTIAL"     // some transactions failed
	BatchFailed      BatchStatus = "FAILED"      // no transaction included
	BatchHeld        BatchStatus = "HELD"        // proof could not be signed
	BatchDiscarded   BatchStatus = "DISCARDED"   // invariant violation
	BatchInterrupted BatchStatus = "INTERRUPTED" // shutdown grace deadline hit
)

// BatchAudit is the per-batch audit record.
type BatchAudit struct {
	BatchID        string
	PoolID         string
	Sequence       uint64
	Algorithm      Algorithm
	FairnessScore  float64
	OrderedTxIDs   []string
	ProofReference string         // proof signature, empty when no proof
	Proof          *FairnessProof // nullable
	Outcomes       []SubmissionOutcome
	Status         BatchStatus
	Error          string
	RandomSeed     string
	CreatedAt      int64 // ms
	CompletedAt    int64 // ms
}

// IncludedCount returns the number of included transactions.
func (a *BatchAudit) IncludedCount() int {
	n := 0
	for _, o := range a.Outcomes {
		if o.Included {
			n++
		}
	}
	return n
}

// HeldBatch is a batch waiting for operator intervention.
type HeldBatch struct {
	Batch    OrderedBatch
	Reason   string
	Attempts int
	HeldAt   int64 // ms
}

// TxStatus is the terminal status reported to a submitter.
type TxStatus string

const (
	TxIncluded TxStatus = "INCLUDED"
	TxFailed   TxStatus = "FAILED"
	TxExpired  TxStatus = "EXPIRED"
	TxRejected TxStatus = "REJECTED"
	TxHeld     TxStatus = "HELD"
)

// TxOutcome is the latest known outcome of a transaction that left its pool.
type TxOutcome struct {
	TxID      string
	PoolID    string
	Status    TxStatus
	State     ProtectionState
	BatchID   string // empty for expired / rejected
	ErrorKind string
	Error     string
	UpdatedAt int64 // ms
}

// ClassificationRecord is one classifier decision.
type ClassificationRecord struct {
	TxID          string
	PoolID        string
	RiskLevel     RiskLevel
	Patterns      []Pattern
	LowConfidence bool
	Fee           string
	ClassifiedAt  int64 // ms
}

// FairnessAggregate summarizes fairness scores of a pool's batches.
type FairnessAggregate struct {
	PoolID     string
	Algorithm  Algorithm
	BatchCount int
	Mean       float64
	Stddev     float64
	Min        float64
	P10        float64
	P50        float64
	P90        float64
	ComputedAt int64 // ms
}
