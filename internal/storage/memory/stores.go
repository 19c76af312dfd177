package memory

import "fair-sequencer/internal/storage"

// NewStores returns a full set of in-memory stores.
func NewStores() storage.Stores {
	return storage.Stores{
		Audits:         NewBatchAuditStore(),
		Held:           NewHeldBatchStore(),
		Outcomes:       NewTxOutcomeStore(),
		Classification: NewClassificationStore(),
		Fairness:       NewFairnessAggregateStore(),
	}
}
