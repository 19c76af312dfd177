package audit

import (
	"fair-sequencer/internal/domain"
)

// BuildOutcomes derives the outcome of every transaction of a batch from
// its audit. txs is the drained set; the audit's submission outcomes are
// matched by id.
func BuildOutcomes(a *domain.BatchAudit, txs []domain.PendingTransaction) []*domain.TxOutcome {
	submitted := make(map[string]domain.SubmissionOutcome, len(a.Outcomes))
	for _, so := range a.Outcomes {
		submitted[so.TxID] = so
	}

	out := make([]*domain.TxOutcome, 0, len(txs))
	for _, tx := range txs {
		o := &domain.TxOutcome{
			TxID:      tx.ID,
			PoolID:    tx.PoolID,
			State:     tx.State,
			BatchID:   a.BatchID,
			UpdatedAt: a.CompletedAt,
		}
		switch a.Status {
		case domain.BatchHeld:
			o.Status = domain.TxHeld
			o.ErrorKind = domain.KindDependency
			o.Error = a.Error
		case domain.BatchDiscarded:
			o.Status = domain.TxFailed
			o.ErrorKind = domain.KindInvariant
			o.Error = a.Error
		case domain.BatchInterrupted:
			o.Status = domain.TxFailed
			o.ErrorKind = domain.KindDependency
			o.Error = a.Error
		default:
			so, ok := submitted[tx.ID]
			switch {
			case ok && so.Included:
				o.Status = domain.TxIncluded
			case ok:
				o.Status = domain.TxFailed
				o.ErrorKind = domain.KindDependency
				o.Error = so.Error
			default:
				o.Status = domain.TxFailed
				o.ErrorKind = domain.KindDependency
				o.Error = a.Error
			}
		}
		out = append(out, o)
	}
	return out
}

// BatchStatusOf summarizes submission outcomes.
func BatchStatusOf(outcomes []domain.SubmissionOutcome) domain.BatchStatus {
	included := 0
	for _, o := range outcomes {
		if o.Included {
			included++
		}
	}
	switch {
	case len(outcomes) > 0 && included == len(outcomes):
		return domain.BatchSubmitted
	case included > 0:
		return domain.BatchPartial
	default:
		return domain.BatchFailed
	}
}
