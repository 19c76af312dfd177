package commitreveal

import (
	"sync/atomic"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/idhash"
)

// Snapshot is an immutable view of a ticket's state.
type Snapshot struct {
	State          domain.ProtectionState
	CommitHash     string
	CommittedAt    int64 // ms
	RevealDeadline int64 // ms
	RevealedAt     int64 // ms
	Payload        []byte
}

// Ticket is the protection state machine of one transaction.
//
//	OPEN -> COMMITTED -> REVEALED
//	OPEN -> COMMITTED -> EXPIRED
//	OPEN -> EXPIRED            (commit window missed)
//	OPEN | COMMITTED -> REJECTED
//
// Every transition is a compare-and-swap on an immutable snapshot, so two
// callers can never both reveal or both expire the same ticket.
type Ticket struct {
	cur atomic.Pointer[Snapshot]
}

// NewTicket returns a ticket in state OPEN.
func NewTicket() *Ticket {
	t := &Ticket{}
	t.cur.Store(&Snapshot{State: domain.StateOpen})
	return t
}

// Snapshot returns the current state.
func (t *Ticket) Snapshot() Snapshot {
	return *t.cur.Load()
}

// State returns the current protection state.
func (t *Ticket) State() domain.ProtectionState {
	return t.cur.Load().State
}

// Commit moves OPEN -> COMMITTED.
func (t *Ticket) Commit(commitHash string, now, deadline int64) error {
	old := t.cur.Load()
	if old.State != domain.StateOpen {
		return domain.ErrInvalidTransition
	}
	next := &Snapshot{
		State:          domain.StateCommitted,
		CommitHash:     commitHash,
		CommittedAt:    now,
		RevealDeadline: deadline,
	}
	if !t.cur.CompareAndSwap(old, next) {
		return domain.ErrInvalidTransition
	}
	return nil
}

// Reveal moves COMMITTED -> REVEALED when payload matches the commit hash and
// now is before the deadline. A late reveal expires the ticket whatever the
// payload; a mismatching reveal rejects it. The resulting state is returned
// in every case.
func (t *Ticket) Reveal(payload []byte, now int64) (domain.ProtectionState, error) {
	old := t.cur.Load()
	switch old.State {
	case domain.StateCommitted:
	case domain.StateExpired:
		return old.State, domain.ErrRevealExpired
	default:
		return old.State, domain.ErrInvalidTransition
	}

	next := *old
	var cause error
	switch {
	case now >= old.RevealDeadline:
		next.State = domain.StateExpired
		cause = domain.ErrRevealExpired
	case !idhash.MatchesCommit(old.CommitHash, payload):
		next.State = domain.StateRejected
		cause = domain.ErrRevealMismatch
	default:
		next.State = domain.StateRevealed
		next.RevealedAt = now
		next.Payload = append([]byte(nil), payload...)
	}

	if !t.cur.CompareAndSwap(old, &next) {
		cur := t.cur.Load().State
		if cur == domain.StateExpired {
			return cur, domain.ErrRevealExpired
		}
		return cur, domain.ErrInvalidTransition
	}
	return next.State, cause
}

// Expire moves a COMMITTED ticket past its reveal deadline, or an OPEN ticket
// past commitDeadline (when commitDeadline > 0), to EXPIRED.
// Reports whether this call performed the transition.
func (t *Ticket) Expire(now, commitDeadline int64) bool {
	old := t.cur.Load()
	switch {
	case old.State == domain.StateCommitted && now >= old.RevealDeadline:
	case old.State == domain.StateOpen && commitDeadline > 0 && now >= commitDeadline:
	default:
		return false
	}
	next := *old
	next.State = domain.StateExpired
	return t.cur.CompareAndSwap(old, &next)
}

// Reject moves OPEN or COMMITTED to REJECTED.
// Reports whether this call performed the transition.
func (t *Ticket) Reject() bool {
	old := t.cur.Load()
	if old.State != domain.StateOpen && old.State != domain.StateCommitted {
		return false
	}
	next := *old
	next.State = domain.StateRejected
	return t.cur.CompareAndSwap(old, &next)
}

// Apply copies the ticket state onto tx.
func (s Snapshot) Apply(tx *domain.PendingTransaction) {
	tx.State = s.State
	tx.CommitHash = s.CommitHash
	tx.CommittedAt = s.CommittedAt
	tx.RevealDeadline = s.RevealDeadline
	tx.RevealedAt = s.RevealedAt
	if s.Payload != nil {
		tx.Payload = append([]byte(nil), s.Payload...)
	}
}
