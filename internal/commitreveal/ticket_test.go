package commitreveal

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/idhash"
)

var payload = []byte("swap 100 A for B")

func committedTicket(t *testing.T, deadline int64) *Ticket {
	t.Helper()
	tk := NewTicket()
	require.NoError(t, tk.Commit(idhash.ComputeCommitHash(payload), 1000, deadline))
	return tk
}

func TestTicket_CommitRevealSuccess(t *testing.T) {
	tk := committedTicket(t, 5000)
	assert.Equal(t, domain.StateCommitted, tk.State())

	state, err := tk.Reveal(payload, 4999)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRevealed, state)

	snap := tk.Snapshot()
	assert.Equal(t, int64(4999), snap.RevealedAt)
	assert.Equal(t, payload, snap.Payload)
}

func TestTicket_RevealMismatchRejects(t *testing.T) {
	tk := committedTicket(t, 5000)

	state, err := tk.Reveal([]byte("different"), 2000)
	assert.ErrorIs(t, err, domain.ErrRevealMismatch)
	assert.ErrorIs(t, err, domain.ErrPolicyViolation)
	assert.Equal(t, domain.StateRejected, state)
	assert.Equal(t, domain.StateRejected, tk.State())
}

func TestTicket_RevealAfterDeadlineExpiresRegardlessOfPayload(t *testing.T) {
	for _, p := range [][]byte{payload, []byte("wrong")} {
		tk := committedTicket(t, 5000)

		state, err := tk.Reveal(p, 5000)
		assert.ErrorIs(t, err, domain.ErrRevealExpired)
		assert.Equal(t, domain.StateExpired, state)
	}
}

func TestTicket_RevealWithoutCommit(t *testing.T) {
	tk := NewTicket()
	state, err := tk.Reveal(payload, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.StateOpen, state)
}

func TestTicket_DoubleCommit(t *testing.T) {
	tk := committedTicket(t, 5000)
	err := tk.Commit(idhash.ComputeCommitHash(payload), 1001, 6000)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, int64(5000), tk.Snapshot().RevealDeadline)
}

func TestTicket_RevealAfterExpire(t *testing.T) {
	tk := committedTicket(t, 5000)
	require.True(t, tk.Expire(6000, 0))

	state, err := tk.Reveal(payload, 4000)
	assert.ErrorIs(t, err, domain.ErrRevealExpired)
	assert.Equal(t, domain.StateExpired, state)
}

func TestTicket_Expire(t *testing.T) {
	tk := committedTicket(t, 5000)
	assert.False(t, tk.Expire(4999, 0), "not yet due")
	assert.True(t, tk.Expire(5000, 0))
	assert.False(t, tk.Expire(7000, 0), "already expired")

	open := NewTicket()
	assert.False(t, open.Expire(10_000, 0), "no commit deadline")
	assert.False(t, open.Expire(10_000, 20_000))
	assert.True(t, open.Expire(20_000, 20_000))

	revealed := committedTicket(t, 5000)
	_, err := revealed.Reveal(payload, 2000)
	require.NoError(t, err)
	assert.False(t, revealed.Expire(9000, 0), "revealed tickets never expire")
}

func TestTicket_Reject(t *testing.T) {
	tk := NewTicket()
	assert.True(t, tk.Reject())
	assert.False(t, tk.Reject())
	assert.Equal(t, domain.StateRejected, tk.State())
}

func TestTicket_ConcurrentRevealOnlyOneWins(t *testing.T) {
	for round := 0; round < 50; round++ {
		tk := committedTicket(t, 5000)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := tk.Reveal(payload, 2000); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, domain.StateRevealed, tk.State())
	}
}

func TestTicket_ConcurrentRevealAndExpire(t *testing.T) {
	for round := 0; round < 50; round++ {
		tk := committedTicket(t, 5000)

		var revealed, expired atomic.Bool
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := tk.Reveal(payload, 4000); err == nil {
				revealed.Store(true)
			}
		}()
		go func() {
			defer wg.Done()
			if tk.Expire(5000, 0) {
				expired.Store(true)
			}
		}()
		wg.Wait()

		assert.NotEqual(t, revealed.Load(), expired.Load(), "exactly one transition must win")
	}
}

func TestSnapshot_Apply(t *testing.T) {
	tk := committedTicket(t, 5000)
	_, err := tk.Reveal(payload, 3000)
	require.NoError(t, err)

	var tx domain.PendingTransaction
	tk.Snapshot().Apply(&tx)

	assert.Equal(t, domain.StateRevealed, tx.State)
	assert.Equal(t, int64(1000), tx.CommittedAt)
	assert.Equal(t, int64(5000), tx.RevealDeadline)
	assert.Equal(t, int64(3000), tx.RevealedAt)
	assert.Equal(t, payload, tx.Payload)
}
