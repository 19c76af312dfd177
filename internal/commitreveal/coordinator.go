// Package commitreveal runs the two-phase commit-reveal protocol for risky
// transactions.
//
// A gated transaction is committed with the hash of its payload; the
// coordinator draws a random reveal delay from the randomness provider
// outside any pool lock, then applies the transition on the owning pool.
// The payload becomes visible (and the transaction eligible) only on reveal.
package commitreveal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/idhash"
	"fair-sequencer/internal/observability"
	"fair-sequencer/internal/randomness"
)

// Pool is the part of an ordering pool the coordinator drives. Each
// transition method runs under the pool's lock and returns the transaction
// as it stands afterwards. Settle releases the ids of transactions whose
// terminal outcome has been reported.
type Pool interface {
	ID() string
	Config() domain.PoolConfig
	Commit(txID, commitHash string, now, deadline int64) (domain.PendingTransaction, error)
	Reveal(txID string, payload []byte, now int64) (domain.PendingTransaction, error)
	Reject(txID string) (domain.PendingTransaction, error)
	Settle(txIDs ...string)
}

// Sweeper is a pool that can expire overdue commitments.
type Sweeper interface {
	ID() string
	SweepExpired(now int64) []domain.PendingTransaction
	Settle(txIDs ...string)
}

type settler interface {
	Settle(txIDs ...string)
}

// Resolver finds the pool holding a transaction.
type Resolver interface {
	PoolForTx(txID string) (Pool, error)
}

// Reporter receives transactions that ended as EXPIRED or REJECTED.
type Reporter interface {
	ReportTerminal(ctx context.Context, tx domain.PendingTransaction, cause error)
}

// CommitResult is returned by Commit.
type CommitResult struct {
	Accepted       bool
	TxID           string
	RevealDeadline int64 // ms
	Delay          randomness.Value
	State          domain.ProtectionState
}

// RevealResult is returned by Reveal.
type RevealResult struct {
	Accepted bool
	TxID     string
	State    domain.ProtectionState
}

// Options configures a Coordinator.
type Options struct {
	Pools      Resolver
	Randomness randomness.Provider
	Reporter   Reporter // optional
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Coordinator drives commit, reveal and expiry.
type Coordinator struct {
	pools    Resolver
	random   randomness.Provider
	reporter Reporter
	log      *zap.Logger
	clock    func() time.Time
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		pools:    opts.Pools,
		random:   opts.Randomness,
		reporter: opts.Reporter,
		log:      opts.Logger,
		clock:    opts.Clock,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	c.log = c.log.Named("commitreveal")
	if c.clock == nil {
		c.clock = time.Now
	}
	return c
}

// Commit records commitHash for txID and assigns a random reveal deadline.
// A malformed hash rejects the transaction.
func (c *Coordinator) Commit(ctx context.Context, txID, commitHash string) (CommitResult, error) {
	res := CommitResult{TxID: txID}

	p, err := c.pools.PoolForTx(txID)
	if err != nil {
		return res, err
	}

	if !idhash.ValidCommitHash(commitHash) {
		tx, rerr := p.Reject(txID)
		if rerr != nil {
			return res, fmt.Errorf("%w: %v", domain.ErrMalformedCommit, rerr)
		}
		res.State = tx.State
		c.terminal(ctx, p, tx, domain.ErrMalformedCommit)
		return res, domain.ErrMalformedCommit
	}

	cfg := p.Config()
	delay, err := c.random.GetRandom(ctx, uint64(cfg.RevealDelayMinMs), uint64(cfg.RevealDelayMaxMs))
	if err != nil {
		return res, fmt.Errorf("%w: reveal delay: %v", domain.ErrRandomness, err)
	}

	now := c.clock().UnixMilli()
	deadline := now + int64(delay.Value)

	tx, err := p.Commit(txID, commitHash, now, deadline)
	res.State = tx.State
	if err != nil {
		if tx.State.IsTerminal() {
			c.terminal(ctx, p, tx, err)
		}
		return res, err
	}

	observability.RecordCommitReveal(string(domain.StateCommitted))
	c.log.Debug("committed",
		zap.String("pool_id", p.ID()),
		zap.String("tx_id", txID),
		zap.Int64("reveal_deadline", deadline),
		zap.Uint64("delay_ms", delay.Value),
	)

	res.Accepted = true
	res.RevealDeadline = deadline
	res.Delay = delay
	return res, nil
}

// Reveal discloses the payload of a committed transaction.
func (c *Coordinator) Reveal(ctx context.Context, txID string, payload []byte) (RevealResult, error) {
	res := RevealResult{TxID: txID}

	p, err := c.pools.PoolForTx(txID)
	if err != nil {
		return res, err
	}

	tx, err := p.Reveal(txID, payload, c.clock().UnixMilli())
	res.State = tx.State
	if err != nil {
		if tx.State.IsTerminal() {
			c.terminal(ctx, p, tx, err)
		}
		return res, err
	}

	observability.RecordCommitReveal(string(domain.StateRevealed))
	res.Accepted = true
	return res, nil
}

// Sweep expires overdue commitments of one pool and reports them.
func (c *Coordinator) Sweep(ctx context.Context, p Sweeper) []domain.PendingTransaction {
	expired := p.SweepExpired(c.clock().UnixMilli())
	if len(expired) == 0 {
		return nil
	}

	observability.RecordExpired(p.ID(), len(expired))
	c.log.Info("expired commitments",
		zap.String("pool_id", p.ID()),
		zap.Int("count", len(expired)),
	)
	for _, tx := range expired {
		c.terminal(ctx, p, tx, domain.ErrRevealExpired)
	}
	return expired
}

func (c *Coordinator) terminal(ctx context.Context, p settler, tx domain.PendingTransaction, cause error) {
	observability.RecordCommitReveal(string(tx.State))
	c.log.Info("transaction left pool",
		zap.String("pool_id", tx.PoolID),
		zap.String("tx_id", tx.ID),
		zap.String("state", string(tx.State)),
		zap.Error(cause),
	)
	if c.reporter != nil {
		c.reporter.ReportTerminal(ctx, tx, cause)
	}
	p.Settle(tx.ID)
}
