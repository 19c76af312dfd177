// Package sequencer is the service facade: transaction intake, commit-reveal,
// pool administration and held batch release over the per-pool scheduler.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fair-sequencer/internal/audit"
	"fair-sequencer/internal/commitreveal"
	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/observability"
	"fair-sequencer/internal/orchestrator"
	"fair-sequencer/internal/pool"
	"fair-sequencer/internal/scheduler"
	"fair-sequencer/internal/storage"
	"fair-sequencer/internal/verification"
)

// ErrShuttingDown is returned for submissions made after Shutdown started.
var ErrShuttingDown = fmt.Errorf("%w: service shutting down", domain.ErrPoolClosed)

// BreakerReporter exposes circuit breaker states by endpoint.
type BreakerReporter interface {
	BreakerStates() map[string]string
}

// Options configures a Service.
type Options struct {
	Registry     *pool.Registry
	Coordinator  *commitreveal.Coordinator
	Orchestrator *orchestrator.Orchestrator
	Recorder     *audit.Recorder

	Verifier verification.Verifier // optional
	Breakers BreakerReporter       // optional

	// IdleAfter retires pools that were empty and inactive this long,
	// checked every RetireEvery. Zero disables retirement.
	IdleAfter   time.Duration
	RetireEvery time.Duration

	Logger *zap.Logger
}

// Service implements the sequencer operations.
type Service struct {
	registry    *pool.Registry
	coordinator *commitreveal.Coordinator
	orch        *orchestrator.Orchestrator
	recorder    *audit.Recorder
	verifier    verification.Verifier
	breakers    BreakerReporter
	sched       *scheduler.Scheduler
	idleAfter   time.Duration
	log         *zap.Logger

	closing atomic.Bool
}

// New creates a service. Every pool the registry creates is scheduled; the
// registry must not have been shared yet.
func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		registry:    opts.Registry,
		coordinator: opts.Coordinator,
		orch:        opts.Orchestrator,
		recorder:    opts.Recorder,
		verifier:    opts.Verifier,
		breakers:    opts.Breakers,
		idleAfter:   opts.IdleAfter,
		log:         log.Named("sequencer"),
	}

	retireEvery := opts.RetireEvery
	if s.idleAfter <= 0 {
		retireEvery = 0
	} else if retireEvery <= 0 {
		retireEvery = s.idleAfter / 2
	}
	s.sched = scheduler.New(scheduler.Options{
		Cycle:       opts.Orchestrator,
		Retirer:     s,
		RetireEvery: retireEvery,
		Logger:      log,
	})
	s.registry.OnCreate(func(p *pool.OrderingPool) {
		s.sched.Track(p)
	})
	return s
}

// Run drives background maintenance until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	return s.sched.Run(ctx)
}

// SubmitResult is returned by SubmitTransaction.
type SubmitResult struct {
	Accepted        bool
	TxID            string
	RiskLevel       domain.RiskLevel
	Patterns        []domain.Pattern
	RequiresCommit  bool
	RejectionReason string
	ErrorKind       string
}

// SubmitTransaction classifies tx and queues it in its pool, creating the
// pool with default configuration on first use.
func (s *Service) SubmitTransaction(ctx context.Context, poolID string, tx domain.PendingTransaction) (SubmitResult, error) {
	res, err := s.submit(ctx, poolID, tx)
	if err != nil {
		observability.RecordSubmission("rejected")
		res.RejectionReason = err.Error()
		res.ErrorKind = domain.KindOf(err)
		s.log.Debug("submission rejected",
			zap.String("pool_id", poolID),
			zap.String("tx_id", res.TxID),
			zap.Error(err),
		)
		return res, err
	}
	observability.RecordSubmission("accepted")
	return res, nil
}

func (s *Service) submit(ctx context.Context, poolID string, tx domain.PendingTransaction) (SubmitResult, error) {
	res := SubmitResult{TxID: tx.ID}
	if s.closing.Load() {
		return res, ErrShuttingDown
	}
	if poolID == "" {
		return res, fmt.Errorf("%w: missing pool id", domain.ErrMalformedTx)
	}

	// Ids stay unique after the transaction has left its pool.
	if tx.ID != "" {
		if _, err := s.recorder.TxStatus(ctx, tx.ID); err == nil {
			return res, fmt.Errorf("%w: %s", domain.ErrDuplicateTx, tx.ID)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return res, fmt.Errorf("check duplicate: %w", err)
		}
	}

	p, sub, err := s.registry.Submit(poolID, tx)
	if err != nil {
		return res, err
	}
	observability.UpdatePoolPending(poolID, p.Len())

	patterns := make([]string, len(sub.Classification.Patterns))
	for i, pt := range sub.Classification.Patterns {
		patterns[i] = string(pt)
	}
	observability.RecordClassification(sub.Classification.Level.String(), patterns)
	if err := s.recorder.RecordClassification(ctx, sub.Tx, sub.Classification); err != nil {
		s.log.Warn("record classification failed", zap.String("tx_id", sub.Tx.ID), zap.Error(err))
	}

	return SubmitResult{
		Accepted:       true,
		TxID:           sub.Tx.ID,
		RiskLevel:      sub.Tx.RiskLevel,
		Patterns:       sub.Tx.Patterns,
		RequiresCommit: sub.Tx.RequiresCommit,
	}, nil
}

// Commit records the commit hash of a gated transaction. A commit for a
// transaction that already left its pool fails with domain.ErrCommitClosed
// and reports the state it left in.
func (s *Service) Commit(ctx context.Context, txID, commitHash string) (commitreveal.CommitResult, error) {
	res, err := s.coordinator.Commit(ctx, txID, commitHash)
	if !errors.Is(err, domain.ErrUnknownTx) {
		return res, err
	}
	state, ok, lerr := s.departedState(ctx, txID)
	if lerr != nil {
		return res, errors.Join(err, lerr)
	}
	if !ok {
		return res, err
	}
	res.State = state
	return res, fmt.Errorf("%w: %s is %s", domain.ErrCommitClosed, txID, state)
}

// Reveal discloses the payload of a committed transaction. A reveal for a
// transaction that expired and was swept fails with domain.ErrRevealExpired;
// any other finished transaction fails with domain.ErrInvalidTransition.
func (s *Service) Reveal(ctx context.Context, txID string, payload []byte) (commitreveal.RevealResult, error) {
	res, err := s.coordinator.Reveal(ctx, txID, payload)
	if !errors.Is(err, domain.ErrUnknownTx) {
		return res, err
	}
	state, ok, lerr := s.departedState(ctx, txID)
	if lerr != nil {
		return res, errors.Join(err, lerr)
	}
	if !ok {
		return res, err
	}
	res.State = state
	if state == domain.StateExpired {
		return res, fmt.Errorf("%w: %s", domain.ErrRevealExpired, txID)
	}
	return res, fmt.Errorf("%w: %s is %s", domain.ErrInvalidTransition, txID, state)
}

// departedState returns the protection state of a transaction that is no
// longer pending: from the registry while its outcome is being recorded,
// then from the outcome store.
func (s *Service) departedState(ctx context.Context, txID string) (domain.ProtectionState, bool, error) {
	if state, ok := s.registry.Departed(txID); ok {
		return state, true, nil
	}
	o, err := s.recorder.TxStatus(ctx, txID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("lookup outcome: %w", err)
	}
	return o.State, true, nil
}

// PoolDefaults returns the configuration a new pool gets.
func (s *Service) PoolDefaults(poolID string) domain.PoolConfig {
	return s.registry.Defaults(poolID)
}

// GetPoolStatus returns a snapshot of a pool.
func (s *Service) GetPoolStatus(poolID string) (domain.PoolStatus, error) {
	p, ok := s.registry.Get(poolID)
	if !ok {
		return domain.PoolStatus{}, fmt.Errorf("%w: %s", domain.ErrUnknownPool, poolID)
	}
	return p.Status(), nil
}

// ConfigurePool creates or updates a pool. A changed batch interval applies
// from the next timer fire.
func (s *Service) ConfigurePool(cfg domain.PoolConfig) (domain.PoolStatus, bool, error) {
	if s.closing.Load() {
		return domain.PoolStatus{}, false, ErrShuttingDown
	}
	p, created, err := s.registry.Configure(cfg)
	if err != nil {
		return domain.PoolStatus{}, false, err
	}
	if !created {
		s.sched.Reset(p.ID())
	}
	s.log.Info("pool configured",
		zap.String("pool_id", p.ID()),
		zap.Bool("created", created),
		zap.String("algorithm", string(p.Config().Algorithm)),
		zap.Int64("batch_interval_ms", p.Config().BatchIntervalMs),
	)
	return p.Status(), created, nil
}

// ClosePool stops the pool's timer, lets an in-flight batch finish and
// rejects the transactions still queued. Later submissions to the pool fail
// with domain.ErrPoolClosed. Returns the number of rejected transactions.
func (s *Service) ClosePool(ctx context.Context, poolID string) (int, error) {
	p, ok := s.registry.Get(poolID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownPool, poolID)
	}
	n := s.closePool(ctx, p)
	s.log.Info("pool closed", zap.String("pool_id", poolID), zap.Int("rejected", n))
	return n, nil
}

func (s *Service) closePool(ctx context.Context, p *pool.OrderingPool) int {
	p.BeginClose()
	s.sched.Untrack(p.ID())
	left := p.Close()
	for _, tx := range left {
		s.recorder.ReportTerminal(ctx, tx, domain.ErrPoolClosed)
		p.Settle(tx.ID)
	}
	observability.UpdatePoolPending(p.ID(), 0)
	return len(left)
}

// RetireIdle closes and removes pools that have been empty and inactive
// for the configured idle period.
func (s *Service) RetireIdle(ctx context.Context) int {
	if s.idleAfter <= 0 {
		return 0
	}
	retired := 0
	for _, p := range s.registry.ClaimIdle(s.idleAfter) {
		s.closePool(ctx, p)
		if s.registry.Remove(p.ID()) {
			retired++
			s.log.Debug("idle pool retired", zap.String("pool_id", p.ID()))
		}
	}
	return retired
}

// TransactionStatus describes a transaction, pending or finished.
type TransactionStatus struct {
	TxID           string
	PoolID         string
	Pending        bool
	State          domain.ProtectionState
	Status         domain.TxStatus // empty while pending
	RiskLevel      domain.RiskLevel
	RequiresCommit bool
	RevealDeadline int64
	BatchID        string
	ErrorKind      string
	Error          string
	UpdatedAt      int64
}

// GetTransactionStatus looks a transaction up in the pools, then in the
// outcome store.
func (s *Service) GetTransactionStatus(ctx context.Context, txID string) (TransactionStatus, error) {
	if tx, ok := s.registry.Lookup(txID); ok {
		return TransactionStatus{
			TxID:           tx.ID,
			PoolID:         tx.PoolID,
			Pending:        true,
			State:          tx.State,
			RiskLevel:      tx.RiskLevel,
			RequiresCommit: tx.RequiresCommit,
			RevealDeadline: tx.RevealDeadline,
			UpdatedAt:      tx.SubmittedAt,
		}, nil
	}

	o, err := s.recorder.TxStatus(ctx, txID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return TransactionStatus{}, fmt.Errorf("%w: %s", domain.ErrUnknownTx, txID)
		}
		return TransactionStatus{}, err
	}
	return TransactionStatus{
		TxID:      o.TxID,
		PoolID:    o.PoolID,
		State:     o.State,
		Status:    o.Status,
		BatchID:   o.BatchID,
		ErrorKind: o.ErrorKind,
		Error:     o.Error,
		UpdatedAt: o.UpdatedAt,
	}, nil
}

// GetBatch returns the stored audit of a batch.
func (s *Service) GetBatch(ctx context.Context, batchID string) (*domain.BatchAudit, error) {
	a, err := s.recorder.Audit(ctx, batchID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownBatch, batchID)
	}
	return a, err
}

// ReleaseHeldBatch retries proof and submission of a held batch.
func (s *Service) ReleaseHeldBatch(ctx context.Context, batchID string) (*domain.BatchAudit, error) {
	res, err := s.orch.ReleaseHeld(ctx, batchID)
	if res == nil {
		return nil, err
	}
	return res.Audit, err
}

// VerifyBatch checks a stored batch against its fairness proof.
func (s *Service) VerifyBatch(ctx context.Context, batchID string) (*verification.VerificationResult, error) {
	if s.verifier == nil {
		return nil, errors.New("sequencer: verification not configured")
	}
	res, err := s.verifier.VerifyBatch(ctx, batchID)
	if errors.Is(err, verification.ErrBatchNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownBatch, batchID)
	}
	return res, err
}

// Status is a service-wide snapshot.
type Status struct {
	Pools     []domain.PoolStatus
	Scheduled []string
	Breakers  map[string]string
	Closing   bool
}

// Status returns the state of every pool and downstream breaker.
func (s *Service) Status() Status {
	pools := s.registry.Pools()
	st := Status{
		Pools:     make([]domain.PoolStatus, 0, len(pools)),
		Scheduled: s.sched.Tracked(),
		Closing:   s.closing.Load(),
	}
	for _, p := range pools {
		st.Pools = append(st.Pools, p.Status())
	}
	if s.breakers != nil {
		st.Breakers = s.breakers.BreakerStates()
	}
	return st
}

// Shutdown stops intake, cancels every timer and waits for in-flight
// batches until ctx ends; batches still running then are recorded as
// interrupted. Transactions left in the pools are rejected.
func (s *Service) Shutdown(ctx context.Context) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	pools := s.registry.Pools()
	for _, p := range pools {
		p.BeginClose()
	}

	err := s.sched.Shutdown(ctx)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	rejected := 0
	for _, p := range pools {
		left := p.Close()
		for _, tx := range left {
			s.recorder.ReportTerminal(rctx, tx, ErrShuttingDown)
			p.Settle(tx.ID)
		}
		rejected += len(left)
	}
	s.log.Info("sequencer stopped", zap.Int("pools", len(pools)), zap.Int("rejected", rejected), zap.Error(err))
	return err
}
