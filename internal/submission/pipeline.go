// Package submission sends ordered batches to the chain endpoints with
// per-endpoint circuit breaking, failover and per-transaction retries.
package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"fair-sequencer/internal/chain"
	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/observability"
)

// Config configures a Pipeline.
type Config struct {
	// MaxAttempts is the ceiling of attempts per transaction.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	AttemptTimeout  time.Duration // per SubmitBatch call, 0 = none
	Breaker         BreakerConfig
}

// DefaultConfig returns the default submission policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		AttemptTimeout:  10 * time.Second,
		Breaker:         DefaultBreakerConfig(),
	}
}

type endpoint struct {
	client  chain.Client
	breaker *Breaker
}

// Pipeline submits batches. Endpoints are tried in order; an endpoint with
// an open breaker is skipped without being called.
type Pipeline struct {
	endpoints []endpoint
	cfg       Config
	log       *zap.Logger
	clock     func() time.Time
}

// NewPipeline creates a pipeline over clients. The clock drives the
// breakers and may be nil.
func NewPipeline(clients []chain.Client, cfg Config, logger *zap.Logger, clock func() time.Time) *Pipeline {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	p := &Pipeline{cfg: cfg, log: logger.Named("submission"), clock: clock}
	for _, c := range clients {
		p.endpoints = append(p.endpoints, endpoint{
			client:  c,
			breaker: NewBreaker(c.Endpoint(), cfg.Breaker, clock),
		})
	}
	return p
}

// Breaker returns the breaker of the named endpoint.
func (p *Pipeline) Breaker(name string) (*Breaker, bool) {
	for _, ep := range p.endpoints {
		if ep.client.Endpoint() == name {
			return ep.breaker, true
		}
	}
	return nil, false
}

// BreakerStates returns the state of every endpoint breaker.
func (p *Pipeline) BreakerStates() map[string]string {
	out := make(map[string]string, len(p.endpoints))
	for _, ep := range p.endpoints {
		out[ep.client.Endpoint()] = ep.breaker.State().String()
	}
	return out
}

type pendingTx struct {
	tx       domain.PendingTransaction
	attempts int
	lastErr  string
	endpoint string
}

// Submit sends txs (in final order) with the batch proof and returns one
// outcome per transaction in the same order. Transactions the endpoint does
// not include are retried with exponential backoff until MaxAttempts;
// included ones are never resent. A canceled ctx marks the remaining
// transactions failed and returns domain.ErrInterrupted.
func (p *Pipeline) Submit(ctx context.Context, batch domain.OrderedBatch, txs []domain.PendingTransaction, proof domain.FairnessProof) ([]domain.SubmissionOutcome, error) {
	log := p.log.With(zap.String("batch_id", batch.BatchID), zap.String("pool_id", batch.PoolID))

	outcomes := make(map[string]domain.SubmissionOutcome, len(txs))
	remaining := make([]*pendingTx, len(txs))
	for i := range txs {
		remaining[i] = &pendingTx{tx: txs[i]}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.InitialInterval
	bo.MaxInterval = p.cfg.MaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	var interrupted error
	for attempt := 1; attempt <= p.cfg.MaxAttempts && len(remaining) > 0; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, bo.NextBackOff()); err != nil {
				interrupted = err
				break
			}
		}

		for _, r := range remaining {
			r.attempts++
		}
		results, ep, err := p.attempt(ctx, batch, remaining, proof)
		if err != nil {
			for _, r := range remaining {
				r.lastErr = err.Error()
				r.endpoint = ep
			}
			if ctx.Err() != nil {
				interrupted = ctx.Err()
				break
			}
			log.Warn("submit attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("remaining", len(remaining)),
				zap.String("endpoint", ep),
				zap.Error(err),
			)
			continue
		}

		byID := make(map[string]chain.TxResult, len(results))
		for _, res := range results {
			byID[res.ID] = res
		}
		kept := remaining[:0]
		for _, r := range remaining {
			r.endpoint = ep
			res, ok := byID[r.tx.ID]
			switch {
			case ok && res.Included:
				outcomes[r.tx.ID] = domain.SubmissionOutcome{
					TxID:     r.tx.ID,
					Included: true,
					Attempts: r.attempts,
					Endpoint: ep,
				}
			case ok:
				r.lastErr = res.Error
				kept = append(kept, r)
			default:
				r.lastErr = "no result returned"
				kept = append(kept, r)
			}
		}
		remaining = kept
	}

	for _, r := range remaining {
		msg := r.lastErr
		if interrupted != nil {
			msg = fmt.Sprintf("%v: %v", domain.ErrInterrupted, interrupted)
		}
		if msg == "" {
			msg = domain.ErrChainSubmit.Error()
		}
		outcomes[r.tx.ID] = domain.SubmissionOutcome{
			TxID:     r.tx.ID,
			Error:    msg,
			Attempts: r.attempts,
			Endpoint: r.endpoint,
		}
	}

	ordered := make([]domain.SubmissionOutcome, len(txs))
	for i := range txs {
		ordered[i] = outcomes[txs[i].ID]
	}

	if interrupted != nil {
		return ordered, fmt.Errorf("%w: %v", domain.ErrInterrupted, interrupted)
	}
	return ordered, nil
}

// attempt makes one logical call for the remaining transactions on the
// first endpoint whose breaker admits it.
func (p *Pipeline) attempt(ctx context.Context, batch domain.OrderedBatch, remaining []*pendingTx, proof domain.FairnessProof) ([]chain.TxResult, string, error) {
	if len(p.endpoints) == 0 {
		return nil, "", domain.ErrNoEndpoint
	}

	txs := make([]domain.PendingTransaction, len(remaining))
	for i, r := range remaining {
		txs[i] = r.tx
	}
	req := chain.NewBatchRequest(batch, txs, proof)

	for _, ep := range p.endpoints {
		name := ep.client.Endpoint()
		if !ep.breaker.Allow() {
			continue
		}

		actx, cancel := p.attemptContext(ctx)
		start := time.Now()
		results, err := ep.client.SubmitBatch(actx, req)
		cancel()
		observability.RecordSubmitAttempt(name, time.Since(start).Seconds(), err)

		if err != nil {
			// A call cut short by the caller says nothing about the endpoint.
			if ctx.Err() != nil {
				ep.breaker.Cancel()
			} else {
				ep.breaker.Failure()
			}
			return nil, name, fmt.Errorf("%w: %s: %v", domain.ErrChainSubmit, name, err)
		}
		ep.breaker.Success()
		return results, name, nil
	}
	return nil, "", domain.ErrCircuitOpen
}

func (p *Pipeline) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.AttemptTimeout)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d == backoff.Stop {
		return errors.New("backoff stopped")
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
