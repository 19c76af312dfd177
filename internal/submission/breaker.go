package submission

import (
	"sync"
	"time"

	"fair-sequencer/internal/domain"
	"fair-sequencer/internal/observability"
)

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit
	Cooldown         time.Duration // time spent open before a probe is allowed
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         10 * time.Second,
	}
}

// BreakerStats is a snapshot of a breaker.
type BreakerStats struct {
	State            BreakerState
	ConsecutiveFails int
	OpenedAt         time.Time
	TotalFailures    int64
	TotalSuccesses   int64
	TotalRejected    int64
}

// Breaker is a consecutive-failure circuit breaker for one endpoint.
//
//	closed --K failures--> open --cooldown--> half-open --success--> closed
//	                                           half-open --failure--> open
//
// Half-open admits exactly one probe; other callers are rejected until the
// probe reports.
type Breaker struct {
	endpoint string
	cfg      BreakerConfig
	clock    func() time.Time

	mu       sync.Mutex
	state    BreakerState
	fails    int
	openedAt time.Time
	probing  bool
	stats    BreakerStats
}

// NewBreaker creates a closed breaker.
func NewBreaker(endpoint string, cfg BreakerConfig, clock func() time.Time) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if clock == nil {
		clock = time.Now
	}
	b := &Breaker{endpoint: endpoint, cfg: cfg, clock: clock}
	observability.SetCircuitState(endpoint, int(BreakerClosed))
	return b
}

// Allow reports whether a call may proceed. A true result must be followed
// by exactly one Success or Failure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.clock().Sub(b.openedAt) < b.cfg.Cooldown {
			b.rejectLocked()
			return false
		}
		b.setStateLocked(BreakerHalfOpen)
		b.probing = true
		return true
	default: // half-open
		if b.probing {
			b.rejectLocked()
			return false
		}
		b.probing = true
		return true
	}
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.TotalSuccesses++
	b.fails = 0
	b.probing = false
	if b.state != BreakerClosed {
		b.setStateLocked(BreakerClosed)
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.TotalFailures++
	b.fails++
	b.probing = false
	if b.state == BreakerHalfOpen || b.fails >= b.cfg.FailureThreshold {
		b.openedAt = b.clock()
		b.setStateLocked(BreakerOpen)
	}
}

// Cancel ends an allowed call that was abandoned before the endpoint
// answered. It counts as neither success nor failure.
func (b *Breaker) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// Execute runs fn when the breaker allows it and records the result.
// It returns domain.ErrCircuitOpen without calling fn otherwise.
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return domain.ErrCircuitOpen
	}
	if err := fn(); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.clock().Sub(b.openedAt) >= b.cfg.Cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Stats returns a snapshot.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.State = b.state
	s.ConsecutiveFails = b.fails
	s.OpenedAt = b.openedAt
	return s
}

func (b *Breaker) rejectLocked() {
	b.stats.TotalRejected++
	observability.RecordCircuitRejected(b.endpoint)
}

func (b *Breaker) setStateLocked(s BreakerState) {
	b.state = s
	observability.SetCircuitState(b.endpoint, int(s))
}
