package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fair-sequencer/internal/domain"
)

// streamClient is the part of a redis client the publisher uses.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisConfig configures a RedisPublisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Stream is the stream key events are appended to.
	Stream string
	// MaxLen caps the stream length (approximate trimming). 0 disables trimming.
	MaxLen       int64
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns the default publisher configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Stream:       "fair-sequencer:audit",
		MaxLen:       100000,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisPublisher appends audit events to a Redis stream with XADD.
type RedisPublisher struct {
	client streamClient
	stream string
	maxLen int64
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return newRedisPublisher(client, cfg), nil
}

func newRedisPublisher(client streamClient, cfg RedisConfig) *RedisPublisher {
	stream := cfg.Stream
	if stream == "" {
		stream = DefaultRedisConfig().Stream
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: cfg.MaxLen}
}

// batchEvent is the stream payload of a batch audit.
type batchEvent struct {
	BatchID        string   `json:"batch_id"`
	PoolID         string   `json:"pool_id"`
	Sequence       uint64   `json:"sequence"`
	Algorithm      string   `json:"algorithm"`
	Status         string   `json:"status"`
	FairnessScore  float64  `json:"fairness_score"`
	OrderedTxIDs   []string `json:"ordered_tx_ids"`
	ProofReference string   `json:"proof_reference,omitempty"`
	Included       int      `json:"included"`
	Error          string   `json:"error,omitempty"`
	CompletedAt    int64    `json:"completed_at"`
}

// outcomeEvent is the stream payload of a transaction outcome.
type outcomeEvent struct {
	TxID      string `json:"tx_id"`
	PoolID    string `json:"pool_id"`
	Status    string `json:"status"`
	BatchID   string `json:"batch_id,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
}

// PublishBatch appends a "batch" event.
func (p *RedisPublisher) PublishBatch(ctx context.Context, a *domain.BatchAudit) error {
	ev := batchEvent{
		BatchID:        a.BatchID,
		PoolID:         a.PoolID,
		Sequence:       a.Sequence,
		Algorithm:      string(a.Algorithm),
		Status:         string(a.Status),
		FairnessScore:  a.FairnessScore,
		OrderedTxIDs:   a.OrderedTxIDs,
		ProofReference: a.ProofReference,
		Included:       a.IncludedCount(),
		Error:          a.Error,
		CompletedAt:    a.CompletedAt,
	}
	return p.add(ctx, "batch", a.BatchID, ev)
}

// PublishOutcomes appends one "outcome" event per transaction.
func (p *RedisPublisher) PublishOutcomes(ctx context.Context, outcomes []*domain.TxOutcome) error {
	for _, o := range outcomes {
		ev := outcomeEvent{
			TxID:      o.TxID,
			PoolID:    o.PoolID,
			Status:    string(o.Status),
			BatchID:   o.BatchID,
			ErrorKind: o.ErrorKind,
			Error:     o.Error,
			UpdatedAt: o.UpdatedAt,
		}
		if err := p.add(ctx, "outcome", o.TxID, ev); err != nil {
			return err
		}
	}
	return nil
}

func (p *RedisPublisher) add(ctx context.Context, kind, key string, ev any) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", kind, err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"type": kind,
			"key":  key,
			"data": string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s %s: %w", kind, key, err)
	}
	return nil
}

// Close closes the redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
