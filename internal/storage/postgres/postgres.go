// Package postgres stores the sequencer's durable records in PostgreSQL:
// batch_audits (one row per batch, including its fairness proof),
// tx_outcomes (the final status of every transaction id) and held_batches
// (batches waiting for a manual release).
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fair-sequencer/internal/storage"
)

// applicationName tags sequencer sessions in pg_stat_activity.
const applicationName = "fair-sequencer"

// Pool is the connection pool shared by the audit, outcome and held batch
// stores.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to dsn and pings the server. Sessions report
// application_name "fair-sequencer" unless the DSN sets one.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// sqlstate unique_violation: a batch id or held batch written twice.
const pgErrUniqueViolation = "23505"

// storeError maps driver errors onto the storage sentinels and wraps the
// rest with op.
func storeError(op string, err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return storage.ErrNotFound
	case errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation:
		return storage.ErrDuplicateKey
	}
	return fmt.Errorf("%s: %w", op, err)
}
