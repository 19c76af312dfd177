package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"fair-sequencer/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded schema for batch_audits,
// tx_outcomes and held_batches in lexical file order. Every statement is
// idempotent, so the server runs it on each start.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return fmt.Errorf("read embedded postgres migrations: %w", err)
	}
	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}
