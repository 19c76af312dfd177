package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"fair-sequencer/internal/storage"
)

func TestStoreError(t *testing.T) {
	assert.ErrorIs(t, storeError("get", pgx.ErrNoRows), storage.ErrNotFound)
	assert.ErrorIs(t, storeError("insert", &pgconn.PgError{Code: pgErrUniqueViolation}), storage.ErrDuplicateKey)

	other := errors.New("connection reset")
	err := storeError("insert batch audit", other)
	assert.ErrorIs(t, err, other)
	assert.EqualError(t, err, "insert batch audit: connection reset")

	fk := &pgconn.PgError{Code: "23503"}
	assert.NotErrorIs(t, storeError("insert", fk), storage.ErrDuplicateKey)
}
