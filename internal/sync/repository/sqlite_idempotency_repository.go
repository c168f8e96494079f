package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vitalhome/syncengine/internal/database"
	apperrors "github.com/vitalhome/syncengine/internal/errors"
)

// SQLiteIdempotencyRepository records keys whose operations were confirmed
// by the server, so a crash between server success and local cleanup never
// causes a second dispatch of the same mutation.
type SQLiteIdempotencyRepository struct {
	db *sql.DB
}

// NewSQLiteIdempotencyRepository creates a new SQLiteIdempotencyRepository.
func NewSQLiteIdempotencyRepository(db *sql.DB) *SQLiteIdempotencyRepository {
	return &SQLiteIdempotencyRepository{db: db}
}

// MarkSucceeded records a key as confirmed. Repeat marks keep the earliest
// success time.
func (r *SQLiteIdempotencyRepository) MarkSucceeded(ctx context.Context, key uuid.UUID, at time.Time) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO idempotency_keys (key, succeeded_at)
			  VALUES (?, ?)
			  ON CONFLICT(key) DO NOTHING`

	_, err := querier.ExecContext(ctx, query, key.String(), at.UTC())
	if err != nil {
		return apperrors.Wrap(err, "failed to mark idempotency key")
	}
	return nil
}

// HasSucceeded reports whether the key was already confirmed by the server.
func (r *SQLiteIdempotencyRepository) HasSucceeded(ctx context.Context, key uuid.UUID) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	var exists int
	err := querier.QueryRowContext(ctx, `SELECT 1 FROM idempotency_keys WHERE key = ?`, key.String()).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(err, "failed to check idempotency key")
	}
	return true, nil
}

// DeleteOlderThan evicts keys confirmed before the cutoff and returns how
// many were removed.
func (r *SQLiteIdempotencyRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE succeeded_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to evict idempotency keys")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to read affected rows")
	}
	return affected, nil
}
