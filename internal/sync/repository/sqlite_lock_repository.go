package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vitalhome/syncengine/internal/database"
	apperrors "github.com/vitalhome/syncengine/internal/errors"
	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// SQLiteLockRepository persists the single processing-lock row. Acquire
// and takeover are conditional writes so two engine instances sharing a
// database can never both hold the lock.
type SQLiteLockRepository struct {
	db *sql.DB
}

// NewSQLiteLockRepository creates a new SQLiteLockRepository.
func NewSQLiteLockRepository(db *sql.DB) *SQLiteLockRepository {
	return &SQLiteLockRepository{db: db}
}

// Get returns the current lock record, or ErrNotFound when no holder exists.
func (r *SQLiteLockRepository) Get(ctx context.Context) (*domain.ProcessingLockRecord, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT holder_id, acquired_at, heartbeat_at FROM processing_lock WHERE id = 1`

	var record domain.ProcessingLockRecord
	err := querier.QueryRowContext(ctx, query).Scan(&record.HolderID, &record.AcquiredAt, &record.HeartbeatAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get processing lock")
	}
	record.AcquiredAt = record.AcquiredAt.UTC()
	record.HeartbeatAt = record.HeartbeatAt.UTC()
	return &record, nil
}

// TryInsert claims the lock when no row exists. Returns true when this
// holder won the row.
func (r *SQLiteLockRepository) TryInsert(ctx context.Context, holderID string, now time.Time) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO processing_lock (id, holder_id, acquired_at, heartbeat_at)
			  VALUES (1, ?, ?, ?)
			  ON CONFLICT(id) DO NOTHING`

	result, err := querier.ExecContext(ctx, query, holderID, now.UTC(), now.UTC())
	if err != nil {
		return false, apperrors.Wrap(err, "failed to insert processing lock")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to read affected rows")
	}
	return affected == 1, nil
}

// TryTakeOver replaces the holder when the current one matches holderID or
// its heartbeat is older than staleBefore. Returns true when the takeover
// succeeded.
func (r *SQLiteLockRepository) TryTakeOver(ctx context.Context, holderID string, now, staleBefore time.Time) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE processing_lock
			  SET holder_id = ?, acquired_at = ?, heartbeat_at = ?
			  WHERE id = 1 AND (holder_id = ? OR heartbeat_at <= ?)`

	result, err := querier.ExecContext(ctx, query, holderID, now.UTC(), now.UTC(), holderID, staleBefore.UTC())
	if err != nil {
		return false, apperrors.Wrap(err, "failed to take over processing lock")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to read affected rows")
	}
	return affected == 1, nil
}

// Heartbeat refreshes the heartbeat timestamp for the given holder. Returns
// false when the lock is no longer held by holderID.
func (r *SQLiteLockRepository) Heartbeat(ctx context.Context, holderID string, now time.Time) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE processing_lock SET heartbeat_at = ? WHERE id = 1 AND holder_id = ?`

	result, err := querier.ExecContext(ctx, query, now.UTC(), holderID)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to heartbeat processing lock")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to read affected rows")
	}
	return affected == 1, nil
}

// Release drops the lock row when held by holderID.
func (r *SQLiteLockRepository) Release(ctx context.Context, holderID string) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx, `DELETE FROM processing_lock WHERE id = 1 AND holder_id = ?`, holderID)
	if err != nil {
		return apperrors.Wrap(err, "failed to release processing lock")
	}
	return nil
}
