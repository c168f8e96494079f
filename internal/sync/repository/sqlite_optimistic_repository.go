package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/vitalhome/syncengine/internal/database"
	apperrors "github.com/vitalhome/syncengine/internal/errors"
	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// SQLiteOptimisticRepository persists optimistic update records keyed by
// transaction token.
type SQLiteOptimisticRepository struct {
	db *sql.DB
}

// NewSQLiteOptimisticRepository creates a new SQLiteOptimisticRepository.
func NewSQLiteOptimisticRepository(db *sql.DB) *SQLiteOptimisticRepository {
	return &SQLiteOptimisticRepository{db: db}
}

const optimisticColumns = `txn_token, entity_type, entity_id, previous_value, new_value, applied_at`

// Create records an optimistic update. Replaying the same token overwrites
// with identical data, so journal replay is safe.
func (r *SQLiteOptimisticRepository) Create(ctx context.Context, record *domain.OptimisticUpdateRecord) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO optimistic_updates (` + optimisticColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?)
			  ON CONFLICT(txn_token) DO NOTHING`

	var previous any
	if record.PreviousValue != nil {
		previous = string(record.PreviousValue)
	}

	_, err := querier.ExecContext(
		ctx,
		query,
		record.TxnToken.String(),
		record.EntityType,
		record.EntityID,
		previous,
		string(record.NewValue),
		record.AppliedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create optimistic update")
	}
	return nil
}

// Get retrieves the record for one transaction token.
func (r *SQLiteOptimisticRepository) Get(ctx context.Context, txnToken uuid.UUID) (*domain.OptimisticUpdateRecord, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + optimisticColumns + ` FROM optimistic_updates WHERE txn_token = ?`

	record, err := scanOptimisticRecord(querier.QueryRowContext(ctx, query, txnToken.String()))
	if err == sql.ErrNoRows {
		return nil, domain.ErrOptimisticNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get optimistic update")
	}
	return record, nil
}

// ListByEntity returns all optimistic records for one entity in application
// order.
func (r *SQLiteOptimisticRepository) ListByEntity(
	ctx context.Context,
	entityType domain.EntityType,
	entityID string,
) ([]*domain.OptimisticUpdateRecord, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + optimisticColumns + ` FROM optimistic_updates
			  WHERE entity_type = ? AND entity_id = ?
			  ORDER BY applied_at ASC`

	rows, err := querier.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list optimistic updates")
	}
	defer rows.Close() //nolint:errcheck

	var records []*domain.OptimisticUpdateRecord
	for rows.Next() {
		record, err := scanOptimisticRecord(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan optimistic update")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate optimistic updates")
	}
	return records, nil
}

// Delete removes the record for a confirmed or rolled-back update. Absent
// tokens are a no-op.
func (r *SQLiteOptimisticRepository) Delete(ctx context.Context, txnToken uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx, `DELETE FROM optimistic_updates WHERE txn_token = ?`, txnToken.String())
	if err != nil {
		return apperrors.Wrap(err, "failed to delete optimistic update")
	}
	return nil
}

// Count returns the number of outstanding optimistic updates.
func (r *SQLiteOptimisticRepository) Count(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx, `SELECT COUNT(*) FROM optimistic_updates`).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count optimistic updates")
	}
	return count, nil
}

func scanOptimisticRecord(row rowScanner) (*domain.OptimisticUpdateRecord, error) {
	var (
		record   domain.OptimisticUpdateRecord
		token    string
		previous sql.NullString
		newValue string
	)

	err := row.Scan(&token, &record.EntityType, &record.EntityID, &previous, &newValue, &record.AppliedAt)
	if err != nil {
		return nil, err
	}

	if record.TxnToken, err = uuid.Parse(token); err != nil {
		return nil, err
	}
	if previous.Valid {
		record.PreviousValue = []byte(previous.String)
	}
	record.NewValue = []byte(newValue)
	record.AppliedAt = record.AppliedAt.UTC()

	return &record, nil
}
