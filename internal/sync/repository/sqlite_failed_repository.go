package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/vitalhome/syncengine/internal/database"
	apperrors "github.com/vitalhome/syncengine/internal/errors"
	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// SQLiteFailedOperationRepository handles the store of operations that
// exhausted their retries or failed permanently.
type SQLiteFailedOperationRepository struct {
	db *sql.DB
}

// NewSQLiteFailedOperationRepository creates a new SQLiteFailedOperationRepository.
func NewSQLiteFailedOperationRepository(db *sql.DB) *SQLiteFailedOperationRepository {
	return &SQLiteFailedOperationRepository{db: db}
}

const failedColumns = `id, action, entity_type, entity_id, payload, idempotency_key,
	attempts, trace_id, txn_token, error_kind, error_message, created_at, failed_at`

// Create records a terminally failed operation.
func (r *SQLiteFailedOperationRepository) Create(ctx context.Context, op *domain.FailedOperation) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO failed_operations (` + failedColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO NOTHING`

	_, err := querier.ExecContext(
		ctx,
		query,
		op.ID.String(),
		op.Action,
		op.EntityType,
		op.EntityID,
		string(op.Payload),
		op.IdempotencyKey.String(),
		op.Attempts,
		op.TraceID.String(),
		nullableUUID(op.TxnToken),
		op.ErrorKind,
		op.ErrorMessage,
		op.CreatedAt,
		op.FailedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create failed operation")
	}
	return nil
}

// Get retrieves one failed operation by id.
func (r *SQLiteFailedOperationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.FailedOperation, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + failedColumns + ` FROM failed_operations WHERE id = ?`

	op, err := scanFailedOperation(querier.QueryRowContext(ctx, query, id.String()))
	if err == sql.ErrNoRows {
		return nil, domain.ErrOperationNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get failed operation")
	}
	return op, nil
}

// List returns failed operations ordered by failure time, newest first.
func (r *SQLiteFailedOperationRepository) List(ctx context.Context, offset, limit int) ([]*domain.FailedOperation, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + failedColumns + ` FROM failed_operations
			  ORDER BY failed_at DESC
			  LIMIT ? OFFSET ?`

	rows, err := querier.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list failed operations")
	}
	defer rows.Close() //nolint:errcheck

	var ops []*domain.FailedOperation
	for rows.Next() {
		op, err := scanFailedOperation(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan failed operation")
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate failed operations")
	}
	return ops, nil
}

// Delete removes a failed operation, used when the user retries or discards
// it.
func (r *SQLiteFailedOperationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx, `DELETE FROM failed_operations WHERE id = ?`, id.String())
	if err != nil {
		return apperrors.Wrap(err, "failed to delete failed operation")
	}
	return nil
}

// Count returns the number of failed operations.
func (r *SQLiteFailedOperationRepository) Count(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_operations`).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count failed operations")
	}
	return count, nil
}

func scanFailedOperation(row rowScanner) (*domain.FailedOperation, error) {
	var (
		op       domain.FailedOperation
		id       string
		payload  string
		idemKey  string
		traceID  string
		txnToken sql.NullString
	)

	err := row.Scan(
		&id,
		&op.Action,
		&op.EntityType,
		&op.EntityID,
		&payload,
		&idemKey,
		&op.Attempts,
		&traceID,
		&txnToken,
		&op.ErrorKind,
		&op.ErrorMessage,
		&op.CreatedAt,
		&op.FailedAt,
	)
	if err != nil {
		return nil, err
	}

	if op.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if op.IdempotencyKey, err = uuid.Parse(idemKey); err != nil {
		return nil, err
	}
	if op.TraceID, err = uuid.Parse(traceID); err != nil {
		return nil, err
	}
	op.Payload = []byte(payload)
	if txnToken.Valid {
		token, err := uuid.Parse(txnToken.String)
		if err != nil {
			return nil, err
		}
		op.TxnToken = &token
	}
	op.CreatedAt = op.CreatedAt.UTC()
	op.FailedAt = op.FailedAt.UTC()

	return &op, nil
}
