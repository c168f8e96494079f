// Package repository provides SQLite persistence for the durable sync
// stores: pending queue, failed store, idempotency keys, optimistic
// updates, transaction journal, and processing lock.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vitalhome/syncengine/internal/database"
	apperrors "github.com/vitalhome/syncengine/internal/errors"
	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// SQLitePendingOperationRepository handles pending-operation persistence.
// All writes are idempotent so journal replay can safely repeat them.
type SQLitePendingOperationRepository struct {
	db *sql.DB
}

// NewSQLitePendingOperationRepository creates a new SQLitePendingOperationRepository.
func NewSQLitePendingOperationRepository(db *sql.DB) *SQLitePendingOperationRepository {
	return &SQLitePendingOperationRepository{db: db}
}

const pendingColumns = `id, action, entity_type, entity_id, payload, idempotency_key,
	attempts, status, trace_id, txn_token, created_at, next_attempt_at`

// Create inserts a queued operation. Repeat inserts of the same id are
// no-ops, which keeps journal replay safe.
func (r *SQLitePendingOperationRepository) Create(ctx context.Context, op *domain.PendingOperation) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO pending_operations (` + pendingColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		op.Status,
		op.TraceID.String(),
		nullableUUID(op.TxnToken),
		op.CreatedAt,
		nullableTime(op.NextAttemptAt),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create pending operation")
	}
	return nil
}

// Get retrieves one operation by id.
func (r *SQLitePendingOperationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.PendingOperation, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + pendingColumns + ` FROM pending_operations WHERE id = ?`

	op, err := scanPendingOperation(querier.QueryRowContext(ctx, query, id.String()))
	if err == sql.ErrNoRows {
		return nil, domain.ErrOperationNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get pending operation")
	}
	return op, nil
}

// GetOldestEligible returns the oldest pending operation whose
// next_attempt_at is null or in the past, or nil when the queue has no
// eligible work. An operation is only eligible when it is also the head of
// its entity's queue: a scheduled retry never lets a younger operation of
// the same entity overtake it.
func (r *SQLitePendingOperationRepository) GetOldestEligible(ctx context.Context, now time.Time) (*domain.PendingOperation, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + pendingColumns + ` FROM pending_operations AS p
			  WHERE p.status = ? AND (p.next_attempt_at IS NULL OR p.next_attempt_at <= ?)
			  AND NOT EXISTS (
				  SELECT 1 FROM pending_operations AS q
				  WHERE q.entity_type = p.entity_type AND q.entity_id = p.entity_id
				  AND q.status IN (?, ?) AND q.created_at < p.created_at
			  )
			  ORDER BY p.created_at ASC
			  LIMIT 1`

	op, err := scanPendingOperation(querier.QueryRowContext(
		ctx,
		query,
		domain.OperationStatusPending,
		now.UTC(),
		domain.OperationStatusPending,
		domain.OperationStatusInFlight,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get oldest eligible operation")
	}
	return op, nil
}

// ListPendingByEntity returns pending operations for one entity in FIFO
// order, used by the coalescer.
func (r *SQLitePendingOperationRepository) ListPendingByEntity(
	ctx context.Context,
	entityType domain.EntityType,
	entityID string,
) ([]*domain.PendingOperation, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + pendingColumns + ` FROM pending_operations
			  WHERE entity_type = ? AND entity_id = ? AND status = ?
			  ORDER BY created_at ASC`

	rows, err := querier.QueryContext(ctx, query, entityType, entityID, domain.OperationStatusPending)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list operations by entity")
	}
	defer rows.Close() //nolint:errcheck

	return collectPendingOperations(rows)
}

// List returns operations in FIFO order for the status API and export tool.
func (r *SQLitePendingOperationRepository) List(ctx context.Context, offset, limit int) ([]*domain.PendingOperation, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT ` + pendingColumns + ` FROM pending_operations
			  ORDER BY created_at ASC
			  LIMIT ? OFFSET ?`

	rows, err := querier.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list pending operations")
	}
	defer rows.Close() //nolint:errcheck

	return collectPendingOperations(rows)
}

// MarkInFlight transitions an operation to in_flight and bumps its attempt
// counter.
func (r *SQLitePendingOperationRepository) MarkInFlight(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE pending_operations
			  SET status = ?, attempts = attempts + 1
			  WHERE id = ?`

	_, err := querier.ExecContext(ctx, query, domain.OperationStatusInFlight, id.String())
	if err != nil {
		return apperrors.Wrap(err, "failed to mark operation in flight")
	}
	return nil
}

// MarkFailedTransient returns an operation to pending with a scheduled next
// attempt time.
func (r *SQLitePendingOperationRepository) MarkFailedTransient(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE pending_operations
			  SET status = ?, next_attempt_at = ?
			  WHERE id = ?`

	_, err := querier.ExecContext(ctx, query, domain.OperationStatusPending, nextAttemptAt.UTC(), id.String())
	if err != nil {
		return apperrors.Wrap(err, "failed to mark operation for retry")
	}
	return nil
}

// UpdateStatus sets an operation's status without touching scheduling
// fields; used to park conflicted operations as needs_resolution.
func (r *SQLitePendingOperationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OperationStatus) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE pending_operations SET status = ? WHERE id = ?`

	_, err := querier.ExecContext(ctx, query, status, id.String())
	if err != nil {
		return apperrors.Wrap(err, "failed to update operation status")
	}
	return nil
}

// UpdatePayload replaces an operation's payload in place, keeping its
// identity and idempotency key. Used when coalescing absorbs newer
// operations into the queue head and when a conflict rebase re-derives the
// payload.
func (r *SQLitePendingOperationRepository) UpdatePayload(ctx context.Context, id uuid.UUID, payload json.RawMessage) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE pending_operations SET payload = ? WHERE id = ?`

	_, err := querier.ExecContext(ctx, query, string(payload), id.String())
	if err != nil {
		return apperrors.Wrap(err, "failed to update operation payload")
	}
	return nil
}

// Requeue returns a conflicted or failed operation to pending with a fresh
// payload, so a rebased operation re-enters the FIFO at its original
// position. A nil nextAttemptAt makes it eligible immediately.
func (r *SQLitePendingOperationRepository) Requeue(ctx context.Context, id uuid.UUID, payload json.RawMessage, nextAttemptAt *time.Time) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE pending_operations
			  SET payload = ?, status = ?, next_attempt_at = ?
			  WHERE id = ?`

	_, err := querier.ExecContext(ctx, query, string(payload), domain.OperationStatusPending, nullableTime(nextAttemptAt), id.String())
	if err != nil {
		return apperrors.Wrap(err, "failed to requeue operation")
	}
	return nil
}

// Delete removes an operation from the queue. Deleting an absent row is a
// no-op so journal replay and coalescing can safely repeat it.
func (r *SQLitePendingOperationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id.String())
	if err != nil {
		return apperrors.Wrap(err, "failed to delete pending operation")
	}
	return nil
}

// Count returns the queue depth.
func (r *SQLitePendingOperationRepository) Count(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations`).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count pending operations")
	}
	return count, nil
}

// CountByStatus returns the number of operations in one status, used by the
// status API's needs-attention indicator.
func (r *SQLitePendingOperationRepository) CountByStatus(ctx context.Context, status domain.OperationStatus) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count operations by status")
	}
	return count, nil
}

// ResetInFlight returns all in_flight operations to pending. Called during
// crash recovery before the loop restarts: a dispatch interrupted by a
// crash must become eligible again (the idempotency tracker guards against
// a duplicate server effect).
func (r *SQLitePendingOperationRepository) ResetInFlight(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE pending_operations SET status = ? WHERE status = ?`

	result, err := querier.ExecContext(ctx, query, domain.OperationStatusPending, domain.OperationStatusInFlight)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to reset in-flight operations")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to read affected rows")
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPendingOperation(row rowScanner) (*domain.PendingOperation, error) {
	var (
		op            domain.PendingOperation
		id            string
		payload       string
		idemKey       string
		traceID       string
		txnToken      sql.NullString
		nextAttemptAt sql.NullTime
	)

	err := row.Scan(
		&id,
		&op.Action,
		&op.EntityType,
		&op.EntityID,
		&payload,
		&idemKey,
		&op.Attempts,
		&op.Status,
		&traceID,
		&txnToken,
		&op.CreatedAt,
		&nextAttemptAt,
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
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time.UTC()
		op.NextAttemptAt = &t
	}
	op.CreatedAt = op.CreatedAt.UTC()

	return &op, nil
}

func collectPendingOperations(rows *sql.Rows) ([]*domain.PendingOperation, error) {
	var ops []*domain.PendingOperation
	for rows.Next() {
		op, err := scanPendingOperation(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan pending operation")
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate pending operations")
	}
	return ops, nil
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
