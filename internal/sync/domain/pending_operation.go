// Package domain defines the core sync domain entities: queued operations,
// failure snapshots, optimistic updates, journal entries, and the typed
// error taxonomy the engine transitions on.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PendingOperation is a durably queued local mutation awaiting dispatch.
//
// IdempotencyKey is generated exactly once, at enqueue time, and never
// regenerated: every retry of this operation presents the same key so the
// server can deduplicate across crash and cancellation boundaries.
type PendingOperation struct {
	ID             uuid.UUID
	Action         Action
	EntityType     EntityType
	EntityID       string
	Payload        json.RawMessage
	IdempotencyKey uuid.UUID
	Attempts       int
	Status         OperationStatus
	TraceID        uuid.UUID
	// TxnToken links this operation to an OptimisticUpdateRecord; nil when
	// the producer did not apply the change locally first.
	TxnToken  *uuid.UUID
	CreatedAt time.Time
	// NextAttemptAt is the earliest eligible dispatch time; nil means
	// eligible immediately.
	NextAttemptAt *time.Time
}

// NewPendingOperation builds a queued operation with freshly generated
// identifiers and a pending status.
func NewPendingOperation(
	action Action,
	entityType EntityType,
	entityID string,
	payload json.RawMessage,
	txnToken *uuid.UUID,
	now time.Time,
) *PendingOperation {
	return &PendingOperation{
		ID:             uuid.New(),
		Action:         action,
		EntityType:     entityType,
		EntityID:       entityID,
		Payload:        payload,
		IdempotencyKey: uuid.New(),
		Attempts:       0,
		Status:         OperationStatusPending,
		TraceID:        uuid.New(),
		TxnToken:       txnToken,
		CreatedAt:      now.UTC(),
	}
}

// Eligible reports whether the operation may be dispatched at the given time.
func (op *PendingOperation) Eligible(now time.Time) bool {
	if op.Status != OperationStatusPending {
		return false
	}
	return op.NextAttemptAt == nil || !op.NextAttemptAt.After(now)
}

// FailedOperation is an append-only snapshot of an operation that reached a
// terminal failure. It is never retried automatically; it is surfaced for
// manual review and may be re-enqueued explicitly.
type FailedOperation struct {
	ID             uuid.UUID
	Action         Action
	EntityType     EntityType
	EntityID       string
	Payload        json.RawMessage
	IdempotencyKey uuid.UUID
	Attempts       int
	TraceID        uuid.UUID
	TxnToken       *uuid.UUID
	ErrorKind      ErrorKind
	ErrorMessage   string
	CreatedAt      time.Time
	FailedAt       time.Time
}

// NewFailedOperation snapshots a pending operation together with its terminal error.
func NewFailedOperation(op *PendingOperation, syncErr *SyncError, failedAt time.Time) *FailedOperation {
	return &FailedOperation{
		ID:             op.ID,
		Action:         op.Action,
		EntityType:     op.EntityType,
		EntityID:       op.EntityID,
		Payload:        op.Payload,
		IdempotencyKey: op.IdempotencyKey,
		Attempts:       op.Attempts,
		TraceID:        op.TraceID,
		TxnToken:       op.TxnToken,
		ErrorKind:      syncErr.Kind,
		ErrorMessage:   syncErr.Message,
		CreatedAt:      op.CreatedAt,
		FailedAt:       failedAt.UTC(),
	}
}
