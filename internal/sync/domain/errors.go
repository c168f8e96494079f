package domain

import (
	"github.com/vitalhome/syncengine/internal/errors"
)

// Sync-specific error definitions.
var (
	// ErrOperationNotFound indicates the queued operation does not exist.
	ErrOperationNotFound = errors.Wrap(errors.ErrNotFound, "operation not found")

	// ErrOptimisticNotFound indicates no optimistic record exists for a txn token.
	ErrOptimisticNotFound = errors.Wrap(errors.ErrNotFound, "optimistic update not found")

	// ErrJournalNotFound indicates the journal entry does not exist.
	ErrJournalNotFound = errors.Wrap(errors.ErrNotFound, "journal entry not found")

	// ErrMalformedEnvelope indicates a wire envelope is missing meta, trace_id,
	// or timestamp, or is not valid JSON.
	ErrMalformedEnvelope = errors.Wrap(errors.ErrInvalidInput, "malformed envelope")

	// ErrRouting indicates no route exists for an operation, or a required
	// path parameter is missing from the payload. Permanent, never retried.
	ErrRouting = errors.Wrap(errors.ErrInvalidInput, "routing error")
)
