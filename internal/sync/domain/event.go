package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a state transition the engine publishes to
// subscribers (typically the presentation layer).
type EventKind string

const (
	EventOperationEnqueued       EventKind = "operation_enqueued"
	EventOperationSucceeded      EventKind = "operation_succeeded"
	EventOperationRetrying       EventKind = "operation_retrying"
	EventOperationFailed         EventKind = "operation_failed"
	EventConflictNeedsResolution EventKind = "conflict_needs_resolution"
	EventBreakerTripped          EventKind = "breaker_tripped"
)

// Event is a notification of an engine state transition. It carries
// identifiers only, never payload contents.
type Event struct {
	Kind        EventKind
	OperationID uuid.UUID
	EntityType  EntityType
	EntityID    string
	TraceID     uuid.UUID
	ErrorKind   ErrorKind
	At          time.Time
}
