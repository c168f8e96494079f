package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OptimisticUpdateRecord tracks a locally-applied-but-unconfirmed state
// change. PreviousValue is the rollback point; nil for creates, where
// rollback means deleting the local entity instead of restoring a value.
//
// Lifecycle: created when a mutation is applied locally before server
// confirmation, deleted on server success, restored-then-deleted on
// permanent failure.
type OptimisticUpdateRecord struct {
	TxnToken      uuid.UUID
	EntityType    EntityType
	EntityID      string
	PreviousValue json.RawMessage
	NewValue      json.RawMessage
	AppliedAt     time.Time
}
