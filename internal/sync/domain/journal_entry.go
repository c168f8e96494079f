package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JournalStepKind identifies one idempotently re-appliable sub-step of a
// multi-store write.
type JournalStepKind string

const (
	JournalStepEnqueueOperation   JournalStepKind = "enqueue_operation"
	JournalStepUpdatePayload      JournalStepKind = "update_payload"
	JournalStepDeleteOperation    JournalStepKind = "delete_operation"
	JournalStepApplyOptimistic    JournalStepKind = "apply_optimistic"
	JournalStepConfirmOptimistic  JournalStepKind = "confirm_optimistic"
	JournalStepRollbackOptimistic JournalStepKind = "rollback_optimistic"
	JournalStepMarkSucceeded      JournalStepKind = "mark_succeeded"
)

// JournalStep is one sub-step of a journaled write. Args is the
// step-kind-specific argument payload.
type JournalStep struct {
	Kind JournalStepKind `json:"kind"`
	Args json.RawMessage `json:"args"`
}

// JournalEntry is a write-ahead record of a multi-store mutation. An entry
// without the committed flag found at startup is replayed step by step
// (every step is safe to repeat) or discarded when it never accumulated a
// single step.
type JournalEntry struct {
	ID        uuid.UUID
	Steps     []JournalStep
	Committed bool
	CreatedAt time.Time
}

// NewJournalEntry creates an open (uncommitted) journal entry.
func NewJournalEntry(now time.Time) *JournalEntry {
	return &JournalEntry{
		ID:        uuid.New(),
		Steps:     nil,
		Committed: false,
		CreatedAt: now.UTC(),
	}
}
