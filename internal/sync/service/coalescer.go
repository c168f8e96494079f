package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// CoalescerPendingRepository is the pending-store subset the coalescer needs.
type CoalescerPendingRepository interface {
	ListPendingByEntity(ctx context.Context, entityType domain.EntityType, entityID string) ([]*domain.PendingOperation, error)
}

// Coalescer merges redundant queued mutations of the same entity before
// dispatch: a run of creates and updates collapses into the head operation
// carrying the newest payload. Deletes never merge; a delete ends the run
// and is dispatched on its own.
type Coalescer struct {
	repo CoalescerPendingRepository
}

// NewCoalescer creates a coalescer.
func NewCoalescer(repo CoalescerPendingRepository) *Coalescer {
	return &Coalescer{repo: repo}
}

// Plan describes a coalesced dispatch: the operation to send (the head,
// possibly with an absorbed payload) and the ids of operations the merge
// made redundant.
type Plan struct {
	Operation *domain.PendingOperation
	Absorbed  []uuid.UUID
}

// Coalesce computes the dispatch plan for the queue head. The head's
// identity, idempotency key, and creation time always survive; only the
// payload advances to the newest absorbed operation's. A head that is a
// delete, or that is followed immediately by a delete, dispatches alone.
func (c *Coalescer) Coalesce(ctx context.Context, head *domain.PendingOperation) (*Plan, error) {
	if head.Action == domain.ActionDelete {
		return &Plan{Operation: head}, nil
	}

	ops, err := c.repo.ListPendingByEntity(ctx, head.EntityType, head.EntityID)
	if err != nil {
		return nil, err
	}

	// Find the head in the FIFO list, then extend the run while actions
	// stay mergeable.
	start := -1
	for i, op := range ops {
		if op.ID == head.ID {
			start = i
			break
		}
	}
	if start == -1 {
		return &Plan{Operation: head}, nil
	}

	merged := *head
	var absorbed []uuid.UUID
	for _, op := range ops[start+1:] {
		if op.Action == domain.ActionDelete {
			break
		}
		merged.Payload = op.Payload
		absorbed = append(absorbed, op.ID)
	}

	return &Plan{Operation: &merged, Absorbed: absorbed}, nil
}
