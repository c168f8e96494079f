package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/vitalhome/syncengine/internal/errors"
	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// JournalRepository is the persistence the journal needs.
type JournalRepository interface {
	Create(ctx context.Context, entry *domain.JournalEntry) error
	SetSteps(ctx context.Context, id uuid.UUID, steps []domain.JournalStep) error
	MarkCommitted(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*domain.JournalEntry, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Journal is the write-ahead record for multi-store mutations. A unit
// records every intended sub-step, is committed, then applied; the entry
// is deleted only after all steps took effect. Recovery replays committed
// entries (every step is safe to repeat) and discards uncommitted ones,
// whose effects were never applied.
type Journal struct {
	repo  JournalRepository
	clock func() time.Time
}

// NewJournal creates a journal. A nil clock defaults to time.Now.
func NewJournal(repo JournalRepository, clock func() time.Time) *Journal {
	if clock == nil {
		clock = time.Now
	}
	return &Journal{repo: repo, clock: clock}
}

// JournalUnit is one open multi-store mutation being recorded.
type JournalUnit struct {
	journal *Journal
	entry   *domain.JournalEntry
}

// Begin opens a unit and persists its (empty) entry.
func (j *Journal) Begin(ctx context.Context) (*JournalUnit, error) {
	entry := domain.NewJournalEntry(j.clock())
	if err := j.repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return &JournalUnit{journal: j, entry: entry}, nil
}

// Append records one intended step. Steps are persisted immediately so a
// crash mid-recording leaves a complete prefix.
func (u *JournalUnit) Append(ctx context.Context, kind domain.JournalStepKind, args any) error {
	encoded, err := json.Marshal(args)
	if err != nil {
		return apperrors.Wrap(err, "failed to encode journal step args")
	}
	u.entry.Steps = append(u.entry.Steps, domain.JournalStep{Kind: kind, Args: encoded})
	return u.journal.repo.SetSteps(ctx, u.entry.ID, u.entry.Steps)
}

// Commit marks the unit's intent as fully recorded. After Commit the steps
// must be applied; a crash in between is repaired by replay.
func (u *JournalUnit) Commit(ctx context.Context) error {
	u.entry.Committed = true
	return u.journal.repo.MarkCommitted(ctx, u.entry.ID)
}

// Steps returns the recorded steps for application.
func (u *JournalUnit) Steps() []domain.JournalStep {
	return u.entry.Steps
}

// Close removes the entry once every step has been applied.
func (u *JournalUnit) Close(ctx context.Context) error {
	return u.journal.repo.Delete(ctx, u.entry.ID)
}

// Discard abandons an uncommitted unit. None of its steps were applied, so
// dropping the entry fully undoes it.
func (u *JournalUnit) Discard(ctx context.Context) error {
	u.entry.Committed = false
	return u.journal.repo.Delete(ctx, u.entry.ID)
}

// StepApplier applies one journal step to the real stores. Applications
// must be idempotent: replay repeats steps that may already have run.
type StepApplier interface {
	ApplyStep(ctx context.Context, step domain.JournalStep) error
}

// ReplayIncomplete repairs the stores after a restart: committed entries
// are re-applied step by step and removed, uncommitted entries are
// discarded. Returns how many entries were replayed and discarded.
func (j *Journal) ReplayIncomplete(ctx context.Context, applier StepApplier) (replayed, discarded int, err error) {
	entries, err := j.repo.List(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, entry := range entries {
		if !entry.Committed {
			if err := j.repo.Delete(ctx, entry.ID); err != nil {
				return replayed, discarded, err
			}
			discarded++
			continue
		}

		for _, step := range entry.Steps {
			if err := applier.ApplyStep(ctx, step); err != nil {
				return replayed, discarded, apperrors.Wrap(err, "failed to replay journal step")
			}
		}
		if err := j.repo.Delete(ctx, entry.ID); err != nil {
			return replayed, discarded, err
		}
		replayed++
	}
	return replayed, discarded, nil
}

// Step argument payloads. Everything needed to re-apply a step must be in
// the args; replay has no other context.

// EnqueueOperationArgs carries a full queued operation.
type EnqueueOperationArgs struct {
	ID             uuid.UUID              `json:"id"`
	Action         domain.Action          `json:"action"`
	EntityType     domain.EntityType      `json:"entity_type"`
	EntityID       string                 `json:"entity_id"`
	Payload        json.RawMessage        `json:"payload"`
	IdempotencyKey uuid.UUID              `json:"idempotency_key"`
	Status         domain.OperationStatus `json:"status"`
	TraceID        uuid.UUID              `json:"trace_id"`
	TxnToken       *uuid.UUID             `json:"txn_token,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// NewEnqueueOperationArgs snapshots an operation into step args.
func NewEnqueueOperationArgs(op *domain.PendingOperation) EnqueueOperationArgs {
	return EnqueueOperationArgs{
		ID:             op.ID,
		Action:         op.Action,
		EntityType:     op.EntityType,
		EntityID:       op.EntityID,
		Payload:        op.Payload,
		IdempotencyKey: op.IdempotencyKey,
		Status:         op.Status,
		TraceID:        op.TraceID,
		TxnToken:       op.TxnToken,
		CreatedAt:      op.CreatedAt,
	}
}

// Operation rebuilds the queued operation from step args.
func (a EnqueueOperationArgs) Operation() *domain.PendingOperation {
	return &domain.PendingOperation{
		ID:             a.ID,
		Action:         a.Action,
		EntityType:     a.EntityType,
		EntityID:       a.EntityID,
		Payload:        a.Payload,
		IdempotencyKey: a.IdempotencyKey,
		Status:         a.Status,
		TraceID:        a.TraceID,
		TxnToken:       a.TxnToken,
		CreatedAt:      a.CreatedAt,
	}
}

// UpdatePayloadArgs replaces a queued operation's payload in place. The
// coalescer records one so a crash between commit and apply cannot strand
// the queue head on a stale payload.
type UpdatePayloadArgs struct {
	OperationID uuid.UUID       `json:"operation_id"`
	Payload     json.RawMessage `json:"payload"`
}

// DeleteOperationArgs removes a queued operation.
type DeleteOperationArgs struct {
	OperationID uuid.UUID `json:"operation_id"`
}

// ApplyOptimisticArgs records an optimistic update.
type ApplyOptimisticArgs struct {
	TxnToken      uuid.UUID         `json:"txn_token"`
	EntityType    domain.EntityType `json:"entity_type"`
	EntityID      string            `json:"entity_id"`
	PreviousValue json.RawMessage   `json:"previous_value,omitempty"`
	NewValue      json.RawMessage   `json:"new_value"`
	AppliedAt     time.Time         `json:"applied_at"`
}

// ConfirmOptimisticArgs drops a confirmed optimistic record.
type ConfirmOptimisticArgs struct {
	TxnToken uuid.UUID `json:"txn_token"`
}

// RollbackOptimisticArgs drops a rejected optimistic record after its
// previous value has been surfaced to the caller.
type RollbackOptimisticArgs struct {
	TxnToken uuid.UUID `json:"txn_token"`
}

// MarkSucceededArgs records a server-confirmed idempotency key.
type MarkSucceededArgs struct {
	IdempotencyKey uuid.UUID `json:"idempotency_key"`
	At             time.Time `json:"at"`
}

// applierPendingRepository is the pending-store subset replay needs.
type applierPendingRepository interface {
	Create(ctx context.Context, op *domain.PendingOperation) error
	UpdatePayload(ctx context.Context, id uuid.UUID, payload json.RawMessage) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// applierOptimisticRepository is the optimistic-store subset replay needs.
type applierOptimisticRepository interface {
	Create(ctx context.Context, record *domain.OptimisticUpdateRecord) error
	Delete(ctx context.Context, txnToken uuid.UUID) error
}

// RepositoryStepApplier applies journal steps against the real
// repositories. Every repository write it performs is idempotent.
type RepositoryStepApplier struct {
	pending     applierPendingRepository
	optimistic  applierOptimisticRepository
	idempotency IdempotencyRepository
}

// NewRepositoryStepApplier wires the applier to its stores.
func NewRepositoryStepApplier(
	pending applierPendingRepository,
	optimistic applierOptimisticRepository,
	idempotency IdempotencyRepository,
) *RepositoryStepApplier {
	return &RepositoryStepApplier{pending: pending, optimistic: optimistic, idempotency: idempotency}
}

// ApplyStep applies one step by kind.
func (a *RepositoryStepApplier) ApplyStep(ctx context.Context, step domain.JournalStep) error {
	switch step.Kind {
	case domain.JournalStepEnqueueOperation:
		var args EnqueueOperationArgs
		if err := json.Unmarshal(step.Args, &args); err != nil {
			return apperrors.Wrap(err, "failed to decode enqueue step")
		}
		return a.pending.Create(ctx, args.Operation())

	case domain.JournalStepUpdatePayload:
		var args UpdatePayloadArgs
		if err := json.Unmarshal(step.Args, &args); err != nil {
			return apperrors.Wrap(err, "failed to decode update-payload step")
		}
		return a.pending.UpdatePayload(ctx, args.OperationID, args.Payload)

	case domain.JournalStepDeleteOperation:
		var args DeleteOperationArgs
		if err := json.Unmarshal(step.Args, &args); err != nil {
			return apperrors.Wrap(err, "failed to decode delete step")
		}
		return a.pending.Delete(ctx, args.OperationID)

	case domain.JournalStepApplyOptimistic:
		var args ApplyOptimisticArgs
		if err := json.Unmarshal(step.Args, &args); err != nil {
			return apperrors.Wrap(err, "failed to decode apply-optimistic step")
		}
		return a.optimistic.Create(ctx, &domain.OptimisticUpdateRecord{
			TxnToken:      args.TxnToken,
			EntityType:    args.EntityType,
			EntityID:      args.EntityID,
			PreviousValue: args.PreviousValue,
			NewValue:      args.NewValue,
			AppliedAt:     args.AppliedAt,
		})

	case domain.JournalStepConfirmOptimistic:
		var args ConfirmOptimisticArgs
		if err := json.Unmarshal(step.Args, &args); err != nil {
			return apperrors.Wrap(err, "failed to decode confirm-optimistic step")
		}
		return a.optimistic.Delete(ctx, args.TxnToken)

	case domain.JournalStepRollbackOptimistic:
		var args RollbackOptimisticArgs
		if err := json.Unmarshal(step.Args, &args); err != nil {
			return apperrors.Wrap(err, "failed to decode rollback-optimistic step")
		}
		return a.optimistic.Delete(ctx, args.TxnToken)

	case domain.JournalStepMarkSucceeded:
		var args MarkSucceededArgs
		if err := json.Unmarshal(step.Args, &args); err != nil {
			return apperrors.Wrap(err, "failed to decode mark-succeeded step")
		}
		return a.idempotency.MarkSucceeded(ctx, args.IdempotencyKey, args.At)

	default:
		return fmt.Errorf("unknown journal step kind: %s", step.Kind)
	}
}
