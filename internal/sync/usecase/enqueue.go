package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	validation "github.com/jellydator/validation"

	"github.com/vitalhome/syncengine/internal/database"
	"github.com/vitalhome/syncengine/internal/sync/domain"
	"github.com/vitalhome/syncengine/internal/sync/service"
	appvalidation "github.com/vitalhome/syncengine/internal/validation"

	"github.com/google/uuid"
)

// EnqueueInput is a local mutation to queue for dispatch.
type EnqueueInput struct {
	Action     domain.Action
	EntityType domain.EntityType
	EntityID   string
	Payload    json.RawMessage
	// PreviousValue is the entity state before this mutation, used to roll
	// the optimistic update back on permanent failure. Nil for creates.
	PreviousValue json.RawMessage
}

// Validate checks the input against the action and entity vocabularies and
// the entity's payload schema.
func (in *EnqueueInput) Validate() error {
	err := validation.ValidateStruct(in,
		validation.Field(&in.Action, validation.Required, validation.In(domain.Actions()...)),
		validation.Field(&in.EntityType, validation.Required, validation.In(domain.EntityTypes()...)),
		validation.Field(&in.EntityID, validation.Required, validation.Length(1, 128), appvalidation.EntityID),
		validation.Field(&in.Payload, validation.Required, appvalidation.JSONObject),
	)
	if err != nil {
		return appvalidation.WrapValidationError(err)
	}

	switch in.EntityType {
	case domain.EntityDevice:
		_, err = domain.DecodeDevicePayload(in.Payload)
	case domain.EntityProfile:
		_, err = domain.DecodeProfilePayload(in.Payload)
	case domain.EntityReading:
		_, err = domain.DecodeReadingPayload(in.Payload)
	}
	return err
}

// EnqueueUseCase records a local mutation durably: the operation enters the
// queue and its optimistic update is stored, both through one journaled
// unit so a crash leaves either every effect or none.
type EnqueueUseCase struct {
	txManager database.TxManager
	journal   *service.Journal
	applier   service.StepApplier
	events    *EventBus
	logger    *slog.Logger
	clock     func() time.Time
}

// NewEnqueueUseCase creates a new EnqueueUseCase. A nil clock defaults to
// time.Now.
func NewEnqueueUseCase(
	txManager database.TxManager,
	journal *service.Journal,
	applier service.StepApplier,
	events *EventBus,
	logger *slog.Logger,
	clock func() time.Time,
) *EnqueueUseCase {
	if clock == nil {
		clock = time.Now
	}
	return &EnqueueUseCase{
		txManager: txManager,
		journal:   journal,
		applier:   applier,
		events:    events,
		logger:    logger,
		clock:     clock,
	}
}

// Enqueue validates and queues a mutation, returning the stored operation.
func (uc *EnqueueUseCase) Enqueue(ctx context.Context, in EnqueueInput) (*domain.PendingOperation, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := uc.clock()
	txnToken := uuid.New()
	op := domain.NewPendingOperation(in.Action, in.EntityType, in.EntityID, in.Payload, &txnToken, now)

	unit, err := uc.journal.Begin(ctx)
	if err != nil {
		return nil, err
	}

	if err := unit.Append(ctx, domain.JournalStepEnqueueOperation, service.NewEnqueueOperationArgs(op)); err != nil {
		return nil, discardOnError(ctx, unit, err)
	}
	if err := unit.Append(ctx, domain.JournalStepApplyOptimistic, service.ApplyOptimisticArgs{
		TxnToken:      txnToken,
		EntityType:    in.EntityType,
		EntityID:      in.EntityID,
		PreviousValue: in.PreviousValue,
		NewValue:      in.Payload,
		AppliedAt:     now,
	}); err != nil {
		return nil, discardOnError(ctx, unit, err)
	}
	if err := unit.Commit(ctx); err != nil {
		return nil, discardOnError(ctx, unit, err)
	}

	err = uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		for _, step := range unit.Steps() {
			if err := uc.applier.ApplyStep(ctx, step); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// The unit stays committed; recovery replays it at next startup.
		return nil, err
	}
	if err := unit.Close(ctx); err != nil {
		return nil, err
	}

	if uc.logger != nil {
		uc.logger.Info("operation enqueued",
			slog.String("operation_id", op.ID.String()),
			slog.String("action", string(op.Action)),
			slog.String("entity_type", string(op.EntityType)),
			slog.String("entity_id", op.EntityID),
			slog.String("trace_id", op.TraceID.String()),
		)
	}
	if uc.events != nil {
		uc.events.Publish(domain.Event{
			Kind:        domain.EventOperationEnqueued,
			OperationID: op.ID,
			EntityType:  op.EntityType,
			EntityID:    op.EntityID,
			TraceID:     op.TraceID,
			At:          now,
		})
	}

	return op, nil
}

// discardOnError abandons the half-recorded unit and returns the original
// error.
func discardOnError(ctx context.Context, unit *service.JournalUnit, err error) error {
	_ = unit.Discard(ctx)
	return err
}
