package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalhome/syncengine/internal/sync/domain"
)

type statusFixture struct {
	*engineFixture
	status *StatusUseCase
}

func newStatusFixture(t *testing.T) *statusFixture {
	t.Helper()
	fx := newEngineFixture(t)
	status := NewStatusUseCase(
		fx.engine.txManager,
		fx.pendingRepo,
		fx.failedRepo,
		fx.optimistic,
		fx.tracker,
		fx.breaker,
		fx.engine,
		nil,
		nil,
	)
	return &statusFixture{engineFixture: fx, status: status}
}

func TestStatusUseCaseQueueStatus(t *testing.T) {
	fx := newStatusFixture(t)
	ctx := context.Background()

	for _, entity := range []string{"device-a", "device-b"} {
		_, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
			Action:     domain.ActionUpdate,
			EntityType: domain.EntityDevice,
			EntityID:   entity,
			Payload:    devicePayload(entity, 40, 1),
		})
		require.NoError(t, err)
	}

	status, err := fx.status.QueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), status.PendingCount)
	assert.Equal(t, int64(0), status.InFlightCount)
	assert.Equal(t, int64(0), status.NeedsResolutionCount)
	assert.Equal(t, int64(0), status.FailedCount)
	assert.Equal(t, int64(2), status.OptimisticCount)
	assert.True(t, status.Online)
}

func TestStatusUseCaseListOptimistic(t *testing.T) {
	fx := newStatusFixture(t)
	ctx := context.Background()

	op, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionUpdate,
		EntityType: domain.EntityDevice,
		EntityID:   "device-1",
		Payload:    devicePayload("device-1", 40, 1),
	})
	require.NoError(t, err)

	records, err := fx.status.ListOptimistic(ctx, domain.EntityDevice, "device-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, *op.TxnToken, records[0].TxnToken)

	records, err = fx.status.ListOptimistic(ctx, domain.EntityDevice, "device-2")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStatusUseCaseRetryFailed(t *testing.T) {
	fx := newStatusFixture(t)
	ctx := context.Background()

	fx.dispatcher.respond = func(_ *domain.PendingOperation) (json.RawMessage, *domain.SyncError) {
		return nil, &domain.SyncError{Kind: domain.ErrorKindValidation, Status: 422, Message: "rejected"}
	}

	op, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionCreate,
		EntityType: domain.EntityReading,
		EntityID:   "reading-1",
		Payload:    readingPayload("reading-1"),
	})
	require.NoError(t, err)

	fx.engine.processQueue(ctx)

	failed, err := fx.failedRepo.Get(ctx, op.ID)
	require.NoError(t, err)
	require.True(t, failed.Attempts > 0)

	requeued, err := fx.status.RetryFailed(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, op.ID, requeued.ID)
	assert.Equal(t, op.IdempotencyKey, requeued.IdempotencyKey)
	assert.Equal(t, 0, requeued.Attempts)

	// The failed snapshot is gone and the operation is eligible again.
	_, err = fx.failedRepo.Get(ctx, op.ID)
	assert.ErrorIs(t, err, domain.ErrOperationNotFound)

	got, err := fx.pendingRepo.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusPending, got.Status)

	fx.dispatcher.respond = nil
	fx.engine.processQueue(ctx)

	_, err = fx.pendingRepo.Get(ctx, op.ID)
	assert.ErrorIs(t, err, domain.ErrOperationNotFound)
}

func TestStatusUseCaseRetryFailedUnknownID(t *testing.T) {
	fx := newStatusFixture(t)

	_, err := fx.status.RetryFailed(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrOperationNotFound)
}

func TestStatusUseCaseEvictIdempotency(t *testing.T) {
	fx := newStatusFixture(t)
	ctx := context.Background()

	// Freshly recorded keys are inside the retention window.
	require.NoError(t, fx.tracker.MarkSucceeded(ctx, uuid.New()))

	evicted, err := fx.status.EvictIdempotency(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), evicted)
}

func TestStatusUseCaseNeedsResolutionCount(t *testing.T) {
	fx := newStatusFixture(t)
	ctx := context.Background()

	fx.dispatcher.respond = func(_ *domain.PendingOperation) (json.RawMessage, *domain.SyncError) {
		return nil, &domain.SyncError{Kind: domain.ErrorKindConflict, Status: 409}
	}

	_, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionUpdate,
		EntityType: domain.EntityDevice,
		EntityID:   "device-1",
		Payload:    devicePayload("device-1", 40, 1),
	})
	require.NoError(t, err)

	fx.engine.processQueue(ctx)

	status, err := fx.status.QueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.NeedsResolutionCount)
	assert.Equal(t, int64(0), status.PendingCount)
}
