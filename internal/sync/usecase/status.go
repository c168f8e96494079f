package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitalhome/syncengine/internal/database"
	"github.com/vitalhome/syncengine/internal/sync/domain"
	"github.com/vitalhome/syncengine/internal/sync/service"
)

// StatusPendingRepository defines the queue reads the status surface needs.
type StatusPendingRepository interface {
	List(ctx context.Context, offset, limit int) ([]*domain.PendingOperation, error)
	Count(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context, status domain.OperationStatus) (int64, error)
	Create(ctx context.Context, op *domain.PendingOperation) error
}

// StatusFailedRepository defines the failed-store operations the status
// surface needs.
type StatusFailedRepository interface {
	List(ctx context.Context, offset, limit int) ([]*domain.FailedOperation, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.FailedOperation, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context) (int64, error)
}

// StatusOptimisticRepository defines the optimistic-store reads the status
// surface needs.
type StatusOptimisticRepository interface {
	ListByEntity(ctx context.Context, entityType domain.EntityType, entityID string) ([]*domain.OptimisticUpdateRecord, error)
	Count(ctx context.Context) (int64, error)
}

// QueueStatus is a point-in-time summary of the sync state.
type QueueStatus struct {
	PendingCount         int64
	InFlightCount        int64
	NeedsResolutionCount int64
	FailedCount          int64
	OptimisticCount      int64
	BreakerState         service.BreakerState
	// CooldownRemaining is how much longer dispatch stays suspended; zero
	// while the breaker is closed.
	CooldownRemaining time.Duration
	Online            bool
}

// StatusUseCase serves the local status API and the maintenance commands:
// queue inspection, failed-operation review and retry, and idempotency
// eviction.
type StatusUseCase struct {
	txManager      database.TxManager
	pendingRepo    StatusPendingRepository
	failedRepo     StatusFailedRepository
	optimisticRepo StatusOptimisticRepository
	tracker        *service.IdempotencyTracker
	breaker        *service.CircuitBreaker
	engine         *SyncEngine
	logger         *slog.Logger
	clock          func() time.Time
}

// NewStatusUseCase creates a new StatusUseCase. The engine may be nil for
// offline tooling; connectivity then reports false. A nil clock defaults
// to time.Now.
func NewStatusUseCase(
	txManager database.TxManager,
	pendingRepo StatusPendingRepository,
	failedRepo StatusFailedRepository,
	optimisticRepo StatusOptimisticRepository,
	tracker *service.IdempotencyTracker,
	breaker *service.CircuitBreaker,
	engine *SyncEngine,
	logger *slog.Logger,
	clock func() time.Time,
) *StatusUseCase {
	if clock == nil {
		clock = time.Now
	}
	return &StatusUseCase{
		txManager:      txManager,
		pendingRepo:    pendingRepo,
		failedRepo:     failedRepo,
		optimisticRepo: optimisticRepo,
		tracker:        tracker,
		breaker:        breaker,
		engine:         engine,
		logger:         logger,
		clock:          clock,
	}
}

// QueueStatus summarizes the durable stores and the engine's health.
func (uc *StatusUseCase) QueueStatus(ctx context.Context) (*QueueStatus, error) {
	status := &QueueStatus{
		BreakerState:      uc.breaker.State(),
		CooldownRemaining: uc.breaker.CooldownRemaining(),
	}
	if uc.engine != nil {
		status.Online = uc.engine.Online()
	}

	var err error
	if status.PendingCount, err = uc.pendingRepo.CountByStatus(ctx, domain.OperationStatusPending); err != nil {
		return nil, err
	}
	if status.InFlightCount, err = uc.pendingRepo.CountByStatus(ctx, domain.OperationStatusInFlight); err != nil {
		return nil, err
	}
	if status.NeedsResolutionCount, err = uc.pendingRepo.CountByStatus(ctx, domain.OperationStatusNeedsResolution); err != nil {
		return nil, err
	}
	if status.FailedCount, err = uc.failedRepo.Count(ctx); err != nil {
		return nil, err
	}
	if status.OptimisticCount, err = uc.optimisticRepo.Count(ctx); err != nil {
		return nil, err
	}
	return status, nil
}

// ListPending returns queued operations in FIFO order.
func (uc *StatusUseCase) ListPending(ctx context.Context, offset, limit int) ([]*domain.PendingOperation, error) {
	return uc.pendingRepo.List(ctx, offset, limit)
}

// ListFailed returns terminally failed operations, newest first.
func (uc *StatusUseCase) ListFailed(ctx context.Context, offset, limit int) ([]*domain.FailedOperation, error) {
	return uc.failedRepo.List(ctx, offset, limit)
}

// ListOptimistic returns the outstanding optimistic updates for one entity.
func (uc *StatusUseCase) ListOptimistic(
	ctx context.Context,
	entityType domain.EntityType,
	entityID string,
) ([]*domain.OptimisticUpdateRecord, error) {
	return uc.optimisticRepo.ListByEntity(ctx, entityType, entityID)
}

// RetryFailed moves a failed operation back into the queue with its
// attempt counter reset. The original idempotency key is kept: it was
// never confirmed by the server, and reusing it preserves dedupe if the
// earlier dispatch did land.
func (uc *StatusUseCase) RetryFailed(ctx context.Context, id uuid.UUID) (*domain.PendingOperation, error) {
	failed, err := uc.failedRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	op := &domain.PendingOperation{
		ID:             failed.ID,
		Action:         failed.Action,
		EntityType:     failed.EntityType,
		EntityID:       failed.EntityID,
		Payload:        failed.Payload,
		IdempotencyKey: failed.IdempotencyKey,
		Attempts:       0,
		Status:         domain.OperationStatusPending,
		TraceID:        failed.TraceID,
		TxnToken:       failed.TxnToken,
		CreatedAt:      uc.clock().UTC(),
	}

	err = uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		if err := uc.pendingRepo.Create(ctx, op); err != nil {
			return err
		}
		return uc.failedRepo.Delete(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	if uc.logger != nil {
		uc.logger.Info("failed operation requeued",
			slog.String("operation_id", op.ID.String()),
			slog.String("trace_id", op.TraceID.String()),
		)
	}
	if uc.engine != nil {
		uc.engine.TriggerSync()
	}
	return op, nil
}

// EvictIdempotency drops idempotency keys past their retention TTL.
func (uc *StatusUseCase) EvictIdempotency(ctx context.Context) (int64, error) {
	evicted, err := uc.tracker.Evict(ctx)
	if err != nil {
		return 0, err
	}
	if uc.logger != nil && evicted > 0 {
		uc.logger.Info("idempotency keys evicted", slog.Int64("count", evicted))
	}
	return evicted, nil
}
