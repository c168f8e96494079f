package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vitalhome/syncengine/internal/database"
	"github.com/vitalhome/syncengine/internal/metrics"
	"github.com/vitalhome/syncengine/internal/sync/domain"
	"github.com/vitalhome/syncengine/internal/sync/service"
)

// EngineConfig holds sync engine configuration.
type EngineConfig struct {
	SyncInterval      time.Duration
	HeartbeatInterval time.Duration
	// EvictionInterval is how often expired idempotency keys are dropped
	// while the engine runs. Zero defaults to one hour.
	EvictionInterval time.Duration
}

// PendingRepository defines the queue operations the engine needs.
type PendingRepository interface {
	GetOldestEligible(ctx context.Context, now time.Time) (*domain.PendingOperation, error)
	ListPendingByEntity(ctx context.Context, entityType domain.EntityType, entityID string) ([]*domain.PendingOperation, error)
	MarkInFlight(ctx context.Context, id uuid.UUID) error
	MarkFailedTransient(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OperationStatus) error
	UpdatePayload(ctx context.Context, id uuid.UUID, payload json.RawMessage) error
	Requeue(ctx context.Context, id uuid.UUID, payload json.RawMessage, nextAttemptAt *time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context) (int64, error)
	ResetInFlight(ctx context.Context) (int64, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.PendingOperation, error)
}

// FailedRepository defines the terminal-failure store the engine needs.
type FailedRepository interface {
	Create(ctx context.Context, op *domain.FailedOperation) error
}

// Dispatcher sends one operation to the remote API.
type Dispatcher interface {
	Dispatch(ctx context.Context, op *domain.PendingOperation) (json.RawMessage, *domain.SyncError)
}

// SyncEngine drives the dispatch loop: it drains the pending queue in FIFO
// order, classifies outcomes through the error taxonomy, schedules
// retries, reconciles conflicts, and keeps the durable stores consistent
// through the journal. At most one engine runs per database, enforced by
// the processing lock.
type SyncEngine struct {
	config      EngineConfig
	txManager   database.TxManager
	pendingRepo PendingRepository
	failedRepo  FailedRepository
	journal     *service.Journal
	applier     service.StepApplier
	tracker     *service.IdempotencyTracker
	backoff     *service.BackoffPolicy
	breaker     *service.CircuitBreaker
	coalescer   *service.Coalescer
	reconciler  *service.Reconciler
	lock        *service.ProcessingLock
	dispatcher  Dispatcher
	events      *EventBus
	metrics     metrics.SyncMetrics
	logger      *slog.Logger
	clock       func() time.Time

	online  atomic.Bool
	trigger chan struct{}
}

// NewSyncEngine creates a new SyncEngine. A nil clock defaults to time.Now;
// the engine starts in the online state.
func NewSyncEngine(
	config EngineConfig,
	txManager database.TxManager,
	pendingRepo PendingRepository,
	failedRepo FailedRepository,
	journal *service.Journal,
	applier service.StepApplier,
	tracker *service.IdempotencyTracker,
	backoff *service.BackoffPolicy,
	breaker *service.CircuitBreaker,
	coalescer *service.Coalescer,
	reconciler *service.Reconciler,
	lock *service.ProcessingLock,
	dispatcher Dispatcher,
	events *EventBus,
	syncMetrics metrics.SyncMetrics,
	logger *slog.Logger,
	clock func() time.Time,
) *SyncEngine {
	if clock == nil {
		clock = time.Now
	}
	if config.EvictionInterval <= 0 {
		config.EvictionInterval = time.Hour
	}
	engine := &SyncEngine{
		config:      config,
		txManager:   txManager,
		pendingRepo: pendingRepo,
		failedRepo:  failedRepo,
		journal:     journal,
		applier:     applier,
		tracker:     tracker,
		backoff:     backoff,
		breaker:     breaker,
		coalescer:   coalescer,
		reconciler:  reconciler,
		lock:        lock,
		dispatcher:  dispatcher,
		events:      events,
		metrics:     syncMetrics,
		logger:      logger,
		clock:       clock,
		trigger:     make(chan struct{}, 1),
	}
	engine.online.Store(true)
	return engine
}

// Start acquires the processing lock, recovers from any prior crash, and
// runs the dispatch loop until the context is canceled. Returns
// ErrLockHeld when another live instance owns the lock.
func (e *SyncEngine) Start(ctx context.Context) error {
	if err := e.lock.TryAcquire(ctx); err != nil {
		return err
	}
	defer func() {
		if err := e.lock.Release(context.WithoutCancel(ctx)); err != nil && e.logger != nil {
			e.logger.Error("failed to release processing lock", slog.Any("error", err))
		}
	}()

	if err := e.Recover(ctx); err != nil {
		return err
	}

	if e.logger != nil {
		e.logger.Info("starting sync engine",
			slog.Duration("sync_interval", e.config.SyncInterval),
			slog.String("holder_id", e.lock.HolderID()),
		)
	}

	heartbeat := time.NewTicker(e.config.HeartbeatInterval)
	defer heartbeat.Stop()
	ticker := time.NewTicker(e.config.SyncInterval)
	defer ticker.Stop()
	eviction := time.NewTicker(e.config.EvictionInterval)
	defer eviction.Stop()

	for {
		select {
		case <-ctx.Done():
			if e.logger != nil {
				e.logger.Info("stopping sync engine")
			}
			return ctx.Err()
		case <-heartbeat.C:
			if err := e.lock.Heartbeat(ctx); err != nil {
				if e.logger != nil {
					e.logger.Error("processing lock lost", slog.Any("error", err))
				}
				return err
			}
		case <-ticker.C:
			e.processQueue(ctx)
		case <-eviction.C:
			e.evictIdempotency(ctx)
		case <-e.trigger:
			e.processQueue(ctx)
		}
	}
}

// evictIdempotency drops succeeded keys past their retention TTL so the
// tracker does not grow without bound on a long-running device.
func (e *SyncEngine) evictIdempotency(ctx context.Context) {
	evicted, err := e.tracker.Evict(ctx)
	if err != nil {
		if e.logger != nil {
			e.logger.Error("failed to evict idempotency keys", slog.Any("error", err))
		}
		return
	}
	if evicted > 0 && e.logger != nil {
		e.logger.Info("idempotency keys evicted", slog.Int64("count", evicted))
	}
}

// Recover repairs the durable stores after a restart: committed journal
// entries are replayed, uncommitted ones discarded, and operations left
// in_flight by a crash become eligible again. The idempotency tracker
// guards those re-dispatched operations against duplicate server effects.
func (e *SyncEngine) Recover(ctx context.Context) error {
	replayed, discarded, err := e.journal.ReplayIncomplete(ctx, e.applier)
	if err != nil {
		return err
	}
	reset, err := e.pendingRepo.ResetInFlight(ctx)
	if err != nil {
		return err
	}
	if e.logger != nil && (replayed > 0 || discarded > 0 || reset > 0) {
		e.logger.Info("crash recovery complete",
			slog.Int("journal_replayed", replayed),
			slog.Int("journal_discarded", discarded),
			slog.Int64("operations_reset", reset),
		)
	}
	return nil
}

// TriggerSync requests an immediate queue pass without waiting for the
// next tick. Safe to call from any goroutine; coalesces bursts.
func (e *SyncEngine) TriggerSync() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// NotifyConnectivity informs the engine of a connectivity change. Going
// online triggers an immediate pass; while offline the engine leaves the
// queue untouched.
func (e *SyncEngine) NotifyConnectivity(online bool) {
	was := e.online.Swap(online)
	if online && !was {
		e.TriggerSync()
	}
}

// Online reports the engine's last known connectivity state.
func (e *SyncEngine) Online() bool {
	return e.online.Load()
}

// processQueue drains eligible operations until the queue is empty, the
// breaker opens, connectivity drops, or the context is canceled.
func (e *SyncEngine) processQueue(ctx context.Context) {
	defer e.publishQueueDepth(ctx)

	for {
		if ctx.Err() != nil || !e.online.Load() {
			return
		}
		if !e.breaker.Allow() {
			return
		}

		op, err := e.pendingRepo.GetOldestEligible(ctx, e.clock())
		if err != nil {
			if e.logger != nil {
				e.logger.Error("failed to read queue head", slog.Any("error", err))
			}
			return
		}
		if op == nil {
			return
		}

		if !e.processOne(ctx, op) {
			return
		}
	}
}

// processOne handles a single queue head. Returns false when the loop
// should pause (transient failure, open breaker, storage error).
func (e *SyncEngine) processOne(ctx context.Context, op *domain.PendingOperation) bool {
	// An operation that succeeded just before a crash must not be sent
	// again: the server already applied it.
	done, err := e.tracker.HasSucceeded(ctx, op.IdempotencyKey)
	if err != nil {
		e.logError(op, "failed to check idempotency key", err)
		return false
	}
	if done {
		if err := e.finalizeSuccess(ctx, op); err != nil {
			e.logError(op, "failed to finalize recovered operation", err)
			return false
		}
		return true
	}

	op, err = e.coalesce(ctx, op)
	if err != nil {
		e.logError(op, "failed to coalesce queue head", err)
		return false
	}

	if err := e.pendingRepo.MarkInFlight(ctx, op.ID); err != nil {
		e.logError(op, "failed to mark operation in flight", err)
		return false
	}
	op.Attempts++

	start := e.clock()
	_, syncErr := e.dispatcher.Dispatch(ctx, op)
	e.metrics.RecordDispatchDuration(ctx, string(op.EntityType), e.clock().Sub(start), dispatchOutcome(syncErr))

	if syncErr == nil {
		e.breaker.RecordSuccess()
		e.metrics.RecordDispatch(ctx, string(op.EntityType), "success")
		if err := e.finalizeSuccess(ctx, op); err != nil {
			e.logError(op, "failed to finalize successful operation", err)
			return false
		}
		e.publish(domain.EventOperationSucceeded, op, "")
		return true
	}

	if syncErr.Kind == domain.ErrorKindConflict {
		e.metrics.RecordDispatch(ctx, string(op.EntityType), "conflict")
		if err := e.handleConflict(ctx, op, syncErr); err != nil {
			e.logError(op, "failed to reconcile conflict", err)
			return false
		}
		return true
	}

	if syncErr.Retryable() {
		e.metrics.RecordDispatch(ctx, string(op.EntityType), "retry")
		return e.handleTransient(ctx, op, syncErr)
	}

	e.metrics.RecordDispatch(ctx, string(op.EntityType), "failed")
	if err := e.failPermanently(ctx, op, syncErr); err != nil {
		e.logError(op, "failed to record permanent failure", err)
		return false
	}
	return true
}

// coalesce merges the head's run of same-entity mutations into the head
// inside one journaled unit. Absorbed operations' optimistic records are
// confirmed: their intent now rides in the head's payload.
func (e *SyncEngine) coalesce(ctx context.Context, head *domain.PendingOperation) (*domain.PendingOperation, error) {
	plan, err := e.coalescer.Coalesce(ctx, head)
	if err != nil {
		return nil, err
	}
	if len(plan.Absorbed) == 0 {
		return plan.Operation, nil
	}

	absorbed, err := e.pendingRepo.ListPendingByEntity(ctx, head.EntityType, head.EntityID)
	if err != nil {
		return nil, err
	}
	absorbedTokens := make(map[uuid.UUID]*uuid.UUID, len(plan.Absorbed))
	for _, op := range absorbed {
		absorbedTokens[op.ID] = op.TxnToken
	}

	unit, err := e.journal.Begin(ctx)
	if err != nil {
		return nil, err
	}
	// The merged payload rides in the journal alongside the absorbed
	// deletes: replay after a crash must not leave the head stale while
	// the newer operations are already gone.
	if err := unit.Append(ctx, domain.JournalStepUpdatePayload, service.UpdatePayloadArgs{
		OperationID: plan.Operation.ID,
		Payload:     plan.Operation.Payload,
	}); err != nil {
		return nil, discardOnError(ctx, unit, err)
	}
	for _, id := range plan.Absorbed {
		if err := unit.Append(ctx, domain.JournalStepDeleteOperation, service.DeleteOperationArgs{OperationID: id}); err != nil {
			return nil, discardOnError(ctx, unit, err)
		}
		if token := absorbedTokens[id]; token != nil {
			if err := unit.Append(ctx, domain.JournalStepConfirmOptimistic, service.ConfirmOptimisticArgs{TxnToken: *token}); err != nil {
				return nil, discardOnError(ctx, unit, err)
			}
		}
	}
	if err := unit.Commit(ctx); err != nil {
		return nil, discardOnError(ctx, unit, err)
	}

	err = e.txManager.WithTx(ctx, func(ctx context.Context) error {
		for _, step := range unit.Steps() {
			if err := e.applier.ApplyStep(ctx, step); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := unit.Close(ctx); err != nil {
		return nil, err
	}

	if e.logger != nil {
		e.logger.Info("coalesced queued operations",
			slog.String("operation_id", plan.Operation.ID.String()),
			slog.String("entity_type", string(plan.Operation.EntityType)),
			slog.String("entity_id", plan.Operation.EntityID),
			slog.Int("absorbed", len(plan.Absorbed)),
		)
	}
	return plan.Operation, nil
}

// finalizeSuccess records the server confirmation: the idempotency key is
// remembered, the operation leaves the queue, and its optimistic update is
// confirmed. One journaled unit covers all three stores.
func (e *SyncEngine) finalizeSuccess(ctx context.Context, op *domain.PendingOperation) error {
	unit, err := e.journal.Begin(ctx)
	if err != nil {
		return err
	}

	if err := unit.Append(ctx, domain.JournalStepMarkSucceeded, service.MarkSucceededArgs{
		IdempotencyKey: op.IdempotencyKey,
		At:             e.clock(),
	}); err != nil {
		return discardOnError(ctx, unit, err)
	}
	if err := unit.Append(ctx, domain.JournalStepDeleteOperation, service.DeleteOperationArgs{OperationID: op.ID}); err != nil {
		return discardOnError(ctx, unit, err)
	}
	if op.TxnToken != nil {
		if err := unit.Append(ctx, domain.JournalStepConfirmOptimistic, service.ConfirmOptimisticArgs{TxnToken: *op.TxnToken}); err != nil {
			return discardOnError(ctx, unit, err)
		}
	}
	if err := unit.Commit(ctx); err != nil {
		return discardOnError(ctx, unit, err)
	}

	err = e.txManager.WithTx(ctx, func(ctx context.Context) error {
		for _, step := range unit.Steps() {
			if err := e.applier.ApplyStep(ctx, step); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return unit.Close(ctx)
}

// handleTransient schedules a retry or, when attempts are exhausted,
// converts the failure into a permanent one. Returns false to pause the
// loop: the server just told us it is struggling.
func (e *SyncEngine) handleTransient(ctx context.Context, op *domain.PendingOperation, syncErr *domain.SyncError) bool {
	if e.breaker.RecordFailure() {
		e.metrics.RecordBreakerTrip(ctx)
		e.publish(domain.EventBreakerTripped, op, syncErr.Kind)
		if e.logger != nil {
			e.logger.Warn("circuit breaker tripped", slog.String("error_kind", string(syncErr.Kind)))
		}
	}

	if !e.backoff.ShouldRetry(op.Attempts) {
		if err := e.failPermanently(ctx, op, syncErr); err != nil {
			e.logError(op, "failed to record exhausted operation", err)
		}
		return false
	}

	delay := e.backoff.Delay(op.Attempts, syncErr.RetryAfter)
	if err := e.pendingRepo.MarkFailedTransient(ctx, op.ID, e.clock().Add(delay)); err != nil {
		e.logError(op, "failed to schedule retry", err)
		return false
	}

	e.metrics.RecordRetryScheduled(ctx, string(op.EntityType), string(syncErr.Kind))
	e.publish(domain.EventOperationRetrying, op, syncErr.Kind)
	if e.logger != nil {
		e.logger.Warn("operation retry scheduled",
			slog.String("operation_id", op.ID.String()),
			slog.String("trace_id", op.TraceID.String()),
			slog.String("error_kind", string(syncErr.Kind)),
			slog.Int("attempts", op.Attempts),
			slog.Duration("delay", delay),
		)
	}
	return false
}

// handleConflict runs the reconciler and applies its verdict.
func (e *SyncEngine) handleConflict(ctx context.Context, op *domain.PendingOperation, syncErr *domain.SyncError) error {
	resolution, err := e.reconciler.Reconcile(ctx, op, syncErr)
	if err != nil {
		return err
	}
	e.metrics.RecordConflict(ctx, string(op.EntityType), string(resolution.Outcome))

	switch resolution.Outcome {
	case service.OutcomeSuperseded:
		// The server state already covers the intent; confirming the
		// optimistic update is correct because the entity exists remotely.
		return e.finalizeSuccess(ctx, op)

	case service.OutcomeRebased:
		// A server that answers 409 on every round must not produce a hot
		// redispatch loop: rebases are paced like retries and bounded by
		// the same attempt budget.
		if !e.backoff.ShouldRetry(op.Attempts) {
			return e.parkForResolution(ctx, op, syncErr)
		}
		nextAttemptAt := e.clock().Add(e.backoff.Delay(op.Attempts, nil))
		if err := e.pendingRepo.Requeue(ctx, op.ID, resolution.Payload, &nextAttemptAt); err != nil {
			return err
		}
		e.publish(domain.EventOperationRetrying, op, syncErr.Kind)
		if e.logger != nil {
			e.logger.Info("operation rebased after conflict",
				slog.String("operation_id", op.ID.String()),
				slog.String("trace_id", op.TraceID.String()),
				slog.Int("attempts", op.Attempts),
			)
		}
		return nil

	default:
		return e.parkForResolution(ctx, op, syncErr)
	}
}

// parkForResolution sets a conflicted operation aside for user review.
func (e *SyncEngine) parkForResolution(ctx context.Context, op *domain.PendingOperation, syncErr *domain.SyncError) error {
	if err := e.pendingRepo.UpdateStatus(ctx, op.ID, domain.OperationStatusNeedsResolution); err != nil {
		return err
	}
	e.publish(domain.EventConflictNeedsResolution, op, syncErr.Kind)
	if e.logger != nil {
		e.logger.Warn("conflict needs manual resolution",
			slog.String("operation_id", op.ID.String()),
			slog.String("entity_type", string(op.EntityType)),
			slog.String("entity_id", op.EntityID),
			slog.String("trace_id", op.TraceID.String()),
		)
	}
	return nil
}

// failPermanently snapshots the operation into the failed store, removes
// it from the queue, and rolls back its optimistic update.
func (e *SyncEngine) failPermanently(ctx context.Context, op *domain.PendingOperation, syncErr *domain.SyncError) error {
	failed := domain.NewFailedOperation(op, syncErr, e.clock())
	if err := e.failedRepo.Create(ctx, failed); err != nil {
		return err
	}

	unit, err := e.journal.Begin(ctx)
	if err != nil {
		return err
	}
	if err := unit.Append(ctx, domain.JournalStepDeleteOperation, service.DeleteOperationArgs{OperationID: op.ID}); err != nil {
		return discardOnError(ctx, unit, err)
	}
	if op.TxnToken != nil {
		if err := unit.Append(ctx, domain.JournalStepRollbackOptimistic, service.RollbackOptimisticArgs{TxnToken: *op.TxnToken}); err != nil {
			return discardOnError(ctx, unit, err)
		}
	}
	if err := unit.Commit(ctx); err != nil {
		return discardOnError(ctx, unit, err)
	}

	err = e.txManager.WithTx(ctx, func(ctx context.Context) error {
		for _, step := range unit.Steps() {
			if err := e.applier.ApplyStep(ctx, step); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := unit.Close(ctx); err != nil {
		return err
	}

	e.publish(domain.EventOperationFailed, op, syncErr.Kind)
	if e.logger != nil {
		e.logger.Error("operation failed permanently",
			slog.String("operation_id", op.ID.String()),
			slog.String("entity_type", string(op.EntityType)),
			slog.String("entity_id", op.EntityID),
			slog.String("trace_id", op.TraceID.String()),
			slog.String("error_kind", string(syncErr.Kind)),
			slog.Int("attempts", op.Attempts),
		)
	}
	return nil
}

func (e *SyncEngine) publish(kind domain.EventKind, op *domain.PendingOperation, errorKind domain.ErrorKind) {
	if e.events == nil {
		return
	}
	e.events.Publish(domain.Event{
		Kind:        kind,
		OperationID: op.ID,
		EntityType:  op.EntityType,
		EntityID:    op.EntityID,
		TraceID:     op.TraceID,
		ErrorKind:   errorKind,
		At:          e.clock(),
	})
}

func (e *SyncEngine) publishQueueDepth(ctx context.Context) {
	depth, err := e.pendingRepo.Count(ctx)
	if err != nil {
		return
	}
	e.metrics.SetQueueDepth(depth)
}

func (e *SyncEngine) logError(op *domain.PendingOperation, msg string, err error) {
	if e.logger == nil {
		return
	}
	e.logger.Error(msg,
		slog.String("operation_id", op.ID.String()),
		slog.String("trace_id", op.TraceID.String()),
		slog.Any("error", err),
	)
}

func dispatchOutcome(syncErr *domain.SyncError) string {
	switch {
	case syncErr == nil:
		return "success"
	case syncErr.Kind == domain.ErrorKindConflict:
		return "conflict"
	case syncErr.Retryable():
		return "retry"
	default:
		return "failed"
	}
}
