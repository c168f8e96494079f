package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalhome/syncengine/internal/database"
	"github.com/vitalhome/syncengine/internal/metrics"
	"github.com/vitalhome/syncengine/internal/sync/domain"
	"github.com/vitalhome/syncengine/internal/sync/repository"
	"github.com/vitalhome/syncengine/internal/sync/service"
	"github.com/vitalhome/syncengine/internal/testutil"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []*domain.PendingOperation
	respond func(op *domain.PendingOperation) (json.RawMessage, *domain.SyncError)
}

func (d *fakeDispatcher) Dispatch(_ context.Context, op *domain.PendingOperation) (json.RawMessage, *domain.SyncError) {
	d.mu.Lock()
	copied := *op
	d.calls = append(d.calls, &copied)
	d.mu.Unlock()
	if d.respond == nil {
		return json.RawMessage(`{}`), nil
	}
	return d.respond(op)
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// flakyTxManager fails the next N transactions before delegating, to
// exercise the crash window between journal commit and store application.
type flakyTxManager struct {
	inner    database.TxManager
	failures int
}

func (m *flakyTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.failures > 0 {
		m.failures--
		return errors.New("database connection lost")
	}
	return m.inner.WithTx(ctx, fn)
}

type engineFixture struct {
	engine          *SyncEngine
	enqueue         *EnqueueUseCase
	dispatcher      *fakeDispatcher
	pendingRepo     *repository.SQLitePendingOperationRepository
	failedRepo      *repository.SQLiteFailedOperationRepository
	optimistic      *repository.SQLiteOptimisticRepository
	idempotencyRepo *repository.SQLiteIdempotencyRepository
	journalRepo     *repository.SQLiteJournalRepository
	tracker         *service.IdempotencyTracker
	breaker         *service.CircuitBreaker
	events          *EventBus
	engineTx        *flakyTxManager
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	db := testutil.SetupSQLiteDB(t)
	txManager := database.NewTxManager(db)
	pendingRepo := repository.NewSQLitePendingOperationRepository(db)
	failedRepo := repository.NewSQLiteFailedOperationRepository(db)
	optimisticRepo := repository.NewSQLiteOptimisticRepository(db)
	idempotencyRepo := repository.NewSQLiteIdempotencyRepository(db)
	journalRepo := repository.NewSQLiteJournalRepository(db)
	lockRepo := repository.NewSQLiteLockRepository(db)

	journal := service.NewJournal(journalRepo, nil)
	applier := service.NewRepositoryStepApplier(pendingRepo, optimisticRepo, idempotencyRepo)
	tracker := service.NewIdempotencyTracker(idempotencyRepo, 24*time.Hour, nil)
	backoff := service.NewBackoffPolicy(10, 100, 3, nil)
	breaker := service.NewCircuitBreaker(5, 5*time.Second, 2*time.Second, nil)
	coalescer := service.NewCoalescer(pendingRepo)
	reconciler := service.NewReconciler(nil, optimisticRepo)
	lock := service.NewProcessingLock(lockRepo, "test-instance", 30*time.Second, nil)
	events := NewEventBus()
	dispatcher := &fakeDispatcher{}
	engineTx := &flakyTxManager{inner: txManager}

	engine := NewSyncEngine(
		EngineConfig{SyncInterval: time.Hour, HeartbeatInterval: time.Hour},
		engineTx,
		pendingRepo,
		failedRepo,
		journal,
		applier,
		tracker,
		backoff,
		breaker,
		coalescer,
		reconciler,
		lock,
		dispatcher,
		events,
		metrics.NewNoOpSyncMetrics(),
		nil,
		nil,
	)

	enqueue := NewEnqueueUseCase(txManager, journal, applier, events, nil, nil)

	return &engineFixture{
		engine:          engine,
		enqueue:         enqueue,
		dispatcher:      dispatcher,
		pendingRepo:     pendingRepo,
		failedRepo:      failedRepo,
		optimistic:      optimisticRepo,
		idempotencyRepo: idempotencyRepo,
		journalRepo:     journalRepo,
		tracker:         tracker,
		breaker:         breaker,
		events:          events,
		engineTx:        engineTx,
	}
}

func devicePayload(deviceID string, level int, version int64) json.RawMessage {
	payload, _ := json.Marshal(map[string]any{
		"device_id":  deviceID,
		"power":      true,
		"level":      level,
		"version":    version,
		"changed_at": time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	})
	return payload
}

func readingPayload(readingID string) json.RawMessage {
	payload, _ := json.Marshal(map[string]any{
		"reading_id":  readingID,
		"profile_id":  "profile-1",
		"kind":        "heart_rate",
		"value":       72.0,
		"unit":        "bpm",
		"recorded_at": time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	})
	return payload
}

func TestSyncEngineSuccessfulDispatch(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	op, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionUpdate,
		EntityType: domain.EntityDevice,
		EntityID:   "device-1",
		Payload:    devicePayload("device-1", 40, 1),
	})
	require.NoError(t, err)

	record, err := fx.optimistic.Get(ctx, *op.TxnToken)
	require.NoError(t, err)
	assert.Equal(t, "device-1", record.EntityID)

	fx.engine.processQueue(ctx)

	assert.Equal(t, 1, fx.dispatcher.callCount())

	_, err = fx.pendingRepo.Get(ctx, op.ID)
	assert.ErrorIs(t, err, domain.ErrOperationNotFound)

	_, err = fx.optimistic.Get(ctx, *op.TxnToken)
	assert.ErrorIs(t, err, domain.ErrOptimisticNotFound)

	done, err := fx.tracker.HasSucceeded(ctx, op.IdempotencyKey)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestSyncEngineDispatchesInFIFOOrder(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	var ids []string
	for i, entity := range []string{"device-a", "device-b", "device-c"} {
		_, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
			Action:     domain.ActionUpdate,
			EntityType: domain.EntityDevice,
			EntityID:   entity,
			Payload:    devicePayload(entity, i*10, 1),
		})
		require.NoError(t, err)
		ids = append(ids, entity)
		time.Sleep(2 * time.Millisecond)
	}

	fx.engine.processQueue(ctx)

	require.Equal(t, 3, fx.dispatcher.callCount())
	for i, call := range fx.dispatcher.calls {
		assert.Equal(t, ids[i], call.EntityID)
	}
}

func TestSyncEngineTransientFailureSchedulesRetry(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	fx.dispatcher.respond = func(_ *domain.PendingOperation) (json.RawMessage, *domain.SyncError) {
		return nil, &domain.SyncError{Kind: domain.ErrorKindServiceUnavailable, Status: 503, Message: "try later"}
	}

	op, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionUpdate,
		EntityType: domain.EntityDevice,
		EntityID:   "device-1",
		Payload:    devicePayload("device-1", 40, 1),
	})
	require.NoError(t, err)

	fx.engine.processQueue(ctx)

	assert.Equal(t, 1, fx.dispatcher.callCount())

	got, err := fx.pendingRepo.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.After(time.Now().Add(-time.Second)))

	// The same idempotency key must be presented on every retry.
	assert.Equal(t, op.IdempotencyKey, fx.dispatcher.calls[0].IdempotencyKey)
}

func TestSyncEngineHonorsRetryAfter(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	retryAfter := 60 * time.Second
	fx.dispatcher.respond = func(_ *domain.PendingOperation) (json.RawMessage, *domain.SyncError) {
		return nil, &domain.SyncError{
			Kind:       domain.ErrorKindRateLimited,
			Status:     429,
			RetryAfter: &retryAfter,
		}
	}

	op, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionUpdate,
		EntityType: domain.EntityDevice,
		EntityID:   "device-1",
		Payload:    devicePayload("device-1", 40, 1),
	})
	require.NoError(t, err)

	before := time.Now()
	fx.engine.processQueue(ctx)

	got, err := fx.pendingRepo.Get(ctx, op.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.After(before.Add(59*time.Second)))
}

func TestSyncEngineExhaustedRetriesFailPermanently(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	fx.dispatcher.respond = func(_ *domain.PendingOperation) (json.RawMessage, *domain.SyncError) {
		return nil, &domain.SyncError{Kind: domain.ErrorKindServerError, Status: 500, Message: "boom"}
	}

	op, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionUpdate,
		EntityType: domain.EntityDevice,
		EntityID:   "device-1",
		Payload:    devicePayload("device-1", 40, 1),
	})
	require.NoError(t, err)

	// Attempts cap at 3 in this fixture; drive the queue past them.
	for range 5 {
		fx.engine.processQueue(ctx)
		require.NoError(t, fx.pendingRepo.MarkFailedTransient(ctx, op.ID, time.Now().Add(-time.Minute)))
	}
	fx.engine.processQueue(ctx)

	_, err = fx.pendingRepo.Get(ctx, op.ID)
	assert.ErrorIs(t, err, domain.ErrOperationNotFound)

	failed, err := fx.failedRepo.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorKindServerError, failed.ErrorKind)

	// The optimistic update is rolled back, not confirmed.
	_, err = fx.optimistic.Get(ctx, *op.TxnToken)
	assert.ErrorIs(t, err, domain.ErrOptimisticNotFound)
}

func TestSyncEngineValidationFailureIsPermanent(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	fx.dispatcher.respond = func(_ *domain.PendingOperation) (json.RawMessage, *domain.SyncError) {
		return nil, &domain.SyncError{Kind: domain.ErrorKindValidation, Status: 422, Message: "bad level"}
	}

	op, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionUpdate,
		EntityType: domain.EntityDevice,
		EntityID:   "device-1",
		Payload:    devicePayload("device-1", 40, 1),
	})
	require.NoError(t, err)

	fx.engine.processQueue(ctx)

	assert.Equal(t, 1, fx.dispatcher.callCount())
	_, err = fx.pendingRepo.Get(ctx, op.ID)
	assert.ErrorIs(t, err, domain.ErrOperationNotFound)

	failed, err := fx.failedRepo.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorKindValidation, failed.ErrorKind)
}

func TestSyncEngineConflictRebase(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	serverVersion := int64(9)
	fx.dispatcher.respond = func(_ *domain.PendingOperation) (json.RawMessage, *domain.SyncError) {
		return nil, &domain.SyncError{
			Kind:          domain.ErrorKindConflict,
			Status:        409,
			ServerVersion: &serverVersion,
		}
	}

	op, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionUpdate,
		EntityType: domain.EntityDevice,
		EntityID:   "device-1",
		Payload:    devicePayload("device-1", 40, 2),
	})
	require.NoError(t, err)

	fx.engine.processQueue(ctx)

	got, err := fx.pendingRepo.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusPending, got.Status)

	rebased, err := domain.DecodeDevicePayload(got.Payload)
	require.NoError(t, err)
	assert.Equal(t, serverVersion, rebased.Version)
}

func TestSyncEngineConflictSuperseded(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	serverVersion := int64(1)
	fx.dispatcher.respond = func(_ *domain.PendingOperation) (json.RawMessage, *domain.SyncError) {
		return nil, &domain.SyncError{
			Kind:          domain.ErrorKindConflict,
			Status:        409,
			ServerVersion: &serverVersion,
		}
	}

	op, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionCreate,
		EntityType: domain.EntityReading,
		EntityID:   "reading-1",
		Payload:    readingPayload("reading-1"),
	})
	require.NoError(t, err)

	fx.engine.processQueue(ctx)

	// The reading already exists server-side: the queued copy is dropped
	// and its optimistic update confirmed.
	_, err = fx.pendingRepo.Get(ctx, op.ID)
	assert.ErrorIs(t, err, domain.ErrOperationNotFound)

	_, err = fx.optimistic.Get(ctx, *op.TxnToken)
	assert.ErrorIs(t, err, domain.ErrOptimisticNotFound)
}

func TestSyncEngineConflictWithoutVersionParks(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	fx.dispatcher.respond = func(_ *domain.PendingOperation) (json.RawMessage, *domain.SyncError) {
		return nil, &domain.SyncError{Kind: domain.ErrorKindConflict, Status: 409}
	}

	op, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionUpdate,
		EntityType: domain.EntityDevice,
		EntityID:   "device-1",
		Payload:    devicePayload("device-1", 40, 2),
	})
	require.NoError(t, err)

	fx.engine.processQueue(ctx)

	got, err := fx.pendingRepo.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusNeedsResolution, got.Status)

	// Parked operations never re-dispatch.
	fx.engine.processQueue(ctx)
	assert.Equal(t, 1, fx.dispatcher.callCount())
}

func TestSyncEngineSkipsAlreadySucceededKey(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	op, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionCreate,
		EntityType: domain.EntityReading,
		EntityID:   "reading-1",
		Payload:    readingPayload("reading-1"),
	})
	require.NoError(t, err)

	// Simulate a crash after the server confirmed the dispatch but before
	// the queue cleanup ran.
	require.NoError(t, fx.tracker.MarkSucceeded(ctx, op.IdempotencyKey))

	fx.engine.processQueue(ctx)

	// No second dispatch: the server already applied this mutation.
	assert.Equal(t, 0, fx.dispatcher.callCount())

	_, err = fx.pendingRepo.Get(ctx, op.ID)
	assert.ErrorIs(t, err, domain.ErrOperationNotFound)
}

func TestSyncEngineCoalescesSameEntityRun(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	var ops []*domain.PendingOperation
	for i := range 3 {
		op, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
			Action:     domain.ActionUpdate,
			EntityType: domain.EntityDevice,
			EntityID:   "device-1",
			Payload:    devicePayload("device-1", (i+1)*10, 1),
		})
		require.NoError(t, err)
		ops = append(ops, op)
		time.Sleep(2 * time.Millisecond)
	}

	fx.engine.processQueue(ctx)

	// One dispatch for the whole run, carrying the newest payload under
	// the head's identity and idempotency key.
	require.Equal(t, 1, fx.dispatcher.callCount())
	call := fx.dispatcher.calls[0]
	assert.Equal(t, ops[0].ID, call.ID)
	assert.Equal(t, ops[0].IdempotencyKey, call.IdempotencyKey)

	payload, err := domain.DecodeDevicePayload(call.Payload)
	require.NoError(t, err)
	require.NotNil(t, payload.Level)
	assert.Equal(t, 30, *payload.Level)

	// The absorbed operations are gone.
	for _, op := range ops[1:] {
		_, err := fx.pendingRepo.Get(ctx, op.ID)
		assert.ErrorIs(t, err, domain.ErrOperationNotFound)
	}
}

func TestSyncEngineCoalesceCrashKeepsNewestPayload(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	var ops []*domain.PendingOperation
	for i := range 2 {
		op, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
			Action:     domain.ActionUpdate,
			EntityType: domain.EntityDevice,
			EntityID:   "device-1",
			Payload:    devicePayload("device-1", (i+1)*10, 1),
		})
		require.NoError(t, err)
		ops = append(ops, op)
		time.Sleep(2 * time.Millisecond)
	}

	// Crash window: the coalesce journal unit commits but the store
	// application never runs.
	fx.engineTx.failures = 1
	fx.engine.processQueue(ctx)
	assert.Equal(t, 0, fx.dispatcher.callCount())

	require.NoError(t, fx.engine.Recover(ctx))

	// Replay finished the coalesce: the head carries the newest payload
	// and the absorbed operation is gone.
	head, err := fx.pendingRepo.Get(ctx, ops[0].ID)
	require.NoError(t, err)
	payload, err := domain.DecodeDevicePayload(head.Payload)
	require.NoError(t, err)
	require.NotNil(t, payload.Level)
	assert.Equal(t, 20, *payload.Level)

	_, err = fx.pendingRepo.Get(ctx, ops[1].ID)
	assert.ErrorIs(t, err, domain.ErrOperationNotFound)
	_, err = fx.optimistic.Get(ctx, *ops[1].TxnToken)
	assert.ErrorIs(t, err, domain.ErrOptimisticNotFound)

	entries, err := fx.journalRepo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	fx.engine.processQueue(ctx)
	require.Equal(t, 1, fx.dispatcher.callCount())
	dispatched, err := domain.DecodeDevicePayload(fx.dispatcher.calls[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 20, *dispatched.Level)
}

func TestSyncEngineRebasePacedAndBounded(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	serverVersion := int64(9)
	fx.dispatcher.respond = func(_ *domain.PendingOperation) (json.RawMessage, *domain.SyncError) {
		return nil, &domain.SyncError{
			Kind:          domain.ErrorKindConflict,
			Status:        409,
			ServerVersion: &serverVersion,
		}
	}

	op, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionUpdate,
		EntityType: domain.EntityDevice,
		EntityID:   "device-1",
		Payload:    devicePayload("device-1", 40, 2),
	})
	require.NoError(t, err)

	fx.engine.processQueue(ctx)

	// The rebased operation is scheduled, not immediately eligible.
	got, err := fx.pendingRepo.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusPending, got.Status)
	require.NotNil(t, got.NextAttemptAt)

	fx.engine.processQueue(ctx)
	assert.Equal(t, 1, fx.dispatcher.callCount(), "a paced rebase must not redispatch in the same pass")

	// A server that answers 409 forever exhausts the attempt budget and
	// parks the operation instead of looping.
	for range 5 {
		got, err = fx.pendingRepo.Get(ctx, op.ID)
		require.NoError(t, err)
		if got.Status == domain.OperationStatusNeedsResolution {
			break
		}
		require.NoError(t, fx.pendingRepo.MarkFailedTransient(ctx, op.ID, time.Now().Add(-time.Minute)))
		fx.engine.processQueue(ctx)
	}

	got, err = fx.pendingRepo.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusNeedsResolution, got.Status)
	assert.Equal(t, 3, fx.dispatcher.callCount())
}

func TestSyncEngineEvictsExpiredIdempotencyKeys(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	expired := uuid.New()
	fresh := uuid.New()
	require.NoError(t, fx.idempotencyRepo.MarkSucceeded(ctx, expired, time.Now().Add(-48*time.Hour)))
	require.NoError(t, fx.idempotencyRepo.MarkSucceeded(ctx, fresh, time.Now()))

	fx.engine.evictIdempotency(ctx)

	done, err := fx.tracker.HasSucceeded(ctx, expired)
	require.NoError(t, err)
	assert.False(t, done)

	done, err = fx.tracker.HasSucceeded(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestSyncEngineBreakerPausesDispatch(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	fx.dispatcher.respond = func(_ *domain.PendingOperation) (json.RawMessage, *domain.SyncError) {
		return nil, &domain.SyncError{Kind: domain.ErrorKindNetwork, Message: "connection refused"}
	}

	for i := range 6 {
		_, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
			Action:     domain.ActionCreate,
			EntityType: domain.EntityReading,
			EntityID:   "reading-" + string(rune('a'+i)),
			Payload:    readingPayload("reading-" + string(rune('a'+i))),
		})
		require.NoError(t, err)
	}

	// Each pass dispatches one head, fails, and pauses; clear the retry
	// schedule between passes so eligibility is never the limiter.
	for range 6 {
		fx.engine.processQueue(ctx)
		ops, err := fx.pendingRepo.List(ctx, 0, 10)
		require.NoError(t, err)
		for _, op := range ops {
			require.NoError(t, fx.pendingRepo.MarkFailedTransient(ctx, op.ID, time.Now().Add(-time.Minute)))
		}
	}

	assert.Equal(t, service.BreakerOpen, fx.breaker.State())

	// While open, the queue is not drained.
	calls := fx.dispatcher.callCount()
	fx.engine.processQueue(ctx)
	assert.Equal(t, calls, fx.dispatcher.callCount())
}

func TestSyncEngineOfflineLeavesQueueUntouched(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	_, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionCreate,
		EntityType: domain.EntityReading,
		EntityID:   "reading-1",
		Payload:    readingPayload("reading-1"),
	})
	require.NoError(t, err)

	fx.engine.NotifyConnectivity(false)
	fx.engine.processQueue(ctx)
	assert.Equal(t, 0, fx.dispatcher.callCount())

	fx.engine.NotifyConnectivity(true)
	fx.engine.processQueue(ctx)
	assert.Equal(t, 1, fx.dispatcher.callCount())
}

func TestSyncEngineRecoverReplaysJournalAndResetsInFlight(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	op, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionUpdate,
		EntityType: domain.EntityDevice,
		EntityID:   "device-1",
		Payload:    devicePayload("device-1", 40, 1),
	})
	require.NoError(t, err)
	require.NoError(t, fx.pendingRepo.MarkInFlight(ctx, op.ID))

	require.NoError(t, fx.engine.Recover(ctx))

	got, err := fx.pendingRepo.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusPending, got.Status)
}

func TestSyncEngineEventsArePublished(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	ch, cancel := fx.events.Subscribe()
	defer cancel()

	_, err := fx.enqueue.Enqueue(ctx, EnqueueInput{
		Action:     domain.ActionCreate,
		EntityType: domain.EntityReading,
		EntityID:   "reading-1",
		Payload:    readingPayload("reading-1"),
	})
	require.NoError(t, err)

	fx.engine.processQueue(ctx)

	var kinds []domain.EventKind
	for len(ch) > 0 {
		kinds = append(kinds, (<-ch).Kind)
	}
	assert.Contains(t, kinds, domain.EventOperationEnqueued)
	assert.Contains(t, kinds, domain.EventOperationSucceeded)
}

func TestEventBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewEventBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	for range 100 {
		bus.Publish(domain.Event{Kind: domain.EventOperationEnqueued, OperationID: uuid.New()})
	}

	// The buffer holds 64; publishing never blocked.
	assert.Equal(t, 64, len(ch))
}
