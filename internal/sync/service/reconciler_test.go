package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalhome/syncengine/internal/sync/domain"
)

type fakeEntityFetcher struct {
	payload json.RawMessage
	err     *domain.SyncError
	calls   int
}

func (f *fakeEntityFetcher) FetchEntity(_ context.Context, _ *domain.PendingOperation) (json.RawMessage, *domain.SyncError) {
	f.calls++
	return f.payload, f.err
}

type fakeBaseReader struct {
	records map[uuid.UUID]*domain.OptimisticUpdateRecord
}

func (f *fakeBaseReader) Get(_ context.Context, token uuid.UUID) (*domain.OptimisticUpdateRecord, error) {
	if record, ok := f.records[token]; ok {
		return record, nil
	}
	return nil, domain.ErrOptimisticNotFound
}

func conflictError(serverVersion int64) *domain.SyncError {
	return &domain.SyncError{
		Kind:          domain.ErrorKindConflict,
		Status:        409,
		Code:          "version_conflict",
		Message:       "entity was modified",
		ServerVersion: &serverVersion,
	}
}

func TestReconcilerRebasesDeviceUpdate(t *testing.T) {
	op := domain.NewPendingOperation(
		domain.ActionUpdate,
		domain.EntityDevice,
		"device-1",
		json.RawMessage(`{"device_id":"device-1","power":true,"version":3,"changed_at":"2026-08-30T10:00:00.000Z"}`),
		nil,
		time.Now(),
	)

	resolution, err := NewReconciler(nil, nil).Reconcile(context.Background(), op, conflictError(7))
	require.NoError(t, err)

	assert.Equal(t, OutcomeRebased, resolution.Outcome)
	rebased, err := domain.DecodeDevicePayload(resolution.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rebased.Version)
	assert.True(t, rebased.Power)
}

func TestReconcilerSupersedesDeviceCreate(t *testing.T) {
	op := domain.NewPendingOperation(
		domain.ActionCreate,
		domain.EntityDevice,
		"device-1",
		json.RawMessage(`{"device_id":"device-1","power":true,"version":1}`),
		nil,
		time.Now(),
	)

	resolution, err := NewReconciler(nil, nil).Reconcile(context.Background(), op, conflictError(2))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuperseded, resolution.Outcome)
}

func TestReconcilerFetchesAuthoritativeState(t *testing.T) {
	op := domain.NewPendingOperation(
		domain.ActionUpdate,
		domain.EntityDevice,
		"device-1",
		json.RawMessage(`{"device_id":"device-1","power":true,"version":3}`),
		nil,
		time.Now(),
	)
	fetcher := &fakeEntityFetcher{payload: json.RawMessage(`{"device_id":"device-1","power":false,"version":7}`)}

	resolution, err := NewReconciler(fetcher, nil).Reconcile(context.Background(), op, conflictError(7))
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, OutcomeRebased, resolution.Outcome)
}

func TestReconcilerUsesFetchedVersionWhenErrorOmitsIt(t *testing.T) {
	op := domain.NewPendingOperation(
		domain.ActionUpdate,
		domain.EntityDevice,
		"device-1",
		json.RawMessage(`{"device_id":"device-1","power":true,"version":3}`),
		nil,
		time.Now(),
	)
	fetcher := &fakeEntityFetcher{payload: json.RawMessage(`{"device_id":"device-1","power":false,"version":11}`)}
	syncErr := &domain.SyncError{Kind: domain.ErrorKindConflict, Status: 409, Message: "conflict"}

	resolution, err := NewReconciler(fetcher, nil).Reconcile(context.Background(), op, syncErr)
	require.NoError(t, err)

	assert.Equal(t, OutcomeRebased, resolution.Outcome)
	rebased, err := domain.DecodeDevicePayload(resolution.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(11), rebased.Version)
}

func TestReconcilerFallsBackToVersionWhenFetchFails(t *testing.T) {
	op := domain.NewPendingOperation(
		domain.ActionUpdate,
		domain.EntityDevice,
		"device-1",
		json.RawMessage(`{"device_id":"device-1","power":true,"version":3}`),
		nil,
		time.Now(),
	)
	fetcher := &fakeEntityFetcher{err: &domain.SyncError{Kind: domain.ErrorKindNetwork, Message: "connection refused"}}

	resolution, err := NewReconciler(fetcher, nil).Reconcile(context.Background(), op, conflictError(7))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRebased, resolution.Outcome)
}

func profileOp(t *testing.T, token uuid.UUID, payload string) *domain.PendingOperation {
	t.Helper()
	return domain.NewPendingOperation(
		domain.ActionUpdate,
		domain.EntityProfile,
		"profile-1",
		json.RawMessage(payload),
		&token,
		time.Now(),
	)
}

func profileBase(token uuid.UUID, previous string) *fakeBaseReader {
	return &fakeBaseReader{records: map[uuid.UUID]*domain.OptimisticUpdateRecord{
		token: {TxnToken: token, EntityType: domain.EntityProfile, EntityID: "profile-1", PreviousValue: json.RawMessage(previous)},
	}}
}

func TestReconcilerRebasesProfileWhenFieldsDontCollide(t *testing.T) {
	token := uuid.New()
	op := profileOp(t, token, `{"profile_id":"profile-1","display_name":"Ana","version":4}`)

	// The server changed weight; the local edit only touches display_name.
	fetcher := &fakeEntityFetcher{payload: json.RawMessage(`{"profile_id":"profile-1","display_name":"Anna","weight_kg":71.5,"version":9}`)}
	bases := profileBase(token, `{"profile_id":"profile-1","display_name":"Anna","weight_kg":70.0,"version":4}`)

	resolution, err := NewReconciler(fetcher, bases).Reconcile(context.Background(), op, conflictError(9))
	require.NoError(t, err)

	assert.Equal(t, OutcomeRebased, resolution.Outcome)
	rebased, err := domain.DecodeProfilePayload(resolution.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(9), rebased.Version)
	require.NotNil(t, rebased.DisplayName)
	assert.Equal(t, "Ana", *rebased.DisplayName)
	assert.Nil(t, rebased.WeightKg)
}

func TestReconcilerParksProfileFieldCollision(t *testing.T) {
	token := uuid.New()
	op := profileOp(t, token, `{"profile_id":"profile-1","display_name":"Ana","version":4}`)

	// The server also changed display_name since the local base: rebasing
	// would silently overwrite someone else's edit.
	fetcher := &fakeEntityFetcher{payload: json.RawMessage(`{"profile_id":"profile-1","display_name":"Anne","version":9}`)}
	bases := profileBase(token, `{"profile_id":"profile-1","display_name":"Anna","version":4}`)

	resolution, err := NewReconciler(fetcher, bases).Reconcile(context.Background(), op, conflictError(9))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsManualResolution, resolution.Outcome)
}

func TestReconcilerRebasesProfileWithoutBase(t *testing.T) {
	op := domain.NewPendingOperation(
		domain.ActionUpdate,
		domain.EntityProfile,
		"profile-1",
		json.RawMessage(`{"profile_id":"profile-1","display_name":"Ana","version":4}`),
		nil,
		time.Now(),
	)

	resolution, err := NewReconciler(nil, nil).Reconcile(context.Background(), op, conflictError(9))
	require.NoError(t, err)

	assert.Equal(t, OutcomeRebased, resolution.Outcome)
	rebased, err := domain.DecodeProfilePayload(resolution.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(9), rebased.Version)
	require.NotNil(t, rebased.DisplayName)
	assert.Equal(t, "Ana", *rebased.DisplayName)
	assert.Nil(t, rebased.HeightCm)
}

func TestReconcilerSupersedesDuplicateReading(t *testing.T) {
	op := domain.NewPendingOperation(
		domain.ActionCreate,
		domain.EntityReading,
		"reading-1",
		json.RawMessage(`{"reading_id":"reading-1","value":72}`),
		nil,
		time.Now(),
	)

	resolution, err := NewReconciler(nil, nil).Reconcile(context.Background(), op, conflictError(1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuperseded, resolution.Outcome)
}

func TestReconcilerParksWithoutServerVersion(t *testing.T) {
	op := domain.NewPendingOperation(
		domain.ActionUpdate,
		domain.EntityDevice,
		"device-1",
		json.RawMessage(`{"device_id":"device-1","power":true,"version":3}`),
		nil,
		time.Now(),
	)
	syncErr := &domain.SyncError{Kind: domain.ErrorKindConflict, Status: 409, Message: "conflict"}

	resolution, err := NewReconciler(nil, nil).Reconcile(context.Background(), op, syncErr)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsManualResolution, resolution.Outcome)
}

func TestReconcilerParksUnknownEntityType(t *testing.T) {
	op := domain.NewPendingOperation(
		domain.ActionUpdate,
		domain.EntityType("appointment"),
		"appointment-1",
		json.RawMessage(`{}`),
		nil,
		time.Now(),
	)

	resolution, err := NewReconciler(nil, nil).Reconcile(context.Background(), op, conflictError(5))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsManualResolution, resolution.Outcome)
}

func TestReconcilerRejectsNonConflict(t *testing.T) {
	op := domain.NewPendingOperation(
		domain.ActionUpdate,
		domain.EntityDevice,
		"device-1",
		json.RawMessage(`{}`),
		nil,
		time.Now(),
	)
	syncErr := &domain.SyncError{Kind: domain.ErrorKindServerError, Status: 500}

	_, err := NewReconciler(nil, nil).Reconcile(context.Background(), op, syncErr)
	assert.Error(t, err)
}
