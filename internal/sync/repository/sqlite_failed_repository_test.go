package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalhome/syncengine/internal/sync/domain"
	"github.com/vitalhome/syncengine/internal/testutil"
)

func TestSQLiteFailedOperationRepository(t *testing.T) {
	db := testutil.SetupSQLiteDB(t)
	repo := NewSQLiteFailedOperationRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	syncErr := &domain.SyncError{
		Kind:    domain.ErrorKindValidation,
		Status:  422,
		Code:    "invalid_payload",
		Message: "level must be between 0 and 100",
	}

	t.Run("create and get", func(t *testing.T) {
		op := newTestOperation(t, "device-failed-1", now)
		op.Attempts = 1
		failed := domain.NewFailedOperation(op, syncErr, now)

		require.NoError(t, repo.Create(ctx, failed))

		got, err := repo.Get(ctx, failed.ID)
		require.NoError(t, err)
		assert.Equal(t, op.ID, got.ID)
		assert.Equal(t, domain.ErrorKindValidation, got.ErrorKind)
		assert.Equal(t, "level must be between 0 and 100", got.ErrorMessage)
		assert.Equal(t, 1, got.Attempts)
	})

	t.Run("get not found", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrOperationNotFound)
	})

	t.Run("list orders newest first", func(t *testing.T) {
		older := domain.NewFailedOperation(newTestOperation(t, "device-failed-2", now), syncErr, now.Add(-time.Hour))
		newer := domain.NewFailedOperation(newTestOperation(t, "device-failed-3", now), syncErr, now)
		require.NoError(t, repo.Create(ctx, older))
		require.NoError(t, repo.Create(ctx, newer))

		ops, err := repo.List(ctx, 0, 10)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(ops), 2)
		assert.False(t, ops[0].FailedAt.Before(ops[1].FailedAt))
	})

	t.Run("delete", func(t *testing.T) {
		failed := domain.NewFailedOperation(newTestOperation(t, "device-failed-4", now), syncErr, now)
		require.NoError(t, repo.Create(ctx, failed))
		require.NoError(t, repo.Delete(ctx, failed.ID))

		_, err := repo.Get(ctx, failed.ID)
		assert.ErrorIs(t, err, domain.ErrOperationNotFound)
	})

	t.Run("count", func(t *testing.T) {
		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, int64(3))
	})
}
