package service

import (
	"context"
	"time"

	apperrors "github.com/vitalhome/syncengine/internal/errors"
	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// LockRepository is the persistence the processing lock needs.
type LockRepository interface {
	Get(ctx context.Context) (*domain.ProcessingLockRecord, error)
	TryInsert(ctx context.Context, holderID string, now time.Time) (bool, error)
	TryTakeOver(ctx context.Context, holderID string, now, staleBefore time.Time) (bool, error)
	Heartbeat(ctx context.Context, holderID string, now time.Time) (bool, error)
	Release(ctx context.Context, holderID string) error
}

// ProcessingLock guarantees at most one dispatch loop per database. A
// holder that stops heartbeating for longer than the staleness threshold
// is presumed crashed and its lock can be taken over.
type ProcessingLock struct {
	repo      LockRepository
	holderID  string
	staleness time.Duration
	clock     func() time.Time
}

// NewProcessingLock creates a lock service for one holder. A nil clock
// defaults to time.Now.
func NewProcessingLock(repo LockRepository, holderID string, staleness time.Duration, clock func() time.Time) *ProcessingLock {
	if clock == nil {
		clock = time.Now
	}
	return &ProcessingLock{
		repo:      repo,
		holderID:  holderID,
		staleness: staleness,
		clock:     clock,
	}
}

// HolderID returns this instance's holder identity.
func (l *ProcessingLock) HolderID() string {
	return l.holderID
}

// TryAcquire claims the lock, taking over a stale holder's lock when
// needed. Returns ErrLockHeld when another live holder owns it.
func (l *ProcessingLock) TryAcquire(ctx context.Context) error {
	now := l.clock()

	ok, err := l.repo.TryInsert(ctx, l.holderID, now)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	ok, err = l.repo.TryTakeOver(ctx, l.holderID, now, now.Add(-l.staleness))
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrLockHeld
	}
	return nil
}

// Heartbeat refreshes the holder's liveness. Returns ErrLockHeld when the
// lock was lost to a takeover in the meantime.
func (l *ProcessingLock) Heartbeat(ctx context.Context) error {
	ok, err := l.repo.Heartbeat(ctx, l.holderID, l.clock())
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrLockHeld
	}
	return nil
}

// Release gives up the lock. Releasing a lock this holder no longer owns is
// a no-op.
func (l *ProcessingLock) Release(ctx context.Context) error {
	return l.repo.Release(ctx, l.holderID)
}
