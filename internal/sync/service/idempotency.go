package service

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IdempotencyRepository is the persistence the tracker needs.
type IdempotencyRepository interface {
	MarkSucceeded(ctx context.Context, key uuid.UUID, at time.Time) error
	HasSucceeded(ctx context.Context, key uuid.UUID) (bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// IdempotencyTracker remembers which operation keys the server already
// confirmed, closing the crash window between a successful dispatch and
// the local queue cleanup.
type IdempotencyTracker struct {
	repo  IdempotencyRepository
	ttl   time.Duration
	clock func() time.Time
}

// NewIdempotencyTracker creates a tracker. A nil clock defaults to time.Now.
func NewIdempotencyTracker(repo IdempotencyRepository, ttl time.Duration, clock func() time.Time) *IdempotencyTracker {
	if clock == nil {
		clock = time.Now
	}
	return &IdempotencyTracker{repo: repo, ttl: ttl, clock: clock}
}

// MarkSucceeded records a server-confirmed key.
func (t *IdempotencyTracker) MarkSucceeded(ctx context.Context, key uuid.UUID) error {
	return t.repo.MarkSucceeded(ctx, key, t.clock())
}

// HasSucceeded reports whether the key was already confirmed. The engine
// checks this before every dispatch so an operation that succeeded just
// before a crash is not sent twice.
func (t *IdempotencyTracker) HasSucceeded(ctx context.Context, key uuid.UUID) (bool, error) {
	return t.repo.HasSucceeded(ctx, key)
}

// Evict removes keys older than the retention TTL and returns how many
// were dropped.
func (t *IdempotencyTracker) Evict(ctx context.Context) (int64, error) {
	return t.repo.DeleteOlderThan(ctx, t.clock().Add(-t.ttl))
}
