package usecase

import (
	"context"

	"github.com/vitalhome/syncengine/internal/metrics"
	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// Enqueuer queues local mutations for dispatch.
type Enqueuer interface {
	Enqueue(ctx context.Context, in EnqueueInput) (*domain.PendingOperation, error)
}

// enqueueWithMetrics decorates an Enqueuer with metrics instrumentation.
type enqueueWithMetrics struct {
	next    Enqueuer
	metrics metrics.SyncMetrics
}

// NewEnqueueWithMetrics wraps an Enqueuer with metrics recording.
func NewEnqueueWithMetrics(next Enqueuer, m metrics.SyncMetrics) Enqueuer {
	return &enqueueWithMetrics{
		next:    next,
		metrics: m,
	}
}

// Enqueue records metrics for queueing operations.
func (e *enqueueWithMetrics) Enqueue(ctx context.Context, in EnqueueInput) (*domain.PendingOperation, error) {
	op, err := e.next.Enqueue(ctx, in)

	status := "success"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordEnqueue(ctx, string(in.EntityType), status)

	return op, err
}
