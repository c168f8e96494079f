package metrics

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetrics defines the interface for recording sync engine metrics.
// Implementations track dispatch outcomes, retry scheduling, breaker
// trips, conflict resolutions, and queue depth.
type SyncMetrics interface {
	// RecordEnqueue records an operation entering the queue.
	// Status is "success" or "error".
	RecordEnqueue(ctx context.Context, entityType, status string)

	// RecordDispatch records one dispatch attempt outcome.
	// Outcome examples: "success", "retry", "conflict", "failed".
	RecordDispatch(ctx context.Context, entityType, outcome string)

	// RecordDispatchDuration records how long a dispatch attempt took.
	// Duration is recorded in seconds as a histogram for percentile calculations.
	RecordDispatchDuration(ctx context.Context, entityType string, duration time.Duration, outcome string)

	// RecordRetryScheduled records a transient failure that was scheduled
	// for another attempt, labeled with its error kind.
	RecordRetryScheduled(ctx context.Context, entityType, errorKind string)

	// RecordBreakerTrip records the circuit breaker opening.
	RecordBreakerTrip(ctx context.Context)

	// RecordConflict records a conflict resolution outcome.
	// Resolution examples: "superseded", "rebased", "needs_manual_resolution".
	RecordConflict(ctx context.Context, entityType, resolution string)

	// SetQueueDepth publishes the current pending queue depth.
	SetQueueDepth(depth int64)
}

// syncMetrics implements SyncMetrics using OpenTelemetry metrics.
type syncMetrics struct {
	enqueueCounter  metric.Int64Counter
	dispatchCounter metric.Int64Counter
	durationHisto   metric.Float64Histogram
	retryCounter    metric.Int64Counter
	breakerCounter  metric.Int64Counter
	conflictCounter metric.Int64Counter
	queueDepth      atomic.Int64
}

// NewSyncMetrics creates a new SyncMetrics implementation using the provided meter provider.
// The namespace parameter is used as a prefix for all metric names (e.g., "syncengine").
// Returns error if meters cannot be initialized.
func NewSyncMetrics(meterProvider metric.MeterProvider, namespace string) (SyncMetrics, error) {
	meter := meterProvider.Meter(namespace)

	enqueueCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_enqueues_total", namespace),
		metric.WithDescription("Total number of operations entering the queue"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create enqueue counter: %w", err)
	}

	dispatchCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_dispatches_total", namespace),
		metric.WithDescription("Total number of dispatch attempts"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch counter: %w", err)
	}

	durationHisto, err := meter.Float64Histogram(
		fmt.Sprintf("%s_dispatch_duration_seconds", namespace),
		metric.WithDescription("Duration of dispatch attempts in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	retryCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_retries_scheduled_total", namespace),
		metric.WithDescription("Total number of retries scheduled after transient failures"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry counter: %w", err)
	}

	breakerCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_breaker_trips_total", namespace),
		metric.WithDescription("Total number of circuit breaker trips"),
		metric.WithUnit("{trip}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create breaker counter: %w", err)
	}

	conflictCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_conflicts_total", namespace),
		metric.WithDescription("Total number of conflict resolutions by outcome"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conflict counter: %w", err)
	}

	m := &syncMetrics{
		enqueueCounter:  enqueueCounter,
		dispatchCounter: dispatchCounter,
		durationHisto:   durationHisto,
		retryCounter:    retryCounter,
		breakerCounter:  breakerCounter,
		conflictCounter: conflictCounter,
	}

	_, err = meter.Int64ObservableGauge(
		fmt.Sprintf("%s_queue_depth", namespace),
		metric.WithDescription("Current number of queued operations"),
		metric.WithUnit("{operation}"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			observer.Observe(m.queueDepth.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue depth gauge: %w", err)
	}

	return m, nil
}

// RecordEnqueue increments the enqueue counter with entity_type and status labels.
func (m *syncMetrics) RecordEnqueue(ctx context.Context, entityType, status string) {
	m.enqueueCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("entity_type", entityType),
			attribute.String("status", status),
		),
	)
}

// RecordDispatch increments the dispatch counter with entity_type and outcome labels.
func (m *syncMetrics) RecordDispatch(ctx context.Context, entityType, outcome string) {
	m.dispatchCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("entity_type", entityType),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordDispatchDuration records the dispatch duration in seconds with entity_type and outcome labels.
func (m *syncMetrics) RecordDispatchDuration(
	ctx context.Context,
	entityType string,
	duration time.Duration,
	outcome string,
) {
	m.durationHisto.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("entity_type", entityType),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordRetryScheduled increments the retry counter with entity_type and error_kind labels.
func (m *syncMetrics) RecordRetryScheduled(ctx context.Context, entityType, errorKind string) {
	m.retryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("entity_type", entityType),
			attribute.String("error_kind", errorKind),
		),
	)
}

// RecordBreakerTrip increments the breaker trip counter.
func (m *syncMetrics) RecordBreakerTrip(ctx context.Context) {
	m.breakerCounter.Add(ctx, 1)
}

// RecordConflict increments the conflict counter with entity_type and resolution labels.
func (m *syncMetrics) RecordConflict(ctx context.Context, entityType, resolution string) {
	m.conflictCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("entity_type", entityType),
			attribute.String("resolution", resolution),
		),
	)
}

// SetQueueDepth stores the depth for the observable gauge callback.
func (m *syncMetrics) SetQueueDepth(depth int64) {
	m.queueDepth.Store(depth)
}

// NoOpSyncMetrics is a no-op implementation of SyncMetrics for when metrics are disabled.
type NoOpSyncMetrics struct{}

// NewNoOpSyncMetrics creates a no-op SyncMetrics implementation.
func NewNoOpSyncMetrics() SyncMetrics {
	return &NoOpSyncMetrics{}
}

// RecordEnqueue does nothing when metrics are disabled.
func (n *NoOpSyncMetrics) RecordEnqueue(ctx context.Context, entityType, status string) {
	// No-op
}

// RecordDispatch does nothing when metrics are disabled.
func (n *NoOpSyncMetrics) RecordDispatch(ctx context.Context, entityType, outcome string) {
	// No-op
}

// RecordDispatchDuration does nothing when metrics are disabled.
func (n *NoOpSyncMetrics) RecordDispatchDuration(
	ctx context.Context,
	entityType string,
	duration time.Duration,
	outcome string,
) {
	// No-op
}

// RecordRetryScheduled does nothing when metrics are disabled.
func (n *NoOpSyncMetrics) RecordRetryScheduled(ctx context.Context, entityType, errorKind string) {
	// No-op
}

// RecordBreakerTrip does nothing when metrics are disabled.
func (n *NoOpSyncMetrics) RecordBreakerTrip(ctx context.Context) {
	// No-op
}

// RecordConflict does nothing when metrics are disabled.
func (n *NoOpSyncMetrics) RecordConflict(ctx context.Context, entityType, resolution string) {
	// No-op
}

// SetQueueDepth does nothing when metrics are disabled.
func (n *NoOpSyncMetrics) SetQueueDepth(depth int64) {
	// No-op
}
