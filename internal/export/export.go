// Package export builds redacted diagnostics snapshots of the durable sync
// stores. Snapshots are safe to attach to a support ticket: payload values
// are replaced before anything leaves the device, and idempotency keys and
// transaction tokens are never included.
package export

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/vitalhome/syncengine/internal/errors"
	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// listPageSize bounds each repository read while paging through the stores.
const listPageSize = 100

// redactedValue replaces every payload leaf that could carry health data.
const redactedValue = "[REDACTED]"

// safeKeys are payload fields that carry no personal data and survive
// redaction, so a snapshot still shows which entity version a stuck
// operation was built against.
var safeKeys = map[string]bool{
	"version":    true,
	"changed_at": true,
	"updated_at": true,
}

// PendingLister is the pending-store read access the exporter needs.
type PendingLister interface {
	List(ctx context.Context, offset, limit int) ([]*domain.PendingOperation, error)
	Count(ctx context.Context) (int64, error)
}

// FailedLister is the failed-store read access the exporter needs.
type FailedLister interface {
	List(ctx context.Context, offset, limit int) ([]*domain.FailedOperation, error)
	Count(ctx context.Context) (int64, error)
}

// OperationRecord is one redacted pending operation in a snapshot.
type OperationRecord struct {
	ID            uuid.UUID       `json:"id"`
	Action        string          `json:"action"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	TraceID       uuid.UUID       `json:"trace_id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
}

// FailedRecord is one redacted failed operation in a snapshot.
type FailedRecord struct {
	ID           uuid.UUID       `json:"id"`
	Action       string          `json:"action"`
	EntityType   string          `json:"entity_type"`
	EntityID     string          `json:"entity_id"`
	Attempts     int             `json:"attempts"`
	TraceID      uuid.UUID       `json:"trace_id"`
	ErrorKind    string          `json:"error_kind"`
	ErrorMessage string          `json:"error_message"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
	FailedAt     time.Time       `json:"failed_at"`
}

// Snapshot is a complete diagnostics export.
type Snapshot struct {
	GeneratedAt  time.Time         `json:"generated_at"`
	PendingCount int64             `json:"pending_count"`
	FailedCount  int64             `json:"failed_count"`
	Pending      []OperationRecord `json:"pending"`
	Failed       []FailedRecord    `json:"failed"`
}

// Exporter reads the durable stores and produces redacted snapshots.
type Exporter struct {
	pending PendingLister
	failed  FailedLister
	logger  *slog.Logger
	clock   func() time.Time
}

// NewExporter creates an exporter. A nil clock defaults to time.Now.
func NewExporter(pending PendingLister, failed FailedLister, logger *slog.Logger, clock func() time.Time) *Exporter {
	if clock == nil {
		clock = time.Now
	}
	return &Exporter{pending: pending, failed: failed, logger: logger, clock: clock}
}

// Snapshot reads both stores in full and returns a redacted snapshot.
func (e *Exporter) Snapshot(ctx context.Context) (*Snapshot, error) {
	snapshot := &Snapshot{
		GeneratedAt: e.clock().UTC(),
		Pending:     []OperationRecord{},
		Failed:      []FailedRecord{},
	}

	var err error
	if snapshot.PendingCount, err = e.pending.Count(ctx); err != nil {
		return nil, apperrors.Wrap(err, "failed to count pending operations")
	}
	if snapshot.FailedCount, err = e.failed.Count(ctx); err != nil {
		return nil, apperrors.Wrap(err, "failed to count failed operations")
	}

	for offset := 0; ; offset += listPageSize {
		page, err := e.pending.List(ctx, offset, listPageSize)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to list pending operations")
		}
		for _, op := range page {
			snapshot.Pending = append(snapshot.Pending, OperationRecord{
				ID:            op.ID,
				Action:        string(op.Action),
				EntityType:    string(op.EntityType),
				EntityID:      op.EntityID,
				Status:        string(op.Status),
				Attempts:      op.Attempts,
				TraceID:       op.TraceID,
				Payload:       RedactPayload(op.Payload),
				CreatedAt:     op.CreatedAt,
				NextAttemptAt: op.NextAttemptAt,
			})
		}
		if len(page) < listPageSize {
			break
		}
	}

	for offset := 0; ; offset += listPageSize {
		page, err := e.failed.List(ctx, offset, listPageSize)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to list failed operations")
		}
		for _, op := range page {
			snapshot.Failed = append(snapshot.Failed, FailedRecord{
				ID:           op.ID,
				Action:       string(op.Action),
				EntityType:   string(op.EntityType),
				EntityID:     op.EntityID,
				Attempts:     op.Attempts,
				TraceID:      op.TraceID,
				ErrorKind:    string(op.ErrorKind),
				ErrorMessage: op.ErrorMessage,
				Payload:      RedactPayload(op.Payload),
				CreatedAt:    op.CreatedAt,
				FailedAt:     op.FailedAt,
			})
		}
		if len(page) < listPageSize {
			break
		}
	}

	return snapshot, nil
}

// WriteFile writes a snapshot as indented JSON to the given path.
func (e *Exporter) WriteFile(ctx context.Context, path string) (*Snapshot, error) {
	snapshot, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to encode snapshot")
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, apperrors.Wrap(err, "failed to write snapshot file")
	}

	if e.logger != nil {
		e.logger.Info("diagnostics snapshot written",
			slog.String("path", path),
			slog.Int("pending", len(snapshot.Pending)),
			slog.Int("failed", len(snapshot.Failed)),
		)
	}
	return snapshot, nil
}

// RedactPayload replaces every leaf value in a JSON payload with a marker,
// preserving the key structure so the shape of a stuck operation stays
// visible. Keys in the safe list keep their values. Payloads that fail to
// parse are replaced wholesale.
func RedactPayload(payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		redacted, _ := json.Marshal(redactedValue)
		return redacted
	}

	redacted, err := json.Marshal(redactValue(value, false))
	if err != nil {
		fallback, _ := json.Marshal(redactedValue)
		return fallback
	}
	return redacted
}

func redactValue(value any, safe bool) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			out[key] = redactValue(inner, safeKeys[key])
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = redactValue(inner, false)
		}
		return out
	case nil:
		return nil
	default:
		if safe {
			return v
		}
		return redactedValue
	}
}
