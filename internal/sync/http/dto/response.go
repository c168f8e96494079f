// Package dto provides data transfer objects for HTTP request and response handling.
package dto

import (
	"encoding/json"
	"time"

	"github.com/vitalhome/syncengine/internal/sync/domain"
	"github.com/vitalhome/syncengine/internal/sync/usecase"
)

// QueueStatusResponse summarizes the sync engine's durable state.
type QueueStatusResponse struct {
	PendingCount         int64  `json:"pending_count"`
	InFlightCount        int64  `json:"in_flight_count"`
	NeedsResolutionCount int64  `json:"needs_resolution_count"`
	FailedCount          int64  `json:"failed_count"`
	OptimisticCount      int64  `json:"optimistic_count"`
	BreakerState         string `json:"breaker_state"`
	CooldownRemainingMs  int64  `json:"cooldown_remaining_ms"`
	Online               bool   `json:"online"`
	// NeedsAttention flags states a human should look at: parked conflicts
	// or terminal failures.
	NeedsAttention bool `json:"needs_attention"`
}

// MapQueueStatusToResponse converts the use case status to an API response.
func MapQueueStatusToResponse(status *usecase.QueueStatus) QueueStatusResponse {
	return QueueStatusResponse{
		PendingCount:         status.PendingCount,
		InFlightCount:        status.InFlightCount,
		NeedsResolutionCount: status.NeedsResolutionCount,
		FailedCount:          status.FailedCount,
		OptimisticCount:      status.OptimisticCount,
		BreakerState:         string(status.BreakerState),
		CooldownRemainingMs:  status.CooldownRemaining.Milliseconds(),
		Online:               status.Online,
		NeedsAttention:       status.NeedsResolutionCount > 0 || status.FailedCount > 0,
	}
}

// PendingOperationResponse represents a queued operation in API responses.
type PendingOperationResponse struct {
	ID             string          `json:"id"`
	Action         string          `json:"action"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	Attempts       int             `json:"attempts"`
	Status         string          `json:"status"`
	TraceID        string          `json:"trace_id"`
	TxnToken       *string         `json:"txn_token,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	NextAttemptAt  *time.Time      `json:"next_attempt_at,omitempty"`
}

// MapPendingOperationToResponse converts a domain operation to an API response.
func MapPendingOperationToResponse(op *domain.PendingOperation) PendingOperationResponse {
	resp := PendingOperationResponse{
		ID:             op.ID.String(),
		Action:         string(op.Action),
		EntityType:     string(op.EntityType),
		EntityID:       op.EntityID,
		Payload:        op.Payload,
		IdempotencyKey: op.IdempotencyKey.String(),
		Attempts:       op.Attempts,
		Status:         string(op.Status),
		TraceID:        op.TraceID.String(),
		CreatedAt:      op.CreatedAt,
		NextAttemptAt:  op.NextAttemptAt,
	}
	if op.TxnToken != nil {
		token := op.TxnToken.String()
		resp.TxnToken = &token
	}
	return resp
}

// ListPendingOperationsResponse wraps a page of queued operations.
type ListPendingOperationsResponse struct {
	Operations []PendingOperationResponse `json:"operations"`
	Offset     int                        `json:"offset"`
	Limit      int                        `json:"limit"`
}

// MapPendingOperationsToListResponse converts a page of domain operations.
func MapPendingOperationsToListResponse(ops []*domain.PendingOperation, offset, limit int) ListPendingOperationsResponse {
	out := make([]PendingOperationResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, MapPendingOperationToResponse(op))
	}
	return ListPendingOperationsResponse{Operations: out, Offset: offset, Limit: limit}
}

// FailedOperationResponse represents a terminally failed operation in API responses.
type FailedOperationResponse struct {
	ID           string          `json:"id"`
	Action       string          `json:"action"`
	EntityType   string          `json:"entity_type"`
	EntityID     string          `json:"entity_id"`
	Payload      json.RawMessage `json:"payload"`
	Attempts     int             `json:"attempts"`
	TraceID      string          `json:"trace_id"`
	ErrorKind    string          `json:"error_kind"`
	ErrorMessage string          `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
	FailedAt     time.Time       `json:"failed_at"`
}

// MapFailedOperationToResponse converts a domain failure snapshot to an API response.
func MapFailedOperationToResponse(op *domain.FailedOperation) FailedOperationResponse {
	return FailedOperationResponse{
		ID:           op.ID.String(),
		Action:       string(op.Action),
		EntityType:   string(op.EntityType),
		EntityID:     op.EntityID,
		Payload:      op.Payload,
		Attempts:     op.Attempts,
		TraceID:      op.TraceID.String(),
		ErrorKind:    string(op.ErrorKind),
		ErrorMessage: op.ErrorMessage,
		CreatedAt:    op.CreatedAt,
		FailedAt:     op.FailedAt,
	}
}

// ListFailedOperationsResponse wraps a page of failure snapshots.
type ListFailedOperationsResponse struct {
	Operations []FailedOperationResponse `json:"operations"`
	Offset     int                       `json:"offset"`
	Limit      int                       `json:"limit"`
}

// MapFailedOperationsToListResponse converts a page of failure snapshots.
func MapFailedOperationsToListResponse(ops []*domain.FailedOperation, offset, limit int) ListFailedOperationsResponse {
	out := make([]FailedOperationResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, MapFailedOperationToResponse(op))
	}
	return ListFailedOperationsResponse{Operations: out, Offset: offset, Limit: limit}
}

// OptimisticRecordResponse represents an outstanding optimistic update.
type OptimisticRecordResponse struct {
	TxnToken      string          `json:"txn_token"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	PreviousValue json.RawMessage `json:"previous_value,omitempty"`
	NewValue      json.RawMessage `json:"new_value"`
	AppliedAt     time.Time       `json:"applied_at"`
}

// MapOptimisticRecordsToResponse converts the outstanding records for one entity.
func MapOptimisticRecordsToResponse(records []*domain.OptimisticUpdateRecord) []OptimisticRecordResponse {
	out := make([]OptimisticRecordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, OptimisticRecordResponse{
			TxnToken:      record.TxnToken.String(),
			EntityType:    string(record.EntityType),
			EntityID:      record.EntityID,
			PreviousValue: record.PreviousValue,
			NewValue:      record.NewValue,
			AppliedAt:     record.AppliedAt,
		})
	}
	return out
}
