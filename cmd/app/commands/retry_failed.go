package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// FailedRetrier is the retry surface the command needs.
type FailedRetrier interface {
	RetryFailed(ctx context.Context, id uuid.UUID) (*domain.PendingOperation, error)
}

// RunRetryFailed re-enqueues one failed operation by id. The operation
// keeps its original idempotency key so the server still deduplicates
// against earlier attempts.
func RunRetryFailed(ctx context.Context, statusUseCase FailedRetrier, logger *slog.Logger, out io.Writer, idStr, format string) error {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("invalid operation id %q: %w", idStr, err)
	}

	op, err := statusUseCase.RetryFailed(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to retry operation: %w", err)
	}

	if format == "json" {
		return writeJSON(out, map[string]any{
			"id":          op.ID.String(),
			"action":      string(op.Action),
			"entity_type": string(op.EntityType),
			"entity_id":   op.EntityID,
			"status":      string(op.Status),
		})
	}

	fmt.Fprintf(out, "Operation %s re-enqueued (%s %s/%s)\n", op.ID, op.Action, op.EntityType, op.EntityID)

	logger.Info("failed operation re-enqueued", slog.String("operation_id", op.ID.String()))
	return nil
}
