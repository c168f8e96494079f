package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// FailedLister is the failed-store read surface the command needs.
type FailedLister interface {
	ListFailed(ctx context.Context, offset, limit int) ([]*domain.FailedOperation, error)
}

// RunListFailed prints failed operations awaiting manual review.
// Supports text and JSON output formats.
func RunListFailed(ctx context.Context, statusUseCase FailedLister, logger *slog.Logger, out io.Writer, offset, limit int, format string) error {
	if offset < 0 || limit <= 0 {
		return fmt.Errorf("offset must be non-negative and limit positive, got offset=%d limit=%d", offset, limit)
	}

	failed, err := statusUseCase.ListFailed(ctx, offset, limit)
	if err != nil {
		return fmt.Errorf("failed to list failed operations: %w", err)
	}

	if format == "json" {
		items := make([]map[string]any, 0, len(failed))
		for _, op := range failed {
			items = append(items, map[string]any{
				"id":            op.ID.String(),
				"action":        string(op.Action),
				"entity_type":   string(op.EntityType),
				"entity_id":     op.EntityID,
				"attempts":      op.Attempts,
				"error_kind":    string(op.ErrorKind),
				"error_message": op.ErrorMessage,
				"failed_at":     op.FailedAt.Format(time.RFC3339),
			})
		}
		return writeJSON(out, map[string]any{"failed": items, "count": len(items)})
	}

	if len(failed) == 0 {
		fmt.Fprintln(out, "No failed operations")
		return nil
	}

	for _, op := range failed {
		fmt.Fprintf(out, "%s  %s %s/%s  attempts=%d  %s: %s\n",
			op.ID, op.Action, op.EntityType, op.EntityID, op.Attempts, op.ErrorKind, op.ErrorMessage)
	}
	fmt.Fprintf(out, "%d failed operation(s)\n", len(failed))

	logger.Debug("failed operations listed", slog.Int("count", len(failed)))
	return nil
}
