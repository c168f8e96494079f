package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vitalhome/syncengine/internal/sync/usecase"
)

// StatusReader is the status surface the command needs.
type StatusReader interface {
	QueueStatus(ctx context.Context) (*usecase.QueueStatus, error)
}

// RunStatus prints a summary of the durable sync stores and engine health.
// Supports text and JSON output formats.
func RunStatus(ctx context.Context, statusUseCase StatusReader, logger *slog.Logger, out io.Writer, format string) error {
	status, err := statusUseCase.QueueStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue status: %w", err)
	}

	if format == "json" {
		return writeJSON(out, map[string]any{
			"pending_count":          status.PendingCount,
			"in_flight_count":        status.InFlightCount,
			"needs_resolution_count": status.NeedsResolutionCount,
			"failed_count":           status.FailedCount,
			"optimistic_count":       status.OptimisticCount,
			"breaker_state":          string(status.BreakerState),
			"cooldown_remaining_ms":  status.CooldownRemaining.Milliseconds(),
			"online":                 status.Online,
		})
	}

	fmt.Fprintf(out, "Pending operations:     %d\n", status.PendingCount)
	fmt.Fprintf(out, "In-flight operations:   %d\n", status.InFlightCount)
	fmt.Fprintf(out, "Needs resolution:       %d\n", status.NeedsResolutionCount)
	fmt.Fprintf(out, "Failed operations:      %d\n", status.FailedCount)
	fmt.Fprintf(out, "Optimistic updates:     %d\n", status.OptimisticCount)
	fmt.Fprintf(out, "Circuit breaker:        %s\n", status.BreakerState)
	if status.CooldownRemaining > 0 {
		fmt.Fprintf(out, "Cooldown remaining:     %s\n", status.CooldownRemaining)
	}
	fmt.Fprintf(out, "Online:                 %t\n", status.Online)

	logger.Debug("queue status read",
		slog.Int64("pending", status.PendingCount),
		slog.Int64("failed", status.FailedCount),
	)
	return nil
}
