package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// IdempotencyEvictor is the eviction surface the command needs.
type IdempotencyEvictor interface {
	EvictIdempotency(ctx context.Context) (int64, error)
}

// RunEvictIdempotency deletes succeeded idempotency keys older than the
// configured retention window.
func RunEvictIdempotency(ctx context.Context, statusUseCase IdempotencyEvictor, logger *slog.Logger, out io.Writer, format string) error {
	count, err := statusUseCase.EvictIdempotency(ctx)
	if err != nil {
		return fmt.Errorf("failed to evict idempotency keys: %w", err)
	}

	if format == "json" {
		return writeJSON(out, map[string]any{"evicted": count})
	}

	fmt.Fprintf(out, "Evicted %d idempotency key(s)\n", count)

	logger.Info("idempotency keys evicted", slog.Int64("count", count))
	return nil
}
