package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Recoverer is the crash-recovery surface the command needs.
type Recoverer interface {
	Recover(ctx context.Context) error
}

// RunReplayJournal replays committed journal entries that were never fully
// applied and resets in-flight operations, repairing the stores after an
// unclean shutdown. Safe to run repeatedly; every journal step is
// idempotent.
func RunReplayJournal(ctx context.Context, engine Recoverer, logger *slog.Logger, out io.Writer) error {
	if err := engine.Recover(ctx); err != nil {
		return fmt.Errorf("failed to replay journal: %w", err)
	}

	fmt.Fprintln(out, "Journal replay completed")

	logger.Info("journal replay completed")
	return nil
}
