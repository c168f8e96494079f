package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vitalhome/syncengine/internal/export"
)

// DiagnosticsExporter is the export surface the command needs.
type DiagnosticsExporter interface {
	WriteFile(ctx context.Context, path string) (*export.Snapshot, error)
}

// RunExport writes a redacted diagnostics snapshot of the pending and
// failed stores to the given file. Payload values are replaced before
// anything is written, so the file is safe to share with support.
func RunExport(ctx context.Context, exporter DiagnosticsExporter, logger *slog.Logger, out io.Writer, path, format string) error {
	if path == "" {
		return fmt.Errorf("output path must not be empty")
	}

	snapshot, err := exporter.WriteFile(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to export diagnostics: %w", err)
	}

	if format == "json" {
		return writeJSON(out, map[string]any{
			"path":          path,
			"pending_count": snapshot.PendingCount,
			"failed_count":  snapshot.FailedCount,
		})
	}

	fmt.Fprintf(out, "Diagnostics written to %s (%d pending, %d failed)\n",
		path, snapshot.PendingCount, snapshot.FailedCount)

	logger.Info("diagnostics exported",
		slog.String("path", path),
		slog.Int64("pending", snapshot.PendingCount),
		slog.Int64("failed", snapshot.FailedCount),
	)
	return nil
}
