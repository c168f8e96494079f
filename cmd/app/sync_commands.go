package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/vitalhome/syncengine/cmd/app/commands"
	"github.com/vitalhome/syncengine/internal/app"
	"github.com/vitalhome/syncengine/internal/config"
)

// formatFlag is shared by every command with machine-readable output.
func formatFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "text",
		Usage:   "Output format: 'text' or 'json'",
	}
}

func getSyncCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "status",
			Usage: "Show queue depth, breaker state, and store counts",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				container := app.NewContainer(config.Load())
				defer func() { _ = container.Shutdown(ctx) }()

				statusUseCase, err := container.StatusUseCase()
				if err != nil {
					return err
				}
				return commands.RunStatus(ctx, statusUseCase, container.Logger(), os.Stdout, cmd.String("format"))
			},
		},
		{
			Name:  "failed",
			Usage: "List operations that failed permanently",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "offset",
					Value: 0,
					Usage: "Number of operations to skip",
				},
				&cli.IntFlag{
					Name:  "limit",
					Value: 50,
					Usage: "Maximum number of operations to list",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				container := app.NewContainer(config.Load())
				defer func() { _ = container.Shutdown(ctx) }()

				statusUseCase, err := container.StatusUseCase()
				if err != nil {
					return err
				}
				return commands.RunListFailed(
					ctx,
					statusUseCase,
					container.Logger(),
					os.Stdout,
					int(cmd.Int("offset")),
					int(cmd.Int("limit")),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "retry-failed",
			Usage: "Re-enqueue a failed operation by id",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "id",
					Aliases:  []string{"i"},
					Required: true,
					Usage:    "Failed operation ID (UUID)",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				container := app.NewContainer(config.Load())
				defer func() { _ = container.Shutdown(ctx) }()

				statusUseCase, err := container.StatusUseCase()
				if err != nil {
					return err
				}
				return commands.RunRetryFailed(
					ctx,
					statusUseCase,
					container.Logger(),
					os.Stdout,
					cmd.String("id"),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "replay-journal",
			Usage: "Replay committed journal entries and reset in-flight operations",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				container := app.NewContainer(config.Load())
				defer func() { _ = container.Shutdown(ctx) }()

				engine, err := container.SyncEngine()
				if err != nil {
					return err
				}
				return commands.RunReplayJournal(ctx, engine, container.Logger(), os.Stdout)
			},
		},
		{
			Name:  "evict-idempotency",
			Usage: "Delete succeeded idempotency keys past their retention window",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				container := app.NewContainer(config.Load())
				defer func() { _ = container.Shutdown(ctx) }()

				statusUseCase, err := container.StatusUseCase()
				if err != nil {
					return err
				}
				return commands.RunEvictIdempotency(ctx, statusUseCase, container.Logger(), os.Stdout, cmd.String("format"))
			},
		},
		{
			Name:  "export",
			Usage: "Write a redacted diagnostics snapshot to a file",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "output",
					Aliases: []string{"o"},
					Value:   "diagnostics.json",
					Usage:   "Path of the snapshot file to write",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				container := app.NewContainer(config.Load())
				defer func() { _ = container.Shutdown(ctx) }()

				exporter, err := container.Exporter()
				if err != nil {
					return err
				}
				return commands.RunExport(
					ctx,
					exporter,
					container.Logger(),
					os.Stdout,
					cmd.String("output"),
					cmd.String("format"),
				)
			},
		},
	}
}
