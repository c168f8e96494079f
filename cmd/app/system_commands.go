package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/vitalhome/syncengine/cmd/app/commands"
	"github.com/vitalhome/syncengine/internal/app"
	"github.com/vitalhome/syncengine/internal/config"
)

func getSystemCommands(version string) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "run",
			Usage: "Start the sync engine with the local status API",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunEngine(ctx, version)
			},
		},
		{
			Name:  "migrate",
			Usage: "Run database migrations",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				return commands.RunMigrations(container.Logger(), cfg.DBPath)
			},
		},
	}
}
