package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"formation-backend/internal/shared/telemetry"
)

func main() {
	app := &cli.App{
		Name:  "formation-api",
		Usage: "Company formation dossier workflow API",
		Commands: []*cli.Command{
			serveCommand,
			migrateCommand,
			seedCommand,
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		telemetry.Logger().WithError(err).Fatal("application failed")
	}
}
