package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"formation-backend/internal/catalog"
	"formation-backend/internal/shared/config"
	"formation-backend/internal/shared/storage/db"
	"formation-backend/internal/workflow"
)

var seedCommand = &cli.Command{
	Name:      "seed",
	Usage:     "Load a catalog YAML file into the database",
	ArgsUsage: "[file]",
	Action: func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		path := c.Args().First()
		if path == "" {
			path = cfg.CatalogSeedFile
		}
		if path == "" {
			return fmt.Errorf("catalog file is required (argument or CATALOG_SEED_FILE)")
		}

		ctx := c.Context
		sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer sqlDB.Close()

		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return catalog.LoadAndApply(ctx, workflow.NewPGRepo(sqlDB), path)
	},
}
