package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/urfave/cli/v2"

	"formation-backend/internal/shared/config"
	"formation-backend/internal/shared/storage/db"
	"formation-backend/internal/shared/telemetry"
)

var migrateCommand = &cli.Command{
	Name:  "migrate",
	Usage: "Manage the database schema",
	Subcommands: []*cli.Command{
		{
			Name:  "up",
			Usage: "Apply all pending migrations",
			Action: withMigrateDB(func(ctx context.Context, sqlDB *sql.DB) error {
				return db.RunMigrations(ctx, sqlDB)
			}),
		},
		{
			Name:  "down",
			Usage: "Roll back the latest migration",
			Action: withMigrateDB(func(ctx context.Context, sqlDB *sql.DB) error {
				return db.RollbackMigration(ctx, sqlDB)
			}),
		},
		{
			Name:  "version",
			Usage: "Print the current schema version",
			Action: withMigrateDB(func(_ context.Context, sqlDB *sql.DB) error {
				v, err := db.MigrationVersion(sqlDB)
				if err != nil {
					return err
				}
				telemetry.Info("db.version", map[string]any{"version": v})
				return nil
			}),
		},
	},
}

func withMigrateDB(fn func(ctx context.Context, sqlDB *sql.DB) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := c.Context
		sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer sqlDB.Close()
		return fn(ctx, sqlDB)
	}
}
