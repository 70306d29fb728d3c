package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"formation-backend/internal/bootstrap"
	"formation-backend/internal/shared/config"
	"formation-backend/internal/shared/storage/db"
	"formation-backend/internal/shared/telemetry"
)

// relay drains the event outbox to the configured publisher until signalled.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		telemetry.Logger().WithError(err).Fatal("load config")
	}
	if cfg.DatabaseURL == "" {
		telemetry.Logger().Fatal("DATABASE_URL is required for the relay")
	}

	app, err := bootstrap.BuildWithOptions(cfg, db.DefaultRelayOptions())
	if err != nil {
		telemetry.Logger().WithError(err).Fatal("bootstrap build")
	}
	defer app.Close()

	if err := app.Relay().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		telemetry.Logger().WithError(err).Error("relay stopped")
		os.Exit(1)
	}
}
