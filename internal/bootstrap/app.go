package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"formation-backend/internal/catalog"
	"formation-backend/internal/documents"
	"formation-backend/internal/events"
	"formation-backend/internal/payments"
	"formation-backend/internal/services/health"
	"formation-backend/internal/shared/config"
	"formation-backend/internal/shared/server"
	"formation-backend/internal/shared/server/middleware"
	"formation-backend/internal/shared/storage/db"
	"formation-backend/internal/shared/telemetry"
	"formation-backend/internal/workflow"
)

// App holds shared dependencies.
type App struct {
	Config           config.Config
	Router           *gin.Engine
	DB               *sql.DB
	Repo             workflow.Repo
	Publisher        events.Publisher
	WorkflowService  *workflow.Service
	DocumentsService *documents.Service
	WorkflowHandler  *workflow.Handler
	DocumentsHandler *documents.Handler
	PaymentsHandler  *payments.Handler
}

// Build prepares shared dependencies and the router.
func Build(cfg config.Config) (*App, error) {
	return BuildWithOptions(cfg, db.DefaultServerOptions())
}

// BuildWithOptions is Build with explicit pool options, used by the relay.
func BuildWithOptions(cfg config.Config, opts db.Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	var repo workflow.Repo
	if sqlDB != nil {
		repo = workflow.NewPGRepo(sqlDB)
	} else {
		repo = workflow.NewMemoryRepo()
	}

	if path := strings.TrimSpace(cfg.CatalogSeedFile); path != "" {
		if err := catalog.LoadAndApply(ctx, repo, path); err != nil {
			return nil, fmt.Errorf("apply catalog seed: %w", err)
		}
	}

	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	wfSvc := workflow.NewService(repo)
	docSvc := documents.NewService(repo)

	app := &App{
		Config:           cfg,
		DB:               sqlDB,
		Repo:             repo,
		Publisher:        publisher,
		WorkflowService:  wfSvc,
		DocumentsService: docSvc,
		WorkflowHandler:  workflow.NewHandler(wfSvc),
		DocumentsHandler: documents.NewHandler(docSvc),
		PaymentsHandler:  payments.NewHandler(wfSvc, cfg.StripeWebhookSecret),
	}

	var pinger health.Pinger
	if sqlDB != nil {
		pinger = sqlDB
	}

	var limiter *middleware.RateLimiter
	if !config.IsDevLike(cfg.Env) {
		limiter = middleware.NewRateLimiter(nil)
	}
	app.Router = server.NewRouter(server.RouterDeps{
		Config:          cfg,
		WorkflowHandler: app.WorkflowHandler,
		DocumentHandler: app.DocumentsHandler,
		PaymentHandler:  app.PaymentsHandler,
		Health:          health.NewService(pinger),
		RateLimiter:     limiter,
	})

	return app, nil
}

// Relay builds the outbox relay over the app's store and publisher.
func (a *App) Relay() *events.Relay {
	return &events.Relay{
		Source:    a.Repo,
		Publisher: a.Publisher,
		BatchSize: a.Config.RelayBatchSize,
		Interval:  a.Config.RelayInterval,
	}
}

// Close releases the database pool, if any.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func buildDB(ctx context.Context, cfg config.Config, opts db.Options) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if config.IsDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_store", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(opts))
	if err != nil {
		if config.IsDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_store", map[string]any{"reason": "database connect failed", "error": err.Error()})
			return nil, nil
		}
		return nil, err
	}

	migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := db.RunMigrations(migrateCtx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

func buildPublisher(ctx context.Context, cfg config.Config) (events.Publisher, error) {
	if strings.TrimSpace(cfg.EventsQueueURL) == "" {
		return events.LogPublisher{}, nil
	}
	return events.NewSQSPublisher(ctx, cfg.EventsQueueURL, cfg.AWSRegion)
}
