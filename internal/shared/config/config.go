package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const devJWTSecret = "dev-secret"

// Config holds application configuration.
type Config struct {
	Env                 string        `envconfig:"ENV" default:"dev"`
	Port                string        `envconfig:"PORT" default:"8080"`
	DatabaseURL         string        `envconfig:"DATABASE_URL"`
	CORSAllowOrigin     []string      `envconfig:"CORS_ALLOW_ORIGINS" default:"http://localhost:5173"`
	JWTSecret           string        `envconfig:"JWT_SECRET"`
	StripeWebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	EventsQueueURL      string        `envconfig:"EVENTS_SQS_QUEUE_URL"`
	AWSRegion           string        `envconfig:"AWS_REGION" default:"us-east-1"`
	CatalogSeedFile     string        `envconfig:"CATALOG_SEED_FILE"`
	RelayInterval       time.Duration `envconfig:"RELAY_INTERVAL" default:"5s"`
	RelayBatchSize      int           `envconfig:"RELAY_BATCH_SIZE" default:"100"`
	ReadTimeout         time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout        time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment config: %w", err)
	}
	cfg.Env = normalizeEnv(cfg.Env)
	cfg.CORSAllowOrigin = trimAll(cfg.CORSAllowOrigin)

	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required in production")
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET is required in production")
		}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = devJWTSecret
	}
	return cfg, nil
}

// IsDevLike reports whether env allows in-memory fallbacks.
func IsDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local", "":
		return true
	default:
		return false
	}
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}
