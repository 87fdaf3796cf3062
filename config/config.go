package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT" envDefault:"8080" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	// DigestsEnabled is the process-wide kill switch for the digest engine.
	// When false the scheduler binary serves metrics and health only; there
	// is no way to re-enable the subsystem without a restart.
	DigestsEnabled   bool `env:"DIGESTS_ENABLED" envDefault:"true"`
	CheckIntervalMin int  `env:"CHECK_INTERVAL_MIN" envDefault:"10" validate:"min=1,max=60"`
	ToleranceMin     int  `env:"TOLERANCE_MIN" envDefault:"5" validate:"min=1,max=30"`
	LeaseTTLSec      int  `env:"LEASE_TTL_SEC" envDefault:"300" validate:"min=30,max=3600"`

	QueueConcurrency int `env:"QUEUE_CONCURRENCY" envDefault:"1" validate:"min=1,max=32"`
	QueueMaxRetries  int `env:"QUEUE_MAX_RETRIES" envDefault:"3" validate:"min=0,max=10"`

	BreakerFailureThreshold int `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5" validate:"min=1,max=100"`
	BreakerSuccessThreshold int `env:"BREAKER_SUCCESS_THRESHOLD" envDefault:"2" validate:"min=1,max=100"`
	BreakerResetTimeoutSec  int `env:"BREAKER_RESET_TIMEOUT_SEC" envDefault:"30" validate:"min=1,max=3600"`
	BreakerCallTimeoutSec   int `env:"BREAKER_CALL_TIMEOUT_SEC" envDefault:"60" validate:"min=1,max=600"`

	SweepIntervalMin    int `env:"SWEEP_INTERVAL_MIN" envDefault:"15" validate:"min=1,max=1440"`
	DigestRetentionDays int `env:"DIGEST_RETENTION_DAYS" envDefault:"90" validate:"min=1"`

	JWTSecret string `env:"JWT_SECRET,required" validate:"required,min=32"`

	ArticleServiceURL string `env:"ARTICLE_SERVICE_URL" validate:"required_if=Env production,required_if=Env staging,omitempty,url"`
	ArticleServiceKey string `env:"ARTICLE_SERVICE_KEY" validate:"required_if=Env production,required_if=Env staging"`
	SummarizerURL     string `env:"SUMMARIZER_URL"      validate:"required_if=Env production,required_if=Env staging,omitempty,url"`
	SummarizerKey     string `env:"SUMMARIZER_KEY"      validate:"required_if=Env production,required_if=Env staging"`

	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string `env:"RESEND_FROM"    validate:"required_if=Env production,required_if=Env staging"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel maps LOG_LEVEL onto slog's levels.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
