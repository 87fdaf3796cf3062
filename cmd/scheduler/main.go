package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/daybrief/config"
	"github.com/ErlanBelekov/daybrief/internal/breaker"
	"github.com/ErlanBelekov/daybrief/internal/digest"
	"github.com/ErlanBelekov/daybrief/internal/email"
	"github.com/ErlanBelekov/daybrief/internal/health"
	"github.com/ErlanBelekov/daybrief/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/daybrief/internal/log"
	"github.com/ErlanBelekov/daybrief/internal/metrics"
	"github.com/ErlanBelekov/daybrief/internal/queue"
	"github.com/ErlanBelekov/daybrief/internal/repository"
	"github.com/ErlanBelekov/daybrief/internal/scheduler"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	logger.Info("db connected")

	if err := postgres.Migrate(ctx, pool); err != nil {
		stop()
		log.Fatalf("migrate: %v", err)
	}

	metrics.Register()
	checker := health.NewChecker(logger, prometheus.DefaultRegisterer,
		health.Dependency{Name: "postgres", Pinger: pool},
	)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	if cfg.DigestsEnabled {
		userRepo := postgres.NewUserRepository(pool)
		leaseRepo := postgres.NewLeaseRepository(pool)
		digestRepo := postgres.NewDigestRepository(pool)
		saver := repository.NewSaver(userRepo, repository.DefaultSaveAttempts, logger)

		brk := breaker.New(breaker.Config{
			Name:             "summarizer",
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			ResetTimeout:     time.Duration(cfg.BreakerResetTimeoutSec) * time.Second,
			CallTimeout:      time.Duration(cfg.BreakerCallTimeoutSec) * time.Second,
			Logger:           logger,
		})

		articles := digest.NewSource(cfg.Env, cfg.ArticleServiceURL, cfg.ArticleServiceKey, 30*time.Second)
		summarizer := digest.NewSummarizer(cfg.Env, cfg.SummarizerURL, cfg.SummarizerKey)
		sender := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
		builder := digest.NewBuilder(articles, summarizer, digestRepo, sender, brk, logger)

		q := queue.New(cfg.QueueConcurrency, cfg.QueueMaxRetries, logger)
		go q.Start(ctx)

		runner := scheduler.NewRunner(userRepo, leaseRepo, saver, builder, q, logger, scheduler.Options{
			Interval:  time.Duration(cfg.CheckIntervalMin) * time.Minute,
			Tolerance: time.Duration(cfg.ToleranceMin) * time.Minute,
			LeaseTTL:  time.Duration(cfg.LeaseTTLSec) * time.Second,
		})
		go runner.Start(ctx)

		sweeper := scheduler.NewSweeper(leaseRepo, digestRepo, logger,
			time.Duration(cfg.SweepIntervalMin)*time.Minute,
			time.Duration(cfg.DigestRetentionDays)*24*time.Hour,
		)
		go sweeper.Start(ctx)
	} else {
		logger.Warn("digest engine disabled via DIGESTS_ENABLED, serving metrics and health only")
	}

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
