package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-oa/meridian-oa/internal/app"
	jobmetrics "github.com/meridian-oa/meridian-oa/internal/jobs"
	"github.com/meridian-oa/meridian-oa/internal/ledger"
	"github.com/meridian-oa/meridian-oa/internal/org"
	"github.com/meridian-oa/meridian-oa/internal/platform/cache"
	"github.com/meridian-oa/meridian-oa/internal/platform/db"
	"github.com/meridian-oa/meridian-oa/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)

	orgRepo := org.NewRepository(pool)
	ledgerService := ledger.NewService(ledger.NewRepository(pool))
	balanceCache := ledger.NewCache(redisClient, cfg.BalanceCacheTTL)

	eventJob := jobs.NewDocumentEventJob(orgRepo, logger, metrics)
	warmupJob := jobs.NewBalanceWarmupJob(ledgerService, balanceCache, pool, logger, metrics)

	warmupTask, err := jobs.NewBalanceWarmupTask(jobs.BalanceWarmupPayload{})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeDocumentEvent, Handler: eventJob.Handle},
			{Type: jobs.TaskTypeBalanceWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 1 * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
