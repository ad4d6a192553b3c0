package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-oa/meridian-oa/internal/activity"
	"github.com/meridian-oa/meridian-oa/internal/app"
	"github.com/meridian-oa/meridian-oa/internal/approval"
	"github.com/meridian-oa/meridian-oa/internal/files"
	"github.com/meridian-oa/meridian-oa/internal/ledger"
	"github.com/meridian-oa/meridian-oa/internal/observability"
	"github.com/meridian-oa/meridian-oa/internal/org"
	"github.com/meridian-oa/meridian-oa/internal/platform/cache"
	"github.com/meridian-oa/meridian-oa/internal/platform/db"
	"github.com/meridian-oa/meridian-oa/internal/sequence"
	"github.com/meridian-oa/meridian-oa/internal/settlement"
	"github.com/meridian-oa/meridian-oa/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
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

	orgRepo := org.NewRepository(pool)
	orgService := org.NewService(orgRepo)

	seqAllocator := sequence.NewAllocator(sequence.NewRepository(pool), map[sequence.Category]int64{
		sequence.CategoryDraft: cfg.DraftSerialCeiling,
	})

	approvalRouter := approval.NewRouter(approval.NewRepository(pool), orgRepo)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo)
	balanceCache := ledger.NewCache(redisClient, cfg.BalanceCacheTTL)

	fileStorage := files.NewRepository(pool, seqAllocator, logger)
	activityRepo := activity.NewRepository(pool)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	dispatcher := jobs.NewDispatcher(jobClient, logger)

	coordinator := settlement.NewCoordinator(
		settlement.NewRepository(pool),
		seqAllocator,
		approvalRouter,
		ledgerService,
		fileStorage,
		balanceCache,
		dispatcher,
		orgRepo,
		logger,
		settlement.Options{
			SettleOnFinalApproval: cfg.SettleOnFinalApproval,
			AccountingReject:      cfg.AccountingReject,
		},
	)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		SettlementHandler: settlement.NewHandler(logger, coordinator, activityRepo),
		LedgerHandler:     ledger.NewHandler(logger, ledgerService, ledgerRepo, balanceCache),
		ApprovalHandler:   approval.NewHandler(logger, approvalRouter),
		OrgHandler:        org.NewHandler(logger, orgService, orgRepo),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
