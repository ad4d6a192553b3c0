package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/meridian-oa/meridian-oa/internal/jobs"
	"github.com/meridian-oa/meridian-oa/internal/ledger"
)

// BalanceWarmupJob pre-populates the available-balance cache for payees
// holding settled advancements, so the interactive balance picker serves
// from Redis instead of recomputing every usage report.
type BalanceWarmupJob struct {
	Ledger *ledger.Service
	Cache  *ledger.Cache
	Pool   *pgxpool.Pool
	Logger *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewBalanceWarmupJob wires dependencies for the warmup handler.
func NewBalanceWarmupJob(ledgerSvc *ledger.Service, cache *ledger.Cache, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *BalanceWarmupJob {
	return &BalanceWarmupJob{Ledger: ledgerSvc, Cache: cache, Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle processes TaskTypeBalanceWarmup tasks.
func (j *BalanceWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("balance warmup: handler not configured")
	}
	var payload BalanceWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskTypeBalanceWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	start := time.Now()

	payees := payload.PayeeIDs
	if len(payees) == 0 {
		var err error
		payees, err = j.fetchPayees(ctx)
		if err != nil {
			resultErr = err
			logger.Error("load warmup payees", slog.Any("error", err))
			return resultErr
		}
	}
	if len(payees) == 0 {
		logger.Info("no payees discovered for warmup")
		return resultErr
	}

	warmed := 0
	for _, payeeID := range payees {
		if err := j.warmPayee(ctx, payeeID); err != nil {
			resultErr = err
			logger.Error("warm payee", slog.Int64("payee_id", payeeID), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}

	logger.Info("completed balance warmup", slog.Int("payees", warmed), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *BalanceWarmupJob) warmPayee(ctx context.Context, payeeID int64) error {
	if j.Ledger == nil {
		return nil
	}
	// Tighten each payee with a timeout to avoid long-running jobs.
	payeeCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	_, err := j.Cache.FetchBalances(payeeCtx, payeeID, "", func(ctx context.Context) ([]ledger.BalanceRow, error) {
		return j.Ledger.AvailableBalances(ctx, payeeID, "")
	})
	return err
}

func (j *BalanceWarmupJob) fetchPayees(ctx context.Context) ([]int64, error) {
	if j.Pool == nil {
		return nil, errors.New("balance warmup: pool not configured")
	}
	rows, err := j.Pool.Query(ctx,
		`SELECT DISTINCT payee_id FROM cash_advancements WHERE status = 'SETTLED' ORDER BY payee_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payees := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		payees = append(payees, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payees, nil
}

func (j *BalanceWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeBalanceWarmup))
	}
	return slog.Default().With(slog.String("job", TaskTypeBalanceWarmup))
}

func (j *BalanceWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
