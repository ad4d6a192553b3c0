package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-oa/meridian-oa/internal/jobs"
	"github.com/meridian-oa/meridian-oa/internal/org"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DocumentEventJob turns a committed lifecycle change into user-facing
// notifications. Delivery targets the claimant; approvals additionally go
// to the nominated approver.
type DocumentEventJob struct {
	Directory org.Directory
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewDocumentEventJob wires dependencies for the event handler.
func NewDocumentEventJob(dir org.Directory, logger *slog.Logger, metrics *jobmetrics.Metrics) *DocumentEventJob {
	return &DocumentEventJob{Directory: dir, Logger: logger, Metrics: metrics}
}

// Handle processes TaskTypeDocumentEvent tasks.
func (j *DocumentEventJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("document event: handler not configured")
	}
	var payload DocumentEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskTypeDocumentEvent)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.String("event_id", payload.EventID.String()),
		slog.String("doc_type", string(payload.DocType)),
		slog.String("serial", payload.Serial),
		slog.String("status", string(payload.Status)))

	operator := "unknown"
	if j.Directory != nil {
		user, err := j.Directory.GetUser(ctx, payload.OperatorID)
		if err == nil {
			operator = user.DisplayName
		} else if !errors.Is(err, org.ErrNotFound) {
			resultErr = err
			logger.Error("resolve operator", slog.Any("error", err))
			return resultErr
		}
	}

	// Placeholder delivery: the mail channel arrives with the inbox
	// integration, the log line keeps the audit trail until then.
	logger.Info("document event delivered", slog.String("operator", operator))
	j.metrics().AddNotification(string(payload.DocType), string(payload.Status))
	return resultErr
}

func (j *DocumentEventJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeDocumentEvent))
	}
	return slog.Default().With(slog.String("job", TaskTypeDocumentEvent))
}

func (j *DocumentEventJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
