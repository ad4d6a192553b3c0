package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/meridian-oa/meridian-oa/internal/activity"
	"github.com/meridian-oa/meridian-oa/internal/status"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeDocumentEvent delivers a notification for one committed
	// document lifecycle change.
	TaskTypeDocumentEvent = "settlement:event"
	// TaskTypeBalanceWarmup pre-populates the available-balance cache.
	TaskTypeBalanceWarmup = "ledger:balance_warmup"
)

// DocumentEventPayload carries a committed lifecycle change to the worker.
// EventID makes redelivery idempotent.
type DocumentEventPayload struct {
	EventID    uuid.UUID        `json:"event_id"`
	DocType    activity.DocType `json:"doc_type"`
	DocID      int64            `json:"doc_id"`
	Serial     string           `json:"serial"`
	Status     status.Status    `json:"status"`
	OperatorID int64            `json:"operator_id"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// NewDocumentEventTask constructs an Asynq task.
func NewDocumentEventTask(payload DocumentEventPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDocumentEvent, data), nil
}

// BalanceWarmupPayload scopes a warmup run. An empty payee list means every
// payee holding a settled advancement.
type BalanceWarmupPayload struct {
	PayeeIDs []int64 `json:"payee_ids,omitempty"`
}

// NewBalanceWarmupTask constructs an Asynq task.
func NewBalanceWarmupTask(payload BalanceWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBalanceWarmup, data), nil
}
