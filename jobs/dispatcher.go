package jobs

import (
	"context"
	"log/slog"

	"github.com/meridian-oa/meridian-oa/internal/settlement"
)

// Dispatcher hands committed settlement events to the queue. It satisfies
// the coordinator's notifier port: dispatch runs after the transaction and
// a failed enqueue is logged, never surfaced.
type Dispatcher struct {
	client *Client
	logger *slog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(client *Client, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{client: client, logger: logger}
}

var _ settlement.Notifier = (*Dispatcher)(nil)

// Dispatch enqueues one document event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev settlement.Event) {
	if d == nil || d.client == nil {
		return
	}
	_, err := d.client.EnqueueDocumentEvent(ctx, DocumentEventPayload{
		EventID:    ev.ID,
		DocType:    ev.DocType,
		DocID:      ev.DocID,
		Serial:     ev.Serial,
		Status:     ev.Status,
		OperatorID: ev.OperatorID,
		OccurredAt: ev.OccurredAt,
	})
	if err != nil {
		d.logger.Warn("enqueue document event failed",
			slog.String("event_id", ev.ID.String()),
			slog.String("serial", ev.Serial),
			slog.Any("error", err))
	}
}
