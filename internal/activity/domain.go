package activity

import (
	"time"

	"github.com/meridian-oa/meridian-oa/internal/status"
)

// DocType identifies which document family an activity belongs to.
type DocType string

const (
	DocExpenseClaim    DocType = "EXPENSE_CLAIM"
	DocCashAdvancement DocType = "CASH_ADVANCE"
)

// Activity is one immutable status-changing event on a document.
type Activity struct {
	ID         int64
	DocType    DocType
	DocID      int64
	OperatorID int64
	OccurredAt time.Time
	Status     status.Status
	Remark     string
}
