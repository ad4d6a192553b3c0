package settlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-oa/meridian-oa/internal/activity"
	"github.com/meridian-oa/meridian-oa/internal/ledger"
	"github.com/meridian-oa/meridian-oa/internal/status"
)

// Document is the shared header shape of expense claims and cash
// advancements. The two families live in separate tables with identical
// settlement-relevant columns; Type selects the table.
type Document struct {
	ID         int64
	Type       activity.DocType
	Serial     string
	Status     status.Status
	OfficeID   int64
	ClaimantID int64
	ApproverID int64
	PayeeID    int64
	Currency   string
	ClaimAmt   decimal.Decimal
	PayAmt     decimal.Decimal

	// Expense-claim only fields.
	UsesPriorBalance bool
	IsPettyCash      bool
	FxCurrency       *string
	FxAmt            *decimal.Decimal
	PurchaseOrderID  *int64

	LastActivityID     *int64
	ApproveActivityID  *int64
	Approve2ActivityID *int64
	PaymentActivityID  *int64
	PettyActivityID    *int64
	PaymentFileID      *uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExpenseLineItem is one expense on a claim. A nil ClaimID marks a draft
// item not yet attached to any claim.
type ExpenseLineItem struct {
	ID           int64
	ClaimID      *int64
	IncurredOn   time.Time
	Category     string
	Currency     string
	Amount       decimal.Decimal
	ExchangeRate *decimal.Decimal
	FileID       *uuid.UUID
}

// PurchaseOrder is the minimal view needed to validate a linkage.
type PurchaseOrder struct {
	ID       int64
	OfficeID int64
	Open     bool
}

// ActivityRef names one of a document's activity reference columns.
type ActivityRef string

const (
	RefLast     ActivityRef = "last"
	RefApprove  ActivityRef = "approve"
	RefApprove2 ActivityRef = "approve2"
	RefPayment  ActivityRef = "payment"
	RefPetty    ActivityRef = "petty"
)

// SubmitInput groups everything Submit needs. A zero DocID means first
// submission; otherwise the document is resubmitted from a terminal state.
type SubmitInput struct {
	DocType    activity.DocType
	DocID      int64
	OfficeID   int64
	ClaimantID int64
	ApproverID int64
	PayeeID    int64
	Currency   string
	ClaimAmt   decimal.Decimal

	// Expense-claim only.
	UsesPriorBalance bool
	IsPettyCash      bool
	IsFxDraw         bool
	FxCurrency       string
	FxAmt            decimal.Decimal
	PurchaseOrderID  *int64
	LineItems        []ExpenseLineItem
	Deductions       []ledger.Deduction

	FromDraft bool
	Remark    string
}

// SettleInput groups everything Settle needs. RecordFileName, when set,
// reserves a payment-record file through the storage collaborator.
type SettleInput struct {
	DocType        activity.DocType
	DocID          int64
	ActorID        int64
	RecordFileName string
	Remark         string
}
