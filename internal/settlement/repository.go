package settlement

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-oa/meridian-oa/internal/activity"
	"github.com/meridian-oa/meridian-oa/internal/ledger"
	"github.com/meridian-oa/meridian-oa/internal/status"
)

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("settlement: not found")

// Repository defines settlement data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetDocument(ctx context.Context, docType activity.DocType, id int64) (Document, error)
	ListLineItems(ctx context.Context, claimID int64) ([]ExpenseLineItem, error)
	GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	SumLivePriorDeductions(ctx context.Context, claimID int64) (decimal.Decimal, error)
	CountLivePriorEntries(ctx context.Context, advancementID int64) (int, error)
	GetActivity(ctx context.Context, id int64) (activity.Activity, error)
}

// TxRepository defines the writes available inside one settlement
// transaction. Every mutating coordinator operation funnels its whole
// write set through exactly one of these transactions.
type TxRepository interface {
	InsertDocument(ctx context.Context, doc Document) (int64, error)
	UpdateDocumentHeader(ctx context.Context, doc Document) error
	SetStatus(ctx context.Context, docType activity.DocType, id int64, st status.Status) error
	SetPayment(ctx context.Context, docType activity.DocType, id int64, payAmt decimal.Decimal, fileID *uuid.UUID) error
	ClearPayment(ctx context.Context, docType activity.DocType, id int64) error
	ClearApprovalRefs(ctx context.Context, docType activity.DocType, id int64) error
	SetActivityRef(ctx context.Context, docType activity.DocType, id int64, ref ActivityRef, activityID int64) error
	InsertActivity(ctx context.Context, a activity.Activity) (int64, error)
	ReplaceLineItems(ctx context.Context, claimID int64, items []ExpenseLineItem) error
	InsertPriorEntries(ctx context.Context, claimID int64, entries []ledger.PriorBalanceEntry) error
	RetirePriorEntries(ctx context.Context, ids []int64) error
	SoftDeletePriorEntriesForClaim(ctx context.Context, claimID int64) error
	SoftDeletePriorEntriesForAdvancement(ctx context.Context, advancementID int64) error
	DeleteDraftPlaceholder(ctx context.Context, docType activity.DocType, officeID int64) error
}
