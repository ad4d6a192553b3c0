// Package settlement orchestrates the document lifecycle: submit, cancel,
// reject, approve, settle and revert, each inside one named lock and one
// transaction, with compensating rollback for serials and file records.
package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-oa/meridian-oa/internal/activity"
	"github.com/meridian-oa/meridian-oa/internal/approval"
	"github.com/meridian-oa/meridian-oa/internal/files"
	"github.com/meridian-oa/meridian-oa/internal/ledger"
	"github.com/meridian-oa/meridian-oa/internal/org"
	"github.com/meridian-oa/meridian-oa/internal/sequence"
	"github.com/meridian-oa/meridian-oa/internal/status"
)

// ApprovalService is the slice of the approval router the coordinator
// consumes.
type ApprovalService interface {
	NeedsSecondApproval(ctx context.Context, officeID, approverID int64, amount decimal.Decimal) (bool, error)
	ValidateApprover(ctx context.Context, officeID, claimerID, nominatedID, actingID int64, amount decimal.Decimal, firstStage bool) error
}

// LedgerService allocates prior-balance deductions.
type LedgerService interface {
	Allocate(ctx context.Context, in ledger.AllocateInput) (ledger.AllocateResult, error)
}

// BalanceCache invalidates cached balance snapshots after ledger writes.
type BalanceCache interface {
	Bump(ctx context.Context) error
}

// Event describes a committed lifecycle change handed to the notification
// dispatcher. Dispatch happens after the transaction and never affects it.
type Event struct {
	ID         uuid.UUID
	DocType    activity.DocType
	DocID      int64
	Serial     string
	Status     status.Status
	OperatorID int64
	OccurredAt time.Time
}

// Notifier dispatches post-commit events. Implementations log their own
// failures; the coordinator never sees them.
type Notifier interface {
	Dispatch(ctx context.Context, ev Event)
}

// Options are the policy switches read at startup.
type Options struct {
	// SettleOnFinalApproval cascades a final approval directly into
	// settlement when prior-balance draws already cover the whole claim.
	SettleOnFinalApproval bool
	// AccountingReject lets accounting users reject in place of approvers.
	AccountingReject bool
}

var docCategories = map[activity.DocType]sequence.Category{
	activity.DocExpenseClaim:    sequence.CategoryExpenseClaim,
	activity.DocCashAdvancement: sequence.CategoryCashAdvancement,
}

// Coordinator is the settlement orchestrator.
type Coordinator struct {
	repo      Repository
	seq       *sequence.Allocator
	approvals ApprovalService
	ledger    LedgerService
	storage   files.Storage
	cache     BalanceCache
	notifier  Notifier
	dir       org.Directory
	logger    *slog.Logger
	opts      Options

	locks lockSet
	now   func() time.Time
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(
	repo Repository,
	seq *sequence.Allocator,
	approvals ApprovalService,
	ledgerSvc LedgerService,
	storage files.Storage,
	cache BalanceCache,
	notifier Notifier,
	dir org.Directory,
	logger *slog.Logger,
	opts Options,
) *Coordinator {
	return &Coordinator{
		repo:      repo,
		seq:       seq,
		approvals: approvals,
		ledger:    ledgerSvc,
		storage:   storage,
		cache:     cache,
		notifier:  notifier,
		dir:       dir,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// finish classifies err for the caller: validation and conflict failures
// pass through as values, anything else is logged and masked as ErrSystem.
func (c *Coordinator) finish(op string, err error) error {
	if err == nil {
		return nil
	}
	classified := classify(err)
	if IsValidation(classified) || IsConflict(classified) {
		return classified
	}
	c.logger.Error("settlement operation failed", "op", op, "error", classified)
	return ErrSystem
}

func (c *Coordinator) dispatch(ctx context.Context, doc Document, operatorID int64, at time.Time) {
	if c.notifier == nil {
		return
	}
	c.notifier.Dispatch(ctx, Event{
		ID:         uuid.New(),
		DocType:    doc.Type,
		DocID:      doc.ID,
		Serial:     doc.Serial,
		Status:     doc.Status,
		OperatorID: operatorID,
		OccurredAt: at,
	})
}

func (c *Coordinator) bumpBalances(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Bump(ctx); err != nil {
		c.logger.Warn("balance cache bump failed", "error", err)
	}
}

// appendActivity inserts an activity row and points the given reference
// columns at it. RefLast is always updated.
func appendActivity(ctx context.Context, tx TxRepository, a activity.Activity, refs ...ActivityRef) (int64, error) {
	id, err := tx.InsertActivity(ctx, a)
	if err != nil {
		return 0, err
	}
	if err := tx.SetActivityRef(ctx, a.DocType, a.DocID, RefLast, id); err != nil {
		return 0, err
	}
	for _, ref := range refs {
		if err := tx.SetActivityRef(ctx, a.DocType, a.DocID, ref, id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func validateLineItems(settlementCurrency string, items []ExpenseLineItem) error {
	for i, item := range items {
		if !item.Amount.IsPositive() {
			return invalidf("line item %d: amount must be positive", i+1)
		}
		if item.Currency == settlementCurrency {
			if item.ExchangeRate != nil {
				return invalidf("line item %d: exchange rate not allowed in the settlement currency", i+1)
			}
			continue
		}
		if item.ExchangeRate == nil || !item.ExchangeRate.IsPositive() {
			return invalidf("line item %d: foreign-currency item needs a positive exchange rate", i+1)
		}
	}
	return nil
}

// Submit creates or resubmits a document. A serial is allocated only on
// first submission and rolled back if the transactional write fails.
func (c *Coordinator) Submit(ctx context.Context, in SubmitInput) (Document, error) {
	doc, err := c.submit(ctx, in)
	return doc, c.finish("submit", err)
}

func (c *Coordinator) submit(ctx context.Context, in SubmitInput) (Document, error) {
	firstSubmission := in.DocID == 0
	var lock = c.locks.mutation(in.DocType)
	if firstSubmission {
		lock = c.locks.creation(in.DocType)
	}
	lock.Lock()
	defer lock.Unlock()

	if !in.ClaimAmt.IsPositive() {
		return Document{}, invalidf("claim amount must be positive")
	}
	claimant, err := c.dir.GetUser(ctx, in.ClaimantID)
	if err != nil {
		return Document{}, err
	}
	if !claimant.IsActive || claimant.OfficeID != in.OfficeID {
		return Document{}, invalidf("claimant %d does not belong to office %d", in.ClaimantID, in.OfficeID)
	}
	office, err := c.dir.GetOffice(ctx, in.OfficeID)
	if err != nil {
		return Document{}, err
	}
	if _, err := c.dir.GetUser(ctx, in.ApproverID); err != nil {
		return Document{}, err
	}
	if _, err := c.dir.GetUser(ctx, in.PayeeID); err != nil {
		return Document{}, err
	}

	if in.DocType == activity.DocExpenseClaim {
		if err := validateLineItems(in.Currency, in.LineItems); err != nil {
			return Document{}, err
		}
		if in.PurchaseOrderID != nil {
			po, err := c.repo.GetPurchaseOrder(ctx, *in.PurchaseOrderID)
			if err != nil {
				return Document{}, err
			}
			if po.OfficeID != in.OfficeID {
				return Document{}, invalidf("purchase order %d belongs to another office", po.ID)
			}
			if !po.Open {
				return Document{}, invalidf("purchase order %d is closed", po.ID)
			}
		}
	}

	doc := Document{
		ID:         in.DocID,
		Type:       in.DocType,
		Status:     status.StatusSubmitted,
		OfficeID:   in.OfficeID,
		ClaimantID: in.ClaimantID,
		ApproverID: in.ApproverID,
		PayeeID:    in.PayeeID,
		Currency:   in.Currency,
		ClaimAmt:   in.ClaimAmt,
		PayAmt:     decimal.Zero,
	}
	if in.DocType == activity.DocExpenseClaim {
		doc.UsesPriorBalance = in.UsesPriorBalance
		doc.IsPettyCash = in.IsPettyCash
		doc.PurchaseOrderID = in.PurchaseOrderID
		if in.IsFxDraw {
			fxCurrency := in.FxCurrency
			fxAmt := in.FxAmt
			doc.FxCurrency = &fxCurrency
			doc.FxAmt = &fxAmt
		}
	}

	if !firstSubmission {
		existing, err := c.repo.GetDocument(ctx, in.DocType, in.DocID)
		if err != nil {
			return Document{}, err
		}
		if existing.ClaimantID != in.ClaimantID {
			return Document{}, invalidf("only the claimant may resubmit")
		}
		if err := status.ValidateTransition(existing.Status, status.StatusSubmitted); err != nil {
			return Document{}, err
		}
		doc.Serial = existing.Serial
	}

	category := docCategories[in.DocType]
	var serialValue int64
	if firstSubmission {
		serialValue, err = c.seq.Next(ctx, category, in.OfficeID)
		if err != nil {
			return Document{}, err
		}
		doc.Serial = sequence.FormatSerial(office.Code, serialValue)
	}

	var allocation ledger.AllocateResult
	ledgerTouched := false
	if in.DocType == activity.DocExpenseClaim && in.UsesPriorBalance {
		allocation, err = c.ledger.Allocate(ctx, ledger.AllocateInput{
			ClaimID:            in.DocID,
			PayeeID:            in.PayeeID,
			SettlementCurrency: in.Currency,
			IsFxDraw:           in.IsFxDraw,
			FxCurrency:         in.FxCurrency,
			FxPortion:          in.FxAmt,
			ClaimTotal:         in.ClaimAmt,
			Deductions:         in.Deductions,
		})
		if err != nil {
			c.rollbackSerial(ctx, category, in.OfficeID, serialValue, firstSubmission)
			return Document{}, err
		}
		ledgerTouched = true
	}

	now := c.now()
	err = c.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if firstSubmission {
			id, err := tx.InsertDocument(ctx, doc)
			if err != nil {
				return err
			}
			doc.ID = id
		} else {
			if err := tx.UpdateDocumentHeader(ctx, doc); err != nil {
				return err
			}
			if err := tx.SetStatus(ctx, doc.Type, doc.ID, status.StatusSubmitted); err != nil {
				return err
			}
		}
		if doc.Type == activity.DocExpenseClaim {
			if err := tx.ReplaceLineItems(ctx, doc.ID, in.LineItems); err != nil {
				return err
			}
		}
		if ledgerTouched {
			if err := tx.RetirePriorEntries(ctx, allocation.Retire); err != nil {
				return err
			}
			if err := tx.InsertPriorEntries(ctx, doc.ID, allocation.Entries); err != nil {
				return err
			}
		}
		if in.FromDraft {
			if err := tx.DeleteDraftPlaceholder(ctx, doc.Type, doc.OfficeID); err != nil {
				return err
			}
		}
		_, err := appendActivity(ctx, tx, activity.Activity{
			DocType:    doc.Type,
			DocID:      doc.ID,
			OperatorID: in.ClaimantID,
			OccurredAt: now,
			Status:     status.StatusSubmitted,
			Remark:     in.Remark,
		})
		return err
	})
	if err != nil {
		c.rollbackSerial(ctx, category, in.OfficeID, serialValue, firstSubmission)
		return Document{}, err
	}

	if ledgerTouched {
		c.bumpBalances(ctx)
	}
	c.dispatch(ctx, doc, in.ClaimantID, now)
	return doc, nil
}

// rollbackSerial compensates a serial allocation after a failed write. Its
// own failure is logged and never masks the original error.
func (c *Coordinator) rollbackSerial(ctx context.Context, category sequence.Category, officeID, value int64, allocated bool) {
	if !allocated {
		return
	}
	if _, err := c.seq.Rollback(ctx, category, officeID, value, true); err != nil {
		c.logger.Error("serial rollback failed",
			"category", category, "office_id", officeID, "serial", value, "error", err)
	}
}

// Cancel moves a document to cancelled. Claimant only.
func (c *Coordinator) Cancel(ctx context.Context, docType activity.DocType, docID, actorID int64, remark string) (Document, error) {
	doc, err := c.terminate(ctx, docType, docID, actorID, remark, status.StatusCancelled)
	return doc, c.finish("cancel", err)
}

// Reject moves a document to rejected. Requires approver authority, or
// accounting authority when that policy is enabled.
func (c *Coordinator) Reject(ctx context.Context, docType activity.DocType, docID, actorID int64, remark string) (Document, error) {
	doc, err := c.terminate(ctx, docType, docID, actorID, remark, status.StatusRejected)
	return doc, c.finish("reject", err)
}

func (c *Coordinator) terminate(ctx context.Context, docType activity.DocType, docID, actorID int64, remark string, target status.Status) (Document, error) {
	lock := c.locks.mutation(docType)
	lock.Lock()
	defer lock.Unlock()

	doc, err := c.repo.GetDocument(ctx, docType, docID)
	if err != nil {
		return Document{}, err
	}
	if err := status.ValidateTransition(doc.Status, target); err != nil {
		return Document{}, err
	}

	if target == status.StatusCancelled {
		if actorID != doc.ClaimantID {
			return Document{}, invalidf("only the claimant may cancel")
		}
	} else {
		if err := c.rejectAuthority(ctx, doc, actorID); err != nil {
			return Document{}, err
		}
	}

	now := c.now()
	err = c.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SetStatus(ctx, docType, docID, target); err != nil {
			return err
		}
		if docType == activity.DocExpenseClaim {
			if err := tx.SoftDeletePriorEntriesForClaim(ctx, docID); err != nil {
				return err
			}
		} else {
			if err := tx.SoftDeletePriorEntriesForAdvancement(ctx, docID); err != nil {
				return err
			}
		}
		_, err := appendActivity(ctx, tx, activity.Activity{
			DocType:    docType,
			DocID:      docID,
			OperatorID: actorID,
			OccurredAt: now,
			Status:     target,
			Remark:     remark,
		})
		return err
	})
	if err != nil {
		return Document{}, err
	}

	doc.Status = target
	c.bumpBalances(ctx)
	c.dispatch(ctx, doc, actorID, now)
	return doc, nil
}

func (c *Coordinator) rejectAuthority(ctx context.Context, doc Document, actorID int64) error {
	firstStage := doc.Status == status.StatusSubmitted
	approvalErr := c.approvals.ValidateApprover(ctx, doc.OfficeID, doc.ClaimantID, doc.ApproverID,
		actorID, doc.ClaimAmt, firstStage)
	if approvalErr == nil {
		return nil
	}
	if !approvalRefusal(approvalErr) {
		return approvalErr
	}
	if c.opts.AccountingReject {
		actor, err := c.dir.GetUser(ctx, actorID)
		if err != nil {
			return err
		}
		if actor.IsAccounting {
			return nil
		}
	}
	return approvalErr
}

// approvalRefusal tells a clean denial apart from a lookup failure, so the
// accounting fallback only applies to the former.
func approvalRefusal(err error) bool {
	var bm *approval.BelowMinimumError
	return errors.Is(err, approval.ErrNotAuthorized) ||
		errors.Is(err, approval.ErrInvalidNomination) ||
		errors.As(err, &bm)
}

// Approve advances a document one approval stage. When automatic
// settlement is enabled and the final approval leaves nothing payable, the
// document settles in the same transaction.
func (c *Coordinator) Approve(ctx context.Context, docType activity.DocType, docID, actorID int64, remark string) (Document, error) {
	doc, err := c.approve(ctx, docType, docID, actorID, remark)
	return doc, c.finish("approve", err)
}

func (c *Coordinator) approve(ctx context.Context, docType activity.DocType, docID, actorID int64, remark string) (Document, error) {
	lock := c.locks.mutation(docType)
	lock.Lock()
	defer lock.Unlock()

	doc, err := c.repo.GetDocument(ctx, docType, docID)
	if err != nil {
		return Document{}, err
	}

	var target status.Status
	var approveRef ActivityRef
	final := false
	switch doc.Status {
	case status.StatusSubmitted:
		if err := c.approvals.ValidateApprover(ctx, doc.OfficeID, doc.ClaimantID, doc.ApproverID,
			actorID, doc.ClaimAmt, true); err != nil {
			return Document{}, err
		}
		needsSecond, err := c.approvals.NeedsSecondApproval(ctx, doc.OfficeID, doc.ApproverID, doc.ClaimAmt)
		if err != nil {
			return Document{}, err
		}
		approveRef = RefApprove
		if needsSecond {
			target = status.StatusFirstApproved
		} else {
			target = status.StatusApproved
			final = true
		}
	case status.StatusFirstApproved:
		if err := c.approvals.ValidateApprover(ctx, doc.OfficeID, doc.ClaimantID, doc.ApproverID,
			actorID, doc.ClaimAmt, false); err != nil {
			return Document{}, err
		}
		approveRef = RefApprove2
		target = status.StatusApproved
		final = true
	default:
		return Document{}, status.ValidateTransition(doc.Status, status.StatusApproved)
	}
	if err := status.ValidateTransition(doc.Status, target); err != nil {
		return Document{}, err
	}

	// A final approval cascades into settlement only when the claim's
	// prior-balance draws already cover the full amount. The second-approval
	// threshold is never bypassed: a first approval that leaves nothing
	// payable still parks at first_approved.
	autoSettle := false
	if final && c.opts.SettleOnFinalApproval &&
		docType == activity.DocExpenseClaim && doc.UsesPriorBalance {
		deducted, err := c.repo.SumLivePriorDeductions(ctx, docID)
		if err != nil {
			return Document{}, err
		}
		if deducted.GreaterThanOrEqual(doc.ClaimAmt) {
			autoSettle = true
		}
	}

	now := c.now()
	err = c.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := appendActivity(ctx, tx, activity.Activity{
			DocType:    docType,
			DocID:      docID,
			OperatorID: actorID,
			OccurredAt: now,
			Status:     target,
			Remark:     remark,
		}, approveRef); err != nil {
			return err
		}
		if !autoSettle {
			return tx.SetStatus(ctx, docType, docID, target)
		}
		if _, err := appendActivity(ctx, tx, activity.Activity{
			DocType:    docType,
			DocID:      docID,
			OperatorID: actorID,
			OccurredAt: now,
			Status:     status.StatusSettled,
		}, RefPayment); err != nil {
			return err
		}
		if err := tx.SetPayment(ctx, docType, docID, doc.ClaimAmt, nil); err != nil {
			return err
		}
		return tx.SetStatus(ctx, docType, docID, status.StatusSettled)
	})
	if err != nil {
		return Document{}, err
	}

	doc.Status = target
	if autoSettle {
		doc.Status = status.StatusSettled
		doc.PayAmt = doc.ClaimAmt
		c.bumpBalances(ctx)
	}
	c.dispatch(ctx, doc, actorID, now)
	return doc, nil
}

// Settle pays a document. Coming straight from submitted or first_approved
// it synthesizes an implicit approval activity sharing the payment's
// operator and timestamp, which is what a later revert keys on.
func (c *Coordinator) Settle(ctx context.Context, in SettleInput) (Document, error) {
	doc, err := c.settle(ctx, in)
	return doc, c.finish("settle", err)
}

func (c *Coordinator) settle(ctx context.Context, in SettleInput) (Document, error) {
	lock := c.locks.mutation(in.DocType)
	lock.Lock()
	defer lock.Unlock()

	doc, err := c.repo.GetDocument(ctx, in.DocType, in.DocID)
	if err != nil {
		return Document{}, err
	}
	if err := status.ValidateTransition(doc.Status, status.StatusSettled); err != nil {
		return Document{}, err
	}
	if err := c.settleAuthority(ctx, doc, in.ActorID); err != nil {
		return Document{}, err
	}

	var autoApproveRef ActivityRef
	implicitApproval := false
	switch doc.Status {
	case status.StatusSubmitted:
		implicitApproval = true
		autoApproveRef = RefApprove
	case status.StatusFirstApproved:
		implicitApproval = true
		autoApproveRef = RefApprove2
	}

	var record files.FileRecord
	haveRecord := false
	if in.RecordFileName != "" {
		uploadLock := c.locks.upload()
		uploadLock.Lock()
		record, err = c.storage.PrepareUpload(ctx, doc.OfficeID, sequence.CategoryFile, in.RecordFileName, in.ActorID)
		uploadLock.Unlock()
		if err != nil {
			return Document{}, err
		}
		haveRecord = true
	}

	now := c.now()
	err = c.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if implicitApproval {
			if _, err := appendActivity(ctx, tx, activity.Activity{
				DocType:    in.DocType,
				DocID:      in.DocID,
				OperatorID: in.ActorID,
				OccurredAt: now,
				Status:     status.StatusApproved,
				Remark:     "automatic approved",
			}, autoApproveRef); err != nil {
				return err
			}
		}
		if _, err := appendActivity(ctx, tx, activity.Activity{
			DocType:    in.DocType,
			DocID:      in.DocID,
			OperatorID: in.ActorID,
			OccurredAt: now,
			Status:     status.StatusSettled,
			Remark:     in.Remark,
		}, RefPayment); err != nil {
			return err
		}
		var fileID *uuid.UUID
		if haveRecord {
			fileID = &record.ID
		}
		if err := tx.SetPayment(ctx, in.DocType, in.DocID, doc.ClaimAmt, fileID); err != nil {
			return err
		}
		return tx.SetStatus(ctx, in.DocType, in.DocID, status.StatusSettled)
	})
	if err != nil {
		c.rollbackFileRecord(ctx, in.ActorID, doc.OfficeID, record, haveRecord)
		return Document{}, err
	}

	doc.Status = status.StatusSettled
	doc.PayAmt = doc.ClaimAmt
	if haveRecord {
		doc.PaymentFileID = &record.ID
	}
	c.bumpBalances(ctx)
	c.dispatch(ctx, doc, in.ActorID, now)
	return doc, nil
}

func (c *Coordinator) settleAuthority(ctx context.Context, doc Document, actorID int64) error {
	actor, err := c.dir.GetUser(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.IsAccounting {
		return nil
	}
	firstStage := doc.Status != status.StatusFirstApproved
	approvalErr := c.approvals.ValidateApprover(ctx, doc.OfficeID, doc.ClaimantID, doc.ApproverID,
		actorID, doc.ClaimAmt, firstStage)
	if approvalErr == nil {
		return nil
	}
	if approvalRefusal(approvalErr) {
		return &ValidationError{Reason: "no settlement authority", Err: approvalErr}
	}
	return approvalErr
}

// rollbackFileRecord compensates a reserved payment-record file after a
// failed write: the record row is soft-deleted and the file serial undone.
// Failures are logged, never surfaced.
func (c *Coordinator) rollbackFileRecord(ctx context.Context, actorID, officeID int64, record files.FileRecord, haveRecord bool) {
	if !haveRecord {
		return
	}
	if _, err := c.storage.RollbackRecord(ctx, actorID, record.ID); err != nil {
		c.logger.Error("file record rollback failed", "file_id", record.ID, "error", err)
	}
	if err := c.storage.RollbackSerial(ctx, sequence.CategoryFile, officeID, record.Serial); err != nil {
		c.logger.Error("file serial rollback failed", "serial", record.Serial, "error", err)
	}
}

// RevertSettledPayment undoes a settlement. Administrator only. The
// document lands back on submitted when the approval was implicit (same
// operator and timestamp as the payment), otherwise on approved.
func (c *Coordinator) RevertSettledPayment(ctx context.Context, docType activity.DocType, docID, actorID int64, remark string) (Document, error) {
	doc, err := c.revert(ctx, docType, docID, actorID, remark)
	return doc, c.finish("revert", err)
}

func (c *Coordinator) revert(ctx context.Context, docType activity.DocType, docID, actorID int64, remark string) (Document, error) {
	lock := c.locks.mutation(docType)
	lock.Lock()
	defer lock.Unlock()

	actor, err := c.dir.GetUser(ctx, actorID)
	if err != nil {
		return Document{}, err
	}
	if !actor.IsAdmin {
		return Document{}, invalidf("only an administrator may revert a settled payment")
	}

	doc, err := c.repo.GetDocument(ctx, docType, docID)
	if err != nil {
		return Document{}, err
	}
	if err := status.ValidateTransition(doc.Status, status.StatusSubmitted); err != nil {
		return Document{}, err
	}

	if docType == activity.DocCashAdvancement {
		live, err := c.repo.CountLivePriorEntries(ctx, docID)
		if err != nil {
			return Document{}, err
		}
		if live > 0 {
			return Document{}, invalidf("advancement %d still backs %d prior-balance draws", docID, live)
		}
	}

	target, err := c.revertTarget(ctx, doc)
	if err != nil {
		return Document{}, err
	}

	now := c.now()
	err = c.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.ClearPayment(ctx, docType, docID); err != nil {
			return err
		}
		if target == status.StatusSubmitted {
			if err := tx.ClearApprovalRefs(ctx, docType, docID); err != nil {
				return err
			}
		}
		if docType == activity.DocExpenseClaim {
			if err := tx.SoftDeletePriorEntriesForClaim(ctx, docID); err != nil {
				return err
			}
		}
		if err := tx.SetStatus(ctx, docType, docID, target); err != nil {
			return err
		}
		_, err := appendActivity(ctx, tx, activity.Activity{
			DocType:    docType,
			DocID:      docID,
			OperatorID: actorID,
			OccurredAt: now,
			Status:     target,
			Remark:     remark,
		})
		return err
	})
	if err != nil {
		return Document{}, err
	}

	if doc.PaymentFileID != nil {
		if _, err := c.storage.RollbackRecord(ctx, actorID, *doc.PaymentFileID); err != nil {
			c.logger.Warn("payment record release failed", "file_id", *doc.PaymentFileID, "error", err)
		}
	}

	doc.Status = target
	doc.PayAmt = decimal.Zero
	doc.PaymentFileID = nil
	c.bumpBalances(ctx)
	c.dispatch(ctx, doc, actorID, now)
	return doc, nil
}

// revertTarget decides where the revert lands. An approval sharing the
// payment activity's operator and timestamp was synthesized during
// settlement, so the document never held a real approval and goes back to
// submitted; a genuine approval survives and the document lands on
// approved.
func (c *Coordinator) revertTarget(ctx context.Context, doc Document) (status.Status, error) {
	approvalRef := doc.Approve2ActivityID
	if approvalRef == nil {
		approvalRef = doc.ApproveActivityID
	}
	if approvalRef == nil || doc.PaymentActivityID == nil {
		return status.StatusSubmitted, nil
	}
	approvalAct, err := c.repo.GetActivity(ctx, *approvalRef)
	if err != nil {
		return "", err
	}
	paymentAct, err := c.repo.GetActivity(ctx, *doc.PaymentActivityID)
	if err != nil {
		return "", err
	}
	if approvalAct.OperatorID == paymentAct.OperatorID && approvalAct.OccurredAt.Equal(paymentAct.OccurredAt) {
		return status.StatusSubmitted, nil
	}
	return status.StatusApproved, nil
}
