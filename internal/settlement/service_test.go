package settlement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-oa/meridian-oa/internal/activity"
	"github.com/meridian-oa/meridian-oa/internal/approval"
	"github.com/meridian-oa/meridian-oa/internal/files"
	"github.com/meridian-oa/meridian-oa/internal/ledger"
	"github.com/meridian-oa/meridian-oa/internal/org"
	"github.com/meridian-oa/meridian-oa/internal/sequence"
	"github.com/meridian-oa/meridian-oa/internal/status"
	_ "github.com/meridian-oa/meridian-oa/internal/testing/guard"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// --- fakes ---

type memorySeqRepo struct {
	mu       sync.Mutex
	counters map[string]int64
}

func newMemorySeqRepo() *memorySeqRepo {
	return &memorySeqRepo{counters: make(map[string]int64)}
}

func seqKey(category sequence.Category, officeID int64) string {
	return fmt.Sprintf("%s/%d", category, officeID)
}

func (r *memorySeqRepo) Get(_ context.Context, category sequence.Category, officeID int64) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.counters[seqKey(category, officeID)]
	return v, ok, nil
}

func (r *memorySeqRepo) Set(_ context.Context, category sequence.Category, officeID, value int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[seqKey(category, officeID)] = value
	return nil
}

type memoryRepo struct {
	mu             sync.Mutex
	docs           map[string]*Document
	nextDocID      int64
	activities     map[int64]activity.Activity
	nextActivityID int64
	lineItems      map[int64][]ExpenseLineItem
	priorByClaim   map[int64][]ledger.PriorBalanceEntry
	liveAdvance    map[int64]int
	purchaseOrders map[int64]PurchaseOrder
	draftsDeleted  int

	failTx error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		docs:           make(map[string]*Document),
		activities:     make(map[int64]activity.Activity),
		lineItems:      make(map[int64][]ExpenseLineItem),
		priorByClaim:   make(map[int64][]ledger.PriorBalanceEntry),
		liveAdvance:    make(map[int64]int),
		purchaseOrders: make(map[int64]PurchaseOrder),
	}
}

func docKey(docType activity.DocType, id int64) string {
	return fmt.Sprintf("%s/%d", docType, id)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failTx != nil {
		err := r.failTx
		r.failTx = nil
		return err
	}
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetDocument(_ context.Context, docType activity.DocType, id int64) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[docKey(docType, id)]
	if !ok {
		return Document{}, ErrNotFound
	}
	return *doc, nil
}

func (r *memoryRepo) ListLineItems(_ context.Context, claimID int64) ([]ExpenseLineItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lineItems[claimID], nil
}

func (r *memoryRepo) GetPurchaseOrder(_ context.Context, id int64) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	po, ok := r.purchaseOrders[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return po, nil
}

func (r *memoryRepo) SumLivePriorDeductions(_ context.Context, claimID int64) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := decimal.Zero
	for _, e := range r.priorByClaim[claimID] {
		if !e.Deleted {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (r *memoryRepo) CountLivePriorEntries(_ context.Context, advancementID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveAdvance[advancementID], nil
}

func (r *memoryRepo) GetActivity(_ context.Context, id int64) (activity.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.activities[id]
	if !ok {
		return activity.Activity{}, ErrNotFound
	}
	return a, nil
}

func (r *memoryRepo) activitiesFor(docType activity.DocType, id int64) []activity.Activity {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []activity.Activity
	for _, a := range r.activities {
		if a.DocType == docType && a.DocID == id {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) InsertDocument(_ context.Context, doc Document) (int64, error) {
	t.repo.nextDocID++
	doc.ID = t.repo.nextDocID
	t.repo.docs[docKey(doc.Type, doc.ID)] = &doc
	return doc.ID, nil
}

func (t *memoryTx) UpdateDocumentHeader(_ context.Context, doc Document) error {
	existing, ok := t.repo.docs[docKey(doc.Type, doc.ID)]
	if !ok {
		return ErrNotFound
	}
	existing.ApproverID = doc.ApproverID
	existing.PayeeID = doc.PayeeID
	existing.Currency = doc.Currency
	existing.ClaimAmt = doc.ClaimAmt
	existing.UsesPriorBalance = doc.UsesPriorBalance
	existing.IsPettyCash = doc.IsPettyCash
	existing.FxCurrency = doc.FxCurrency
	existing.FxAmt = doc.FxAmt
	existing.PurchaseOrderID = doc.PurchaseOrderID
	return nil
}

func (t *memoryTx) SetStatus(_ context.Context, docType activity.DocType, id int64, st status.Status) error {
	t.repo.docs[docKey(docType, id)].Status = st
	return nil
}

func (t *memoryTx) SetPayment(_ context.Context, docType activity.DocType, id int64, payAmt decimal.Decimal, fileID *uuid.UUID) error {
	doc := t.repo.docs[docKey(docType, id)]
	doc.PayAmt = payAmt
	doc.PaymentFileID = fileID
	return nil
}

func (t *memoryTx) ClearPayment(_ context.Context, docType activity.DocType, id int64) error {
	doc := t.repo.docs[docKey(docType, id)]
	doc.PayAmt = decimal.Zero
	doc.PaymentFileID = nil
	doc.PaymentActivityID = nil
	return nil
}

func (t *memoryTx) ClearApprovalRefs(_ context.Context, docType activity.DocType, id int64) error {
	doc := t.repo.docs[docKey(docType, id)]
	doc.ApproveActivityID = nil
	doc.Approve2ActivityID = nil
	return nil
}

func (t *memoryTx) SetActivityRef(_ context.Context, docType activity.DocType, id int64, ref ActivityRef, activityID int64) error {
	doc := t.repo.docs[docKey(docType, id)]
	switch ref {
	case RefLast:
		doc.LastActivityID = &activityID
	case RefApprove:
		doc.ApproveActivityID = &activityID
	case RefApprove2:
		doc.Approve2ActivityID = &activityID
	case RefPayment:
		doc.PaymentActivityID = &activityID
	case RefPetty:
		doc.PettyActivityID = &activityID
	default:
		return fmt.Errorf("unknown ref %q", ref)
	}
	return nil
}

func (t *memoryTx) InsertActivity(_ context.Context, a activity.Activity) (int64, error) {
	t.repo.nextActivityID++
	a.ID = t.repo.nextActivityID
	t.repo.activities[a.ID] = a
	return a.ID, nil
}

func (t *memoryTx) ReplaceLineItems(_ context.Context, claimID int64, items []ExpenseLineItem) error {
	t.repo.lineItems[claimID] = items
	return nil
}

func (t *memoryTx) InsertPriorEntries(_ context.Context, claimID int64, entries []ledger.PriorBalanceEntry) error {
	for _, e := range entries {
		e.ClaimID = claimID
		t.repo.priorByClaim[claimID] = append(t.repo.priorByClaim[claimID], e)
		t.repo.liveAdvance[e.AdvancementID]++
	}
	return nil
}

func (t *memoryTx) RetirePriorEntries(_ context.Context, ids []int64) error {
	return nil
}

func (t *memoryTx) SoftDeletePriorEntriesForClaim(_ context.Context, claimID int64) error {
	entries := t.repo.priorByClaim[claimID]
	for i := range entries {
		if !entries[i].Deleted {
			entries[i].Deleted = true
			t.repo.liveAdvance[entries[i].AdvancementID]--
		}
	}
	return nil
}

func (t *memoryTx) SoftDeletePriorEntriesForAdvancement(_ context.Context, advancementID int64) error {
	t.repo.liveAdvance[advancementID] = 0
	return nil
}

func (t *memoryTx) DeleteDraftPlaceholder(_ context.Context, _ activity.DocType, _ int64) error {
	t.repo.draftsDeleted++
	return nil
}

type stubApprovals struct {
	needsSecond bool
	firstErr    error
	secondErr   error
}

func (s *stubApprovals) NeedsSecondApproval(_ context.Context, _, _ int64, _ decimal.Decimal) (bool, error) {
	return s.needsSecond, nil
}

func (s *stubApprovals) ValidateApprover(_ context.Context, _, _, _, _ int64, _ decimal.Decimal, firstStage bool) error {
	if firstStage {
		return s.firstErr
	}
	return s.secondErr
}

type stubLedger struct {
	result ledger.AllocateResult
	err    error
	calls  int
}

func (s *stubLedger) Allocate(_ context.Context, _ ledger.AllocateInput) (ledger.AllocateResult, error) {
	s.calls++
	if s.err != nil {
		return ledger.AllocateResult{}, s.err
	}
	return s.result, nil
}

type stubStorage struct {
	record            files.FileRecord
	prepareErr        error
	recordsRolledBack []uuid.UUID
	serialsRolledBack []int64
}

func (s *stubStorage) PrepareUpload(_ context.Context, officeID int64, category sequence.Category, name string, uploadedBy int64) (files.FileRecord, error) {
	if s.prepareErr != nil {
		return files.FileRecord{}, s.prepareErr
	}
	if s.record.ID == uuid.Nil {
		s.record = files.FileRecord{
			ID: uuid.New(), OfficeID: officeID, Category: category,
			Serial: 1, Name: name, UploadedBy: uploadedBy,
		}
	}
	return s.record, nil
}

func (s *stubStorage) RollbackRecord(_ context.Context, _ int64, id uuid.UUID) (bool, error) {
	s.recordsRolledBack = append(s.recordsRolledBack, id)
	return true, nil
}

func (s *stubStorage) RollbackSerial(_ context.Context, _ sequence.Category, _ int64, serial int64) error {
	s.serialsRolledBack = append(s.serialsRolledBack, serial)
	return nil
}

type stubNotifier struct {
	events []Event
}

func (s *stubNotifier) Dispatch(_ context.Context, ev Event) {
	s.events = append(s.events, ev)
}

type stubCache struct {
	bumps int
}

func (s *stubCache) Bump(_ context.Context) error {
	s.bumps++
	return nil
}

type memoryDirectory struct {
	users   map[int64]org.User
	offices map[int64]org.Office
}

func (d *memoryDirectory) GetUser(_ context.Context, id int64) (org.User, error) {
	u, ok := d.users[id]
	if !ok {
		return org.User{}, org.ErrNotFound
	}
	return u, nil
}

func (d *memoryDirectory) GetUserByEmail(_ context.Context, _ string) (org.User, error) {
	return org.User{}, org.ErrNotFound
}

func (d *memoryDirectory) GetOffice(_ context.Context, id int64) (org.Office, error) {
	o, ok := d.offices[id]
	if !ok {
		return org.Office{}, org.ErrNotFound
	}
	return o, nil
}

func (d *memoryDirectory) GroupMembers(_ context.Context, _ int64) ([]org.User, error) {
	return nil, nil
}

func (d *memoryDirectory) IsGroupMember(_ context.Context, _, _ int64) (bool, error) {
	return false, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// --- fixture ---

const (
	officeHQ   = int64(1)
	claimantID = int64(10)
	approverID = int64(20)
	payeeID    = int64(10)
	accountant = int64(30)
	adminID    = int64(40)
	strangerID = int64(50)
)

type fixture struct {
	repo      *memoryRepo
	approvals *stubApprovals
	ledger    *stubLedger
	storage   *stubStorage
	notifier  *stubNotifier
	cache     *stubCache
	seqRepo   *memorySeqRepo
	clock     *fakeClock
	coord     *Coordinator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		repo:      newMemoryRepo(),
		approvals: &stubApprovals{},
		ledger:    &stubLedger{},
		storage:   &stubStorage{},
		notifier:  &stubNotifier{},
		cache:     &stubCache{},
		seqRepo:   newMemorySeqRepo(),
		clock:     &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	dir := &memoryDirectory{
		users: map[int64]org.User{
			claimantID: {ID: claimantID, OfficeID: officeHQ, DisplayName: "Dana", IsActive: true},
			approverID: {ID: approverID, OfficeID: officeHQ, DisplayName: "Avery", IsActive: true},
			accountant: {ID: accountant, OfficeID: officeHQ, DisplayName: "Noor", IsActive: true, IsAccounting: true},
			adminID:    {ID: adminID, OfficeID: officeHQ, DisplayName: "Sam", IsActive: true, IsAdmin: true},
			strangerID: {ID: strangerID, OfficeID: officeHQ, DisplayName: "Kai", IsActive: true},
		},
		offices: map[int64]org.Office{
			officeHQ: {ID: officeHQ, Code: "HQ", Name: "Headquarters", Currency: "CNY"},
		},
	}
	f.coord = NewCoordinator(
		f.repo,
		sequence.NewAllocator(f.seqRepo, nil),
		f.approvals,
		f.ledger,
		f.storage,
		f.cache,
		f.notifier,
		dir,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		opts,
	)
	f.coord.now = f.clock.now
	return f
}

func submitClaim(t *testing.T, f *fixture, amount string) Document {
	t.Helper()
	doc, err := f.coord.Submit(context.Background(), SubmitInput{
		DocType:    activity.DocExpenseClaim,
		OfficeID:   officeHQ,
		ClaimantID: claimantID,
		ApproverID: approverID,
		PayeeID:    payeeID,
		Currency:   "CNY",
		ClaimAmt:   dec(amount),
	})
	require.NoError(t, err)
	return doc
}

// --- tests ---

func TestSubmitAssignsSerialOnce(t *testing.T) {
	f := newFixture(t, Options{})

	doc := submitClaim(t, f, "100.00")
	require.Equal(t, "HQ000001", doc.Serial)
	require.Equal(t, status.StatusSubmitted, doc.Status)

	// A resubmission after rejection keeps the original serial.
	_, err := f.coord.Reject(context.Background(), activity.DocExpenseClaim, doc.ID, approverID, "missing receipt")
	require.NoError(t, err)

	resubmitted, err := f.coord.Submit(context.Background(), SubmitInput{
		DocType:    activity.DocExpenseClaim,
		DocID:      doc.ID,
		OfficeID:   officeHQ,
		ClaimantID: claimantID,
		ApproverID: approverID,
		PayeeID:    payeeID,
		Currency:   "CNY",
		ClaimAmt:   dec("100.00"),
	})
	require.NoError(t, err)
	require.Equal(t, "HQ000001", resubmitted.Serial)

	current, ok := f.seqRepo.counters[seqKey(sequence.CategoryExpenseClaim, officeHQ)]
	require.True(t, ok)
	require.Equal(t, int64(1), current)
}

func TestSubmitRollsBackSerialOnFailedWrite(t *testing.T) {
	f := newFixture(t, Options{})
	submitClaim(t, f, "50.00")

	f.repo.failTx = errors.New("connection reset")
	_, err := f.coord.Submit(context.Background(), SubmitInput{
		DocType:    activity.DocExpenseClaim,
		OfficeID:   officeHQ,
		ClaimantID: claimantID,
		ApproverID: approverID,
		PayeeID:    payeeID,
		Currency:   "CNY",
		ClaimAmt:   dec("75.00"),
	})
	require.ErrorIs(t, err, ErrSystem)

	// Counter back where it was, so the next claim reuses the serial.
	doc := submitClaim(t, f, "75.00")
	require.Equal(t, "HQ000002", doc.Serial)
}

func TestSubmitRejectsForeignLineItemWithoutRate(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.coord.Submit(context.Background(), SubmitInput{
		DocType:    activity.DocExpenseClaim,
		OfficeID:   officeHQ,
		ClaimantID: claimantID,
		ApproverID: approverID,
		PayeeID:    payeeID,
		Currency:   "CNY",
		ClaimAmt:   dec("100.00"),
		LineItems: []ExpenseLineItem{
			{IncurredOn: time.Now(), Category: "travel", Currency: "USD", Amount: dec("12.00")},
		},
	})
	require.True(t, IsValidation(err), "got %v", err)
}

func TestSubmitAllocationFailureRollsBackSerial(t *testing.T) {
	f := newFixture(t, Options{})
	f.ledger.err = ledger.ErrStaleBalance

	_, err := f.coord.Submit(context.Background(), SubmitInput{
		DocType:          activity.DocExpenseClaim,
		OfficeID:         officeHQ,
		ClaimantID:       claimantID,
		ApproverID:       approverID,
		PayeeID:          payeeID,
		Currency:         "CNY",
		ClaimAmt:         dec("100.00"),
		UsesPriorBalance: true,
		Deductions:       []ledger.Deduction{{AdvancementID: 1, Currency: "CNY", Amount: dec("100.00"), BalanceLeft: dec("500.00")}},
	})
	require.True(t, IsConflict(err), "got %v", err)

	f.ledger.err = nil
	doc := submitClaim(t, f, "10.00")
	require.Equal(t, "HQ000001", doc.Serial)
}

func TestCancelIsClaimantOnly(t *testing.T) {
	f := newFixture(t, Options{})
	doc := submitClaim(t, f, "100.00")

	_, err := f.coord.Cancel(context.Background(), activity.DocExpenseClaim, doc.ID, strangerID, "")
	require.True(t, IsValidation(err), "got %v", err)

	cancelled, err := f.coord.Cancel(context.Background(), activity.DocExpenseClaim, doc.ID, claimantID, "changed plans")
	require.NoError(t, err)
	require.Equal(t, status.StatusCancelled, cancelled.Status)
}

func TestRejectRequiresAuthority(t *testing.T) {
	f := newFixture(t, Options{})
	f.approvals.firstErr = approval.ErrNotAuthorized
	doc := submitClaim(t, f, "100.00")

	_, err := f.coord.Reject(context.Background(), activity.DocExpenseClaim, doc.ID, strangerID, "")
	require.True(t, IsValidation(err), "got %v", err)
}

func TestRejectByAccountingWhenPolicyEnabled(t *testing.T) {
	f := newFixture(t, Options{AccountingReject: true})
	f.approvals.firstErr = approval.ErrNotAuthorized
	doc := submitClaim(t, f, "100.00")

	rejected, err := f.coord.Reject(context.Background(), activity.DocExpenseClaim, doc.ID, accountant, "over budget")
	require.NoError(t, err)
	require.Equal(t, status.StatusRejected, rejected.Status)
}

func TestApproveParksAtFirstApprovedWhenSecondStageNeeded(t *testing.T) {
	f := newFixture(t, Options{})
	f.approvals.needsSecond = true
	doc := submitClaim(t, f, "9000.00")

	first, err := f.coord.Approve(context.Background(), activity.DocExpenseClaim, doc.ID, approverID, "")
	require.NoError(t, err)
	require.Equal(t, status.StatusFirstApproved, first.Status)

	second, err := f.coord.Approve(context.Background(), activity.DocExpenseClaim, doc.ID, approverID, "")
	require.NoError(t, err)
	require.Equal(t, status.StatusApproved, second.Status)

	stored, err := f.repo.GetDocument(context.Background(), activity.DocExpenseClaim, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ApproveActivityID)
	require.NotNil(t, stored.Approve2ActivityID)
}

func TestApproveBelowSecondMinimumFails(t *testing.T) {
	f := newFixture(t, Options{})
	f.approvals.needsSecond = true
	f.approvals.secondErr = &approval.BelowMinimumError{Amount: dec("100.00"), MinAmount: dec("5000.00")}
	doc := submitClaim(t, f, "100.00")

	_, err := f.coord.Approve(context.Background(), activity.DocExpenseClaim, doc.ID, approverID, "")
	require.NoError(t, err)

	_, err = f.coord.Approve(context.Background(), activity.DocExpenseClaim, doc.ID, approverID, "")
	require.True(t, IsValidation(err), "got %v", err)
}

func TestEndToEndSubmitApproveSettle(t *testing.T) {
	f := newFixture(t, Options{})
	doc := submitClaim(t, f, "100.00")

	approved, err := f.coord.Approve(context.Background(), activity.DocExpenseClaim, doc.ID, approverID, "")
	require.NoError(t, err)
	require.Equal(t, status.StatusApproved, approved.Status)

	settled, err := f.coord.Settle(context.Background(), SettleInput{
		DocType:        activity.DocExpenseClaim,
		DocID:          doc.ID,
		ActorID:        accountant,
		RecordFileName: "payment-slip.pdf",
	})
	require.NoError(t, err)
	require.Equal(t, status.StatusSettled, settled.Status)
	require.True(t, settled.PayAmt.Equal(dec("100.00")))
	require.True(t, settled.PayAmt.Equal(settled.ClaimAmt))
	require.NotNil(t, settled.PaymentFileID)

	acts := f.repo.activitiesFor(activity.DocExpenseClaim, doc.ID)
	require.Len(t, acts, 3)
	require.Equal(t, status.StatusSubmitted, acts[0].Status)
	require.Equal(t, status.StatusApproved, acts[1].Status)
	require.Equal(t, status.StatusSettled, acts[2].Status)
	require.True(t, acts[1].OccurredAt.Before(acts[2].OccurredAt))

	require.Len(t, f.notifier.events, 3)
	require.Equal(t, status.StatusSettled, f.notifier.events[2].Status)
}

func TestSettleFromSubmittedSynthesizesApproval(t *testing.T) {
	f := newFixture(t, Options{})
	doc := submitClaim(t, f, "100.00")

	settled, err := f.coord.Settle(context.Background(), SettleInput{
		DocType: activity.DocExpenseClaim,
		DocID:   doc.ID,
		ActorID: accountant,
	})
	require.NoError(t, err)
	require.Equal(t, status.StatusSettled, settled.Status)

	acts := f.repo.activitiesFor(activity.DocExpenseClaim, doc.ID)
	require.Len(t, acts, 3)
	require.Equal(t, status.StatusApproved, acts[1].Status)
	require.Equal(t, "automatic approved", acts[1].Remark)
	require.Equal(t, status.StatusSettled, acts[2].Status)
	require.Equal(t, acts[1].OperatorID, acts[2].OperatorID)
	require.True(t, acts[1].OccurredAt.Equal(acts[2].OccurredAt))
}

func TestSettleDeniedWithoutAuthority(t *testing.T) {
	f := newFixture(t, Options{})
	f.approvals.firstErr = approval.ErrNotAuthorized
	doc := submitClaim(t, f, "100.00")

	_, err := f.coord.Settle(context.Background(), SettleInput{
		DocType: activity.DocExpenseClaim,
		DocID:   doc.ID,
		ActorID: strangerID,
	})
	require.True(t, IsValidation(err), "got %v", err)
}

func TestSettleRollsBackFileRecordOnFailedWrite(t *testing.T) {
	f := newFixture(t, Options{})
	doc := submitClaim(t, f, "100.00")

	f.repo.failTx = errors.New("deadlock detected")
	_, err := f.coord.Settle(context.Background(), SettleInput{
		DocType:        activity.DocExpenseClaim,
		DocID:          doc.ID,
		ActorID:        accountant,
		RecordFileName: "payment-slip.pdf",
	})
	require.Error(t, err)
	require.Len(t, f.storage.recordsRolledBack, 1)
	require.Equal(t, f.storage.record.ID, f.storage.recordsRolledBack[0])
	require.Len(t, f.storage.serialsRolledBack, 1)
}

func TestAutoSettleOnFinalApprovalWithFullCoverage(t *testing.T) {
	f := newFixture(t, Options{SettleOnFinalApproval: true})
	f.ledger.result = ledger.AllocateResult{
		Entries: []ledger.PriorBalanceEntry{
			{AdvancementID: 7, Amount: dec("100.00")},
		},
		Deducted: dec("100.00"),
		Residual: decimal.Zero,
	}

	doc, err := f.coord.Submit(context.Background(), SubmitInput{
		DocType:          activity.DocExpenseClaim,
		OfficeID:         officeHQ,
		ClaimantID:       claimantID,
		ApproverID:       approverID,
		PayeeID:          payeeID,
		Currency:         "CNY",
		ClaimAmt:         dec("100.00"),
		UsesPriorBalance: true,
		Deductions:       []ledger.Deduction{{AdvancementID: 7, Currency: "CNY", Amount: dec("100.00"), BalanceLeft: dec("500.00")}},
	})
	require.NoError(t, err)

	settled, err := f.coord.Approve(context.Background(), activity.DocExpenseClaim, doc.ID, approverID, "")
	require.NoError(t, err)
	require.Equal(t, status.StatusSettled, settled.Status)
	require.True(t, settled.PayAmt.Equal(dec("100.00")))

	acts := f.repo.activitiesFor(activity.DocExpenseClaim, doc.ID)
	require.Len(t, acts, 3)
	require.Equal(t, status.StatusApproved, acts[1].Status)
	require.Equal(t, status.StatusSettled, acts[2].Status)
	require.True(t, acts[1].OccurredAt.Equal(acts[2].OccurredAt))
}

func TestAutoSettleNeverSkipsSecondStage(t *testing.T) {
	f := newFixture(t, Options{SettleOnFinalApproval: true})
	f.approvals.needsSecond = true
	f.ledger.result = ledger.AllocateResult{
		Entries:  []ledger.PriorBalanceEntry{{AdvancementID: 7, Amount: dec("100.00")}},
		Deducted: dec("100.00"),
		Residual: decimal.Zero,
	}

	doc, err := f.coord.Submit(context.Background(), SubmitInput{
		DocType:          activity.DocExpenseClaim,
		OfficeID:         officeHQ,
		ClaimantID:       claimantID,
		ApproverID:       approverID,
		PayeeID:          payeeID,
		Currency:         "CNY",
		ClaimAmt:         dec("100.00"),
		UsesPriorBalance: true,
		Deductions:       []ledger.Deduction{{AdvancementID: 7, Currency: "CNY", Amount: dec("100.00"), BalanceLeft: dec("500.00")}},
	})
	require.NoError(t, err)

	first, err := f.coord.Approve(context.Background(), activity.DocExpenseClaim, doc.ID, approverID, "")
	require.NoError(t, err)
	require.Equal(t, status.StatusFirstApproved, first.Status)

	final, err := f.coord.Approve(context.Background(), activity.DocExpenseClaim, doc.ID, approverID, "")
	require.NoError(t, err)
	require.Equal(t, status.StatusSettled, final.Status)
}

func TestRevertAutoApprovedSettlementLandsOnSubmitted(t *testing.T) {
	f := newFixture(t, Options{})
	doc := submitClaim(t, f, "100.00")

	_, err := f.coord.Settle(context.Background(), SettleInput{
		DocType: activity.DocExpenseClaim,
		DocID:   doc.ID,
		ActorID: accountant,
	})
	require.NoError(t, err)

	reverted, err := f.coord.RevertSettledPayment(context.Background(), activity.DocExpenseClaim, doc.ID, adminID, "wrong payee")
	require.NoError(t, err)
	require.Equal(t, status.StatusSubmitted, reverted.Status)
	require.True(t, reverted.PayAmt.IsZero())
	require.Nil(t, reverted.PaymentFileID)

	stored, err := f.repo.GetDocument(context.Background(), activity.DocExpenseClaim, doc.ID)
	require.NoError(t, err)
	require.Nil(t, stored.ApproveActivityID)
	require.Nil(t, stored.Approve2ActivityID)
}

func TestRevertGenuineApprovalLandsOnApproved(t *testing.T) {
	f := newFixture(t, Options{})
	doc := submitClaim(t, f, "100.00")

	_, err := f.coord.Approve(context.Background(), activity.DocExpenseClaim, doc.ID, approverID, "")
	require.NoError(t, err)
	_, err = f.coord.Settle(context.Background(), SettleInput{
		DocType: activity.DocExpenseClaim,
		DocID:   doc.ID,
		ActorID: accountant,
	})
	require.NoError(t, err)

	reverted, err := f.coord.RevertSettledPayment(context.Background(), activity.DocExpenseClaim, doc.ID, adminID, "")
	require.NoError(t, err)
	require.Equal(t, status.StatusApproved, reverted.Status)

	stored, err := f.repo.GetDocument(context.Background(), activity.DocExpenseClaim, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ApproveActivityID)
}

func TestRevertRequiresAdmin(t *testing.T) {
	f := newFixture(t, Options{})
	doc := submitClaim(t, f, "100.00")
	_, err := f.coord.Settle(context.Background(), SettleInput{
		DocType: activity.DocExpenseClaim,
		DocID:   doc.ID,
		ActorID: accountant,
	})
	require.NoError(t, err)

	_, err = f.coord.RevertSettledPayment(context.Background(), activity.DocExpenseClaim, doc.ID, accountant, "")
	require.True(t, IsValidation(err), "got %v", err)
}

func TestRevertAdvancementBlockedWhileDrawsExist(t *testing.T) {
	f := newFixture(t, Options{})

	adv, err := f.coord.Submit(context.Background(), SubmitInput{
		DocType:    activity.DocCashAdvancement,
		OfficeID:   officeHQ,
		ClaimantID: claimantID,
		ApproverID: approverID,
		PayeeID:    payeeID,
		Currency:   "CNY",
		ClaimAmt:   dec("5000.00"),
	})
	require.NoError(t, err)

	_, err = f.coord.Settle(context.Background(), SettleInput{
		DocType: activity.DocCashAdvancement,
		DocID:   adv.ID,
		ActorID: accountant,
	})
	require.NoError(t, err)

	f.repo.mu.Lock()
	f.repo.liveAdvance[adv.ID] = 2
	f.repo.mu.Unlock()

	_, err = f.coord.RevertSettledPayment(context.Background(), activity.DocCashAdvancement, adv.ID, adminID, "")
	require.True(t, IsValidation(err), "got %v", err)
}

func TestCancelSoftDeletesPriorEntries(t *testing.T) {
	f := newFixture(t, Options{})
	f.ledger.result = ledger.AllocateResult{
		Entries:  []ledger.PriorBalanceEntry{{AdvancementID: 7, Amount: dec("60.00")}},
		Deducted: dec("60.00"),
		Residual: dec("40.00"),
	}

	doc, err := f.coord.Submit(context.Background(), SubmitInput{
		DocType:          activity.DocExpenseClaim,
		OfficeID:         officeHQ,
		ClaimantID:       claimantID,
		ApproverID:       approverID,
		PayeeID:          payeeID,
		Currency:         "CNY",
		ClaimAmt:         dec("100.00"),
		UsesPriorBalance: true,
		Deductions:       []ledger.Deduction{{AdvancementID: 7, Currency: "CNY", Amount: dec("60.00"), BalanceLeft: dec("500.00")}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, f.cache.bumps)

	_, err = f.coord.Cancel(context.Background(), activity.DocExpenseClaim, doc.ID, claimantID, "")
	require.NoError(t, err)

	sum, err := f.repo.SumLivePriorDeductions(context.Background(), doc.ID)
	require.NoError(t, err)
	require.True(t, sum.IsZero())
	require.Equal(t, 2, f.cache.bumps)
}
