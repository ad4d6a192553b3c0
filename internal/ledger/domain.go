package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-oa/meridian-oa/internal/status"
)

// Advancement is the ledger's view of a cash advancement header.
type Advancement struct {
	ID       int64
	Serial   string
	OfficeID int64
	PayeeID  int64
	Status   status.Status
	Currency string
	ClaimAmt decimal.Decimal
}

// ForeignExchangeEntry records one approved conversion out of an
// advancement's local amount. Each (advancement, foreign currency) pair
// forms one FX sub-ledger.
type ForeignExchangeEntry struct {
	ID            int64
	AdvancementID int64
	LocalAmt      decimal.Decimal
	FxCurrency    string
	FxAmt         decimal.Decimal
	Rate          decimal.Decimal
	Approved      bool
	CreatedAt     time.Time
}

// PriorBalanceEntry links one advancement to one expense claim and records
// the amount deducted. FX draws store both the foreign amount and its
// local-currency equivalent. Rows are soft-deleted, never removed.
type PriorBalanceEntry struct {
	ID            int64
	AdvancementID int64
	ClaimID       int64
	FxEntryID     *int64
	Amount        decimal.Decimal
	FxAmount      *decimal.Decimal
	Deleted       bool
	CreatedAt     time.Time
}

// EntryWithClaim joins an entry with the claim fields usage math needs.
type EntryWithClaim struct {
	PriorBalanceEntry
	ClaimSerial string
	ClaimStatus status.Status
	IsPettyCash bool
}

// AllocationDetail is one recorded draw shown on a usage report.
type AllocationDetail struct {
	ClaimID     int64
	ClaimSerial string
	ClaimStatus status.Status
	Currency    string
	Amount      decimal.Decimal
	LocalAmount decimal.Decimal
}

// UsageRow summarises one currency of one advancement.
type UsageRow struct {
	Currency  string
	IsFx      bool
	FxEntryID *int64
	Rate      decimal.Decimal
	Total     decimal.Decimal
	Used      decimal.Decimal
	Left      decimal.Decimal
}

// UsageReport is the full per-advancement usage breakdown.
type UsageReport struct {
	Normal []AllocationDetail
	Petty  []AllocationDetail
	Fx     []AllocationDetail
	Rows   []UsageRow
}

// BalanceRow is one drawable (advancement, currency) pair offered to a
// claimant choosing what to draw against.
type BalanceRow struct {
	AdvancementID     int64
	AdvancementSerial string
	Currency          string
	IsFx              bool
	FxEntryID         *int64
	Rate              decimal.Decimal
	Left              decimal.Decimal
}

// Deduction is one requested draw against a balance row. BalanceLeft is
// the left value the client saw; a mismatch against the live snapshot is a
// concurrent-modification failure, not a business-rule failure.
type Deduction struct {
	AdvancementID int64
	Currency      string
	Amount        decimal.Decimal
	BalanceLeft   decimal.Decimal
}

// AllocateInput groups everything Allocate needs.
type AllocateInput struct {
	ClaimID            int64 // zero when the claim is not yet persisted
	PayeeID            int64
	SettlementCurrency string
	IsFxDraw           bool
	FxCurrency         string
	FxPortion          decimal.Decimal
	ClaimTotal         decimal.Decimal
	Deductions         []Deduction
}

// AllocateResult carries the ledger writes for the coordinator to persist.
type AllocateResult struct {
	Entries  []PriorBalanceEntry
	Retire   []int64
	Deducted decimal.Decimal
	Residual decimal.Decimal
}
