package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/currency"

	"github.com/meridian-oa/meridian-oa/internal/status"
)

var (
	// ErrStaleBalance signals that a requested deduction no longer matches
	// the live balance snapshot. Retryable; distinct from business-rule
	// failures so the client can re-fetch and try again.
	ErrStaleBalance = errors.New("ledger: balance changed since it was offered, please retry")

	// ErrInvalidDeduction signals a malformed deduction request.
	ErrInvalidDeduction = errors.New("ledger: invalid deduction")

	// ErrInsufficientBalance signals a draw above the available balance.
	ErrInsufficientBalance = errors.New("ledger: deduction exceeds available balance")

	// ErrNothingToDeduct signals an allocation whose accepted sum is zero.
	ErrNothingToDeduct = errors.New("ledger: no amount to deduct")

	// ErrExceedsClaim signals deductions totalling above the claim amount.
	ErrExceedsClaim = errors.New("ledger: deductions exceed claim total")

	// ErrFxPortionMismatch signals an FX draw whose deductions do not
	// exactly cover the claim portion stated in the draw currency.
	ErrFxPortionMismatch = errors.New("ledger: FX deductions must equal the claim's foreign-currency portion")
)

// RatePrecision is the decimal scale used for exchange rates.
const RatePrecision = 7

// Service computes prior-balance usage and allocates deductions.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// PrecisionFor returns the fraction digits for an ISO currency code,
// defaulting to 2 for unknown codes.
func PrecisionFor(code string) int32 {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Cash.Rounding(unit)
	return int32(scale)
}

// Usage computes the per-currency usage of one cash advancement: the FX
// sub-ledgers defined by its approved conversions plus the local-currency
// remainder, each with issued/used/left totals, and the allocation details
// split into normal, petty-cash and FX draws.
func (s *Service) Usage(ctx context.Context, adv Advancement) (UsageReport, error) {
	var report UsageReport
	if adv.Status == status.StatusDraft || adv.Status == status.StatusSubmitted {
		return report, nil
	}

	fxEntries, err := s.repo.FxEntries(ctx, adv.ID)
	if err != nil {
		return report, fmt.Errorf("ledger: load fx entries: %w", err)
	}
	entries, err := s.repo.Entries(ctx, adv.ID)
	if err != nil {
		return report, fmt.Errorf("ledger: load entries: %w", err)
	}

	// FX sub-ledgers: one per foreign currency over the approved entries.
	type fxLedger struct {
		firstID  int64
		rate     decimal.Decimal
		issued   decimal.Decimal
		used     decimal.Decimal
		currency string
	}
	fxByID := make(map[int64]*fxLedger)
	fxByCurrency := make(map[string]*fxLedger)
	var fxOrder []string
	localTotal := adv.ClaimAmt
	for i := range fxEntries {
		fx := fxEntries[i]
		if !fx.Approved {
			continue
		}
		localTotal = localTotal.Sub(fx.LocalAmt)
		led, ok := fxByCurrency[fx.FxCurrency]
		if !ok {
			led = &fxLedger{firstID: fx.ID, rate: fx.Rate, currency: fx.FxCurrency}
			fxByCurrency[fx.FxCurrency] = led
			fxOrder = append(fxOrder, fx.FxCurrency)
		}
		led.issued = led.issued.Add(fx.FxAmt)
		fxByID[fx.ID] = led
	}

	localUsed := decimal.Zero
	for _, e := range entries {
		inUse := status.InUse(e.ClaimStatus)
		if e.FxEntryID != nil {
			led, ok := fxByID[*e.FxEntryID]
			if !ok {
				continue // conversion no longer approved
			}
			fxAmount := decimal.Zero
			if e.FxAmount != nil {
				fxAmount = *e.FxAmount
			}
			if inUse {
				led.used = led.used.Add(fxAmount)
			}
			report.Fx = append(report.Fx, AllocationDetail{
				ClaimID:     e.ClaimID,
				ClaimSerial: e.ClaimSerial,
				ClaimStatus: e.ClaimStatus,
				Currency:    led.currency,
				Amount:      fxAmount,
				LocalAmount: e.Amount,
			})
			continue
		}
		if inUse {
			localUsed = localUsed.Add(e.Amount)
		}
		detail := AllocationDetail{
			ClaimID:     e.ClaimID,
			ClaimSerial: e.ClaimSerial,
			ClaimStatus: e.ClaimStatus,
			Currency:    adv.Currency,
			Amount:      e.Amount,
			LocalAmount: e.Amount,
		}
		if e.IsPettyCash {
			report.Petty = append(report.Petty, detail)
		} else {
			report.Normal = append(report.Normal, detail)
		}
	}

	sortDetails := func(details []AllocationDetail) {
		sort.Slice(details, func(i, j int) bool { return details[i].ClaimSerial < details[j].ClaimSerial })
	}
	sortDetails(report.Normal)
	sortDetails(report.Petty)
	sortDetails(report.Fx)

	anyUsed := !localUsed.IsZero()
	for _, cur := range fxOrder {
		led := fxByCurrency[cur]
		if !led.used.IsZero() {
			anyUsed = true
		}
	}
	// Cancelled and rejected advancements with nothing drawn report empty
	// rather than a misleading zero-of-zero local row.
	terminal := adv.Status == status.StatusCancelled || adv.Status == status.StatusRejected
	if terminal && !anyUsed {
		return report, nil
	}

	localScale := PrecisionFor(adv.Currency)
	report.Rows = append(report.Rows, UsageRow{
		Currency: adv.Currency,
		IsFx:     false,
		Rate:     decimal.New(1, 0),
		Total:    localTotal.Round(localScale),
		Used:     localUsed.Round(localScale),
		Left:     clamp(localTotal.Sub(localUsed)).Round(localScale),
	})
	for _, cur := range fxOrder {
		led := fxByCurrency[cur]
		scale := PrecisionFor(cur)
		firstID := led.firstID
		report.Rows = append(report.Rows, UsageRow{
			Currency:  cur,
			IsFx:      true,
			FxEntryID: &firstID,
			Rate:      led.rate.Round(RatePrecision),
			Total:     led.issued.Round(scale),
			Used:      led.used.Round(scale),
			Left:      clamp(led.issued.Sub(led.used)).Round(scale),
		})
	}
	return report, nil
}

// AvailableBalances returns every drawable (advancement, currency) pair for
// a payee, optionally filtered to one currency. Only settled advancements
// with left > 0 qualify.
func (s *Service) AvailableBalances(ctx context.Context, payeeID int64, currencyFilter string) ([]BalanceRow, error) {
	advancements, err := s.repo.SettledAdvancements(ctx, payeeID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load settled advancements: %w", err)
	}

	reports := make([]UsageReport, len(advancements))
	g, gctx := errgroup.WithContext(ctx)
	for i := range advancements {
		i := i
		g.Go(func() error {
			report, err := s.Usage(gctx, advancements[i])
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []BalanceRow
	for i, adv := range advancements {
		for _, row := range reports[i].Rows {
			if !row.Left.IsPositive() {
				continue
			}
			if currencyFilter != "" && row.Currency != currencyFilter {
				continue
			}
			out = append(out, BalanceRow{
				AdvancementID:     adv.ID,
				AdvancementSerial: adv.Serial,
				Currency:          row.Currency,
				IsFx:              row.IsFx,
				FxEntryID:         row.FxEntryID,
				Rate:              row.Rate,
				Left:              row.Left,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AdvancementSerial != out[j].AdvancementSerial {
			return out[i].AdvancementSerial < out[j].AdvancementSerial
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}

// Allocate validates the requested deductions against a fresh balance
// snapshot and produces the entries to persist, the prior entries to
// retire, and the residual amount still payable directly.
//
// Every requested row must still be present in the live snapshot with an
// unchanged left value; any mismatch is reported as ErrStaleBalance before
// the amount itself is trusted.
func (s *Service) Allocate(ctx context.Context, in AllocateInput) (AllocateResult, error) {
	var result AllocateResult
	if len(in.Deductions) == 0 {
		return result, ErrNothingToDeduct
	}

	drawCurrency := in.SettlementCurrency
	if in.IsFxDraw {
		if in.FxCurrency == "" {
			return result, fmt.Errorf("%w: FX draw without a draw currency", ErrInvalidDeduction)
		}
		drawCurrency = in.FxCurrency
	}

	seen := make(map[int64]bool)
	for _, d := range in.Deductions {
		if !d.Amount.IsPositive() {
			return result, fmt.Errorf("%w: amount must be positive", ErrInvalidDeduction)
		}
		if d.Currency != drawCurrency {
			return result, fmt.Errorf("%w: currency %s does not match draw currency %s",
				ErrInvalidDeduction, d.Currency, drawCurrency)
		}
		if seen[d.AdvancementID] {
			return result, fmt.Errorf("%w: duplicate advancement %d", ErrInvalidDeduction, d.AdvancementID)
		}
		seen[d.AdvancementID] = true
	}

	snapshot, err := s.AvailableBalances(ctx, in.PayeeID, "")
	if err != nil {
		return result, err
	}
	rowFor := func(advancementID int64, cur string) *BalanceRow {
		for i := range snapshot {
			if snapshot[i].AdvancementID == advancementID && snapshot[i].Currency == cur {
				return &snapshot[i]
			}
		}
		return nil
	}

	scale := PrecisionFor(in.SettlementCurrency)
	deducted := decimal.Zero      // draw currency
	deductedLocal := decimal.Zero // settlement currency
	for _, d := range in.Deductions {
		row := rowFor(d.AdvancementID, d.Currency)
		if row == nil {
			return result, fmt.Errorf("%w: advancement %d has no %s balance",
				ErrStaleBalance, d.AdvancementID, d.Currency)
		}
		// The concurrent-modification check fires before the amount check:
		// an amount that happens to fit the new balance is still rejected
		// when the snapshot the caller acted on is stale.
		if !row.Left.Equal(d.BalanceLeft) {
			return result, fmt.Errorf("%w: advancement %d %s left is %s, request saw %s",
				ErrStaleBalance, d.AdvancementID, d.Currency, row.Left, d.BalanceLeft)
		}
		if d.Amount.GreaterThan(row.Left) {
			return result, fmt.Errorf("%w: %s > %s on advancement %d",
				ErrInsufficientBalance, d.Amount, row.Left, d.AdvancementID)
		}

		entry := PriorBalanceEntry{
			AdvancementID: d.AdvancementID,
			ClaimID:       in.ClaimID,
		}
		if row.IsFx {
			amount := d.Amount
			entry.FxEntryID = row.FxEntryID
			entry.FxAmount = &amount
			entry.Amount = amount.Mul(row.Rate).Round(scale)
		} else {
			entry.Amount = d.Amount.Round(scale)
		}
		result.Entries = append(result.Entries, entry)
		deducted = deducted.Add(d.Amount)
		deductedLocal = deductedLocal.Add(entry.Amount)
	}

	if deducted.IsZero() {
		return AllocateResult{}, ErrNothingToDeduct
	}
	if in.IsFxDraw && !deducted.Equal(in.FxPortion) {
		return AllocateResult{}, fmt.Errorf("%w: drew %s, claim states %s %s",
			ErrFxPortionMismatch, deducted, in.FxPortion, in.FxCurrency)
	}
	if deductedLocal.GreaterThan(in.ClaimTotal) {
		return AllocateResult{}, fmt.Errorf("%w: %s > %s", ErrExceedsClaim, deductedLocal, in.ClaimTotal)
	}

	if in.ClaimID != 0 {
		prior, err := s.repo.EntriesForClaim(ctx, in.ClaimID)
		if err != nil {
			return AllocateResult{}, fmt.Errorf("ledger: load prior entries: %w", err)
		}
		for _, e := range prior {
			result.Retire = append(result.Retire, e.ID)
		}
	}

	result.Deducted = deductedLocal
	result.Residual = clamp(in.ClaimTotal.Sub(deductedLocal)).Round(scale)
	return result, nil
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
