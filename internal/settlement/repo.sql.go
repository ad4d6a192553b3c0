package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-oa/meridian-oa/internal/activity"
	"github.com/meridian-oa/meridian-oa/internal/ledger"
	"github.com/meridian-oa/meridian-oa/internal/platform/db"
	"github.com/meridian-oa/meridian-oa/internal/status"
)

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

var (
	_ Repository   = (*PGRepository)(nil)
	_ TxRepository = (*pgTxRepository)(nil)
)

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type pgTxRepository struct {
	tx pgx.Tx
}

// WithTx wraps fn in one repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

func tableFor(docType activity.DocType) string {
	if docType == activity.DocCashAdvancement {
		return "cash_advancements"
	}
	return "expense_claims"
}

const claimColumns = `id, serial, status, office_id, claimant_id, approver_id, payee_id, currency,
claim_amt, pay_amt, uses_prior_balance, is_petty_cash, fx_currency, fx_amt, purchase_order_id,
last_activity_id, approve_activity_id, approve2_activity_id, payment_activity_id, petty_activity_id,
payment_file_id, created_at, updated_at`

const advanceColumns = `id, serial, status, office_id, claimant_id, approver_id, payee_id, currency,
claim_amt, pay_amt, last_activity_id, approve_activity_id, approve2_activity_id, payment_activity_id,
payment_file_id, created_at, updated_at`

func (r *PGRepository) GetDocument(ctx context.Context, docType activity.DocType, id int64) (Document, error) {
	if docType == activity.DocCashAdvancement {
		return scanAdvancement(r.pool.QueryRow(ctx,
			`SELECT `+advanceColumns+` FROM cash_advancements WHERE id = $1`, id))
	}
	return scanClaim(r.pool.QueryRow(ctx,
		`SELECT `+claimColumns+` FROM expense_claims WHERE id = $1`, id))
}

func scanClaim(row pgx.Row) (Document, error) {
	doc := Document{Type: activity.DocExpenseClaim}
	err := row.Scan(&doc.ID, &doc.Serial, &doc.Status, &doc.OfficeID, &doc.ClaimantID, &doc.ApproverID,
		&doc.PayeeID, &doc.Currency, &doc.ClaimAmt, &doc.PayAmt, &doc.UsesPriorBalance, &doc.IsPettyCash,
		&doc.FxCurrency, &doc.FxAmt, &doc.PurchaseOrderID, &doc.LastActivityID, &doc.ApproveActivityID,
		&doc.Approve2ActivityID, &doc.PaymentActivityID, &doc.PettyActivityID, &doc.PaymentFileID,
		&doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func scanAdvancement(row pgx.Row) (Document, error) {
	doc := Document{Type: activity.DocCashAdvancement}
	err := row.Scan(&doc.ID, &doc.Serial, &doc.Status, &doc.OfficeID, &doc.ClaimantID, &doc.ApproverID,
		&doc.PayeeID, &doc.Currency, &doc.ClaimAmt, &doc.PayAmt, &doc.LastActivityID, &doc.ApproveActivityID,
		&doc.Approve2ActivityID, &doc.PaymentActivityID, &doc.PaymentFileID, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (r *PGRepository) ListLineItems(ctx context.Context, claimID int64) ([]ExpenseLineItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, claim_id, incurred_on, category, currency, amount, exchange_rate, file_id
FROM expense_line_items WHERE claim_id = $1 ORDER BY incurred_on, id`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ExpenseLineItem
	for rows.Next() {
		var item ExpenseLineItem
		if err := rows.Scan(&item.ID, &item.ClaimID, &item.IncurredOn, &item.Category,
			&item.Currency, &item.Amount, &item.ExchangeRate, &item.FileID); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *PGRepository) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := r.pool.QueryRow(ctx,
		`SELECT id, office_id, open FROM purchase_orders WHERE id = $1`, id).
		Scan(&po.ID, &po.OfficeID, &po.Open)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrNotFound
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (r *PGRepository) SumLivePriorDeductions(ctx context.Context, claimID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM prior_balance_entries WHERE claim_id = $1 AND NOT deleted`,
		claimID).Scan(&sum)
	return sum, err
}

func (r *PGRepository) CountLivePriorEntries(ctx context.Context, advancementID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM prior_balance_entries WHERE advancement_id = $1 AND NOT deleted`,
		advancementID).Scan(&count)
	return count, err
}

func (r *PGRepository) GetActivity(ctx context.Context, id int64) (activity.Activity, error) {
	var a activity.Activity
	err := r.pool.QueryRow(ctx,
		`SELECT id, doc_type, doc_id, operator_id, occurred_at, status, remark FROM activities WHERE id = $1`, id).
		Scan(&a.ID, &a.DocType, &a.DocID, &a.OperatorID, &a.OccurredAt, &a.Status, &a.Remark)
	if errors.Is(err, pgx.ErrNoRows) {
		return activity.Activity{}, ErrNotFound
	}
	return a, err
}

// --- transactional writes ---

func (t *pgTxRepository) InsertDocument(ctx context.Context, doc Document) (int64, error) {
	var id int64
	var err error
	if doc.Type == activity.DocCashAdvancement {
		err = t.tx.QueryRow(ctx,
			`INSERT INTO cash_advancements (serial, status, office_id, claimant_id, approver_id, payee_id,
currency, claim_amt, pay_amt, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now()) RETURNING id`,
			doc.Serial, doc.Status, doc.OfficeID, doc.ClaimantID, doc.ApproverID, doc.PayeeID,
			doc.Currency, doc.ClaimAmt, doc.PayAmt).Scan(&id)
	} else {
		err = t.tx.QueryRow(ctx,
			`INSERT INTO expense_claims (serial, status, office_id, claimant_id, approver_id, payee_id,
currency, claim_amt, pay_amt, uses_prior_balance, is_petty_cash, fx_currency, fx_amt, purchase_order_id,
created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now()) RETURNING id`,
			doc.Serial, doc.Status, doc.OfficeID, doc.ClaimantID, doc.ApproverID, doc.PayeeID,
			doc.Currency, doc.ClaimAmt, doc.PayAmt, doc.UsesPriorBalance, doc.IsPettyCash,
			doc.FxCurrency, doc.FxAmt, doc.PurchaseOrderID).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("settlement: insert %s: %w", doc.Type, err)
	}
	return id, nil
}

func (t *pgTxRepository) UpdateDocumentHeader(ctx context.Context, doc Document) error {
	var err error
	if doc.Type == activity.DocCashAdvancement {
		_, err = t.tx.Exec(ctx,
			`UPDATE cash_advancements SET approver_id = $2, payee_id = $3, currency = $4, claim_amt = $5, updated_at = now()
WHERE id = $1`,
			doc.ID, doc.ApproverID, doc.PayeeID, doc.Currency, doc.ClaimAmt)
	} else {
		_, err = t.tx.Exec(ctx,
			`UPDATE expense_claims SET approver_id = $2, payee_id = $3, currency = $4, claim_amt = $5,
uses_prior_balance = $6, is_petty_cash = $7, fx_currency = $8, fx_amt = $9, purchase_order_id = $10, updated_at = now()
WHERE id = $1`,
			doc.ID, doc.ApproverID, doc.PayeeID, doc.Currency, doc.ClaimAmt,
			doc.UsesPriorBalance, doc.IsPettyCash, doc.FxCurrency, doc.FxAmt, doc.PurchaseOrderID)
	}
	return err
}

func (t *pgTxRepository) SetStatus(ctx context.Context, docType activity.DocType, id int64, st status.Status) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE `+tableFor(docType)+` SET status = $2, updated_at = now() WHERE id = $1`, id, st)
	return err
}

func (t *pgTxRepository) SetPayment(ctx context.Context, docType activity.DocType, id int64, payAmt decimal.Decimal, fileID *uuid.UUID) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE `+tableFor(docType)+` SET pay_amt = $2, payment_file_id = $3, updated_at = now() WHERE id = $1`,
		id, payAmt, fileID)
	return err
}

func (t *pgTxRepository) ClearPayment(ctx context.Context, docType activity.DocType, id int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE `+tableFor(docType)+` SET pay_amt = 0, payment_file_id = NULL, payment_activity_id = NULL, updated_at = now()
WHERE id = $1`, id)
	return err
}

func (t *pgTxRepository) ClearApprovalRefs(ctx context.Context, docType activity.DocType, id int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE `+tableFor(docType)+` SET approve_activity_id = NULL, approve2_activity_id = NULL, updated_at = now()
WHERE id = $1`, id)
	return err
}

var refColumns = map[ActivityRef]string{
	RefLast:     "last_activity_id",
	RefApprove:  "approve_activity_id",
	RefApprove2: "approve2_activity_id",
	RefPayment:  "payment_activity_id",
	RefPetty:    "petty_activity_id",
}

func (t *pgTxRepository) SetActivityRef(ctx context.Context, docType activity.DocType, id int64, ref ActivityRef, activityID int64) error {
	column, ok := refColumns[ref]
	if !ok {
		return fmt.Errorf("settlement: unknown activity ref %q", ref)
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE `+tableFor(docType)+` SET `+column+` = $2, updated_at = now() WHERE id = $1`, id, activityID)
	return err
}

func (t *pgTxRepository) InsertActivity(ctx context.Context, a activity.Activity) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO activities (doc_type, doc_id, operator_id, occurred_at, status, remark)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		a.DocType, a.DocID, a.OperatorID, a.OccurredAt, a.Status, a.Remark).Scan(&id)
	return id, err
}

func (t *pgTxRepository) ReplaceLineItems(ctx context.Context, claimID int64, items []ExpenseLineItem) error {
	if _, err := t.tx.Exec(ctx,
		`UPDATE expense_line_items SET claim_id = NULL WHERE claim_id = $1`, claimID); err != nil {
		return err
	}
	for _, item := range items {
		if item.ID != 0 {
			// Draft item already persisted: attach it.
			if _, err := t.tx.Exec(ctx,
				`UPDATE expense_line_items SET claim_id = $2 WHERE id = $1`, item.ID, claimID); err != nil {
				return err
			}
			continue
		}
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO expense_line_items (claim_id, incurred_on, category, currency, amount, exchange_rate, file_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			claimID, item.IncurredOn, item.Category, item.Currency, item.Amount, item.ExchangeRate, item.FileID); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTxRepository) InsertPriorEntries(ctx context.Context, claimID int64, entries []ledger.PriorBalanceEntry) error {
	for _, e := range entries {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO prior_balance_entries (advancement_id, claim_id, fx_entry_id, amount, fx_amount, deleted, created_at)
VALUES ($1, $2, $3, $4, $5, false, now())`,
			e.AdvancementID, claimID, e.FxEntryID, e.Amount, e.FxAmount); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTxRepository) RetirePriorEntries(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE prior_balance_entries SET deleted = true WHERE id = ANY($1)`, ids)
	return err
}

func (t *pgTxRepository) SoftDeletePriorEntriesForClaim(ctx context.Context, claimID int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE prior_balance_entries SET deleted = true WHERE claim_id = $1 AND NOT deleted`, claimID)
	return err
}

func (t *pgTxRepository) SoftDeletePriorEntriesForAdvancement(ctx context.Context, advancementID int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE prior_balance_entries SET deleted = true WHERE advancement_id = $1 AND NOT deleted`, advancementID)
	return err
}

func (t *pgTxRepository) DeleteDraftPlaceholder(ctx context.Context, docType activity.DocType, officeID int64) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM draft_placeholders WHERE doc_type = $1 AND office_id = $2`, docType, officeID)
	return err
}
