package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-oa/meridian-oa/internal/status"
)

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("ledger: not found")

// Repository defines the reads the ledger performs. All writes go through
// the settlement coordinator's transaction.
type Repository interface {
	GetAdvancement(ctx context.Context, id int64) (Advancement, error)
	SettledAdvancements(ctx context.Context, payeeID int64) ([]Advancement, error)
	FxEntries(ctx context.Context, advancementID int64) ([]ForeignExchangeEntry, error)
	Entries(ctx context.Context, advancementID int64) ([]EntryWithClaim, error)
	EntriesForClaim(ctx context.Context, claimID int64) ([]PriorBalanceEntry, error)
}

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PGRepository)(nil)

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const advancementColumns = `id, serial, office_id, payee_id, status, currency, claim_amt`

func (r *PGRepository) GetAdvancement(ctx context.Context, id int64) (Advancement, error) {
	var adv Advancement
	err := r.pool.QueryRow(ctx,
		`SELECT `+advancementColumns+` FROM cash_advancements WHERE id = $1`, id).
		Scan(&adv.ID, &adv.Serial, &adv.OfficeID, &adv.PayeeID, &adv.Status, &adv.Currency, &adv.ClaimAmt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Advancement{}, ErrNotFound
	}
	if err != nil {
		return Advancement{}, err
	}
	return adv, nil
}

func (r *PGRepository) SettledAdvancements(ctx context.Context, payeeID int64) ([]Advancement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+advancementColumns+` FROM cash_advancements WHERE payee_id = $1 AND status = $2 ORDER BY serial`,
		payeeID, status.StatusSettled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Advancement
	for rows.Next() {
		var adv Advancement
		if err := rows.Scan(&adv.ID, &adv.Serial, &adv.OfficeID, &adv.PayeeID, &adv.Status, &adv.Currency, &adv.ClaimAmt); err != nil {
			return nil, err
		}
		out = append(out, adv)
	}
	return out, rows.Err()
}

func (r *PGRepository) FxEntries(ctx context.Context, advancementID int64) ([]ForeignExchangeEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, advancement_id, local_amt, fx_currency, fx_amt, rate, approved, created_at
FROM fx_entries WHERE advancement_id = $1 ORDER BY id`, advancementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ForeignExchangeEntry
	for rows.Next() {
		var e ForeignExchangeEntry
		if err := rows.Scan(&e.ID, &e.AdvancementID, &e.LocalAmt, &e.FxCurrency, &e.FxAmt, &e.Rate, &e.Approved, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PGRepository) Entries(ctx context.Context, advancementID int64) ([]EntryWithClaim, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.id, e.advancement_id, e.claim_id, e.fx_entry_id, e.amount, e.fx_amount, e.deleted, e.created_at,
       c.serial, c.status, c.is_petty_cash
FROM prior_balance_entries e
JOIN expense_claims c ON c.id = e.claim_id
WHERE e.advancement_id = $1 AND NOT e.deleted
ORDER BY c.serial, e.id`, advancementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EntryWithClaim
	for rows.Next() {
		var e EntryWithClaim
		if err := rows.Scan(&e.ID, &e.AdvancementID, &e.ClaimID, &e.FxEntryID, &e.Amount, &e.FxAmount,
			&e.Deleted, &e.CreatedAt, &e.ClaimSerial, &e.ClaimStatus, &e.IsPettyCash); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PGRepository) EntriesForClaim(ctx context.Context, claimID int64) ([]PriorBalanceEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, advancement_id, claim_id, fx_entry_id, amount, fx_amount, deleted, created_at
FROM prior_balance_entries WHERE claim_id = $1 AND NOT deleted ORDER BY id`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PriorBalanceEntry
	for rows.Next() {
		var e PriorBalanceEntry
		if err := rows.Scan(&e.ID, &e.AdvancementID, &e.ClaimID, &e.FxEntryID, &e.Amount, &e.FxAmount, &e.Deleted, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
