package approval

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository loads approver rules.
type Repository interface {
	ListRules(ctx context.Context, officeID int64, kind RuleKind) ([]Rule, error)
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

func (r *PGRepository) ListRules(ctx context.Context, officeID int64, kind RuleKind) ([]Rule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, office_id, kind, scope_user_id, scope_group_id, target_user_id, target_group_id, min_amount, created_at
FROM approver_rules WHERE office_id = $1 AND kind = $2 ORDER BY id`, officeID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []Rule
	for rows.Next() {
		var rule Rule
		var minAmount *decimal.Decimal
		if err := rows.Scan(&rule.ID, &rule.OfficeID, &rule.Kind, &rule.ScopeUserID, &rule.ScopeGroupID,
			&rule.TargetUserID, &rule.TargetGroupID, &minAmount, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.MinAmount = minAmount
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
