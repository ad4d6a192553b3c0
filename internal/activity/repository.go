package activity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("activity: not found")

// Repository provides PostgreSQL backed persistence for the append-only
// activity log. Rows are never updated or deleted.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id, doc_type, doc_id, operator_id, occurred_at, status, remark`

// Get loads one activity by id.
func (r *Repository) Get(ctx context.Context, id int64) (Activity, error) {
	var a Activity
	err := r.pool.QueryRow(ctx, `SELECT `+columns+` FROM activities WHERE id = $1`, id).
		Scan(&a.ID, &a.DocType, &a.DocID, &a.OperatorID, &a.OccurredAt, &a.Status, &a.Remark)
	if errors.Is(err, pgx.ErrNoRows) {
		return Activity{}, ErrNotFound
	}
	if err != nil {
		return Activity{}, err
	}
	return a, nil
}

// ListForDocument returns a document's activities in chronological order.
func (r *Repository) ListForDocument(ctx context.Context, docType DocType, docID int64) ([]Activity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+columns+` FROM activities WHERE doc_type = $1 AND doc_id = $2 ORDER BY occurred_at, id`,
		docType, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.DocType, &a.DocID, &a.OperatorID, &a.OccurredAt, &a.Status, &a.Remark); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
