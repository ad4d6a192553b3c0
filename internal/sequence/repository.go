package sequence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists sequence counters.
type Repository interface {
	// Get returns the counter value and whether the row exists.
	Get(ctx context.Context, category Category, officeID int64) (int64, bool, error)
	// Set upserts the counter value.
	Set(ctx context.Context, category Category, officeID int64, value int64) error
}

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Get(ctx context.Context, category Category, officeID int64) (int64, bool, error) {
	var value int64
	err := r.pool.QueryRow(ctx,
		`SELECT last_value FROM sequence_counters WHERE category = $1 AND office_id = $2`,
		category, officeID).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

func (r *PGRepository) Set(ctx context.Context, category Category, officeID int64, value int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sequence_counters (category, office_id, last_value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (category, office_id) DO UPDATE SET last_value = EXCLUDED.last_value, updated_at = now()`,
		category, officeID, value)
	return err
}
