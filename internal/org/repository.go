package org

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("org: not found")

// Directory exposes the lookups other modules need.
type Directory interface {
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetOffice(ctx context.Context, id int64) (Office, error)
	GroupMembers(ctx context.Context, groupID int64) ([]User, error)
	IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Directory = (*Repository)(nil)

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, office_id, display_name, email, password_hash, is_admin, is_accounting, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.OfficeID, &u.DisplayName, &u.Email, &u.PasswordHash,
		&u.IsAdmin, &u.IsAccounting, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUser loads a user by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail loads a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetOffice loads an office by id.
func (r *Repository) GetOffice(ctx context.Context, id int64) (Office, error) {
	var o Office
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, name, currency, created_at, updated_at FROM offices WHERE id = $1`, id).
		Scan(&o.ID, &o.Code, &o.Name, &o.Currency, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Office{}, ErrNotFound
	}
	if err != nil {
		return Office{}, err
	}
	return o, nil
}

// GroupMembers returns the active users belonging to a group.
func (r *Repository) GroupMembers(ctx context.Context, groupID int64) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users u
JOIN user_group_members m ON m.user_id = u.id
WHERE m.group_id = $1 AND u.is_active ORDER BY u.display_name`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// IsGroupMember reports whether a user belongs to a group.
func (r *Repository) IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_group_members WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID).Scan(&ok)
	return ok, err
}
