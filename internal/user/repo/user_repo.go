package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// ErrDuplicateEmail is returned by Create when the email is already taken.
var ErrDuplicateEmail = errors.New("email already registered")

// UserRepo provides data access for users table using sqlx.
// Lookups that match nothing return sql.ErrNoRows.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, email, password_hash, first_name, last_name, role, banned, verified, created_at, updated_at`

// EnsureTable creates the users table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  email CITEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'user',
  banned BOOLEAN NOT NULL DEFAULT false,
  verified BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const insertUser = `INSERT INTO users (email, password_hash, first_name, last_name, role, banned, verified)
		VALUES (:email, :password_hash, :first_name, :last_name, :role, :banned, :verified)
		RETURNING id, created_at, updated_at`

// Create inserts a new user row and fills in ID and timestamps.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	return insert(ctx, r.db, u)
}

// CreateAccount inserts u like Create, but stores it as admin when the table
// is empty. The emptiness check and the insert run under a table lock, so
// concurrent first sign-ups yield exactly one admin.
func (r *UserRepo) CreateAccount(ctx context.Context, u *entity.User) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// SHARE ROW EXCLUSIVE conflicts with itself and with plain inserts
	if _, err := tx.ExecContext(ctx, `LOCK TABLE users IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("locking users: %w", err)
	}
	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM users)`); err != nil {
		return err
	}
	if !exists {
		u.Role = entity.RoleAdmin
	}
	if err := insert(ctx, tx, u); err != nil {
		return err
	}
	return tx.Commit()
}

func insert(ctx context.Context, ext sqlx.ExtContext, u *entity.User) error {
	rows, err := sqlx.NamedQueryContext(ctx, ext, insertUser, u)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return errors.New("no id returned")
	}
	return rows.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
}

// GetByID fetches a full user row.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	var u entity.User
	if err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail returns a user matched by email (case-insensitive due to citext).
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	var u entity.User
	if err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE email=$1`, email); err != nil {
		return nil, err
	}
	return &u, nil
}

// Count returns the number of accounts.
func (r *UserRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, err
	}
	return n, nil
}

// UpdateFields applies a partial update in a single statement.
func (r *UserRepo) UpdateFields(ctx context.Context, id int64, f entity.Fields) error {
	if f.Empty() {
		return nil
	}
	sets := make([]string, 0, 8)
	args := make([]any, 0, 8)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if f.Email != nil {
		add("email", *f.Email)
	}
	if f.PasswordHash != nil {
		add("password_hash", *f.PasswordHash)
	}
	if f.FirstName != nil {
		add("first_name", *f.FirstName)
	}
	if f.LastName != nil {
		add("last_name", *f.LastName)
	}
	if f.Role != nil {
		add("role", string(*f.Role))
	}
	if f.Banned != nil {
		add("banned", *f.Banned)
	}
	if f.Verified != nil {
		add("verified", *f.Verified)
	}
	args = append(args, id)
	q := fmt.Sprintf(`UPDATE users SET %s, updated_at=NOW() WHERE id=$%d`, strings.Join(sets, ", "), len(args))
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return err
	}
	return expectOne(res)
}

// Delete removes a user; the api_keys foreign key cascades.
func (r *UserRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
