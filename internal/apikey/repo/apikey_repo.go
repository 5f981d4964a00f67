package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apikey/entity"
)

// NOTE: api_keys rows reference users(id) and are removed with their owner.

// KeyRepo stores API key records. Lookups that match nothing return sql.ErrNoRows.
type KeyRepo struct {
	db *sqlx.DB
}

func NewKeyRepo(db *sqlx.DB) *KeyRepo {
	return &KeyRepo{db: db}
}

// row mirrors the table; scopes need pq.StringArray to scan a TEXT[] column.
type row struct {
	ID         string         `db:"id"`
	OwnerID    int64          `db:"owner_id"`
	Digest     string         `db:"digest"`
	Name       string         `db:"name"`
	IsActive   bool           `db:"is_active"`
	Scopes     pq.StringArray `db:"scopes"`
	CreatedAt  time.Time      `db:"created_at"`
	LastUsedAt *time.Time     `db:"last_used_at"`
}

func (r row) toEntity() *entity.APIKey {
	scopes := []string(r.Scopes)
	if scopes == nil {
		scopes = []string{}
	}
	return &entity.APIKey{
		ID:         r.ID,
		OwnerID:    r.OwnerID,
		Digest:     r.Digest,
		Name:       r.Name,
		IsActive:   r.IsActive,
		Scopes:     scopes,
		CreatedAt:  r.CreatedAt,
		LastUsedAt: r.LastUsedAt,
	}
}

const keyColumns = `id, owner_id, digest, name, is_active, scopes, created_at, last_used_at`

// EnsureTable creates the api_keys table and its indexes (idempotent).
// The users table must exist first.
func (r *KeyRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS api_keys (
  id VARCHAR(32) PRIMARY KEY,
  owner_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  digest CHAR(64) NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  is_active BOOLEAN NOT NULL DEFAULT true,
  scopes TEXT[] NOT NULL DEFAULT '{}',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  last_used_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_api_keys_owner_id ON api_keys(owner_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Insert persists k and fills in CreatedAt.
func (r *KeyRepo) Insert(ctx context.Context, k *entity.APIKey) error {
	const q = `INSERT INTO api_keys (id, owner_id, digest, name, is_active, scopes)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`
	scopes := k.Scopes
	if scopes == nil {
		// a nil StringArray encodes as NULL
		scopes = []string{}
	}
	return r.db.QueryRowxContext(ctx, q, k.ID, k.OwnerID, k.Digest, k.Name, k.IsActive, pq.Array(scopes)).Scan(&k.CreatedAt)
}

// GetByDigest finds the key whose stored digest equals digest.
func (r *KeyRepo) GetByDigest(ctx context.Context, digest string) (*entity.APIKey, error) {
	var rw row
	if err := r.db.GetContext(ctx, &rw, `SELECT `+keyColumns+` FROM api_keys WHERE digest=$1`, digest); err != nil {
		return nil, err
	}
	return rw.toEntity(), nil
}

func (r *KeyRepo) GetByID(ctx context.Context, id string) (*entity.APIKey, error) {
	var rw row
	if err := r.db.GetContext(ctx, &rw, `SELECT `+keyColumns+` FROM api_keys WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return rw.toEntity(), nil
}

// ListForOwner returns the owner's keys, oldest first.
func (r *KeyRepo) ListForOwner(ctx context.Context, ownerID int64) ([]*entity.APIKey, error) {
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+keyColumns+` FROM api_keys WHERE owner_id=$1 ORDER BY created_at, id`, ownerID); err != nil {
		return nil, err
	}
	out := make([]*entity.APIKey, 0, len(rows))
	for _, rw := range rows {
		out = append(out, rw.toEntity())
	}
	return out, nil
}

func (r *KeyRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// Update applies a partial update in a single statement.
func (r *KeyRepo) Update(ctx context.Context, id string, u entity.Update) error {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.IsActive != nil {
		add("is_active", *u.IsActive)
	}
	if u.Scopes != nil {
		scopes := *u.Scopes
		if scopes == nil {
			scopes = []string{}
		}
		add("scopes", pq.Array(scopes))
	}
	if u.LastUsedAt != nil {
		add("last_used_at", *u.LastUsedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	q := fmt.Sprintf(`UPDATE api_keys SET %s WHERE id=$%d`, strings.Join(sets, ", "), len(args))
	res, err := r.db.ExecContext(ctx, q, args...)
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
