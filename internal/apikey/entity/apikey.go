package entity

import "time"

// APIKey is a long-lived bearer credential owned by a user. Only the digest
// of the raw secret is stored.
type APIKey struct {
	ID         string     `db:"id" json:"id"`
	OwnerID    int64      `db:"owner_id" json:"owner_id"`
	Digest     string     `db:"digest" json:"-"`
	Name       string     `db:"name" json:"name"`
	IsActive   bool       `db:"is_active" json:"is_active"`
	Scopes     []string   `db:"-" json:"scopes"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
}

// Update is a partial update; nil members are left unchanged.
type Update struct {
	Name       *string
	IsActive   *bool
	Scopes     *[]string
	LastUsedAt *time.Time
}
