package entity

import "time"

// Role is the authorization level of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents an account row in the `users` table.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	Role         Role      `db:"role" json:"role"`
	Banned       bool      `db:"banned" json:"banned"`
	Verified     bool      `db:"verified" json:"verified"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// IsAdmin reports whether the account holds the admin role.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// Fields is a partial update; nil members are left unchanged.
type Fields struct {
	Email        *string
	PasswordHash *string
	FirstName    *string
	LastName     *string
	Role         *Role
	Banned       *bool
	Verified     *bool
}

// Empty reports whether no member is set.
func (f Fields) Empty() bool {
	return f.Email == nil && f.PasswordHash == nil && f.FirstName == nil &&
		f.LastName == nil && f.Role == nil && f.Banned == nil && f.Verified == nil
}

// Apply copies the set members of f onto u.
func (f Fields) Apply(u *User) {
	if f.Email != nil {
		u.Email = *f.Email
	}
	if f.PasswordHash != nil {
		u.PasswordHash = *f.PasswordHash
	}
	if f.FirstName != nil {
		u.FirstName = *f.FirstName
	}
	if f.LastName != nil {
		u.LastName = *f.LastName
	}
	if f.Role != nil {
		u.Role = *f.Role
	}
	if f.Banned != nil {
		u.Banned = *f.Banned
	}
	if f.Verified != nil {
		u.Verified = *f.Verified
	}
}
