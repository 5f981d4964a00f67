// Package admin authenticates the admin console with encrypted session tokens.
package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// ErrLoginFailed is the only login failure callers see.
var ErrLoginFailed = errors.New("admin: invalid credentials")

// Users is the lookup the backend needs from the data store.
type Users interface {
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
}

// Config configures the backend.
type Config struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

// Backend issues and checks admin session tokens.
type Backend struct {
	users  Users
	hasher *security.Hasher
	sealer *sealer
	// dummy is verified against when the email is unknown, so the bcrypt
	// cost is paid on every attempt.
	dummy  string
	logger *zap.SugaredLogger
}

func NewBackend(users Users, hasher *security.Hasher, cfg Config, logger *zap.SugaredLogger) (*Backend, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("admin: secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("admin: session ttl must be positive")
	}
	dummy, err := hasher.Hash("admin-console-placeholder")
	if err != nil {
		return nil, fmt.Errorf("admin: preparing placeholder hash: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Backend{
		users:  users,
		hasher: hasher,
		sealer: newSealer(cfg.Secret, cfg.TTL, cfg.Now),
		dummy:  dummy,
		logger: logger.Named("admin"),
	}, nil
}

// TTL is the lifetime of a session token.
func (b *Backend) TTL() time.Duration { return b.sealer.ttl }

// Login returns a session token when the account exists, the password
// matches, the role is admin and the account is not banned. All four are
// evaluated before they are combined.
func (b *Backend) Login(ctx context.Context, email, password string) (string, error) {
	u, err := b.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("admin: loading user: %w", err)
	}
	found := err == nil
	digest := b.dummy
	if found {
		digest = u.PasswordHash
	}
	matched, verr := b.hasher.Verify(password, digest)
	passwordOK := verr == nil && matched
	isAdmin := found && u.Role == entity.RoleAdmin
	notBanned := found && !u.Banned

	if found && passwordOK && isAdmin && notBanned {
		tok, err := b.sealer.seal(u.ID)
		if err != nil {
			return "", fmt.Errorf("admin: sealing session: %w", err)
		}
		b.logger.Infow("admin login", "user_id", u.ID)
		return tok, nil
	}

	var uid int64
	if found {
		uid = u.ID
	}
	b.logger.Infow("admin login rejected", "user_id", uid,
		"found", found, "password_ok", passwordOK, "is_admin", isAdmin, "not_banned", notBanned)
	return "", ErrLoginFailed
}

// Authenticate opens tok and re-checks the account. It reports false for any
// failure, including an unreadable or expired token.
func (b *Backend) Authenticate(ctx context.Context, tok string) (*entity.User, bool) {
	if tok == "" {
		return nil, false
	}
	id, err := b.sealer.open(tok)
	if err != nil {
		b.logger.Debugw("admin session rejected", "reason", "unreadable")
		return nil, false
	}
	u, err := b.users.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			b.logger.Errorw("admin session lookup failed", "user_id", id, "err", err)
		}
		return nil, false
	}
	if u.Role != entity.RoleAdmin || u.Banned {
		b.logger.Infow("admin session rejected", "user_id", id, "role", string(u.Role), "banned", u.Banned)
		return nil, false
	}
	return u, true
}
