package apikey

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apikey/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/security"
	userentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

const (
	// secretBytes of randomness follow the prefix, base64url encoded without padding.
	secretBytes = 32
	// secretLen is the encoded length of the random tail.
	secretLen = 43
	// maxNameLen bounds the display label.
	maxNameLen = 100
)

// PublicInvalid is the only message a client ever sees for a rejected key.
const PublicInvalid = "Invalid API key"

// ErrKeyNotFound is returned by Get and Delete for unknown ids.
var ErrKeyNotFound = errors.New("api key not found")

// Store is the data-store collaborator for key records.
type Store interface {
	Insert(ctx context.Context, k *entity.APIKey) error
	GetByDigest(ctx context.Context, digest string) (*entity.APIKey, error)
	GetByID(ctx context.Context, id string) (*entity.APIKey, error)
	ListForOwner(ctx context.Context, ownerID int64) ([]*entity.APIKey, error)
	Delete(ctx context.Context, id string) error
	Update(ctx context.Context, id string, u entity.Update) error
}

// Users resolves key owners.
type Users interface {
	GetByID(ctx context.Context, id int64) (*userentity.User, error)
}

// Manager generates, stores, validates and revokes API keys.
type Manager struct {
	store  Store
	users  Users
	prefix string
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewManager builds a Manager issuing keys that start with prefix.
func NewManager(store Store, users Users, prefix string, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{store: store, users: users, prefix: prefix, now: time.Now, logger: logger.Named("apikey")}
}

// Generate returns a new raw key: the prefix followed by 32 random bytes, base64url encoded.
func (m *Manager) Generate() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return m.prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Create stores a new key for owner and returns the record with the raw
// secret. The raw secret is not recoverable afterwards.
func (m *Manager) Create(ctx context.Context, owner *userentity.User, name string, scopes []string) (*entity.APIKey, string, error) {
	if owner == nil || owner.ID <= 0 {
		return nil, "", security.Validation("owner is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", security.Validation("name is required")
	}
	if len(name) > maxNameLen {
		return nil, "", security.Validation("name must be at most %d characters", maxNameLen)
	}

	raw, err := m.Generate()
	if err != nil {
		return nil, "", err
	}
	k := &entity.APIKey{
		ID:       utilities.NewKSUID(),
		OwnerID:  owner.ID,
		Digest:   security.HashKey(raw),
		Name:     name,
		IsActive: true,
		Scopes:   normalizeScopes(scopes),
	}
	if err := m.store.Insert(ctx, k); err != nil {
		return nil, "", fmt.Errorf("inserting api key: %w", err)
	}
	m.logger.Infow("api key created", "key_id", k.ID, "user_id", owner.ID)
	return k, raw, nil
}

// Validate resolves raw to its key record and owner. Each rejection carries a
// distinct reason code; all of them share the same public message.
func (m *Manager) Validate(ctx context.Context, raw string) (*entity.APIKey, *userentity.User, error) {
	if !m.wellFormed(raw) {
		return nil, nil, reject(security.KindTokenInvalid, security.ReasonKeyMalformed, 0)
	}

	k, err := m.store.GetByDigest(ctx, security.HashKey(raw))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, reject(security.KindCredentialNotFound, security.ReasonKeyNotFound, 0)
		}
		return nil, nil, fmt.Errorf("looking up api key: %w", err)
	}
	if !k.IsActive {
		return nil, nil, reject(security.KindCredentialNotFound, security.ReasonKeyInactive, k.OwnerID)
	}

	owner, err := m.users.GetByID(ctx, k.OwnerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, reject(security.KindCredentialNotFound, security.ReasonUserNotFound, k.OwnerID)
		}
		return nil, nil, fmt.Errorf("looking up api key owner: %w", err)
	}
	if owner.Banned {
		return nil, nil, reject(security.KindAccountBlocked, security.ReasonUserBanned, owner.ID)
	}
	if !owner.Verified {
		return nil, nil, reject(security.KindAccountBlocked, security.ReasonUserUnverified, owner.ID)
	}

	now := m.now().UTC()
	if err := m.store.Update(ctx, k.ID, entity.Update{LastUsedAt: &now}); err != nil {
		// the credential is still good; a stale last_used_at is not worth failing the request
		m.logger.Warnw("recording api key use failed", "key_id", k.ID, "err", err)
	} else {
		k.LastUsedAt = &now
	}
	return k, owner, nil
}

// Get returns the key with id.
func (m *Manager) Get(ctx context.Context, id string) (*entity.APIKey, error) {
	k, err := m.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return k, nil
}

// GetForOwner lists every key owned by ownerID.
func (m *Manager) GetForOwner(ctx context.Context, ownerID int64) ([]*entity.APIKey, error) {
	keys, err := m.store.ListForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []*entity.APIKey{}
	}
	return keys, nil
}

// Update renames, re-scopes or toggles a key and returns the new record.
func (m *Manager) Update(ctx context.Context, id string, name *string, active *bool, scopes []string) (*entity.APIKey, error) {
	u := entity.Update{IsActive: active}
	if name != nil {
		n := strings.TrimSpace(*name)
		if n == "" || len(n) > maxNameLen {
			return nil, security.Validation("name must be 1-%d characters", maxNameLen)
		}
		u.Name = &n
	}
	if scopes != nil {
		s := normalizeScopes(scopes)
		u.Scopes = &s
	}
	if err := m.store.Update(ctx, id, u); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	if active != nil {
		m.logger.Infow("api key state changed", "key_id", id, "is_active", *active)
	}
	return m.Get(ctx, id)
}

// Delete removes a key permanently.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrKeyNotFound
		}
		return err
	}
	m.logger.Infow("api key deleted", "key_id", id)
	return nil
}

// wellFormed checks the prefix and tail shape without touching the store.
func (m *Manager) wellFormed(raw string) bool {
	if !strings.HasPrefix(raw, m.prefix) {
		return false
	}
	tail := raw[len(m.prefix):]
	if len(tail) != secretLen {
		return false
	}
	for i := 0; i < len(tail); i++ {
		ch := tail[i]
		switch {
		case ch >= 'A' && ch <= 'Z', ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
		default:
			return false
		}
	}
	return true
}

func reject(kind security.Kind, reason string, userID int64) error {
	return security.New(kind, reason).WithUser(userID).WithPublic(PublicInvalid)
}

func normalizeScopes(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
