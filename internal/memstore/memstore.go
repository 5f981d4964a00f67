// Package memstore implements the user and API key stores in memory for
// development and testing. Lookups that match nothing return sql.ErrNoRows,
// the same as the Postgres repositories.
package memstore

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	keyentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/apikey/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
)

// DB holds users and keys behind a single mutex.
type DB struct {
	mu     sync.Mutex
	users  map[int64]*entity.User
	keys   map[string]*keyentity.APIKey
	nextID int64
	now    func() time.Time

	digestLookups int
}

// New creates an empty store.
func New() *DB {
	return &DB{
		users: make(map[int64]*entity.User),
		keys:  make(map[string]*keyentity.APIKey),
		now:   time.Now,
	}
}

// Users returns the user store view.
func (db *DB) Users() *Users { return &Users{db: db} }

// Keys returns the API key store view.
func (db *DB) Keys() *Keys { return &Keys{db: db} }

// DigestLookups reports how many times a key was looked up by digest.
func (db *DB) DigestLookups() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.digestLookups
}

// --- users ---

// Users is the user view of DB.
type Users struct{ db *DB }

func (s *Users) Create(ctx context.Context, u *entity.User) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.createUser(u)
}

// CreateAccount stores u as admin when no user exists yet.
func (s *Users) CreateAccount(ctx context.Context, u *entity.User) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.users) == 0 {
		u.Role = entity.RoleAdmin
	}
	return db.createUser(u)
}

func (db *DB) createUser(u *entity.User) error {
	if db.emailTaken(u.Email, 0) {
		return userrepo.ErrDuplicateEmail
	}
	db.nextID++
	now := db.now().UTC()
	u.ID = db.nextID
	u.CreatedAt = now
	u.UpdatedAt = now
	c := *u
	db.users[c.ID] = &c
	return nil
}

func (s *Users) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *u
	return &c, nil
}

// GetByEmail matches case-insensitively.
func (s *Users) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *Users) Count(ctx context.Context) (int, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.users), nil
}

func (s *Users) UpdateFields(ctx context.Context, id int64, f entity.Fields) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	if f.Empty() {
		return nil
	}
	if f.Email != nil && db.emailTaken(*f.Email, id) {
		return userrepo.ErrDuplicateEmail
	}
	f.Apply(u)
	u.UpdatedAt = db.now().UTC()
	return nil
}

// Delete removes the user and every key it owns.
func (s *Users) Delete(ctx context.Context, id int64) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(db.users, id)
	for kid, k := range db.keys {
		if k.OwnerID == id {
			delete(db.keys, kid)
		}
	}
	return nil
}

func (db *DB) emailTaken(email string, except int64) bool {
	for id, u := range db.users {
		if id != except && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

// --- api keys ---

// Keys is the API key view of DB.
type Keys struct{ db *DB }

func (s *Keys) Insert(ctx context.Context, k *keyentity.APIKey) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.users[k.OwnerID]; !ok {
		return sql.ErrNoRows
	}
	k.CreatedAt = db.now().UTC()
	db.keys[k.ID] = cloneKey(k)
	return nil
}

func (s *Keys) GetByDigest(ctx context.Context, digest string) (*keyentity.APIKey, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	db.digestLookups++
	for _, k := range db.keys {
		if k.Digest == digest {
			return cloneKey(k), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *Keys) GetByID(ctx context.Context, id string) (*keyentity.APIKey, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	k, ok := db.keys[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneKey(k), nil
}

// ListForOwner returns the owner's keys, oldest first.
func (s *Keys) ListForOwner(ctx context.Context, ownerID int64) ([]*keyentity.APIKey, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]*keyentity.APIKey, 0)
	for _, k := range db.keys {
		if k.OwnerID == ownerID {
			out = append(out, cloneKey(k))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Keys) Delete(ctx context.Context, id string) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.keys[id]; !ok {
		return sql.ErrNoRows
	}
	delete(db.keys, id)
	return nil
}

func (s *Keys) Update(ctx context.Context, id string, u keyentity.Update) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()

	k, ok := db.keys[id]
	if !ok {
		return sql.ErrNoRows
	}
	if u.Name != nil {
		k.Name = *u.Name
	}
	if u.IsActive != nil {
		k.IsActive = *u.IsActive
	}
	if u.Scopes != nil {
		k.Scopes = append([]string{}, (*u.Scopes)...)
	}
	if u.LastUsedAt != nil {
		t := *u.LastUsedAt
		k.LastUsedAt = &t
	}
	return nil
}

func cloneKey(k *keyentity.APIKey) *keyentity.APIKey {
	c := *k
	c.Scopes = append([]string{}, k.Scopes...)
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}
