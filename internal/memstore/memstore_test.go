package memstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	keyentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/apikey/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
)

func TestUsers(t *testing.T) {
	ctx := context.Background()
	db := New()
	users := db.Users()

	u := &entity.User{Email: "Alice@Example.com", Role: entity.RoleUser}
	require.NoError(t, users.Create(ctx, u))
	assert.Equal(t, int64(1), u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	err := users.Create(ctx, &entity.User{Email: "alice@example.com"})
	assert.ErrorIs(t, err, userrepo.ErrDuplicateEmail)

	got, err := users.GetByEmail(ctx, "ALICE@example.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	// returned copies are detached from the store
	got.Banned = true
	again, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, again.Banned)

	banned := true
	require.NoError(t, users.UpdateFields(ctx, u.ID, entity.Fields{Banned: &banned}))
	again, err = users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, again.Banned)

	n, err := users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = users.GetByID(ctx, 99)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.ErrorIs(t, users.UpdateFields(ctx, 99, entity.Fields{Banned: &banned}), sql.ErrNoRows)
	assert.ErrorIs(t, users.Delete(ctx, 99), sql.ErrNoRows)
}

func TestUsers_UpdateEmailConflict(t *testing.T) {
	ctx := context.Background()
	users := New().Users()
	a := &entity.User{Email: "a@example.com"}
	b := &entity.User{Email: "b@example.com"}
	require.NoError(t, users.Create(ctx, a))
	require.NoError(t, users.Create(ctx, b))

	taken := "A@example.com"
	assert.ErrorIs(t, users.UpdateFields(ctx, b.ID, entity.Fields{Email: &taken}), userrepo.ErrDuplicateEmail)

	// re-casing your own address is fine
	own := "B@example.com"
	assert.NoError(t, users.UpdateFields(ctx, b.ID, entity.Fields{Email: &own}))
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	db := New()
	owner := &entity.User{Email: "bob@example.com"}
	require.NoError(t, db.Users().Create(ctx, owner))
	keys := db.Keys()

	k1 := &keyentity.APIKey{ID: "k1", OwnerID: owner.ID, Digest: "d1", Name: "one", IsActive: true, Scopes: []string{"read"}}
	require.NoError(t, keys.Insert(ctx, k1))
	db.now = func() time.Time { return k1.CreatedAt.Add(time.Second) }
	k2 := &keyentity.APIKey{ID: "k2", OwnerID: owner.ID, Digest: "d2", Name: "two", IsActive: true}
	require.NoError(t, keys.Insert(ctx, k2))

	assert.ErrorIs(t, keys.Insert(ctx, &keyentity.APIKey{ID: "k3", OwnerID: 42}), sql.ErrNoRows)

	got, err := keys.GetByDigest(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, "k2", got.ID)
	_, err = keys.GetByDigest(ctx, "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.Equal(t, 2, db.DigestLookups())

	list, err := keys.ListForOwner(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "k1", list[0].ID)
	assert.Equal(t, "k2", list[1].ID)

	off := false
	used := time.Now().UTC()
	require.NoError(t, keys.Update(ctx, "k1", keyentity.Update{IsActive: &off, LastUsedAt: &used}))
	got, err = keys.GetByID(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, used.Equal(*got.LastUsedAt))

	require.NoError(t, keys.Delete(ctx, "k1"))
	assert.ErrorIs(t, keys.Delete(ctx, "k1"), sql.ErrNoRows)

	// deleting the owner removes the rest
	require.NoError(t, db.Users().Delete(ctx, owner.ID))
	_, err = keys.GetByID(ctx, "k2")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestUsers_CreateAccountPromotesFirst(t *testing.T) {
	ctx := context.Background()
	users := New().Users()

	first := &entity.User{Email: "first@example.com", Role: entity.RoleUser}
	require.NoError(t, users.CreateAccount(ctx, first))
	assert.Equal(t, entity.RoleAdmin, first.Role)

	second := &entity.User{Email: "second@example.com", Role: entity.RoleUser}
	require.NoError(t, users.CreateAccount(ctx, second))
	assert.Equal(t, entity.RoleUser, second.Role)

	got, err := users.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RoleAdmin, got.Role)

	assert.ErrorIs(t, users.CreateAccount(ctx, &entity.User{Email: "FIRST@example.com"}), userrepo.ErrDuplicateEmail)
}
