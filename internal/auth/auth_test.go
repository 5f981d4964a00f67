package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apikey"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/memstore"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

type env struct {
	db    *memstore.DB
	codec *token.Codec
	keys  *apikey.Manager
	gate  *auth.Gate
	clock time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{db: memstore.New(), clock: time.Now()}
	codec, err := token.NewCodec(token.Config{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		AccessTTL:  120 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
		VerifyTTL:  10 * time.Minute,
		ResetTTL:   30 * time.Minute,
		Now:        func() time.Time { return e.clock },
	}, nil)
	require.NoError(t, err)
	e.codec = codec
	e.keys = apikey.NewManager(e.db.Keys(), e.db.Users(), "pk_", nil)
	e.gate = auth.NewGate(auth.NewResolver(codec, e.db.Users(), nil), e.keys, nil)
	return e
}

func (e *env) user(t *testing.T, email string, role entity.Role) *entity.User {
	t.Helper()
	u := &entity.User{Email: email, Role: role, Verified: true}
	require.NoError(t, e.db.Users().Create(context.Background(), u))
	return u
}

func (e *env) access(t *testing.T, u *entity.User) string {
	t.Helper()
	raw, err := e.codec.EncodeAccess(u)
	require.NoError(t, err)
	return raw
}

func (e *env) key(t *testing.T, u *entity.User) string {
	t.Helper()
	_, raw, err := e.keys.Create(context.Background(), u, "test", nil)
	require.NoError(t, err)
	return raw
}

func TestGate_JWTTakesPrecedence(t *testing.T) {
	e := newEnv(t)
	one := e.user(t, "one@example.com", entity.RoleUser)
	two := e.user(t, "two@example.com", entity.RoleUser)

	id, err := e.gate.Authenticate(context.Background(), auth.Credentials{Bearer: e.access(t, one), APIKey: e.key(t, two)})
	require.NoError(t, err)
	assert.Equal(t, one.ID, id.UserID())
	assert.Equal(t, auth.SchemeBearer, id.Scheme)
	assert.Empty(t, id.KeyID)
}

func TestGate_FallsBackToKey(t *testing.T) {
	e := newEnv(t)
	one := e.user(t, "one@example.com", entity.RoleUser)
	two := e.user(t, "two@example.com", entity.RoleUser)
	raw := e.key(t, two)

	id, err := e.gate.Authenticate(context.Background(), auth.Credentials{APIKey: raw})
	require.NoError(t, err)
	assert.Equal(t, two.ID, id.UserID())
	assert.Equal(t, auth.SchemeAPIKey, id.Scheme)
	assert.NotEmpty(t, id.KeyID)

	// an expired bearer token does not block a good key
	stale := e.access(t, one)
	e.clock = e.clock.Add(3 * time.Hour)
	id, err = e.gate.Authenticate(context.Background(), auth.Credentials{Bearer: stale, APIKey: raw})
	require.NoError(t, err)
	assert.Equal(t, two.ID, id.UserID())
}

func TestGate_NothingPresented(t *testing.T) {
	e := newEnv(t)
	_, err := e.gate.Authenticate(context.Background(), auth.Credentials{})
	assert.ErrorIs(t, err, security.ErrUnauthenticated)
	assert.Equal(t, security.ReasonNoCredential, security.ReasonOf(err))

	_, msg := httpx.Status(err)
	assert.Contains(t, msg, "Bearer")
	assert.Contains(t, msg, "X-API-Key")
}

func TestGate_BothRejectedKeepsCauses(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "one@example.com", entity.RoleUser)
	bearer := e.access(t, u)
	e.clock = e.clock.Add(3 * time.Hour)

	_, err := e.gate.Authenticate(context.Background(), auth.Credentials{Bearer: bearer, APIKey: "pk_nope"})
	assert.ErrorIs(t, err, security.ErrUnauthenticated)
	assert.ErrorIs(t, err, security.ErrTokenExpired)
	assert.ErrorIs(t, err, security.ErrTokenInvalid)
	assert.Equal(t, auth.ReasonRejected, security.ReasonOf(err))

	_, msg := httpx.Status(err)
	assert.Equal(t, httpx.MsgExpiredToken, msg)
}

func TestResolver_BanAfterIssueIsRejected(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "one@example.com", entity.RoleUser)
	raw := e.access(t, u)

	_, err := e.gate.Authenticate(context.Background(), auth.Credentials{Bearer: raw})
	require.NoError(t, err)

	banned := true
	require.NoError(t, e.db.Users().UpdateFields(context.Background(), u.ID, entity.Fields{Banned: &banned}))

	_, err = e.gate.Authenticate(context.Background(), auth.Credentials{Bearer: raw})
	assert.ErrorIs(t, err, security.ErrAccountBlocked)
	var se *security.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, u.ID, se.UserID)
}

func TestResolver_BlockedAndMissingLookAlike(t *testing.T) {
	e := newEnv(t)
	unverified := &entity.User{Email: "u@example.com", Role: entity.RoleUser}
	require.NoError(t, e.db.Users().Create(context.Background(), unverified))
	gone := e.user(t, "gone@example.com", entity.RoleUser)
	goneToken := e.access(t, gone)
	require.NoError(t, e.db.Users().Delete(context.Background(), gone.ID))

	r := auth.NewResolver(e.codec, e.db.Users(), nil)
	_, errBlocked := r.Resolve(context.Background(), e.access(t, unverified))
	_, errMissing := r.Resolve(context.Background(), goneToken)

	assert.ErrorIs(t, errBlocked, security.ErrAccountBlocked)
	assert.ErrorIs(t, errMissing, security.ErrCredentialNotFound)
	s1, m1 := httpx.Status(errBlocked)
	s2, m2 := httpx.Status(errMissing)
	assert.Equal(t, s1, s2)
	assert.Equal(t, m1, m2)
}

func TestResolver_RefreshTokenNotAccepted(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "one@example.com", entity.RoleUser)
	raw, err := e.codec.EncodeRefresh(u)
	require.NoError(t, err)

	_, err = auth.NewResolver(e.codec, e.db.Users(), nil).Resolve(context.Background(), raw)
	assert.ErrorIs(t, err, security.ErrTokenInvalid)
}

func TestAuthz(t *testing.T) {
	admin := &auth.Identity{User: &entity.User{ID: 1, Role: entity.RoleAdmin}}
	user := &auth.Identity{User: &entity.User{ID: 2, Role: entity.RoleUser}}

	assert.True(t, auth.IsAdmin(admin))
	assert.False(t, auth.IsAdmin(user))
	assert.False(t, auth.IsAdmin(nil))

	assert.True(t, auth.CanEdit(admin, 2))
	assert.True(t, auth.CanEdit(user, 2))
	assert.False(t, auth.CanEdit(user, 1))
	assert.False(t, auth.CanEdit(nil, 1))

	assert.NoError(t, auth.RequireAdmin(admin))
	assert.ErrorIs(t, auth.RequireAdmin(user), security.ErrForbidden)
	assert.ErrorIs(t, auth.RequireAdmin(nil), security.ErrForbidden)
	assert.ErrorIs(t, auth.RequireEditor(user, 1), security.ErrForbidden)
}

func TestCredentialsFrom(t *testing.T) {
	tests := []struct {
		header, key string
		want        auth.Credentials
	}{
		{"", "", auth.Credentials{}},
		{"Bearer abc", "", auth.Credentials{Bearer: "abc"}},
		{"bearer  abc ", "pk_x", auth.Credentials{Bearer: "abc", APIKey: "pk_x"}},
		{"Basic Zm9vOmJhcg==", "", auth.Credentials{Bearer: "Basic Zm9vOmJhcg=="}},
		{"Bearer", "", auth.Credentials{Bearer: "Bearer"}},
	}
	for _, tc := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		if tc.key != "" {
			r.Header.Set(auth.HeaderAPIKey, tc.key)
		}
		assert.Equal(t, tc.want, auth.CredentialsFrom(r), "header %q", tc.header)
	}
}

func TestGuardAndAdminOnly(t *testing.T) {
	e := newEnv(t)
	admin := e.user(t, "admin@example.com", entity.RoleAdmin)
	user := e.user(t, "user@example.com", entity.RoleUser)

	var seen *auth.Identity
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.IdentityFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := auth.Guard(e.gate, nil)(auth.AdminOnly(nil)(ok))

	do := func(hdr, val string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if hdr != "" {
			r.Header.Set(hdr, val)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	w := do("", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer, APIKey", w.Header().Get("WWW-Authenticate"))

	w = do("Authorization", "Bearer "+e.access(t, user))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"Not Authorized"}`, w.Body.String())

	w = do(auth.HeaderAPIKey, e.key(t, admin))
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, admin.ID, seen.UserID())
	assert.Equal(t, auth.SchemeAPIKey, seen.Scheme)
}
