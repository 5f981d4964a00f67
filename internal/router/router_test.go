package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/admin"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apikey"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/memstore"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

type inbox struct{ verify, reset map[string]string }

func (m *inbox) SendVerification(ctx context.Context, u *entity.User, tok string) error {
	m.verify[u.Email] = tok
	return nil
}

func (m *inbox) SendPasswordReset(ctx context.Context, u *entity.User, tok string) error {
	m.reset[u.Email] = tok
	return nil
}

type server struct {
	t     *testing.T
	h     http.Handler
	inbox *inbox
	db    *memstore.DB
}

func newServer(t *testing.T, ping func(context.Context) error) *server {
	t.Helper()
	db := memstore.New()
	hasher := security.NewHasher(4)
	codec, err := token.NewCodec(token.Config{
		Secret: secret, AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour,
		VerifyTTL: 10 * time.Minute, ResetTTL: 30 * time.Minute,
	}, nil)
	require.NoError(t, err)
	box := &inbox{verify: map[string]string{}, reset: map[string]string{}}
	svc, err := user.NewService(db.Users(), hasher, codec, box, nil)
	require.NoError(t, err)
	keys := apikey.NewManager(db.Keys(), db.Users(), "pk_", nil)
	backend, err := admin.NewBackend(db.Users(), hasher, admin.Config{Secret: secret, TTL: time.Hour}, nil)
	require.NoError(t, err)

	h := New(Deps{
		IDs:     utilities.NewIDGenerator(1),
		Gate:    auth.NewGate(auth.NewResolver(codec, db.Users(), nil), keys, nil),
		Users:   user.NewHandler(svc, nil, nil),
		APIKeys: apikey.NewHandler(keys, nil),
		Admin:   admin.NewHandler(backend, nil, nil),
		Ping:    ping,
	})
	return &server{t: t, h: h, inbox: box, db: db}
}

func (s *server) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.h.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// signup registers, verifies and logs in, returning the user and an access token.
func (s *server) signup(email string) (entity.User, string) {
	s.t.Helper()
	w := s.do(http.MethodPost, "/register", map[string]string{"email": email, "password": "password-123"})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	u := decode[entity.User](s.t, w)

	w = s.do(http.MethodGet, "/verify?code="+s.inbox.verify[email], nil)
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/login", map[string]string{"email": email, "password": "password-123"})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	return u, decode[user.TokenPair](s.t, w).AccessToken
}

func TestHealth(t *testing.T) {
	s := newServer(t, nil)
	w := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = s.do(http.MethodGet, "/health", nil, HeaderRequestID, "abc-123")
	assert.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))

	down := newServer(t, func(context.Context) error { return errors.New("db down") })
	assert.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/health", nil).Code)
}

func TestBearerAndKeyFlow(t *testing.T) {
	s := newServer(t, nil)
	root, rootTok := s.signup("root@example.com")
	bob, bobTok := s.signup("bob@example.com")
	assert.Equal(t, entity.RoleAdmin, root.Role)
	assert.Equal(t, entity.RoleUser, bob.Role)

	w := s.do(http.MethodGet, "/users/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/users/me", nil, "Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, bob.ID, decode[entity.User](t, w).ID)
	assert.NotContains(t, w.Body.String(), "password")

	w = s.do(http.MethodPost, "/api-keys", map[string]any{"name": "ci"}, "Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[apikey.CreateResponse](t, w)
	require.NotEmpty(t, created.Key)

	w = s.do(http.MethodGet, "/users/me", nil, auth.HeaderAPIKey, created.Key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, bob.ID, decode[entity.User](t, w).ID)

	// bearer wins over the key
	w = s.do(http.MethodGet, "/users/me", nil, "Authorization", "Bearer "+rootTok, auth.HeaderAPIKey, created.Key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, root.ID, decode[entity.User](t, w).ID)

	// listing never shows the raw key again
	w = s.do(http.MethodGet, "/api-keys", nil, auth.HeaderAPIKey, created.Key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), created.Key)
	assert.Len(t, decode[[]map[string]any](t, w), 1)

	// a deactivated key stops working
	w = s.do(http.MethodPatch, "/api-keys/"+created.ID, map[string]any{"is_active": false}, "Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/users/me", nil, auth.HeaderAPIKey, created.Key)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Invalid API key"}`, w.Body.String())

	w = s.do(http.MethodGet, "/api-keys/by-user/"+strconv.FormatInt(bob.ID, 10), nil, "Authorization", "Bearer "+bobTok)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodGet, "/api-keys/by-user/"+strconv.FormatInt(bob.ID, 10), nil, "Authorization", "Bearer "+rootTok)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodDelete, "/api-keys/by-user/"+strconv.FormatInt(bob.ID, 10)+"/"+created.ID, nil, "Authorization", "Bearer "+rootTok)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodGet, "/api-keys/"+created.ID, nil, "Authorization", "Bearer "+bobTok)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBanRevokesBothCredentials(t *testing.T) {
	s := newServer(t, nil)
	_, rootTok := s.signup("root@example.com")
	bob, bobTok := s.signup("bob@example.com")

	w := s.do(http.MethodPost, "/api-keys", map[string]any{"name": "ci"}, "Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusCreated, w.Code)
	key := decode[apikey.CreateResponse](t, w).Key

	bobPath := "/users/" + strconv.FormatInt(bob.ID, 10)
	w = s.do(http.MethodPost, bobPath+"/ban", nil, "Authorization", "Bearer "+bobTok)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodPost, bobPath+"/ban", nil, "Authorization", "Bearer "+rootTok)
	require.Equal(t, http.StatusOK, w.Code)

	unknown := s.do(http.MethodGet, "/users/me", nil, auth.HeaderAPIKey, "pk_"+strings.Repeat("A", 43))
	banned := s.do(http.MethodGet, "/users/me", nil, auth.HeaderAPIKey, key)
	assert.Equal(t, unknown.Code, banned.Code)
	assert.Equal(t, unknown.Body.String(), banned.Body.String())

	w = s.do(http.MethodGet, "/users/me", nil, "Authorization", "Bearer "+bobTok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"That token is Invalid"}`, w.Body.String())
}

func TestUserRoutes(t *testing.T) {
	s := newServer(t, nil)
	_, rootTok := s.signup("root@example.com")
	bob, bobTok := s.signup("bob@example.com")
	bobPath := "/users/" + strconv.FormatInt(bob.ID, 10)

	w := s.do(http.MethodPut, bobPath, map[string]any{"first_name": "Bob"}, "Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Bob", decode[entity.User](t, w).FirstName)

	w = s.do(http.MethodGet, "/users/1", nil, "Authorization", "Bearer "+bobTok)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodGet, "/users/999", nil, "Authorization", "Bearer "+rootTok)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(http.MethodGet, "/users/abc", nil, "Authorization", "Bearer "+rootTok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, bobPath+"/password", map[string]string{"current_password": "password-123", "new_password": "another-pass"}, "Authorization", "Bearer "+bobTok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/login", map[string]string{"email": "bob@example.com", "password": "another-pass"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, bobPath+"/admin", nil, "Authorization", "Bearer "+rootTok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, entity.RoleAdmin, decode[entity.User](t, w).Role)

	w = s.do(http.MethodDelete, bobPath, nil, "Authorization", "Bearer "+bobTok)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodGet, "/users/me", nil, "Authorization", "Bearer "+bobTok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRecoveryFlowRoutes(t *testing.T) {
	s := newServer(t, nil)
	s.signup("root@example.com")

	w := s.do(http.MethodPost, "/forgot-password", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = s.do(http.MethodPost, "/forgot-password", map[string]string{"email": "root@example.com"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(http.MethodPost, "/reset-password", map[string]string{"token": s.inbox.reset["root@example.com"], "new_password": "reset-password-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/login", map[string]string{"email": "root@example.com", "password": "reset-password-1"})
	require.Equal(t, http.StatusOK, w.Code)
	pair := decode[user.TokenPair](t, w)

	w = s.do(http.MethodPost, "/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[user.TokenPair](t, w).AccessToken)

	w = s.do(http.MethodPost, "/refresh", map[string]string{"refresh_token": pair.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/login", map[string]string{"email": "root@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t, nil)
	s.signup("root@example.com")

	w := s.do(http.MethodPost, "/admin/login", map[string]string{"email": "root@example.com", "password": "password-123"})
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)

	r := httptest.NewRequest(http.MethodGet, "/admin/session", nil)
	r.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/admin/session", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/admin/logout", nil).Code)
}
