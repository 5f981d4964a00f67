package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/httpx"
)

// HeaderAPIKey carries a raw API key.
const HeaderAPIKey = "X-API-Key"

// Guard runs the gate before next and stores the identity in the request context.
func Guard(g *Gate, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := g.Authenticate(r.Context(), CredentialsFrom(r))
			if err != nil {
				httpx.WriteError(w, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// AdminOnly rejects requests whose identity is not an admin. It must run after Guard.
func AdminOnly(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := IdentityFrom(r.Context())
			if err := RequireAdmin(id); err != nil {
				httpx.WriteError(w, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CredentialsFrom reads the bearer token and API key headers. An Authorization
// header with another scheme is passed through whole so it fails as malformed
// instead of being ignored.
func CredentialsFrom(r *http.Request) Credentials {
	c := Credentials{APIKey: strings.TrimSpace(r.Header.Get(HeaderAPIKey))}
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return c
	}
	if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		c.Bearer = strings.TrimSpace(tok)
		if c.Bearer == "" {
			c.Bearer = h
		}
		return c
	}
	c.Bearer = h
	return c
}
