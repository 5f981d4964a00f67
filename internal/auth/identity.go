// Package auth resolves request credentials to an Identity and guards handlers.
package auth

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// Scheme names how a request authenticated.
type Scheme string

const (
	SchemeBearer Scheme = "bearer"
	SchemeAPIKey Scheme = "api_key"
)

// Identity is the authenticated principal of a request.
type Identity struct {
	User   *entity.User
	Scheme Scheme
	// KeyID is set when Scheme is SchemeAPIKey.
	KeyID string
}

// UserID returns the id of the authenticated user, or 0.
func (i *Identity) UserID() int64 {
	if i == nil || i.User == nil {
		return 0
	}
	return i.User.ID
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom returns the identity stored by the Guard, if any.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}
