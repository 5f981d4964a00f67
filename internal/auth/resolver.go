package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// Users is the lookup the resolver needs from the data store.
type Users interface {
	GetByID(ctx context.Context, id int64) (*entity.User, error)
}

// Resolver authenticates bearer access tokens. The referenced account is
// re-read on every call, so a ban takes effect on the next request.
type Resolver struct {
	codec  *token.Codec
	users  Users
	logger *zap.SugaredLogger
}

func NewResolver(codec *token.Codec, users Users, logger *zap.SugaredLogger) *Resolver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Resolver{codec: codec, users: users, logger: logger.Named("auth")}
}

// Resolve decodes an access token and returns the identity of its live, verified, unbanned owner.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*Identity, error) {
	p, err := r.codec.Decode(raw, token.Access)
	if err != nil {
		var se *security.Error
		if errors.As(err, &se) {
			msg := httpx.MsgInvalidToken
			if se.Kind == security.KindTokenExpired {
				msg = httpx.MsgExpiredToken
			}
			return nil, se.WithPublic(msg)
		}
		return nil, err
	}

	u, err := r.users.GetByID(ctx, p.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, rejectToken(security.KindCredentialNotFound, security.ReasonUserNotFound, p.Subject)
		}
		return nil, fmt.Errorf("loading token subject: %w", err)
	}
	if u.Banned {
		return nil, rejectToken(security.KindAccountBlocked, security.ReasonUserBanned, u.ID)
	}
	if !u.Verified {
		return nil, rejectToken(security.KindAccountBlocked, security.ReasonUserUnverified, u.ID)
	}
	return &Identity{User: u, Scheme: SchemeBearer}, nil
}

func rejectToken(kind security.Kind, reason string, userID int64) error {
	return security.New(kind, reason).WithUser(userID).WithPublic(httpx.MsgInvalidToken)
}
