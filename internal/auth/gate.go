package auth

import (
	"context"
	"errors"

	"go.uber.org/zap"

	keyentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/apikey/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// ReasonRejected marks a gate failure where a credential was presented but none held.
const ReasonRejected = "CREDENTIAL_REJECTED"

// KeyValidator resolves a raw API key to its record and owner.
type KeyValidator interface {
	Validate(ctx context.Context, raw string) (*keyentity.APIKey, *entity.User, error)
}

// Credentials are the raw values a request presented. Empty means absent.
type Credentials struct {
	Bearer string
	APIKey string
}

// Gate combines the bearer and API key paths. A bearer token that resolves
// always wins; the key is only consulted when it does not.
type Gate struct {
	tokens *Resolver
	keys   KeyValidator
	logger *zap.SugaredLogger
}

func NewGate(tokens *Resolver, keys KeyValidator, logger *zap.SugaredLogger) *Gate {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Gate{tokens: tokens, keys: keys, logger: logger.Named("auth")}
}

// Authenticate returns the request identity or an Unauthenticated error.
// Store failures are returned as-is so they surface as internal errors.
func (g *Gate) Authenticate(ctx context.Context, c Credentials) (*Identity, error) {
	var failures []error

	if c.Bearer != "" {
		id, err := g.tokens.Resolve(ctx, c.Bearer)
		if err == nil {
			return id, nil
		}
		if !isCredentialFailure(err) {
			return nil, err
		}
		g.logRejection(SchemeBearer, err)
		failures = append(failures, err)
	}

	if c.APIKey != "" {
		k, owner, err := g.keys.Validate(ctx, c.APIKey)
		if err == nil {
			return &Identity{User: owner, Scheme: SchemeAPIKey, KeyID: k.ID}, nil
		}
		if !isCredentialFailure(err) {
			return nil, err
		}
		g.logRejection(SchemeAPIKey, err)
		failures = append(failures, err)
	}

	if len(failures) == 0 {
		return nil, security.New(security.KindUnauthenticated, security.ReasonNoCredential).WithPublic(httpx.MsgNotAuthenticated)
	}

	// the first presented credential decides what the client is told
	var first *security.Error
	errors.As(failures[0], &first)
	out := security.Wrap(security.KindUnauthenticated, ReasonRejected, errors.Join(failures...))
	out.UserID = first.UserID
	out.Public = first.Public
	return nil, out
}

func (g *Gate) logRejection(scheme Scheme, err error) {
	var se *security.Error
	errors.As(err, &se)
	fields := []any{"scheme", string(scheme), "kind", se.Kind.String(), "reason", se.Reason}
	if se.UserID != 0 {
		fields = append(fields, "user_id", se.UserID)
	}
	if se.Kind == security.KindTokenInvalid {
		g.logger.Warnw("credential rejected", fields...)
		return
	}
	g.logger.Infow("credential rejected", fields...)
}

func isCredentialFailure(err error) bool {
	var se *security.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Kind {
	case security.KindTokenExpired, security.KindTokenInvalid, security.KindCredentialNotFound, security.KindAccountBlocked:
		return true
	}
	return false
}
