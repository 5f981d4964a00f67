package token

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// Kind is the purpose a token was issued for, carried in the "typ" claim.
type Kind string

const (
	Access  Kind = "access"
	Refresh Kind = "refresh"
	Verify  Kind = "verify"
	Reset   Kind = "reset"
)

// maxTokenLen bounds what Decode is willing to look at.
const maxTokenLen = 4096

var segmentEncoding = base64.RawURLEncoding.Strict()

// Config holds the signing secret and per-kind lifetimes.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	VerifyTTL  time.Duration
	ResetTTL   time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Payload is the verified content of a token.
type Payload struct {
	Subject   int64
	Kind      Kind
	ExpiresAt time.Time
}

// Codec issues and verifies HS256-signed tokens.
type Codec struct {
	secret []byte
	ttl    map[Kind]time.Duration
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewCodec validates cfg and builds a Codec.
func NewCodec(cfg Config, logger *zap.SugaredLogger) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}
	ttl := map[Kind]time.Duration{
		Access:  cfg.AccessTTL,
		Refresh: cfg.RefreshTTL,
		Verify:  cfg.VerifyTTL,
		Reset:   cfg.ResetTTL,
	}
	for k, d := range ttl {
		if d <= 0 {
			return nil, errors.New("token: ttl for " + string(k) + " must be positive")
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Codec{secret: cfg.Secret, ttl: ttl, now: now, logger: logger.Named("token")}, nil
}

// EncodeAccess issues a short-lived session token for u.
func (c *Codec) EncodeAccess(u *entity.User) (string, error) { return c.encode(u, Access) }

// EncodeRefresh issues a long-lived token that can be exchanged for access tokens.
func (c *Codec) EncodeRefresh(u *entity.User) (string, error) { return c.encode(u, Refresh) }

// EncodeVerify issues an email-verification token.
func (c *Codec) EncodeVerify(u *entity.User) (string, error) { return c.encode(u, Verify) }

// EncodeReset issues a password-reset token.
func (c *Codec) EncodeReset(u *entity.User) (string, error) { return c.encode(u, Reset) }

// TTL returns the configured lifetime of kind.
func (c *Codec) TTL(kind Kind) time.Duration { return c.ttl[kind] }

func (c *Codec) encode(u *entity.User, kind Kind) (string, error) {
	if u == nil || u.ID <= 0 {
		c.logger.Errorw("cannot generate token: user record has no id", "typ", kind)
		return "", security.New(security.KindInternal, security.ReasonTokenGeneration).WithPublic("Cannot generate token")
	}
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(u.ID, 10),
		"typ": string(kind),
		"exp": c.now().Add(c.ttl[kind]).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		c.logger.Errorw("cannot generate token", "typ", kind, "user_id", u.ID, "err", err)
		return "", security.Wrap(security.KindInternal, security.ReasonTokenGeneration, err).WithPublic("Cannot generate token")
	}
	return signed, nil
}

// Decode verifies raw and checks that it was issued as want. Failures are
// either KindTokenExpired or KindTokenInvalid.
func (c *Codec) Decode(raw string, want Kind) (*Payload, error) {
	if !wellFormed(raw) {
		return nil, security.New(security.KindTokenInvalid, security.ReasonMalformedToken)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithJSONNumber(),
		jwt.WithTimeFunc(c.now),
		jwt.WithStrictDecoding(),
	)
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, security.Wrap(security.KindTokenInvalid, security.ReasonBadSignature, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, security.Wrap(security.KindTokenExpired, security.ReasonExpired, err)
		default:
			return nil, security.Wrap(security.KindTokenInvalid, security.ReasonMalformedToken, err)
		}
	}

	typ, _ := claims["typ"].(string)
	if subtle.ConstantTimeCompare([]byte(typ), []byte(want)) != 1 {
		return nil, security.New(security.KindTokenInvalid, security.ReasonWrongType)
	}

	sub, ok := subjectID(claims["sub"])
	if !ok {
		return nil, security.New(security.KindTokenInvalid, security.ReasonBadSubject)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, security.New(security.KindTokenInvalid, security.ReasonMalformedToken).WithUser(sub)
	}

	return &Payload{Subject: sub, Kind: want, ExpiresAt: exp.Time}, nil
}

// wellFormed reports whether raw is three non-empty dot-separated segments,
// each canonical unpadded base64url. Non-canonical trailing bits are rejected
// so a token has exactly one accepted spelling.
func wellFormed(raw string) bool {
	if raw == "" || len(raw) > maxTokenLen {
		return false
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		if _, err := segmentEncoding.DecodeString(p); err != nil {
			return false
		}
	}
	return true
}

// subjectID accepts a positive integer subject, either as a JSON number or a
// decimal string. Anything else is rejected.
func subjectID(v any) (int64, bool) {
	var id int64
	switch s := v.(type) {
	case string:
		if s == "" || len(s) > 19 {
			return 0, false
		}
		for i := 0; i < len(s); i++ {
			if s[i] < '0' || s[i] > '9' {
				return 0, false
			}
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		id = n
	case json.Number:
		n, err := s.Int64()
		if err != nil {
			return 0, false
		}
		id = n
	case float64:
		if s != math.Trunc(s) || s > math.MaxInt64 {
			return 0, false
		}
		id = int64(s)
	default:
		return 0, false
	}
	return id, id > 0
}
