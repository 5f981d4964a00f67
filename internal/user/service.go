package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/mailer"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
)

const (
	minPasswordLen = 8
	maxNameLen     = 100

	msgBadLogin   = "Invalid email or password"
	msgInactive   = "Account is not active"
	msgUnverified = "Email address is not verified"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrSelfBan      = errors.New("cannot ban yourself")
)

// Store is the data-store collaborator for accounts.
type Store interface {
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	// CreateAccount inserts u, promoting it to admin when it is the first account.
	CreateAccount(ctx context.Context, u *entity.User) error
	UpdateFields(ctx context.Context, id int64, f entity.Fields) error
	Delete(ctx context.Context, id int64) error
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// RegisterInput is the sign-up payload.
type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// UpdateInput changes profile fields; nil members are left alone.
type UpdateInput struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

// Service orchestrates the account lifecycle flows.
type Service struct {
	store  Store
	hasher *security.Hasher
	codec  *token.Codec
	mailer mailer.Mailer
	// dummy is verified against for unknown emails so every login pays the hash cost.
	dummy  string
	logger *zap.SugaredLogger
}

func NewService(store Store, hasher *security.Hasher, codec *token.Codec, m mailer.Mailer, logger *zap.SugaredLogger) (*Service, error) {
	dummy, err := hasher.Hash("login-placeholder-password")
	if err != nil {
		return nil, fmt.Errorf("user: preparing placeholder hash: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{store: store, hasher: hasher, codec: codec, mailer: m, dummy: dummy, logger: logger.Named("user")}, nil
}

// Register creates an unverified account and mails a verification token.
// The first account ever created is made admin.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*entity.User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(in.Password); err != nil {
		return nil, err
	}
	first, last := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	if len(first) > maxNameLen || len(last) > maxNameLen {
		return nil, security.Validation("names must be at most %d characters", maxNameLen)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	u := &entity.User{Email: email, PasswordHash: digest, FirstName: first, LastName: last, Role: entity.RoleUser}
	if err := s.store.CreateAccount(ctx, u); err != nil {
		if errors.Is(err, userrepo.ErrDuplicateEmail) {
			return nil, security.Validation("email already registered")
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	s.logger.Infow("user registered", "user_id", u.ID, "role", string(u.Role))

	if err := s.sendVerification(ctx, u); err != nil {
		s.logger.Errorw("sending verification failed", "user_id", u.ID, "err", err)
	}
	return u, nil
}

func (s *Service) sendVerification(ctx context.Context, u *entity.User) error {
	tok, err := s.codec.EncodeVerify(u)
	if err != nil {
		return err
	}
	return s.mailer.SendVerification(ctx, u, tok)
}

// Login checks the password and returns a fresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	if password == "" {
		return nil, security.Validation("password is required")
	}
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.store.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	found := err == nil
	digest := s.dummy
	if found {
		digest = u.PasswordHash
	}
	ok, verr := s.hasher.Verify(password, digest)
	if verr != nil {
		s.logger.Errorw("stored password hash unusable", "email", email, "err", verr)
		ok = false
	}

	switch {
	case !found:
		return nil, security.New(security.KindCredentialNotFound, security.ReasonUserNotFound).WithPublic(msgBadLogin)
	case !ok:
		return nil, security.New(security.KindCredentialNotFound, security.ReasonBadPassword).WithUser(u.ID).WithPublic(msgBadLogin)
	case u.Banned:
		return nil, security.New(security.KindAccountBlocked, security.ReasonUserBanned).WithUser(u.ID).WithPublic(msgInactive)
	case !u.Verified:
		return nil, security.New(security.KindAccountBlocked, security.ReasonUserUnverified).WithUser(u.ID).WithPublic(msgUnverified)
	}

	access, err := s.codec.EncodeAccess(u)
	if err != nil {
		return nil, err
	}
	refresh, err := s.codec.EncodeRefresh(u)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("user logged in", "user_id", u.ID)
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.codec.TTL(token.Access).Seconds()),
	}, nil
}

// Refresh trades a refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, raw string) (*TokenPair, error) {
	u, err := s.userFromToken(ctx, raw, token.Refresh)
	if err != nil {
		return nil, err
	}
	if !u.Verified {
		return nil, tokenReject(security.KindAccountBlocked, security.ReasonUserUnverified, u.ID)
	}
	access, err := s.codec.EncodeAccess(u)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, TokenType: "bearer", ExpiresIn: int(s.codec.TTL(token.Access).Seconds())}, nil
}

// VerifyEmail marks the token's user verified. The token stays usable until
// it expires; a second call succeeds again.
func (s *Service) VerifyEmail(ctx context.Context, raw string) (*entity.User, error) {
	u, err := s.userFromToken(ctx, raw, token.Verify)
	if err != nil {
		return nil, err
	}
	if u.Verified {
		return u, nil
	}
	verified := true
	if err := s.updateFields(ctx, u.ID, entity.Fields{Verified: &verified}); err != nil {
		return nil, err
	}
	u.Verified = true
	s.logger.Infow("email verified", "user_id", u.ID)
	return u, nil
}

// ForgotPassword mails a reset token when the account exists and is not
// banned. It never reports whether that was the case.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debugw("password reset for unknown email")
			return nil
		}
		return fmt.Errorf("loading user: %w", err)
	}
	if u.Banned {
		s.logger.Infow("password reset for banned user ignored", "user_id", u.ID)
		return nil
	}
	tok, err := s.codec.EncodeReset(u)
	if err != nil {
		return err
	}
	if err := s.mailer.SendPasswordReset(ctx, u, tok); err != nil {
		s.logger.Errorw("sending password reset failed", "user_id", u.ID, "err", err)
	}
	return nil
}

// ResetPassword sets a new password for the reset token's user.
func (s *Service) ResetPassword(ctx context.Context, raw, newPassword string) error {
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	u, err := s.userFromToken(ctx, raw, token.Reset)
	if err != nil {
		return err
	}
	if err := s.setPassword(ctx, u.ID, newPassword); err != nil {
		return err
	}
	s.logger.Infow("password reset", "user_id", u.ID)
	return nil
}

// ChangePassword sets targetID's password. Non-admins must supply the current one.
func (s *Service) ChangePassword(ctx context.Context, actor *auth.Identity, targetID int64, current, newPassword string) error {
	if err := auth.RequireEditor(actor, targetID); err != nil {
		return err
	}
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	u, err := s.get(ctx, targetID)
	if err != nil {
		return err
	}
	if !auth.IsAdmin(actor) {
		if current == "" {
			return security.Validation("current password is required")
		}
		ok, err := s.hasher.Verify(current, u.PasswordHash)
		if err != nil {
			return security.Wrap(security.KindInternal, security.ReasonMalformedDigest,
				fmt.Errorf("checking current password: %w", err)).WithUser(u.ID)
		}
		if !ok {
			return security.Validation("current password is incorrect")
		}
	}
	if err := s.setPassword(ctx, u.ID, newPassword); err != nil {
		return err
	}
	s.logger.Infow("password changed", "user_id", u.ID, "by", actor.UserID())
	return nil
}

// Get returns the account targetID if actor may see it.
func (s *Service) Get(ctx context.Context, actor *auth.Identity, targetID int64) (*entity.User, error) {
	if err := auth.RequireEditor(actor, targetID); err != nil {
		return nil, err
	}
	return s.get(ctx, targetID)
}

// Update changes profile fields of targetID.
func (s *Service) Update(ctx context.Context, actor *auth.Identity, targetID int64, in UpdateInput) (*entity.User, error) {
	if err := auth.RequireEditor(actor, targetID); err != nil {
		return nil, err
	}
	var f entity.Fields
	if in.FirstName != nil {
		v := strings.TrimSpace(*in.FirstName)
		if len(v) > maxNameLen {
			return nil, security.Validation("first_name must be at most %d characters", maxNameLen)
		}
		f.FirstName = &v
	}
	if in.LastName != nil {
		v := strings.TrimSpace(*in.LastName)
		if len(v) > maxNameLen {
			return nil, security.Validation("last_name must be at most %d characters", maxNameLen)
		}
		f.LastName = &v
	}
	if err := s.updateFields(ctx, targetID, f); err != nil {
		return nil, err
	}
	return s.get(ctx, targetID)
}

// SetBanned bans or unbans targetID. Admin only; admins cannot ban themselves.
func (s *Service) SetBanned(ctx context.Context, actor *auth.Identity, targetID int64, banned bool) (*entity.User, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}
	if banned && actor.UserID() == targetID {
		return nil, ErrSelfBan
	}
	if err := s.updateFields(ctx, targetID, entity.Fields{Banned: &banned}); err != nil {
		return nil, err
	}
	s.logger.Infow("ban state changed", "user_id", targetID, "banned", banned, "by", actor.UserID())
	return s.get(ctx, targetID)
}

// MakeAdmin promotes targetID. Admin only.
func (s *Service) MakeAdmin(ctx context.Context, actor *auth.Identity, targetID int64) (*entity.User, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}
	role := entity.RoleAdmin
	if err := s.updateFields(ctx, targetID, entity.Fields{Role: &role}); err != nil {
		return nil, err
	}
	s.logger.Infow("user promoted", "user_id", targetID, "by", actor.UserID())
	return s.get(ctx, targetID)
}

// Delete removes targetID and, through the store, its API keys.
func (s *Service) Delete(ctx context.Context, actor *auth.Identity, targetID int64) error {
	if err := auth.RequireEditor(actor, targetID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, targetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}
	s.logger.Infow("user deleted", "user_id", targetID, "by", actor.UserID())
	return nil
}

// userFromToken decodes raw as kind and loads its live, unbanned subject.
func (s *Service) userFromToken(ctx context.Context, raw string, kind token.Kind) (*entity.User, error) {
	p, err := s.codec.Decode(raw, kind)
	if err != nil {
		var se *security.Error
		if errors.As(err, &se) && se.Kind == security.KindTokenExpired {
			return nil, se.WithPublic(httpx.MsgExpiredToken)
		}
		if errors.As(err, &se) {
			return nil, se.WithPublic(httpx.MsgInvalidToken)
		}
		return nil, err
	}
	u, err := s.store.GetByID(ctx, p.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tokenReject(security.KindCredentialNotFound, security.ReasonUserNotFound, p.Subject)
		}
		return nil, fmt.Errorf("loading token subject: %w", err)
	}
	if u.Banned {
		return nil, tokenReject(security.KindAccountBlocked, security.ReasonUserBanned, u.ID)
	}
	return u, nil
}

func (s *Service) get(ctx context.Context, id int64) (*entity.User, error) {
	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

func (s *Service) updateFields(ctx context.Context, id int64, f entity.Fields) error {
	if err := s.store.UpdateFields(ctx, id, f); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

func (s *Service) setPassword(ctx context.Context, id int64, pw string) error {
	digest, err := s.hasher.Hash(pw)
	if err != nil {
		return err
	}
	return s.updateFields(ctx, id, entity.Fields{PasswordHash: &digest})
}

func tokenReject(kind security.Kind, reason string, userID int64) error {
	return security.New(kind, reason).WithUser(userID).WithPublic(httpx.MsgInvalidToken)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", security.Validation("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", security.Validation("email is invalid")
	}
	return email, nil
}

func checkPassword(pw string) error {
	if len(pw) < minPasswordLen {
		return security.Validation("password must be at least %d characters", minPasswordLen)
	}
	return nil
}
