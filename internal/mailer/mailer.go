// Package mailer delivers account emails.
package mailer

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// Mailer sends the links that carry verify and reset tokens.
type Mailer interface {
	SendVerification(ctx context.Context, u *entity.User, token string) error
	SendPasswordReset(ctx context.Context, u *entity.User, token string) error
}

// LogMailer writes the links to the log instead of sending mail.
type LogMailer struct {
	baseURL string
	logger  *zap.SugaredLogger
}

func NewLogMailer(baseURL string, logger *zap.SugaredLogger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LogMailer{baseURL: strings.TrimRight(baseURL, "/"), logger: logger.Named("mailer")}
}

func (m *LogMailer) SendVerification(ctx context.Context, u *entity.User, token string) error {
	m.logger.Infow("verification email", "user_id", u.ID, "to", u.Email, "link", m.link("/verify", token))
	return nil
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, u *entity.User, token string) error {
	m.logger.Infow("password reset email", "user_id", u.ID, "to", u.Email, "link", m.link("/reset-password", token))
	return nil
}

func (m *LogMailer) link(path, token string) string {
	return m.baseURL + path + "?code=" + url.QueryEscape(token)
}
