// Package httpx holds the JSON response helpers shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/security"
)

// maxBody caps request bodies read by Decode.
const maxBody = 1 << 20

// Client-facing messages per error kind. They never say which check failed.
const (
	MsgInvalidToken     = "That token is Invalid"
	MsgExpiredToken     = "That token has Expired"
	MsgNotAuthenticated = "Not authenticated: send Authorization: Bearer <token> or X-API-Key: <key>"
	MsgNotAuthorized    = "Not Authorized"
	MsgInternal         = "Internal Server Error"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteMessage writes {"error": msg} with status.
func WriteMessage(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg})
}

// WriteError maps err to a status code and a uniform message. The detailed
// kind and reason only go to the log.
func WriteError(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	status, msg := Status(err)
	if logger != nil {
		var se *security.Error
		if errors.As(err, &se) {
			fields := []any{"status", status, "kind", se.Kind.String(), "reason", se.Reason}
			if se.UserID != 0 {
				fields = append(fields, "user_id", se.UserID)
			}
			if status >= http.StatusInternalServerError {
				logger.Errorw("request failed", append(fields, "err", err)...)
			} else {
				logger.Debugw("request rejected", fields...)
			}
		} else {
			logger.Errorw("request failed", "status", status, "err", err)
		}
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer, APIKey`)
	}
	WriteMessage(w, status, msg)
}

// Status returns the HTTP status and public message for err.
func Status(err error) (int, string) {
	var se *security.Error
	if !errors.As(err, &se) {
		return http.StatusInternalServerError, MsgInternal
	}
	switch se.Kind {
	case security.KindValidation:
		return http.StatusBadRequest, orDefault(se.Public, "Invalid request")
	case security.KindTokenExpired:
		return http.StatusUnauthorized, orDefault(se.Public, MsgExpiredToken)
	case security.KindTokenInvalid, security.KindCredentialNotFound, security.KindAccountBlocked:
		return http.StatusUnauthorized, orDefault(se.Public, MsgInvalidToken)
	case security.KindUnauthenticated:
		return http.StatusUnauthorized, orDefault(se.Public, MsgNotAuthenticated)
	case security.KindForbidden:
		return http.StatusForbidden, MsgNotAuthorized
	default:
		return http.StatusInternalServerError, orDefault(se.Public, MsgInternal)
	}
}

// Decode reads a JSON body into v, rejecting unknown fields and trailing data.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return security.Validation("invalid payload")
	}
	if dec.More() {
		return security.Validation("invalid payload")
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
