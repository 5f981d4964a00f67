package admin

import (
	"errors"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/ratelimit"
)

// CookieName holds the sealed admin session.
const CookieName = "admin_session"

// Handler exposes the admin console session endpoints.
type Handler struct {
	backend *Backend
	limiter *ratelimit.Limiter
	logger  *zap.SugaredLogger
}

// NewHandler builds the handler. A nil limiter disables login throttling.
func NewHandler(backend *Backend, limiter *ratelimit.Limiter, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{backend: backend, limiter: limiter, logger: logger.Named("admin")}
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse describes the signed-in admin.
type SessionResponse struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	ip := clientIP(r)
	if err := h.limiter.Check(r.Context(), req.Email, ip); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimited) {
			httpx.WriteMessage(w, http.StatusTooManyRequests, "too many attempts")
			return
		}
		h.logger.Warnw("login throttle unavailable", "err", err)
	}

	tok, err := h.backend.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.clear(w, r)
		if errors.Is(err, ErrLoginFailed) {
			if ferr := h.limiter.Fail(r.Context(), req.Email, ip); ferr != nil {
				h.logger.Warnw("recording failed login", "err", ferr)
			}
			httpx.WriteMessage(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		httpx.WriteError(w, h.logger, err)
		return
	}
	if err := h.limiter.Reset(r.Context(), req.Email); err != nil {
		h.logger.Warnw("resetting login throttle", "err", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    tok,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(h.backend.TTL().Seconds()),
	})
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Logout clears the session whether or not one exists.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clear(w, r)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Session reports the current admin, re-checking the account on every call.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	var tok string
	if c, err := r.Cookie(CookieName); err == nil {
		tok = c.Value
	}
	u, ok := h.backend.Authenticate(r.Context(), tok)
	if !ok {
		h.clear(w, r)
		httpx.WriteMessage(w, http.StatusUnauthorized, "not signed in")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, SessionResponse{UserID: u.ID, Email: u.Email})
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		MaxAge:   -1,
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
