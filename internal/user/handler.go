package user

import (
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/security"
)

// Handler exposes HTTP endpoints for the account flows.
type Handler struct {
	svc     *Service
	limiter *ratelimit.Limiter
	logger  *zap.SugaredLogger
}

// NewHandler builds the handler. A nil limiter disables login throttling.
func NewHandler(svc *Service, limiter *ratelimit.Limiter, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, limiter: limiter, logger: logger.Named("user")}
}

// Routes mounts the public and the authenticated routes. guard must resolve
// an identity before the protected handlers run.
func (h *Handler) Routes(r chi.Router, guard func(http.Handler) http.Handler) {
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Post("/refresh", h.Refresh)
	r.Get("/verify", h.Verify)
	r.Post("/forgot-password", h.ForgotPassword)
	r.Post("/reset-password", h.ResetPassword)

	r.Route("/users", func(r chi.Router) {
		r.Use(guard)
		r.Get("/me", h.Me)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
		r.Post("/{id}/password", h.ChangePassword)
		r.Group(func(r chi.Router) {
			r.Use(auth.AdminOnly(h.logger))
			r.Post("/{id}/ban", h.Ban)
			r.Post("/{id}/unban", h.Unban)
			r.Post("/{id}/admin", h.MakeAdmin)
		})
	})
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest carries a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ForgotPasswordRequest starts the reset flow.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest completes the reset flow.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ChangePasswordRequest changes a password while signed in.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := httpx.Decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	u, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, u)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.Decode(r, &req); err != nil {
		h.fail(w, err)
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

	pair, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, security.ErrCredentialNotFound) {
			if ferr := h.limiter.Fail(r.Context(), req.Email, ip); ferr != nil {
				h.logger.Warnw("recording failed login", "err", ferr)
			}
		}
		h.fail(w, err)
		return
	}
	if err := h.limiter.Reset(r.Context(), req.Email); err != nil {
		h.logger.Warnw("resetting login throttle", "err", err)
	}
	httpx.WriteJSON(w, http.StatusOK, pair)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := httpx.Decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pair)
}

// Verify consumes the link mailed at registration: GET /verify?code=<token>.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.VerifyEmail(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := httpx.Decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := httpx.Decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	httpx.WriteJSON(w, http.StatusOK, id.User)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	target, ok := h.targetID(w, r)
	if !ok {
		return
	}
	id, _ := auth.IdentityFrom(r.Context())
	u, err := h.svc.Get(r.Context(), id, target)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	target, ok := h.targetID(w, r)
	if !ok {
		return
	}
	var req UpdateInput
	if err := httpx.Decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	id, _ := auth.IdentityFrom(r.Context())
	u, err := h.svc.Update(r.Context(), id, target, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	target, ok := h.targetID(w, r)
	if !ok {
		return
	}
	var req ChangePasswordRequest
	if err := httpx.Decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	id, _ := auth.IdentityFrom(r.Context())
	if err := h.svc.ChangePassword(r.Context(), id, target, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	target, ok := h.targetID(w, r)
	if !ok {
		return
	}
	id, _ := auth.IdentityFrom(r.Context())
	if err := h.svc.Delete(r.Context(), id, target); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Ban(w http.ResponseWriter, r *http.Request)   { h.setBanned(w, r, true) }
func (h *Handler) Unban(w http.ResponseWriter, r *http.Request) { h.setBanned(w, r, false) }

func (h *Handler) setBanned(w http.ResponseWriter, r *http.Request, banned bool) {
	target, ok := h.targetID(w, r)
	if !ok {
		return
	}
	id, _ := auth.IdentityFrom(r.Context())
	u, err := h.svc.SetBanned(r.Context(), id, target, banned)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) MakeAdmin(w http.ResponseWriter, r *http.Request) {
	target, ok := h.targetID(w, r)
	if !ok {
		return
	}
	id, _ := auth.IdentityFrom(r.Context())
	u, err := h.svc.MakeAdmin(r.Context(), id, target)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) targetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteMessage(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		httpx.WriteMessage(w, http.StatusNotFound, "user not found")
	case errors.Is(err, ErrSelfBan):
		httpx.WriteMessage(w, http.StatusBadRequest, err.Error())
	default:
		httpx.WriteError(w, h.logger, err)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
