package apikey

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apikey/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/httpx"
)

// Handler exposes API key management endpoints.
type Handler struct {
	mgr    *Manager
	logger *zap.SugaredLogger
}

func NewHandler(mgr *Manager, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{mgr: mgr, logger: logger.Named("apikey")}
}

// Routes mounts /api-keys behind guard.
func (h *Handler) Routes(r chi.Router, guard func(http.Handler) http.Handler) {
	r.Route("/api-keys", func(r chi.Router) {
		r.Use(guard)
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
		r.Group(func(r chi.Router) {
			r.Use(auth.AdminOnly(h.logger))
			r.Get("/by-user/{userID}", h.ListForUser)
			r.Delete("/by-user/{userID}/{id}", h.DeleteForUser)
		})
	})
}

// CreateRequest names the new key.
type CreateRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

// CreateResponse is the only response that ever carries the raw key.
type CreateResponse struct {
	*entity.APIKey
	Key string `json:"key"`
}

// UpdateRequest patches a key; absent members are left alone.
type UpdateRequest struct {
	Name     *string  `json:"name"`
	IsActive *bool    `json:"is_active"`
	Scopes   []string `json:"scopes"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	id, _ := auth.IdentityFrom(r.Context())
	k, raw, err := h.mgr.Create(r.Context(), id.User, req.Name, req.Scopes)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, CreateResponse{APIKey: k, Key: raw})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	keys, err := h.mgr.GetForOwner(r.Context(), id.UserID())
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, keys)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	k, ok := h.owned(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, k)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	k, ok := h.owned(w, r)
	if !ok {
		return
	}
	updated, err := h.mgr.Update(r.Context(), k.ID, req.Name, req.IsActive, req.Scopes)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	k, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.mgr.Delete(r.Context(), k.ID); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListForUser(w http.ResponseWriter, r *http.Request) {
	owner, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || owner <= 0 {
		httpx.WriteMessage(w, http.StatusBadRequest, "invalid user id")
		return
	}
	keys, err := h.mgr.GetForOwner(r.Context(), owner)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, keys)
}

func (h *Handler) DeleteForUser(w http.ResponseWriter, r *http.Request) {
	owner, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || owner <= 0 {
		httpx.WriteMessage(w, http.StatusBadRequest, "invalid user id")
		return
	}
	k, err := h.mgr.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if k.OwnerID != owner {
		h.fail(w, ErrKeyNotFound)
		return
	}
	if err := h.mgr.Delete(r.Context(), k.ID); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// owned loads the {id} key if the caller may manage it. Keys of other users
// are reported as missing.
func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (*entity.APIKey, bool) {
	k, err := h.load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return nil, false
	}
	id, _ := auth.IdentityFrom(r.Context())
	if !auth.CanEdit(id, k.OwnerID) {
		h.fail(w, ErrKeyNotFound)
		return nil, false
	}
	return k, true
}

func (h *Handler) load(ctx context.Context, id string) (*entity.APIKey, error) {
	if id == "" {
		return nil, ErrKeyNotFound
	}
	return h.mgr.Get(ctx, id)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrKeyNotFound) {
		httpx.WriteMessage(w, http.StatusNotFound, "api key not found")
		return
	}
	httpx.WriteError(w, h.logger, err)
}
