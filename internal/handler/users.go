package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/crm-sync-server/internal/audit"
	apperrors "github.com/openclaw/crm-sync-server/internal/errors"
	"github.com/openclaw/crm-sync-server/internal/httputil"
	"github.com/openclaw/crm-sync-server/internal/middleware"
	"github.com/openclaw/crm-sync-server/internal/model"
)

type PrincipalManager interface {
	List(ctx context.Context, filter model.PrincipalFilter) ([]model.Principal, int, error)
	Directory(ctx context.Context, limit, offset int) ([]model.DirectoryEntry, int, error)
	Get(ctx context.Context, id string) (*model.Principal, error)
	SetActive(ctx context.Context, id string, active bool) (*model.Principal, error)
	ResetPassword(ctx context.Context, id string, username *string, password string) (*model.Principal, error)
}

type UsersHandler struct {
	principals PrincipalManager
}

func NewUsersHandler(principals PrincipalManager) *UsersHandler {
	return &UsersHandler{principals: principals}
}

// Routes must be mounted behind the auth middleware. Listing is open to
// every role; everything else is admin only.
func (h *UsersHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(model.RoleAdmin))
		r.Get("/{id}", h.Get)
		r.Patch("/{id}/activation", h.SetActivation)
		r.Post("/{id}/password", h.ResetPassword)
	})

	return r
}

// GET /api/users
// Admins see every principal; sales see the directory of active sales.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pagination := parsePage(r)
	principal := middleware.GetPrincipal(ctx)

	if !principal.IsAdmin() {
		entries, total, err := h.principals.Directory(ctx, pagination.Limit, pagination.Offset)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pagination.respond(entries, total))
		return
	}

	filter, err := parsePrincipalFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	filter.Limit = pagination.Limit
	filter.Offset = pagination.Offset

	principals, total, err := h.principals.List(ctx, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pagination.respond(formatPrincipals(principals), total))
}

func parsePrincipalFilter(r *http.Request) (model.PrincipalFilter, error) {
	var filter model.PrincipalFilter
	q := r.URL.Query()

	if v := q.Get("role"); v != "" {
		role := model.Role(strings.ToLower(v))
		if !role.Valid() {
			return filter, apperrors.InvalidInput("role", "must be admin or sales")
		}
		filter.Role = &role
	}

	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return filter, apperrors.InvalidInput("active", "must be true or false")
		}
		filter.Active = &active
	}

	return filter, nil
}

// GET /api/users/{id}
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validateID(id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	principal, err := h.principals.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, formatPrincipal(principal))
}

type activationRequest struct {
	Active *bool `json:"active"`
}

// PATCH /api/users/{id}/activation
func (h *UsersHandler) SetActivation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validateID(id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req activationRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Active == nil {
		httputil.WriteError(w, apperrors.MissingRequired("active"))
		return
	}

	principal, err := h.principals.SetActive(r.Context(), id, *req.Active)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:        audit.EventActivationChange,
		PrincipalID: middleware.GetPrincipal(r.Context()).ID,
		TargetID:    id,
		Details:     map[string]any{"activation": string(principal.Activation())},
	})
	writeJSON(w, http.StatusOK, formatPrincipal(principal))
}

type resetPasswordRequest struct {
	Password string  `json:"password"`
	Username *string `json:"username"`
}

// POST /api/users/{id}/password
func (h *UsersHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validateID(id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Password == "" {
		httputil.WriteError(w, apperrors.MissingRequired("password"))
		return
	}
	if req.Username != nil {
		trimmed := strings.TrimSpace(*req.Username)
		if trimmed == "" {
			httputil.WriteError(w, apperrors.InvalidInput("username", "must not be blank"))
			return
		}
		req.Username = &trimmed
	}

	principal, err := h.principals.ResetPassword(r.Context(), id, req.Username, req.Password)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:        audit.EventPasswordReset,
		PrincipalID: middleware.GetPrincipal(r.Context()).ID,
		TargetID:    id,
	})
	writeJSON(w, http.StatusOK, formatPrincipal(principal))
}
