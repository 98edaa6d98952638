package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openclaw/crm-sync-server/internal/audit"
	apperrors "github.com/openclaw/crm-sync-server/internal/errors"
	"github.com/openclaw/crm-sync-server/internal/httputil"
	"github.com/openclaw/crm-sync-server/internal/middleware"
	"github.com/openclaw/crm-sync-server/internal/model"
	"github.com/openclaw/crm-sync-server/internal/service"
)

type Authenticator interface {
	Login(ctx context.Context, username, password string) (*service.LoginResult, error)
	Logout(ctx context.Context, token string) error
}

type PasswordChanger interface {
	ChangeOwnPassword(ctx context.Context, principal *model.Principal, currentPassword, newPassword string) error
}

type AuthHandler struct {
	auth      Authenticator
	passwords PasswordChanger
	now       func() time.Time
}

func NewAuthHandler(auth Authenticator, passwords PasswordChanger) *AuthHandler {
	return &AuthHandler{auth: auth, passwords: passwords, now: time.Now}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Role         model.Role `json:"role"`
	SessionToken string     `json:"sessionToken"`
	ExpiresAt    string     `json:"expiresAt"`
	ExpiresIn    int        `json:"expiresIn"`
}

// POST /api/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		httputil.WriteError(w, apperrors.MissingRequired("username"))
		return
	}
	if req.Password == "" {
		httputil.WriteError(w, apperrors.MissingRequired("password"))
		return
	}

	result, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeInvalidLogin {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventLoginFailure,
				Details: map[string]any{"username": req.Username},
			})
		}
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:        audit.EventLoginSuccess,
		PrincipalID: result.Principal.ID,
		Details:     map[string]any{"role": string(result.Principal.Role)},
	})

	expiresIn := int(result.Session.ExpiresAt.Sub(h.now()).Seconds())
	writeJSON(w, http.StatusOK, loginResponse{
		Role:         result.Principal.Role,
		SessionToken: result.Session.Token,
		ExpiresAt:    result.Session.ExpiresAt.UTC().Format(time.RFC3339),
		ExpiresIn:    max(expiresIn, 0),
	})
}

// POST /api/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.GetPrincipal(ctx)

	if err := h.auth.Logout(ctx, middleware.GetSessionToken(ctx)); err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLogout, PrincipalID: principal.ID})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	writeJSON(w, http.StatusOK, formatPrincipal(principal))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// POST /api/me/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.CurrentPassword == "" {
		httputil.WriteError(w, apperrors.MissingRequired("currentPassword"))
		return
	}
	if req.NewPassword == "" {
		httputil.WriteError(w, apperrors.MissingRequired("newPassword"))
		return
	}

	principal := middleware.GetPrincipal(r.Context())
	if err := h.passwords.ChangeOwnPassword(r.Context(), principal, req.CurrentPassword, req.NewPassword); err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventPasswordChange, PrincipalID: principal.ID})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
