package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/crm-sync-server/internal/audit"
	apperrors "github.com/openclaw/crm-sync-server/internal/errors"
	"github.com/openclaw/crm-sync-server/internal/httputil"
	"github.com/openclaw/crm-sync-server/internal/model"
	"github.com/openclaw/crm-sync-server/internal/service"
)

type contextKey string

const (
	PrincipalContextKey    contextKey = "principal"
	SessionTokenContextKey contextKey = "sessionToken"
)

// SessionTokenHeader is accepted alongside "Authorization: Bearer".
const SessionTokenHeader = "X-Session-Token"

func GetPrincipal(ctx context.Context) *model.Principal {
	if principal, ok := ctx.Value(PrincipalContextKey).(*model.Principal); ok {
		return principal
	}
	return nil
}

func GetSessionToken(ctx context.Context) string {
	token, _ := ctx.Value(SessionTokenContextKey).(string)
	return token
}

type SessionValidator interface {
	Validate(ctx context.Context, token string) (*model.Principal, error)
}

type AuthMiddleware struct {
	sessions SessionValidator
}

func NewAuthMiddleware(sessions SessionValidator) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions}
}

// Handler admits requests carrying a live session. Missing, unknown and
// expired tokens get the same 401 so callers cannot tell them apart.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthenticated())
			return
		}

		principal, err := m.sessions.Validate(r.Context(), token)
		if err != nil {
			if errors.Is(err, service.ErrSessionNotFound) || errors.Is(err, service.ErrSessionExpired) {
				audit.LogFromRequest(r, audit.Event{
					Type:    audit.EventAuthFailure,
					Details: map[string]any{"reason": err.Error()},
				})
				httputil.WriteError(w, apperrors.Unauthenticated())
				return
			}
			log.Error().Err(err).Msg("auth middleware: session lookup failed")
			httputil.WriteError(w, apperrors.Persistence(err))
			return
		}

		ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
		ctx = context.WithValue(ctx, SessionTokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole must run after AuthMiddleware.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				httputil.WriteError(w, apperrors.Unauthenticated())
				return
			}

			for _, role := range roles {
				if principal.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			audit.LogFromRequest(r, audit.Event{
				Type:        audit.EventAccessDenied,
				PrincipalID: principal.ID,
				Details:     map[string]any{"role": string(principal.Role), "path": r.URL.Path},
			})
			httputil.WriteError(w, apperrors.Forbidden("Insufficient permissions"))
		})
	}
}

func ExtractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get(SessionTokenHeader))
}
