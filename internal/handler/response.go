package handler

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/openclaw/crm-sync-server/internal/errors"
	"github.com/openclaw/crm-sync-server/internal/httputil"
	"github.com/openclaw/crm-sync-server/internal/model"
	"github.com/openclaw/crm-sync-server/internal/util"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

// decodeJSON reads a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.ValidationError("Invalid request body")
	}
	return nil
}

func validateID(id string) error {
	if !util.IsValidUUID(id) {
		return apperrors.InvalidInput("id", "must be a UUID")
	}
	return nil
}

func formatPrincipal(p *model.Principal) map[string]any {
	return map[string]any{
		"id":           p.ID,
		"externalId":   p.ExternalID,
		"firstName":    p.FirstName,
		"lastName":     p.LastName,
		"email":        p.Email,
		"phone":        p.Phone,
		"role":         p.Role,
		"activation":   p.Activation(),
		"username":     p.Username,
		"hasPassword":  p.PasswordHash != nil,
		"lastSyncedAt": formatTime(p.LastSyncedAt),
		"createdAt":    p.CreatedAt.Format(time.RFC3339),
		"updatedAt":    p.UpdatedAt.Format(time.RFC3339),
	}
}

func formatPrincipals(principals []model.Principal) []map[string]any {
	out := make([]map[string]any, 0, len(principals))
	for i := range principals {
		out = append(out, formatPrincipal(&principals[i]))
	}
	return out
}
