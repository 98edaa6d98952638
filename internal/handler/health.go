package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/crm-sync-server/internal/config"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// GET /
func (h *HealthHandler) Banner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "CRM sync API is running"})
}

// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
	defer cancel()

	status, database, code := "ok", "ok", http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("health check: database ping failed")
		status, database, code = "degraded", "unavailable", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"database":  database,
		"timestamp": time.Now().UnixMilli(),
	})
}
