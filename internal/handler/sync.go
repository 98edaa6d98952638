package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/crm-sync-server/internal/audit"
	apperrors "github.com/openclaw/crm-sync-server/internal/errors"
	"github.com/openclaw/crm-sync-server/internal/httputil"
	"github.com/openclaw/crm-sync-server/internal/middleware"
	"github.com/openclaw/crm-sync-server/internal/model"
)

type Synchronizer interface {
	Sync(ctx context.Context, trigger model.SyncTrigger, triggeredBy *string) (*model.SyncSummary, error)
	ListRuns(ctx context.Context, limit, offset int) ([]model.SyncRun, int, error)
}

type SyncHandler struct {
	sync Synchronizer
}

func NewSyncHandler(sync Synchronizer) *SyncHandler {
	return &SyncHandler{sync: sync}
}

func (h *SyncHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequireRole(model.RoleAdmin))
	r.Post("/", h.Trigger)
	r.Get("/runs", h.ListRuns)

	return r
}

// POST /api/sync
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	audit.LogFromRequest(r, audit.Event{Type: audit.EventSyncTriggered, PrincipalID: principal.ID})

	summary, err := h.sync.Sync(r.Context(), model.SyncTriggerManual, &principal.ID)
	if err != nil {
		// A run that failed midway still reports what it merged.
		if appErr, ok := apperrors.AsAppError(err); ok && summary != nil && appErr.Details == nil {
			appErr.WithDetails(summary)
		}
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// GET /api/sync/runs
func (h *SyncHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	pagination := parsePage(r)

	runs, total, err := h.sync.ListRuns(r.Context(), pagination.Limit, pagination.Offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pagination.respond(runs, total))
}
