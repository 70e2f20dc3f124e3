package handlers

import (
	"context"
	"net/http"

	"github.com/wolfman30/polyclinic-scheduler/internal/http/middleware"
	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/internal/stats"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

type DashboardService interface {
	Dashboard(ctx context.Context, r identity.Requester) (stats.Dashboard, error)
}

type StatsHandler struct {
	svc    DashboardService
	logger *logging.Logger
}

// NewStatsHandler accepts a nil service; the endpoint then answers 503,
// which is the case when the server runs on in-memory stores.
func NewStatsHandler(svc DashboardService, logger *logging.Logger) *StatsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &StatsHandler{svc: svc, logger: logger}
}

// Dashboard handles GET /v1/stats/dashboard.
func (h *StatsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		jsonError(w, "dashboard requires a database", http.StatusServiceUnavailable)
		return
	}
	req, ok := middleware.RequesterFromContext(r.Context())
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	d, err := h.svc.Dashboard(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, "dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
