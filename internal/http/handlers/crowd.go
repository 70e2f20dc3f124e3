package handlers

import (
	"context"
	"net/http"

	"github.com/wolfman30/polyclinic-scheduler/internal/crowd"
	"github.com/wolfman30/polyclinic-scheduler/internal/slotload"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

type CrowdEvaluator interface {
	Evaluate(ctx context.Context, date timegrid.Date, at timegrid.Clock) (crowd.Assessment, error)
}

// CrowdHandler exposes the advisory crowd check and slot suggestions.
type CrowdHandler struct {
	detector CrowdEvaluator
	loads    slotload.Tracker
	logger   *logging.Logger
}

func NewCrowdHandler(detector CrowdEvaluator, loads slotload.Tracker, logger *logging.Logger) *CrowdHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CrowdHandler{detector: detector, loads: loads, logger: logger}
}

// Crowd handles GET /v1/crowd?date&time.
func (h *CrowdHandler) Crowd(w http.ResponseWriter, r *http.Request) {
	date, ok := dateQuery(w, r)
	if !ok {
		return
	}
	at, ok := clockQuery(w, r)
	if !ok {
		return
	}
	a, err := h.detector.Evaluate(r.Context(), date, at)
	if err != nil {
		writeServiceError(w, h.logger, "crowd evaluate", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Suggestions handles GET /v1/suggestions?date: buckets with room left.
func (h *CrowdHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	date, ok := dateQuery(w, r)
	if !ok {
		return
	}
	slots, err := slotload.Suggestions(r.Context(), h.loads, date)
	if err != nil {
		writeServiceError(w, h.logger, "suggestions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "slots": slots})
}
