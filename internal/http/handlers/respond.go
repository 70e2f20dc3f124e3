package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/polyclinic-scheduler/internal/bookings"
	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/internal/otp"
	"github.com/wolfman30/polyclinic-scheduler/internal/schedule"
	"github.com/wolfman30/polyclinic-scheduler/internal/slotload"
	"github.com/wolfman30/polyclinic-scheduler/internal/stats"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		jsonError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		jsonError(w, name+" must be a UUID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func dateQuery(w http.ResponseWriter, r *http.Request) (timegrid.Date, bool) {
	d, err := timegrid.ParseDate(strings.TrimSpace(r.URL.Query().Get("date")))
	if err != nil {
		jsonError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return timegrid.Date{}, false
	}
	return d, true
}

func clockQuery(w http.ResponseWriter, r *http.Request) (timegrid.Clock, bool) {
	c, err := timegrid.ParseClock(strings.TrimSpace(r.URL.Query().Get("time")))
	if err != nil {
		jsonError(w, "time must be HH:MM or HH:MM:SS", http.StatusBadRequest)
		return 0, false
	}
	return c, true
}

// statusOf maps service errors onto HTTP statuses. Unknown errors are 500.
func statusOf(err error) int {
	switch {
	case errors.Is(err, bookings.ErrConcurrencyConflict),
		errors.Is(err, bookings.ErrNotAvailable),
		errors.Is(err, identity.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, bookings.ErrInvalidInput),
		errors.Is(err, schedule.ErrInvalidRule),
		errors.Is(err, schedule.ErrInvalidException),
		errors.Is(err, timegrid.ErrInvalidTimeFormat),
		errors.Is(err, slotload.ErrInvalidCapacity),
		errors.Is(err, identity.ErrUnknownKind),
		errors.Is(err, otp.ErrEmailRequired):
		return http.StatusBadRequest
	case errors.Is(err, bookings.ErrOTPRequired),
		errors.Is(err, bookings.ErrOTPInvalidOrExpired),
		errors.Is(err, otp.ErrInvalidOrExpired):
		return http.StatusUnauthorized
	case errors.Is(err, bookings.ErrForbidden),
		errors.Is(err, stats.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, bookings.ErrNotFound),
		errors.Is(err, schedule.ErrDoctorNotFound),
		errors.Is(err, schedule.ErrRuleNotFound),
		errors.Is(err, schedule.ErrExceptionNotFound),
		errors.Is(err, identity.ErrUserNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, logger *logging.Logger, op string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "op", op, "error", err)
		jsonError(w, "internal error", status)
		return
	}
	if errors.Is(err, bookings.ErrConcurrencyConflict) {
		w.Header().Set("Retry-After", "1")
	}
	jsonError(w, err.Error(), status)
}
