package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/polyclinic-scheduler/internal/availability"
	"github.com/wolfman30/polyclinic-scheduler/internal/http/middleware"
	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/internal/schedule"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

type AvailabilityService interface {
	Resolve(ctx context.Context, doctorID uuid.UUID, date timegrid.Date, at timegrid.Clock) (availability.Verdict, error)
	OpenSlots(ctx context.Context, doctorID uuid.UUID, date timegrid.Date, now time.Time) ([]timegrid.Clock, error)
}

type UserCreator interface {
	CreateUser(ctx context.Context, u identity.User) (identity.User, error)
}

type DoctorsConfig struct {
	Schedule     schedule.Store
	Availability AvailabilityService
	Users        UserCreator
	Logger       *logging.Logger
	Location     *time.Location
}

// DoctorsHandler serves doctor listings, availability lookups and schedule edits.
type DoctorsHandler struct {
	schedule     schedule.Store
	availability AvailabilityService
	users        UserCreator
	logger       *logging.Logger
	loc          *time.Location
	now          func() time.Time
}

func NewDoctorsHandler(cfg DoctorsConfig) *DoctorsHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &DoctorsHandler{
		schedule:     cfg.Schedule,
		availability: cfg.Availability,
		users:        cfg.Users,
		logger:       cfg.Logger,
		loc:          cfg.Location,
		now:          time.Now,
	}
}

// ListDoctors handles GET /v1/doctors.
func (h *DoctorsHandler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.schedule.ListDoctors(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "list doctors", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctors": doctors})
}

// Availability handles GET /v1/doctors/{id}/availability?date&time.
func (h *DoctorsHandler) Availability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	date, ok := dateQuery(w, r)
	if !ok {
		return
	}
	at, ok := clockQuery(w, r)
	if !ok {
		return
	}
	verdict, err := h.availability.Resolve(r.Context(), doctorID, date, at)
	if err != nil {
		writeServiceError(w, h.logger, "resolve availability", err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

// PublicSlots handles GET /v1/doctors/{id}/public-slots?date.
func (h *DoctorsHandler) PublicSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	date, ok := dateQuery(w, r)
	if !ok {
		return
	}
	slots, err := h.availability.OpenSlots(r.Context(), doctorID, date, h.now().In(h.loc))
	if err != nil {
		writeServiceError(w, h.logger, "open slots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctor_id": doctorID, "date": date, "slots": slots})
}

type createDoctorRequest struct {
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
	Email          string `json:"email"`
}

// CreateDoctor handles POST /v1/admin/doctors. With an email it also creates
// the doctor's login.
func (h *DoctorsHandler) CreateDoctor(w http.ResponseWriter, r *http.Request) {
	var req createDoctorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		jsonError(w, "name is required", http.StatusBadRequest)
		return
	}
	doctor := schedule.Doctor{Name: req.Name, Specialization: strings.TrimSpace(req.Specialization)}
	if email := strings.TrimSpace(req.Email); email != "" {
		if h.users == nil {
			jsonError(w, "user directory not configured", http.StatusServiceUnavailable)
			return
		}
		u, err := h.users.CreateUser(r.Context(), identity.User{Kind: identity.KindDoctor, Email: email, Name: req.Name})
		if err != nil {
			writeServiceError(w, h.logger, "create doctor user", err)
			return
		}
		doctor.UserID = &u.ID
	}
	created, err := h.schedule.CreateDoctor(r.Context(), doctor)
	if err != nil {
		writeServiceError(w, h.logger, "create doctor", err)
		return
	}
	h.logger.Info("doctor created", "doctor_id", created.ID)
	writeJSON(w, http.StatusCreated, created)
}

// target resolves the doctor being edited: the {id} path segment on admin
// routes, or the caller's own profile on /doctor/me routes.
func (h *DoctorsHandler) target(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if chi.URLParam(r, "id") != "" {
		return uuidParam(w, r, "id")
	}
	req, ok := middleware.RequesterFromContext(r.Context())
	if !ok || req.Kind != identity.KindDoctor {
		jsonError(w, "doctor login required", http.StatusForbidden)
		return uuid.Nil, false
	}
	d, err := h.schedule.DoctorByUser(r.Context(), req.ID)
	if err != nil {
		writeServiceError(w, h.logger, "doctor by user", err)
		return uuid.Nil, false
	}
	return d.ID, true
}

// MyAvailability handles GET /v1/doctor/me/availability.
func (h *DoctorsHandler) MyAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.target(w, r)
	if !ok {
		return
	}
	rules, err := h.schedule.WeeklyRules(r.Context(), doctorID)
	if err != nil {
		writeServiceError(w, h.logger, "weekly rules", err)
		return
	}
	exceptions, err := h.schedule.Exceptions(r.Context(), doctorID)
	if err != nil {
		writeServiceError(w, h.logger, "exceptions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctor_id": doctorID, "rules": rules, "exceptions": exceptions})
}

type replaceRulesRequest struct {
	Rules []schedule.WeeklyRule `json:"rules"`
}

// ReplaceRules handles PUT on both availability routes.
func (h *DoctorsHandler) ReplaceRules(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.target(w, r)
	if !ok {
		return
	}
	var req replaceRulesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rules, err := h.schedule.ReplaceWeeklyRules(r.Context(), doctorID, req.Rules)
	if err != nil {
		writeServiceError(w, h.logger, "replace rules", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctor_id": doctorID, "rules": rules})
}

// DeleteRule handles DELETE /v1/doctor/me/availability/{ruleID}.
func (h *DoctorsHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.target(w, r)
	if !ok {
		return
	}
	ruleID, ok := uuidParam(w, r, "ruleID")
	if !ok {
		return
	}
	if err := h.schedule.DeleteWeeklyRule(r.Context(), doctorID, ruleID); err != nil {
		writeServiceError(w, h.logger, "delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type exceptionRequest struct {
	Date   string          `json:"date"`
	Status string          `json:"status"`
	Start  *timegrid.Clock `json:"start_time"`
	End    *timegrid.Clock `json:"end_time"`
}

// UpsertException handles PUT on both exception routes.
func (h *DoctorsHandler) UpsertException(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.target(w, r)
	if !ok {
		return
	}
	var req exceptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, err := timegrid.ParseDate(req.Date)
	if err != nil {
		writeServiceError(w, h.logger, "parse exception date", err)
		return
	}
	status, err := schedule.ParseExceptionStatus(req.Status)
	if err != nil {
		writeServiceError(w, h.logger, "parse exception status", err)
		return
	}
	exc, err := h.schedule.UpsertException(r.Context(), schedule.ExceptionInput{
		DoctorID: doctorID,
		Date:     date,
		Status:   status,
		Start:    req.Start,
		End:      req.End,
	})
	if err != nil {
		writeServiceError(w, h.logger, "upsert exception", err)
		return
	}
	writeJSON(w, http.StatusOK, exc)
}
