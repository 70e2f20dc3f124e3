package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/polyclinic-scheduler/internal/bookings"
	"github.com/wolfman30/polyclinic-scheduler/internal/http/middleware"
	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/internal/schedule"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

type BookingService interface {
	Book(ctx context.Context, req bookings.BookingRequest) (bookings.Result, error)
	Cancel(ctx context.Context, visitID uuid.UUID, r identity.Requester, otpCode string) error
	RequestCancelCode(ctx context.Context, visitID uuid.UUID, email string) error
	Schedule(ctx context.Context, date timegrid.Date, doctorID *uuid.UUID) ([]bookings.Visit, error)
	DoctorAgenda(ctx context.Context, doctorID uuid.UUID) ([]bookings.Visit, error)
	MyVisits(ctx context.Context, userID uuid.UUID) ([]bookings.Visit, error)
}

type DoctorLookup interface {
	DoctorByUser(ctx context.Context, userID uuid.UUID) (schedule.Doctor, error)
}

// VisitsHandler books, cancels and lists visits.
type VisitsHandler struct {
	bookings BookingService
	doctors  DoctorLookup
	logger   *logging.Logger
}

func NewVisitsHandler(svc BookingService, doctors DoctorLookup, logger *logging.Logger) *VisitsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &VisitsHandler{bookings: svc, doctors: doctors, logger: logger}
}

type bookingRequest struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Gender    string    `json:"gender"`
	VisitType string    `json:"visit_type"`
	Force     bool      `json:"force"`
}

type guestBookingRequest struct {
	bookingRequest
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

func (b bookingRequest) toService(r identity.Requester) bookings.BookingRequest {
	return bookings.BookingRequest{
		DoctorID:  b.DoctorID,
		Date:      b.Date,
		Time:      b.Time,
		Gender:    b.Gender,
		VisitType: b.VisitType,
		Force:     b.Force,
		Requester: r,
	}
}

// Book handles POST /v1/visits for signed-in users.
func (h *VisitsHandler) Book(w http.ResponseWriter, r *http.Request) {
	req, ok := middleware.RequesterFromContext(r.Context())
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	var body bookingRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	h.book(w, r, body.toService(req))
}

// BookGuest handles POST /v1/guest-visits. A guest token stands in for the
// code; otherwise the code in the body is checked.
func (h *VisitsHandler) BookGuest(w http.ResponseWriter, r *http.Request) {
	var body guestBookingRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	requester := guestRequester(r, body.Email)
	in := body.bookingRequest.toService(requester)
	in.Guest = &bookings.GuestInfo{
		Name:  strings.TrimSpace(body.Name),
		Email: strings.TrimSpace(body.Email),
		Phone: strings.TrimSpace(body.Phone),
	}
	in.OTPCode = strings.TrimSpace(body.Code)
	h.book(w, r, in)
}

func (h *VisitsHandler) book(w http.ResponseWriter, r *http.Request, in bookings.BookingRequest) {
	res, err := h.bookings.Book(r.Context(), in)
	if err != nil {
		writeServiceError(w, h.logger, "book", err)
		return
	}
	status := http.StatusCreated
	if res.Status == bookings.StatusCrowded {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// guestRequester prefers a verified guest token from the context.
func guestRequester(r *http.Request, email string) identity.Requester {
	if req, ok := middleware.RequesterFromContext(r.Context()); ok && req.IsGuest() {
		return req
	}
	return identity.Guest(email)
}

type cancelRequest struct {
	VisitID uuid.UUID `json:"visit_id"`
	Email   string    `json:"email"`
	Code    string    `json:"code"`
}

// Cancel handles DELETE /v1/visits/{id}. The body is optional.
func (h *VisitsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	visitID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := middleware.RequesterFromContext(r.Context())
	if !ok {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	var body cancelRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &body) {
		return
	}
	if err := h.bookings.Cancel(r.Context(), visitID, req, body.Code); err != nil {
		writeServiceError(w, h.logger, "cancel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestCancelCode handles POST /v1/guest-visits/cancel-code.
func (h *VisitsHandler) RequestCancelCode(w http.ResponseWriter, r *http.Request) {
	var body cancelRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.bookings.RequestCancelCode(r.Context(), body.VisitID, body.Email); err != nil {
		writeServiceError(w, h.logger, "request cancel code", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"sent": true})
}

// CancelGuest handles POST /v1/guest-visits/cancel.
func (h *VisitsHandler) CancelGuest(w http.ResponseWriter, r *http.Request) {
	var body cancelRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.bookings.Cancel(r.Context(), body.VisitID, guestRequester(r, body.Email), body.Code); err != nil {
		writeServiceError(w, h.logger, "cancel guest visit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Schedule handles GET /v1/schedule?date[&doctor_id].
func (h *VisitsHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	date, ok := dateQuery(w, r)
	if !ok {
		return
	}
	var doctorID *uuid.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("doctor_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			jsonError(w, "doctor_id must be a UUID", http.StatusBadRequest)
			return
		}
		doctorID = &id
	}
	visits, err := h.bookings.Schedule(r.Context(), date, doctorID)
	if err != nil {
		writeServiceError(w, h.logger, "schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "visits": nonNil(visits)})
}

// MyVisits handles GET /v1/me/visits.
func (h *VisitsHandler) MyVisits(w http.ResponseWriter, r *http.Request) {
	req, ok := middleware.RequesterFromContext(r.Context())
	if !ok || req.IsGuest() {
		jsonError(w, "account required", http.StatusUnauthorized)
		return
	}
	visits, err := h.bookings.MyVisits(r.Context(), req.ID)
	if err != nil {
		writeServiceError(w, h.logger, "my visits", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"visits": nonNil(visits)})
}

// DoctorSchedule handles GET /v1/doctor/me/schedule.
func (h *VisitsHandler) DoctorSchedule(w http.ResponseWriter, r *http.Request) {
	req, ok := middleware.RequesterFromContext(r.Context())
	if !ok || req.Kind != identity.KindDoctor {
		jsonError(w, "doctor login required", http.StatusForbidden)
		return
	}
	d, err := h.doctors.DoctorByUser(r.Context(), req.ID)
	if err != nil {
		writeServiceError(w, h.logger, "doctor by user", err)
		return
	}
	visits, err := h.bookings.DoctorAgenda(r.Context(), d.ID)
	if err != nil {
		writeServiceError(w, h.logger, "doctor agenda", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctor_id": d.ID, "visits": nonNil(visits)})
}

func nonNil(v []bookings.Visit) []bookings.Visit {
	if v == nil {
		return []bookings.Visit{}
	}
	return v
}
