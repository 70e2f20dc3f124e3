package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/polyclinic-scheduler/internal/availability"
	"github.com/wolfman30/polyclinic-scheduler/internal/crowd"
	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/internal/notify"
	"github.com/wolfman30/polyclinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/polyclinic-scheduler/internal/schedule"
	"github.com/wolfman30/polyclinic-scheduler/internal/slotload"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

var bookingsTracer = otel.Tracer("polyclinic.internal.bookings")

type DoctorReader interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (schedule.Doctor, error)
}

type AvailabilityChecker interface {
	Resolve(ctx context.Context, doctorID uuid.UUID, date timegrid.Date, at timegrid.Clock) (availability.Verdict, error)
}

type CrowdChecker interface {
	Evaluate(ctx context.Context, date timegrid.Date, at timegrid.Clock) (crowd.Assessment, error)
}

type LoadRecorder interface {
	Increment(ctx context.Context, date timegrid.Date, at timegrid.Clock, maxCapacity int) (slotload.SlotLoad, error)
}

// CodeVerifier is the one-time code gate for guests.
type CodeVerifier interface {
	Issue(ctx context.Context, email string) (string, error)
	Verify(ctx context.Context, email, code string) error
}

// UserDirectory resolves account holders to notification addresses.
type UserDirectory interface {
	User(ctx context.Context, id uuid.UUID) (identity.User, error)
}

// Purger runs the multi-table removals, each in a single transaction.
type Purger interface {
	PurgeDoctor(ctx context.Context, doctorID uuid.UUID) (int, error)
	ReassignStaff(ctx context.Context, staffID, adminID uuid.UUID) (int, error)
}

// Deps wires a Coordinator. Notifier, Metrics and Logger are optional.
type Deps struct {
	Doctors      DoctorReader
	Availability AvailabilityChecker
	Crowd        CrowdChecker
	Visits       Store
	Loads        LoadRecorder
	OTP          CodeVerifier
	Users        UserDirectory
	Purger       Purger
	Notifier     notify.Notifier
	Metrics      *metrics.SchedulerMetrics
	Logger       *logging.Logger
}

// Coordinator arbitrates booking and cancellation requests into visits and
// slot load updates.
type Coordinator struct {
	doctors  DoctorReader
	resolver AvailabilityChecker
	crowd    CrowdChecker
	visits   Store
	loads    LoadRecorder
	otp      CodeVerifier
	users    UserDirectory
	purger   Purger
	notifier notify.Notifier
	metrics  *metrics.SchedulerMetrics
	logger   *logging.Logger
	locks    *slotLocks
	lockWait time.Duration
	loc      *time.Location
	now      func() time.Time
}

func NewCoordinator(d Deps) *Coordinator {
	if d.Doctors == nil || d.Availability == nil || d.Crowd == nil || d.Visits == nil || d.Loads == nil {
		panic("bookings: doctors, availability, crowd, visits and loads are required")
	}
	if d.OTP == nil || d.Users == nil || d.Purger == nil {
		panic("bookings: otp, users and purger are required")
	}
	if d.Notifier == nil {
		d.Notifier = notify.Discard{}
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	return &Coordinator{
		doctors:  d.Doctors,
		resolver: d.Availability,
		crowd:    d.Crowd,
		visits:   d.Visits,
		loads:    d.Loads,
		otp:      d.OTP,
		users:    d.Users,
		purger:   d.Purger,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   d.Logger,
		locks:    newSlotLocks(),
		loc:      time.Local,
		now:      time.Now,
	}
}

// WithLocation sets the clinic's wall-clock zone used for "today".
func (c *Coordinator) WithLocation(loc *time.Location) *Coordinator {
	if loc != nil {
		c.loc = loc
	}
	return c
}

// WithLockTimeout bounds how long a booking waits for a busy slot before
// failing with ErrConcurrencyConflict. Zero waits for the request context.
func (c *Coordinator) WithLockTimeout(d time.Duration) *Coordinator {
	if d >= 0 {
		c.lockWait = d
	}
	return c
}

func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	if now != nil {
		c.now = now
	}
	return c
}

type Status string

const (
	StatusConfirmed Status = "Confirmed"
	StatusCrowded   Status = "Crowded"
)

// BookingRequest carries raw user input; Date is YYYY-MM-DD and Time HH:MM[:SS].
type BookingRequest struct {
	DoctorID  uuid.UUID
	Date      string
	Time      string
	Gender    string
	VisitType string
	Requester identity.Requester
	Force     bool
	Guest     *GuestInfo
	OTPCode   string
}

// Result is either a confirmed visit or a crowded verdict with alternatives.
type Result struct {
	Status      Status           `json:"status"`
	VisitID     uuid.UUID        `json:"visit_id,omitempty"`
	Visit       *Visit           `json:"visit,omitempty"`
	Suggestions []timegrid.Clock `json:"suggestions,omitempty"`
	Capacity    int              `json:"capacity,omitempty"`
}

// Book runs the full booking pipeline. A crowded slot without Force is a
// Result with StatusCrowded and nothing is written.
func (c *Coordinator) Book(ctx context.Context, req BookingRequest) (Result, error) {
	started := time.Now()
	ctx, span := bookingsTracer.Start(ctx, "bookings.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("polyclinic.doctor_id", req.DoctorID.String()),
		attribute.String("polyclinic.date", req.Date),
		attribute.String("polyclinic.time", req.Time),
		attribute.String("polyclinic.requester_kind", string(req.Requester.Kind)),
		attribute.Bool("polyclinic.force", req.Force),
	)

	res, err := c.book(ctx, span, req)
	outcome := string(res.Status)
	if err != nil {
		outcome = outcomeOf(err)
		span.RecordError(err)
	}
	c.metrics.ObserveBooking(outcome, string(req.Requester.Kind), time.Since(started))
	return res, err
}

func (c *Coordinator) book(ctx context.Context, span trace.Span, req BookingRequest) (Result, error) {
	date, err := timegrid.ParseDate(req.Date)
	if err != nil {
		return Result{}, errors.Join(ErrInvalidInput, err)
	}
	at, err := timegrid.ParseClock(req.Time)
	if err != nil {
		return Result{}, errors.Join(ErrInvalidInput, err)
	}
	gender, err := ParseGender(req.Gender)
	if err != nil {
		return Result{}, err
	}
	visitType, err := ParseVisitType(req.VisitType)
	if err != nil {
		return Result{}, err
	}
	if req.DoctorID == uuid.Nil {
		return Result{}, invalid("doctor id required")
	}

	visit := Visit{DoctorID: req.DoctorID, Date: date, Time: at, Gender: gender, VisitType: visitType}
	recipient, recipientName, err := c.authorizeBooking(ctx, req, &visit)
	if err != nil {
		return Result{}, err
	}

	verdict, err := c.resolver.Resolve(ctx, req.DoctorID, date, at)
	if err != nil {
		if errors.Is(err, schedule.ErrDoctorNotFound) {
			return Result{}, fmt.Errorf("%w: doctor %s", ErrNotFound, req.DoctorID)
		}
		return Result{}, fmt.Errorf("bookings: resolve availability: %w", err)
	}
	span.SetAttributes(attribute.String("polyclinic.availability_source", string(verdict.Source)))
	if !verdict.Available {
		return Result{}, ErrNotAvailable
	}

	lockCtx := ctx
	if c.lockWait > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, c.lockWait)
		defer cancel()
	}
	release, err := c.locks.acquire(lockCtx, date, at)
	if err != nil {
		return Result{}, err
	}
	defer release()

	assessment, err := c.crowd.Evaluate(ctx, date, at)
	if err != nil {
		return Result{}, fmt.Errorf("bookings: crowd check: %w", err)
	}
	c.metrics.ObserveCrowdCheck(assessment.Crowded)
	if assessment.Crowded && !req.Force {
		c.logger.Info("booking deferred: slot crowded",
			"doctor_id", req.DoctorID, "date", date, "time", at,
			"count", assessment.Count, "mean", assessment.Mean, "stddev", assessment.StdDev,
		)
		return Result{Status: StatusCrowded, Suggestions: assessment.Suggestions, Capacity: verdict.Capacity}, nil
	}

	if visit.Guest != nil {
		if err := c.verifyGuest(ctx, req.Requester, visit.Guest.Email, req.OTPCode); err != nil {
			return Result{}, err
		}
	}

	saved, err := c.visits.Insert(ctx, visit)
	if err != nil {
		return Result{}, err
	}
	if _, err := c.loads.Increment(ctx, date, at, verdict.Capacity); err != nil {
		c.metrics.SlotLoadFailure()
		c.logger.Error("slot load increment failed; visit kept",
			"visit_id", saved.ID, "date", date, "time", at, "error", err,
		)
	}

	c.logger.Info("visit booked",
		"visit_id", saved.ID, "doctor_id", saved.DoctorID, "date", date, "time", at,
		"requester_kind", req.Requester.Kind, "forced", req.Force && assessment.Crowded,
	)
	c.notifyVisit(ctx, notify.KindBookingConfirmed, saved, recipient, recipientName)
	return Result{Status: StatusConfirmed, VisitID: saved.ID, Visit: &saved, Capacity: verdict.Capacity}, nil
}

// authorizeBooking fills in the visit's identity and returns who to notify.
func (c *Coordinator) authorizeBooking(ctx context.Context, req BookingRequest, visit *Visit) (string, string, error) {
	r := req.Requester
	switch r.Kind {
	case identity.KindGuest:
		if req.Guest == nil || strings.TrimSpace(req.Guest.Name) == "" || strings.TrimSpace(req.Guest.Email) == "" {
			return "", "", invalid("guest name and email required")
		}
		guest := *req.Guest
		guest.Name = strings.TrimSpace(guest.Name)
		guest.Email = normalizeEmail(guest.Email)
		guest.Phone = strings.TrimSpace(guest.Phone)
		if r.Email != "" && normalizeEmail(r.Email) != guest.Email {
			return "", "", fmt.Errorf("%w: guest email does not match the verified email", ErrForbidden)
		}
		// The code itself is consumed under the slot lock, once the booking
		// is certain to be written.
		if !r.Verified && strings.TrimSpace(req.OTPCode) == "" {
			return "", "", ErrOTPRequired
		}
		visit.Guest = &guest
		return guest.Email, guest.Name, nil
	case identity.KindAdmin, identity.KindStaff, identity.KindPatient:
		if r.ID == uuid.Nil {
			return "", "", ErrForbidden
		}
		creator := r.ID
		visit.CreatedBy = &creator
		email, name := r.Email, ""
		if u, err := c.users.User(ctx, r.ID); err == nil {
			email, name = u.Email, u.Name
		}
		return email, name, nil
	default:
		return "", "", fmt.Errorf("%w: %s accounts cannot book visits", ErrForbidden, r.Kind)
	}
}

// verifyGuest accepts a token-verified guest, or consumes code for email.
func (c *Coordinator) verifyGuest(ctx context.Context, r identity.Requester, email, code string) error {
	if r.Verified {
		return nil
	}
	if strings.TrimSpace(code) == "" {
		return ErrOTPRequired
	}
	if err := c.otp.Verify(ctx, email, strings.TrimSpace(code)); err != nil {
		return ErrOTPInvalidOrExpired
	}
	return nil
}

// Cancel deletes a visit. Slot load is a historical demand counter and is
// not decremented.
func (c *Coordinator) Cancel(ctx context.Context, visitID uuid.UUID, r identity.Requester, otpCode string) error {
	ctx, span := bookingsTracer.Start(ctx, "bookings.cancel")
	defer span.End()
	span.SetAttributes(
		attribute.String("polyclinic.visit_id", visitID.String()),
		attribute.String("polyclinic.requester_kind", string(r.Kind)),
	)

	err := c.cancel(ctx, visitID, r, otpCode)
	if err != nil {
		span.RecordError(err)
		c.metrics.ObserveCancellation(outcomeOf(err))
		return err
	}
	c.metrics.ObserveCancellation("cancelled")
	return nil
}

func (c *Coordinator) cancel(ctx context.Context, visitID uuid.UUID, r identity.Requester, otpCode string) error {
	visit, err := c.visits.Get(ctx, visitID)
	if err != nil {
		return err
	}

	switch {
	case r.Kind.Privileged():
	case r.Kind == identity.KindPatient || r.Kind == identity.KindDoctor:
		if visit.CreatedBy == nil || *visit.CreatedBy != r.ID || r.ID == uuid.Nil {
			return ErrForbidden
		}
	case r.Kind == identity.KindGuest:
		email := normalizeEmail(r.Email)
		if email == "" {
			return invalid("guest email required")
		}
		if err := c.verifyGuest(ctx, r, email, otpCode); err != nil {
			return err
		}
		if visit.Guest == nil || normalizeEmail(visit.Guest.Email) != email {
			return ErrForbidden
		}
	default:
		return ErrForbidden
	}

	if err := c.visits.Delete(ctx, visitID); err != nil {
		return err
	}
	c.logger.Info("visit cancelled", "visit_id", visitID, "requester_kind", r.Kind)

	recipient, name := c.recipientOf(ctx, visit)
	c.notifyVisit(ctx, notify.KindBookingCancelled, visit, recipient, name)
	return nil
}

// RequestCancelCode sends a one-time code to the guest who owns visitID.
func (c *Coordinator) RequestCancelCode(ctx context.Context, visitID uuid.UUID, email string) error {
	visit, err := c.visits.Get(ctx, visitID)
	if err != nil {
		return err
	}
	email = normalizeEmail(email)
	if visit.Guest == nil || normalizeEmail(visit.Guest.Email) != email {
		return ErrForbidden
	}
	if _, err := c.otp.Issue(ctx, email); err != nil {
		return fmt.Errorf("bookings: issue cancel code: %w", err)
	}
	return nil
}

// RemoveDoctor deletes a doctor with its rules, exceptions, visits and user account.
func (c *Coordinator) RemoveDoctor(ctx context.Context, doctorID uuid.UUID, by identity.Requester) error {
	ctx, span := bookingsTracer.Start(ctx, "bookings.remove_doctor")
	defer span.End()
	if by.Kind != identity.KindAdmin {
		return ErrForbidden
	}
	removed, err := c.purger.PurgeDoctor(ctx, doctorID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, schedule.ErrDoctorNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("bookings: remove doctor: %w", conflict(err))
	}
	c.logger.Info("doctor removed", "doctor_id", doctorID, "visits_removed", removed)
	return nil
}

// RemoveStaff hands every visit the staff member created to the acting admin,
// then deletes the staff account. Either both happen or neither.
func (c *Coordinator) RemoveStaff(ctx context.Context, staffID uuid.UUID, by identity.Requester) error {
	ctx, span := bookingsTracer.Start(ctx, "bookings.remove_staff")
	defer span.End()
	if by.Kind != identity.KindAdmin || by.ID == uuid.Nil {
		return ErrForbidden
	}
	if staffID == by.ID {
		return invalid("admins cannot remove themselves")
	}
	staff, err := c.users.User(ctx, staffID)
	if errors.Is(err, identity.ErrUserNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("bookings: load staff: %w", err)
	}
	if staff.Kind != identity.KindStaff {
		return invalid(fmt.Sprintf("user %s is not staff", staffID))
	}
	moved, err := c.purger.ReassignStaff(ctx, staffID, by.ID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, identity.ErrUserNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("bookings: remove staff: %w", conflict(err))
	}
	c.logger.Info("staff removed", "staff_id", staffID, "admin_id", by.ID, "visits_reassigned", moved)
	return nil
}

// Schedule lists a day's visits, optionally for one doctor.
func (c *Coordinator) Schedule(ctx context.Context, date timegrid.Date, doctorID *uuid.UUID) ([]Visit, error) {
	return c.visits.ListForDate(ctx, date, doctorID)
}

// DoctorAgenda lists the doctor's visits from today onwards.
func (c *Coordinator) DoctorAgenda(ctx context.Context, doctorID uuid.UUID) ([]Visit, error) {
	return c.visits.ListForDoctorFrom(ctx, doctorID, timegrid.DateOf(c.now().In(c.loc)))
}

// MyVisits lists visits the user created.
func (c *Coordinator) MyVisits(ctx context.Context, userID uuid.UUID) ([]Visit, error) {
	return c.visits.ListByCreator(ctx, userID)
}

func (c *Coordinator) recipientOf(ctx context.Context, v Visit) (string, string) {
	if v.Guest != nil {
		return v.Guest.Email, v.Guest.Name
	}
	if v.CreatedBy == nil {
		return "", ""
	}
	u, err := c.users.User(ctx, *v.CreatedBy)
	if err != nil {
		c.logger.Warn("notification recipient lookup failed", "visit_id", v.ID, "user_id", *v.CreatedBy, "error", err)
		return "", ""
	}
	return u.Email, u.Name
}

func (c *Coordinator) notifyVisit(ctx context.Context, kind notify.Kind, v Visit, to, toName string) {
	if to == "" {
		c.logger.Debug("no recipient for notification", "kind", kind, "visit_id", v.ID)
		return
	}
	doctorName := ""
	if d, err := c.doctors.GetDoctor(ctx, v.DoctorID); err == nil {
		doctorName = d.Name
	}
	c.notifier.Notify(ctx, notify.Notification{
		Kind:       kind,
		To:         to,
		ToName:     toName,
		DoctorName: doctorName,
		Date:       v.Date,
		Time:       v.Time,
		VisitID:    v.ID.String(),
	})
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrNotAvailable):
		return "not_available"
	case errors.Is(err, ErrOTPRequired), errors.Is(err, ErrOTPInvalidOrExpired):
		return "otp_rejected"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConcurrencyConflict):
		return "conflict"
	default:
		return "error"
	}
}
