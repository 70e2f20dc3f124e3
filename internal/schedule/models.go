// Package schedule owns doctors and the availability inputs attached to them:
// recurring weekly rules and per-date exceptions.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
)

var (
	ErrDoctorNotFound    = errors.New("schedule: doctor not found")
	ErrRuleNotFound      = errors.New("schedule: weekly rule not found")
	ErrExceptionNotFound = errors.New("schedule: date exception not found")
	ErrInvalidRule       = errors.New("schedule: invalid weekly rule")
	ErrInvalidException  = errors.New("schedule: invalid date exception")
)

// Doctor is a bookable practitioner.
type Doctor struct {
	ID             uuid.UUID  `json:"id"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	Name           string     `json:"name"`
	Specialization string     `json:"specialization"`
	CreatedAt      time.Time  `json:"created_at"`
}

// WeeklyRule is a recurring window on one weekday (0 = Monday).
type WeeklyRule struct {
	ID                 uuid.UUID      `json:"id"`
	DoctorID           uuid.UUID      `json:"doctor_id"`
	DayOfWeek          int            `json:"day_of_week"`
	Start              timegrid.Clock `json:"start_time"`
	End                timegrid.Clock `json:"end_time"`
	MaxPatientsPerSlot int            `json:"max_patients_per_slot"`
}

// Window returns the rule as a closed interval.
func (r WeeklyRule) Window() timegrid.Interval {
	return timegrid.Interval{Start: r.Start, End: r.End}
}

// Validate checks the rule's shape before it is stored.
func (r WeeklyRule) Validate() error {
	switch {
	case r.DayOfWeek < 0 || r.DayOfWeek > 6:
		return fmt.Errorf("%w: day_of_week %d outside 0..6", ErrInvalidRule, r.DayOfWeek)
	case !r.Start.Valid() || !r.End.Valid():
		return fmt.Errorf("%w: time outside the day", ErrInvalidRule)
	case r.End < r.Start:
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidRule, r.End, r.Start)
	case r.MaxPatientsPerSlot < 1:
		return fmt.Errorf("%w: max_patients_per_slot must be at least 1", ErrInvalidRule)
	}
	return nil
}

// ExceptionStatus says how a date exception overrides the weekly rules.
type ExceptionStatus string

const (
	ExceptionAdded     ExceptionStatus = "Added"
	ExceptionUpdated   ExceptionStatus = "Updated"
	ExceptionCancelled ExceptionStatus = "Cancelled"
)

// ParseExceptionStatus accepts the canonical names case-insensitively.
func ParseExceptionStatus(s string) (ExceptionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "added":
		return ExceptionAdded, nil
	case "updated":
		return ExceptionUpdated, nil
	case "cancelled", "canceled":
		return ExceptionCancelled, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidException, s)
}

// DateException overrides a doctor's availability for one date.
type DateException struct {
	ID       uuid.UUID       `json:"id"`
	DoctorID uuid.UUID       `json:"doctor_id"`
	Date     timegrid.Date   `json:"exception_date"`
	Status   ExceptionStatus `json:"status"`
	Start    *timegrid.Clock `json:"start_time,omitempty"`
	End      *timegrid.Clock `json:"end_time,omitempty"`
}

// Window returns the exception's open window. ok is false for cancelled days
// and for exceptions without both bounds.
func (e DateException) Window() (timegrid.Interval, bool) {
	if e.Status == ExceptionCancelled || e.Start == nil || e.End == nil {
		return timegrid.Interval{}, false
	}
	return timegrid.Interval{Start: *e.Start, End: *e.End}, true
}

// ExceptionInput is the update-or-insert request for (DoctorID, Date).
// Nil bounds keep whatever the stored exception already has.
type ExceptionInput struct {
	DoctorID uuid.UUID
	Date     timegrid.Date
	Status   ExceptionStatus
	Start    *timegrid.Clock
	End      *timegrid.Clock
}

func (in ExceptionInput) validate() error {
	switch in.Status {
	case ExceptionAdded, ExceptionUpdated, ExceptionCancelled:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidException, in.Status)
	}
	if in.Date.IsZero() {
		return fmt.Errorf("%w: date required", ErrInvalidException)
	}
	if in.Status == ExceptionCancelled {
		return nil
	}
	if (in.Start == nil) != (in.End == nil) {
		return fmt.Errorf("%w: start and end must be given together", ErrInvalidException)
	}
	if in.Start != nil && *in.End < *in.Start {
		return fmt.Errorf("%w: end before start", ErrInvalidException)
	}
	return nil
}

// merge applies the input on top of an existing exception.
func (in ExceptionInput) merge(existing *DateException) (DateException, error) {
	out := DateException{DoctorID: in.DoctorID, Date: in.Date, Status: in.Status}
	if existing != nil {
		out = *existing
		out.Status = in.Status
	}
	if in.Status == ExceptionCancelled {
		out.Start, out.End = nil, nil
		return out, nil
	}
	if in.Start != nil {
		start, end := *in.Start, *in.End
		out.Start, out.End = &start, &end
	}
	if out.Start == nil || out.End == nil {
		return DateException{}, fmt.Errorf("%w: %s exception needs start and end", ErrInvalidException, in.Status)
	}
	return out, nil
}
