package bookings

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
)

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

func ParseGender(s string) (Gender, error) {
	for _, g := range []Gender{GenderMale, GenderFemale, GenderOther} {
		if strings.EqualFold(strings.TrimSpace(s), string(g)) {
			return g, nil
		}
	}
	return "", invalid(fmt.Sprintf("unknown gender %q", s))
}

type VisitType string

const (
	VisitNew      VisitType = "New"
	VisitFollowUp VisitType = "FollowUp"
)

func ParseVisitType(s string) (VisitType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "new":
		return VisitNew, nil
	case "followup", "follow-up", "follow_up":
		return VisitFollowUp, nil
	}
	return "", invalid(fmt.Sprintf("unknown visit type %q", s))
}

// GuestInfo identifies a visitor without an account.
type GuestInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Visit is a booked appointment. Exactly one of CreatedBy and Guest is set.
type Visit struct {
	ID        uuid.UUID      `json:"id"`
	DoctorID  uuid.UUID      `json:"doctor_id"`
	Date      timegrid.Date  `json:"date"`
	Time      timegrid.Clock `json:"time"`
	Gender    Gender         `json:"gender"`
	VisitType VisitType      `json:"visit_type"`
	CreatedBy *uuid.UUID     `json:"created_by,omitempty"`
	Guest     *GuestInfo     `json:"guest,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (v Visit) IsGuest() bool { return v.Guest != nil }

func (v Visit) validate() error {
	if v.DoctorID == uuid.Nil {
		return invalid("doctor id required")
	}
	if (v.CreatedBy == nil) == (v.Guest == nil) {
		return invalid("visit needs exactly one of creator or guest")
	}
	if v.Guest != nil && (strings.TrimSpace(v.Guest.Name) == "" || strings.TrimSpace(v.Guest.Email) == "") {
		return invalid("guest name and email required")
	}
	return nil
}

// Start is the visit's wall-clock start in loc.
func (v Visit) Start(loc *time.Location) time.Time {
	return timegrid.Combine(v.Date, v.Time, loc)
}
