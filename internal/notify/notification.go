package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
)

// Kind identifies what happened.
type Kind string

const (
	KindBookingConfirmed Kind = "booking_confirmed"
	KindBookingCancelled Kind = "booking_cancelled"
	KindReminderDue      Kind = "reminder_due"
	KindOTPIssued        Kind = "otp_issued"
)

var ErrInvalidNotification = errors.New("notify: invalid notification")

// Notification is the delivery-agnostic payload. It is also the queue wire format.
type Notification struct {
	Kind       Kind           `json:"kind"`
	To         string         `json:"to"`
	ToName     string         `json:"to_name,omitempty"`
	DoctorName string         `json:"doctor_name,omitempty"`
	Date       timegrid.Date  `json:"date"`
	Time       timegrid.Clock `json:"time"`
	VisitID    string         `json:"visit_id,omitempty"`
	Code       string         `json:"code,omitempty"`
	ExpiresIn  time.Duration  `json:"expires_in,omitempty"`
}

// Validate checks that the notification can be delivered at all.
func (n Notification) Validate() error {
	if strings.TrimSpace(n.To) == "" {
		return errors.Join(ErrInvalidNotification, errors.New("recipient required"))
	}
	switch n.Kind {
	case KindBookingConfirmed, KindBookingCancelled, KindReminderDue:
		if n.Date.IsZero() {
			return errors.Join(ErrInvalidNotification, errors.New("visit date required"))
		}
	case KindOTPIssued:
		if n.Code == "" {
			return errors.Join(ErrInvalidNotification, errors.New("code required"))
		}
	default:
		return errors.Join(ErrInvalidNotification, errors.New("unknown kind "+string(n.Kind)))
	}
	return nil
}

// Notifier accepts notifications for best-effort delivery. It never reports
// failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) {}
