package notify

import (
	"fmt"
	"strings"
	"time"
)

// Composer renders notifications into email content.
type Composer struct {
	ClinicName string
}

func NewComposer(clinicName string) Composer {
	if strings.TrimSpace(clinicName) == "" {
		clinicName = "the clinic"
	}
	return Composer{ClinicName: clinicName}
}

// Compose builds the email for n.
func (c Composer) Compose(n Notification) (EmailMessage, error) {
	if err := n.Validate(); err != nil {
		return EmailMessage{}, err
	}
	name := n.ToName
	if name == "" {
		name = "there"
	}
	doctor := n.DoctorName
	if doctor == "" {
		doctor = "your doctor"
	}
	when := fmt.Sprintf("%s at %s", n.Date, n.Time)

	msg := EmailMessage{To: n.To, ToName: n.ToName}
	switch n.Kind {
	case KindBookingConfirmed:
		msg.Subject = "Appointment Confirmation - " + c.ClinicName
		msg.Body = fmt.Sprintf(
			"Hi %s,\n\nYour appointment with %s on %s is confirmed.\nBooking reference: %s\n\nIf you can't make it, please cancel so the slot can go to someone else.\n\n%s",
			name, doctor, when, n.VisitID, c.ClinicName,
		)
	case KindBookingCancelled:
		msg.Subject = "Appointment Cancelled - " + c.ClinicName
		msg.Body = fmt.Sprintf(
			"Hi %s,\n\nYour appointment with %s on %s has been cancelled.\n\n%s",
			name, doctor, when, c.ClinicName,
		)
	case KindReminderDue:
		msg.Subject = "Appointment Reminder - " + c.ClinicName
		msg.Body = fmt.Sprintf(
			"Hi %s,\n\nThis is a reminder of your appointment with %s today at %s.\nPlease arrive a few minutes early.\n\n%s",
			name, doctor, n.Time, c.ClinicName,
		)
	case KindOTPIssued:
		msg.Subject = "Your verification code - " + c.ClinicName
		msg.Body = fmt.Sprintf(
			"Your verification code is %s. It expires in %s.\n\nIf you did not request this code you can ignore this email.",
			n.Code, humanMinutes(n.ExpiresIn),
		)
	}
	return msg, nil
}

func humanMinutes(d time.Duration) string {
	if d <= 0 {
		return "a few minutes"
	}
	m := int(d.Round(time.Minute) / time.Minute)
	if m <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
