// Package reminders sends one reminder per visit shortly before it starts.
package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/polyclinic-scheduler/internal/bookings"
	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/internal/notify"
	"github.com/wolfman30/polyclinic-scheduler/internal/schedule"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

const (
	DefaultLookahead = time.Hour
	DefaultWindow    = 120 * time.Second
	dedupeTTL        = 24 * time.Hour
)

type VisitLister interface {
	ListBetween(ctx context.Context, date timegrid.Date, from, to timegrid.Clock) ([]bookings.Visit, error)
}

type UserDirectory interface {
	User(ctx context.Context, id uuid.UUID) (identity.User, error)
}

type DoctorReader interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (schedule.Doctor, error)
}

type Scheduler struct {
	visits    VisitLister
	users     UserDirectory
	doctors   DoctorReader
	dedupe    Deduper
	notifier  notify.Notifier
	logger    *logging.Logger
	lookahead time.Duration
	window    time.Duration
	loc       *time.Location
}

func NewScheduler(visits VisitLister, users UserDirectory, doctors DoctorReader, dedupe Deduper, notifier notify.Notifier, logger *logging.Logger) *Scheduler {
	if visits == nil || users == nil || dedupe == nil || notifier == nil {
		panic("reminders: visits, users, dedupe and notifier are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		visits:    visits,
		users:     users,
		doctors:   doctors,
		dedupe:    dedupe,
		notifier:  notifier,
		logger:    logger,
		lookahead: DefaultLookahead,
		window:    DefaultWindow,
		loc:       time.Local,
	}
}

func (s *Scheduler) WithLookahead(d time.Duration) *Scheduler {
	if d > 0 {
		s.lookahead = d
	}
	return s
}

func (s *Scheduler) WithWindow(d time.Duration) *Scheduler {
	if d > 0 {
		s.window = d
	}
	return s
}

// WithLocation sets the zone visit dates and times are interpreted in.
func (s *Scheduler) WithLocation(loc *time.Location) *Scheduler {
	if loc != nil {
		s.loc = loc
	}
	return s
}

type span struct {
	date     timegrid.Date
	from, to timegrid.Clock
}

// spans splits [from, to] at midnight so each piece covers a single date.
func spans(from, to time.Time) []span {
	fd, td := timegrid.DateOf(from), timegrid.DateOf(to)
	if fd == td {
		return []span{{date: fd, from: timegrid.ClockOf(from), to: timegrid.ClockOf(to)}}
	}
	return []span{
		{date: fd, from: timegrid.ClockOf(from), to: timegrid.NewClock(23, 59, 59)},
		{date: td, from: 0, to: timegrid.ClockOf(to)},
	}
}

// Sweep reminds every visit starting within window of now+lookahead that
// has not been reminded yet. It returns the number of reminders sent.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (int, error) {
	target := now.In(s.loc).Add(s.lookahead)
	sent := 0
	for _, sp := range spans(target.Add(-s.window), target.Add(s.window)) {
		visits, err := s.visits.ListBetween(ctx, sp.date, sp.from, sp.to)
		if err != nil {
			return sent, fmt.Errorf("reminders: list %s: %w", sp.date, err)
		}
		for _, v := range visits {
			if err := ctx.Err(); err != nil {
				return sent, err
			}
			if s.remind(ctx, v) {
				sent++
			}
		}
	}
	if sent > 0 {
		s.logger.Info("reminders sent", "count", sent, "target", target.Format(time.RFC3339))
	}
	return sent, nil
}

func (s *Scheduler) remind(ctx context.Context, v bookings.Visit) bool {
	to, name := s.recipient(ctx, v)
	if to == "" {
		s.logger.Warn("reminder skipped: no recipient", "visit_id", v.ID)
		return false
	}
	claimed, err := s.dedupe.Claim(ctx, v.ID, dedupeTTL)
	if err != nil {
		s.logger.Error("reminder dedupe failed", "visit_id", v.ID, "error", err)
		return false
	}
	if !claimed {
		return false
	}
	doctorName := ""
	if s.doctors != nil {
		if d, err := s.doctors.GetDoctor(ctx, v.DoctorID); err == nil {
			doctorName = d.Name
		}
	}
	s.notifier.Notify(ctx, notify.Notification{
		Kind:       notify.KindReminderDue,
		To:         to,
		ToName:     name,
		DoctorName: doctorName,
		Date:       v.Date,
		Time:       v.Time,
		VisitID:    v.ID.String(),
	})
	return true
}

func (s *Scheduler) recipient(ctx context.Context, v bookings.Visit) (string, string) {
	if v.Guest != nil {
		return v.Guest.Email, v.Guest.Name
	}
	if v.CreatedBy == nil {
		return "", ""
	}
	u, err := s.users.User(ctx, *v.CreatedBy)
	if err != nil {
		s.logger.Warn("reminder recipient lookup failed", "visit_id", v.ID, "error", err)
		return "", ""
	}
	return u.Email, u.Name
}
