// Package stats computes the per-requester dashboard counters.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

var ErrForbidden = errors.New("stats: dashboard not available to requester")

// Dashboard holds only the fields relevant to the requester's kind.
type Dashboard struct {
	TotalDoctors  *int `json:"total_doctors,omitempty"`
	TotalStaff    *int `json:"total_staff,omitempty"`
	TotalPatients *int `json:"total_patients,omitempty"`
	TotalVisits   *int `json:"total_visits,omitempty"`

	TodayAppointments    *int   `json:"today_appointments,omitempty"`
	UpcomingAppointments *int   `json:"upcoming_appointments,omitempty"`
	NextAppointment      string `json:"next_appointment,omitempty"`

	TodayTotalVisits *int `json:"today_total_visits,omitempty"`
	UpcomingVisits   *int `json:"upcoming_visits,omitempty"`

	NextVisit  string `json:"next_visit,omitempty"`
	NextDoctor string `json:"next_doctor,omitempty"`
}

// Service reads the dashboard through database/sql.
type Service struct {
	db     *sql.DB
	logger *logging.Logger
	loc    *time.Location
	now    func() time.Time
}

func NewService(db *sql.DB, logger *logging.Logger) *Service {
	if db == nil {
		panic("stats: db cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{db: db, logger: logger, loc: time.UTC, now: time.Now}
}

func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.loc = loc
	}
	return s
}

const none = "None"

func (s *Service) Dashboard(ctx context.Context, r identity.Requester) (Dashboard, error) {
	today := timegrid.DateOf(s.now().In(s.loc)).Time()
	switch r.Kind {
	case identity.KindAdmin:
		return s.admin(ctx)
	case identity.KindDoctor:
		return s.doctor(ctx, r, today)
	case identity.KindStaff:
		return s.staff(ctx, today)
	case identity.KindPatient:
		return s.patient(ctx, r, today)
	default:
		return Dashboard{}, ErrForbidden
	}
}

func (s *Service) admin(ctx context.Context) (Dashboard, error) {
	var doctors, staff, patients, visits int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM doctors),
			(SELECT COUNT(*) FROM users WHERE kind = $1),
			(SELECT COUNT(*) FROM users WHERE kind = $2),
			(SELECT COUNT(*) FROM visits)`,
		string(identity.KindStaff), string(identity.KindPatient),
	).Scan(&doctors, &staff, &patients, &visits)
	if err != nil {
		return Dashboard{}, fmt.Errorf("stats: admin totals: %w", err)
	}
	return Dashboard{TotalDoctors: &doctors, TotalStaff: &staff, TotalPatients: &patients, TotalVisits: &visits}, nil
}

func (s *Service) doctor(ctx context.Context, r identity.Requester, today time.Time) (Dashboard, error) {
	var doctorID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM doctors WHERE user_id = $1`, r.ID).Scan(&doctorID)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("stats: no doctor profile for user", "user_id", r.ID)
		return Dashboard{}, nil
	}
	if err != nil {
		return Dashboard{}, fmt.Errorf("stats: doctor lookup: %w", err)
	}

	var todayCount, upcoming int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE visit_date = $2), COUNT(*)
		FROM visits WHERE doctor_id = $1 AND visit_date >= $2`, doctorID, today,
	).Scan(&todayCount, &upcoming)
	if err != nil {
		return Dashboard{}, fmt.Errorf("stats: doctor counts: %w", err)
	}

	next := none
	var date, at string
	err = s.db.QueryRowContext(ctx, `
		SELECT to_char(visit_date, 'YYYY-MM-DD'), to_char(visit_time, 'HH24:MI')
		FROM visits WHERE doctor_id = $1 AND visit_date >= $2
		ORDER BY visit_date, visit_time LIMIT 1`, doctorID, today,
	).Scan(&date, &at)
	switch {
	case err == nil:
		next = date + " at " + at
	case !errors.Is(err, sql.ErrNoRows):
		return Dashboard{}, fmt.Errorf("stats: doctor next visit: %w", err)
	}
	return Dashboard{TodayAppointments: &todayCount, UpcomingAppointments: &upcoming, NextAppointment: next}, nil
}

func (s *Service) staff(ctx context.Context, today time.Time) (Dashboard, error) {
	var todayCount, upcoming int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE visit_date = $1), COUNT(*)
		FROM visits WHERE visit_date >= $1`, today,
	).Scan(&todayCount, &upcoming)
	if err != nil {
		return Dashboard{}, fmt.Errorf("stats: staff counts: %w", err)
	}
	return Dashboard{TodayTotalVisits: &todayCount, UpcomingVisits: &upcoming}, nil
}

func (s *Service) patient(ctx context.Context, r identity.Requester, today time.Time) (Dashboard, error) {
	var date, at, doctor string
	err := s.db.QueryRowContext(ctx, `
		SELECT to_char(v.visit_date, 'YYYY-MM-DD'), to_char(v.visit_time, 'HH24:MI'), d.name
		FROM visits v JOIN doctors d ON d.id = v.doctor_id
		WHERE v.created_by = $1 AND v.visit_date >= $2
		ORDER BY v.visit_date, v.visit_time LIMIT 1`, r.ID, today,
	).Scan(&date, &at, &doctor)
	if errors.Is(err, sql.ErrNoRows) {
		return Dashboard{NextVisit: none}, nil
	}
	if err != nil {
		return Dashboard{}, fmt.Errorf("stats: patient next visit: %w", err)
	}
	return Dashboard{NextVisit: date + " at " + at, NextDoctor: doctor}, nil
}
