package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wolfman30/polyclinic-scheduler/internal/pgconv"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
)

// Store is the persistence contract for doctors, weekly rules and exceptions.
type Store interface {
	CreateDoctor(ctx context.Context, d Doctor) (Doctor, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (Doctor, error)
	DoctorByUser(ctx context.Context, userID uuid.UUID) (Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
	UpdateDoctor(ctx context.Context, d Doctor) error

	WeeklyRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error)
	RulesForDay(ctx context.Context, doctorID uuid.UUID, weekday int) ([]WeeklyRule, error)
	ReplaceWeeklyRules(ctx context.Context, doctorID uuid.UUID, rules []WeeklyRule) ([]WeeklyRule, error)
	DeleteWeeklyRule(ctx context.Context, doctorID, ruleID uuid.UUID) error

	ExceptionOn(ctx context.Context, doctorID uuid.UUID, date timegrid.Date) (DateException, error)
	Exceptions(ctx context.Context, doctorID uuid.UUID) ([]DateException, error)
	UpsertException(ctx context.Context, in ExceptionInput) (DateException, error)
}

// DB abstracts the pgx pool for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store on pgx.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wires a store to a pool (or a pgxmock pool in tests).
func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("schedule: db required")
	}
	return &PostgresStore{db: db}
}

const doctorColumns = `id, user_id, name, specialization, created_at`

func (s *PostgresStore) CreateDoctor(ctx context.Context, d Doctor) (Doctor, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO doctors (id, user_id, name, specialization, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.UserID, d.Name, d.Specialization, d.CreatedAt,
	)
	if err != nil {
		return Doctor{}, fmt.Errorf("schedule: create doctor: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) GetDoctor(ctx context.Context, id uuid.UUID) (Doctor, error) {
	row := s.db.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1`, id)
	return scanDoctor(row, "get doctor")
}

func (s *PostgresStore) DoctorByUser(ctx context.Context, userID uuid.UUID) (Doctor, error) {
	row := s.db.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE user_id = $1`, userID)
	return scanDoctor(row, "doctor by user")
}

func (s *PostgresStore) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := s.db.Query(ctx, `SELECT `+doctorColumns+` FROM doctors ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("schedule: list doctors: %w", err)
	}
	defer rows.Close()

	var out []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows, "list doctors")
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule: list doctors: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateDoctor(ctx context.Context, d Doctor) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE doctors SET name = $1, specialization = $2 WHERE id = $3`,
		d.Name, d.Specialization, d.ID,
	)
	if err != nil {
		return fmt.Errorf("schedule: update doctor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

const ruleColumns = `id, doctor_id, day_of_week, start_time, end_time, max_patients_per_slot`

func (s *PostgresStore) WeeklyRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+ruleColumns+` FROM weekly_rules
		WHERE doctor_id = $1
		ORDER BY day_of_week ASC, start_time ASC`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("schedule: weekly rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// RulesForDay returns the doctor's rules for a weekday ordered by start time.
func (s *PostgresStore) RulesForDay(ctx context.Context, doctorID uuid.UUID, weekday int) ([]WeeklyRule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+ruleColumns+` FROM weekly_rules
		WHERE doctor_id = $1 AND day_of_week = $2
		ORDER BY start_time ASC`, doctorID, weekday)
	if err != nil {
		return nil, fmt.Errorf("schedule: rules for day: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// ReplaceWeeklyRules swaps the doctor's whole weekly schedule in one transaction.
func (s *PostgresStore) ReplaceWeeklyRules(ctx context.Context, doctorID uuid.UUID, rules []WeeklyRule) ([]WeeklyRule, error) {
	prepared, err := prepareRules(doctorID, rules)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("schedule: begin replace rules: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM weekly_rules WHERE doctor_id = $1`, doctorID); err != nil {
		return nil, fmt.Errorf("schedule: clear weekly rules: %w", err)
	}
	for _, r := range prepared {
		_, err := tx.Exec(ctx, `
			INSERT INTO weekly_rules (id, doctor_id, day_of_week, start_time, end_time, max_patients_per_slot)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.DoctorID, r.DayOfWeek, pgconv.Time(r.Start), pgconv.Time(r.End), r.MaxPatientsPerSlot,
		)
		if err != nil {
			return nil, fmt.Errorf("schedule: insert weekly rule: %w", mapFK(err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("schedule: commit replace rules: %w", err)
	}
	return prepared, nil
}

func (s *PostgresStore) DeleteWeeklyRule(ctx context.Context, doctorID, ruleID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM weekly_rules WHERE id = $1 AND doctor_id = $2`, ruleID, doctorID)
	if err != nil {
		return fmt.Errorf("schedule: delete weekly rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

const exceptionColumns = `id, doctor_id, exception_date, status, start_time, end_time`

func (s *PostgresStore) ExceptionOn(ctx context.Context, doctorID uuid.UUID, date timegrid.Date) (DateException, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+exceptionColumns+` FROM date_exceptions
		WHERE doctor_id = $1 AND exception_date = $2`, doctorID, pgconv.Date(date))
	e, err := scanException(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return DateException{}, ErrExceptionNotFound
	}
	if err != nil {
		return DateException{}, fmt.Errorf("schedule: exception on: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) Exceptions(ctx context.Context, doctorID uuid.UUID) ([]DateException, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+exceptionColumns+` FROM date_exceptions
		WHERE doctor_id = $1
		ORDER BY exception_date ASC`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("schedule: exceptions: %w", err)
	}
	defer rows.Close()

	var out []DateException
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, fmt.Errorf("schedule: scan exception: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule: exceptions: %w", err)
	}
	return out, nil
}

// UpsertException inserts or updates the single exception for (doctor, date).
// Cancelled clears the window; nil bounds keep the stored ones.
func (s *PostgresStore) UpsertException(ctx context.Context, in ExceptionInput) (DateException, error) {
	if err := in.validate(); err != nil {
		return DateException{}, err
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO date_exceptions (id, doctor_id, exception_date, status, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (doctor_id, exception_date) DO UPDATE SET
			status = EXCLUDED.status,
			start_time = CASE WHEN EXCLUDED.status = 'Cancelled' THEN NULL
				ELSE COALESCE(EXCLUDED.start_time, date_exceptions.start_time) END,
			end_time = CASE WHEN EXCLUDED.status = 'Cancelled' THEN NULL
				ELSE COALESCE(EXCLUDED.end_time, date_exceptions.end_time) END
		RETURNING `+exceptionColumns,
		uuid.New(), in.DoctorID, pgconv.Date(in.Date), string(in.Status),
		pgconv.OptionalTime(in.Start), pgconv.OptionalTime(in.End),
	)
	e, err := scanException(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return DateException{}, fmt.Errorf("%w: %s exception needs start and end", ErrInvalidException, in.Status)
		}
		return DateException{}, fmt.Errorf("schedule: upsert exception: %w", mapFK(err))
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDoctor(row rowScanner, op string) (Doctor, error) {
	var d Doctor
	if err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.Specialization, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Doctor{}, ErrDoctorNotFound
		}
		return Doctor{}, fmt.Errorf("schedule: %s: %w", op, err)
	}
	return d, nil
}

func scanRules(rows pgx.Rows) ([]WeeklyRule, error) {
	var out []WeeklyRule
	for rows.Next() {
		var (
			r          WeeklyRule
			start, end pgtype.Time
		)
		if err := rows.Scan(&r.ID, &r.DoctorID, &r.DayOfWeek, &start, &end, &r.MaxPatientsPerSlot); err != nil {
			return nil, fmt.Errorf("schedule: scan weekly rule: %w", err)
		}
		r.Start, r.End = pgconv.Clock(start), pgconv.Clock(end)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule: weekly rules rows: %w", err)
	}
	return out, nil
}

func scanException(row rowScanner) (DateException, error) {
	var (
		e          DateException
		date       time.Time
		status     string
		start, end pgtype.Time
	)
	if err := row.Scan(&e.ID, &e.DoctorID, &date, &status, &start, &end); err != nil {
		return DateException{}, err
	}
	e.Date = timegrid.DateOf(date)
	e.Status = ExceptionStatus(status)
	e.Start, e.End = pgconv.ClockPtr(start), pgconv.ClockPtr(end)
	return e, nil
}

func prepareRules(doctorID uuid.UUID, rules []WeeklyRule) ([]WeeklyRule, error) {
	out := make([]WeeklyRule, 0, len(rules))
	for _, r := range rules {
		r.DoctorID = doctorID
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// mapFK turns a foreign-key violation on doctor_id into ErrDoctorNotFound.
func mapFK(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return ErrDoctorNotFound
	}
	return err
}
