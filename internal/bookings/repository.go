package bookings

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

// Store persists visits.
type Store interface {
	Insert(ctx context.Context, v Visit) (Visit, error)
	Get(ctx context.Context, id uuid.UUID) (Visit, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// OccupiedTimes lists the times a doctor already has visits on date.
	OccupiedTimes(ctx context.Context, doctorID uuid.UUID, date timegrid.Date) ([]timegrid.Clock, error)
	// ListForDate returns the day's visits, optionally for one doctor.
	ListForDate(ctx context.Context, date timegrid.Date, doctorID *uuid.UUID) ([]Visit, error)
	ListForDoctorFrom(ctx context.Context, doctorID uuid.UUID, from timegrid.Date) ([]Visit, error)
	ListByCreator(ctx context.Context, userID uuid.UUID) ([]Visit, error)
	// ListBetween returns visits on date whose time lies in [from, to].
	ListBetween(ctx context.Context, date timegrid.Date, from, to timegrid.Clock) ([]Visit, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the Postgres Store.
type Repository struct {
	db querier
}

var _ Store = (*Repository)(nil)

// NewRepository takes a pgx pool, or a pgxmock pool in tests.
func NewRepository(db querier) *Repository {
	if db == nil {
		panic("bookings: db required")
	}
	return &Repository{db: db}
}

const visitColumns = `id, doctor_id, visit_date, visit_time, gender, visit_type,
	created_by, guest_name, guest_email, guest_phone, created_at`

func (r *Repository) Insert(ctx context.Context, v Visit) (Visit, error) {
	if err := v.validate(); err != nil {
		return Visit{}, err
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	var name, email, phone *string
	if v.Guest != nil {
		name, email = &v.Guest.Name, &v.Guest.Email
		if v.Guest.Phone != "" {
			phone = &v.Guest.Phone
		}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO visits (`+visitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.ID, v.DoctorID, pgconv.Date(v.Date), pgconv.Time(v.Time), string(v.Gender), string(v.VisitType),
		v.CreatedBy, name, email, phone, v.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Visit{}, fmt.Errorf("%w: doctor %s", ErrNotFound, v.DoctorID)
		}
		return Visit{}, fmt.Errorf("bookings: insert visit: %w", conflict(err))
	}
	return v, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Visit, error) {
	v, err := scanVisit(r.db.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Visit{}, ErrNotFound
	}
	if err != nil {
		return Visit{}, fmt.Errorf("bookings: get visit: %w", err)
	}
	return v, nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM visits WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("bookings: delete visit: %w", conflict(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) OccupiedTimes(ctx context.Context, doctorID uuid.UUID, date timegrid.Date) ([]timegrid.Clock, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT visit_time FROM visits
		WHERE doctor_id = $1 AND visit_date = $2
		ORDER BY visit_time`, doctorID, pgconv.Date(date))
	if err != nil {
		return nil, fmt.Errorf("bookings: occupied times: %w", err)
	}
	defer rows.Close()
	var out []timegrid.Clock
	for rows.Next() {
		var t pgtype.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("bookings: scan occupied time: %w", err)
		}
		out = append(out, pgconv.Clock(t))
	}
	return out, rows.Err()
}

func (r *Repository) ListForDate(ctx context.Context, date timegrid.Date, doctorID *uuid.UUID) ([]Visit, error) {
	if doctorID != nil {
		return r.list(ctx, "list for date", `
			SELECT `+visitColumns+` FROM visits
			WHERE visit_date = $1 AND doctor_id = $2
			ORDER BY visit_time, created_at`, pgconv.Date(date), *doctorID)
	}
	return r.list(ctx, "list for date", `
		SELECT `+visitColumns+` FROM visits
		WHERE visit_date = $1
		ORDER BY visit_time, created_at`, pgconv.Date(date))
}

func (r *Repository) ListForDoctorFrom(ctx context.Context, doctorID uuid.UUID, from timegrid.Date) ([]Visit, error) {
	return r.list(ctx, "list for doctor", `
		SELECT `+visitColumns+` FROM visits
		WHERE doctor_id = $1 AND visit_date >= $2
		ORDER BY visit_date, visit_time`, doctorID, pgconv.Date(from))
}

func (r *Repository) ListByCreator(ctx context.Context, userID uuid.UUID) ([]Visit, error) {
	return r.list(ctx, "list by creator", `
		SELECT `+visitColumns+` FROM visits
		WHERE created_by = $1
		ORDER BY visit_date, visit_time`, userID)
}

func (r *Repository) ListBetween(ctx context.Context, date timegrid.Date, from, to timegrid.Clock) ([]Visit, error) {
	return r.list(ctx, "list between", `
		SELECT `+visitColumns+` FROM visits
		WHERE visit_date = $1 AND visit_time BETWEEN $2 AND $3
		ORDER BY visit_time`, pgconv.Date(date), pgconv.Time(from), pgconv.Time(to))
}

func (r *Repository) list(ctx context.Context, op, sql string, args ...any) ([]Visit, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("bookings: %s: %w", op, err)
	}
	defer rows.Close()
	var out []Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: %s: %w", op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: %s: %w", op, err)
	}
	return out, nil
}

func scanVisit(row interface{ Scan(...any) error }) (Visit, error) {
	var (
		v                  Visit
		date               time.Time
		at                 pgtype.Time
		gender, visitType  string
		name, email, phone *string
	)
	if err := row.Scan(&v.ID, &v.DoctorID, &date, &at, &gender, &visitType,
		&v.CreatedBy, &name, &email, &phone, &v.CreatedAt); err != nil {
		return Visit{}, err
	}
	v.Date = timegrid.DateOf(date)
	v.Time = pgconv.Clock(at)
	v.Gender = Gender(gender)
	v.VisitType = VisitType(visitType)
	if email != nil {
		g := &GuestInfo{Email: *email}
		if name != nil {
			g.Name = *name
		}
		if phone != nil {
			g.Phone = *phone
		}
		v.Guest = g
	}
	return v, nil
}
