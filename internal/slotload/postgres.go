package slotload

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wolfman30/polyclinic-scheduler/internal/pgconv"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresTracker increments with a single upsert so concurrent writers never lose a count.
type PostgresTracker struct {
	db querier
}

var _ Tracker = (*PostgresTracker)(nil)

func NewPostgresTracker(db querier) *PostgresTracker {
	if db == nil {
		panic("slotload: db required")
	}
	return &PostgresTracker{db: db}
}

func (p *PostgresTracker) Increment(ctx context.Context, date timegrid.Date, at timegrid.Clock, maxCapacity int) (SlotLoad, error) {
	if maxCapacity < 1 {
		return SlotLoad{}, ErrInvalidCapacity
	}
	row := p.db.QueryRow(ctx, `
		INSERT INTO slot_loads (slot_date, slot_time, current_patients, max_capacity)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (slot_date, slot_time)
		DO UPDATE SET current_patients = slot_loads.current_patients + 1
		RETURNING slot_date, slot_time, current_patients, max_capacity`,
		pgconv.Date(date), pgconv.Time(at), maxCapacity,
	)
	load, err := scanLoad(row)
	if err != nil {
		return SlotLoad{}, fmt.Errorf("slotload: increment: %w", err)
	}
	return load, nil
}

func (p *PostgresTracker) Day(ctx context.Context, date timegrid.Date) ([]SlotLoad, error) {
	rows, err := p.db.Query(ctx, `
		SELECT slot_date, slot_time, current_patients, max_capacity
		FROM slot_loads
		WHERE slot_date = $1
		ORDER BY slot_time ASC`, pgconv.Date(date))
	if err != nil {
		return nil, fmt.Errorf("slotload: day: %w", err)
	}
	defer rows.Close()

	var out []SlotLoad
	for rows.Next() {
		load, err := scanLoad(rows)
		if err != nil {
			return nil, fmt.Errorf("slotload: scan: %w", err)
		}
		out = append(out, load)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("slotload: day rows: %w", err)
	}
	return out, nil
}

func scanLoad(row interface{ Scan(...any) error }) (SlotLoad, error) {
	var (
		l    SlotLoad
		date time.Time
		at   pgtype.Time
	)
	if err := row.Scan(&date, &at, &l.CurrentPatients, &l.MaxCapacity); err != nil {
		return SlotLoad{}, err
	}
	l.Date = timegrid.DateOf(date)
	l.Time = pgconv.Clock(at)
	return l, nil
}
