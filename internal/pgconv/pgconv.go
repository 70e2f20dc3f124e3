// Package pgconv converts between scheduler value types and pgx wire types.
package pgconv

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
)

// Time encodes a clock as a Postgres time value.
func Time(c timegrid.Clock) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * 1_000_000, Valid: true}
}

// OptionalTime encodes a nullable clock.
func OptionalTime(c *timegrid.Clock) pgtype.Time {
	if c == nil {
		return pgtype.Time{}
	}
	return Time(*c)
}

// Clock decodes a Postgres time. Invalid (NULL) values decode to midnight.
func Clock(t pgtype.Time) timegrid.Clock {
	if !t.Valid {
		return 0
	}
	return timegrid.Clock(t.Microseconds / 1_000_000)
}

// ClockPtr decodes a nullable Postgres time.
func ClockPtr(t pgtype.Time) *timegrid.Clock {
	if !t.Valid {
		return nil
	}
	c := Clock(t)
	return &c
}

// Date encodes a calendar date for a DATE column.
func Date(d timegrid.Date) time.Time {
	return d.Time()
}
