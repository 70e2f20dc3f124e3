package pgconv

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
)

func TestClockRoundTrip(t *testing.T) {
	c := timegrid.MustClock("14:30:15")
	pg := Time(c)
	assert.True(t, pg.Valid)
	assert.Equal(t, int64(52215)*1_000_000, pg.Microseconds)
	assert.Equal(t, c, Clock(pg))
}

func TestNullableClock(t *testing.T) {
	assert.Nil(t, ClockPtr(pgtype.Time{}))
	assert.False(t, OptionalTime(nil).Valid)

	c := timegrid.MustClock("08:00")
	got := ClockPtr(OptionalTime(&c))
	if assert.NotNil(t, got) {
		assert.Equal(t, c, *got)
	}
}
