package availability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/polyclinic-scheduler/internal/schedule"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

var clk = timegrid.MustClock

type fakeOccupancy map[timegrid.Date][]timegrid.Clock

func (f fakeOccupancy) OccupiedTimes(_ context.Context, _ uuid.UUID, date timegrid.Date) ([]timegrid.Clock, error) {
	return f[date], nil
}

func setup(t *testing.T) (*schedule.MemoryStore, schedule.Doctor) {
	t.Helper()
	store := schedule.NewMemoryStore()
	d, err := store.CreateDoctor(context.Background(), schedule.Doctor{Name: "Dr. Lindqvist", Specialization: "GP"})
	require.NoError(t, err)
	return store, d
}

func ptr(s string) *timegrid.Clock {
	c := clk(s)
	return &c
}

func TestResolve_DefaultOpenPolicy(t *testing.T) {
	store, d := setup(t)
	r := NewResolver(store, nil, logging.Discard())
	date := timegrid.MustDate("2025-01-01")

	cases := []struct {
		at        string
		available bool
	}{
		{"08:00", true},
		{"10:00", true},
		{"22:00", true},
		{"07:59", false},
		{"22:00:01", false},
	}
	for _, tc := range cases {
		v, err := r.Resolve(context.Background(), d.ID, date, clk(tc.at))
		require.NoError(t, err)
		assert.Equal(t, tc.available, v.Available, tc.at)
		assert.Equal(t, SourceDefault, v.Source)
		if tc.available {
			assert.Equal(t, 10, v.Capacity)
		}
	}
}

func TestResolve_WeeklyRuleWednesday(t *testing.T) {
	ctx := context.Background()
	store, d := setup(t)
	_, err := store.ReplaceWeeklyRules(ctx, d.ID, []schedule.WeeklyRule{
		{DayOfWeek: 2, Start: clk("09:00"), End: clk("12:00"), MaxPatientsPerSlot: 5},
	})
	require.NoError(t, err)
	r := NewResolver(store, nil, logging.Discard())
	wednesday := timegrid.MustDate("2025-01-01")

	v, err := r.Resolve(ctx, d.ID, wednesday, clk("14:00"))
	require.NoError(t, err)
	assert.False(t, v.Available)
	assert.Equal(t, SourceWeekly, v.Source)

	v, err = r.Resolve(ctx, d.ID, wednesday, clk("10:00"))
	require.NoError(t, err)
	assert.True(t, v.Available)
	assert.Equal(t, 5, v.Capacity)

	// Thursday has no rule, so the default policy applies.
	v, err = r.Resolve(ctx, d.ID, wednesday.AddDays(1), clk("14:00"))
	require.NoError(t, err)
	assert.True(t, v.Available)
	assert.Equal(t, SourceDefault, v.Source)
}

func TestResolve_SplitDayUsesUnionOfRules(t *testing.T) {
	ctx := context.Background()
	store, d := setup(t)
	_, err := store.ReplaceWeeklyRules(ctx, d.ID, []schedule.WeeklyRule{
		{DayOfWeek: 0, Start: clk("09:00"), End: clk("12:00"), MaxPatientsPerSlot: 4},
		{DayOfWeek: 0, Start: clk("14:00"), End: clk("17:00"), MaxPatientsPerSlot: 2},
	})
	require.NoError(t, err)
	r := NewResolver(store, nil, logging.Discard())
	monday := timegrid.MustDate("2025-01-06")

	v, err := r.Resolve(ctx, d.ID, monday, clk("15:30"))
	require.NoError(t, err)
	assert.True(t, v.Available)
	assert.Equal(t, 2, v.Capacity)

	v, err = r.Resolve(ctx, d.ID, monday, clk("13:00"))
	require.NoError(t, err)
	assert.False(t, v.Available)
}

func TestResolve_CancelledExceptionVetoesWeeklyRule(t *testing.T) {
	ctx := context.Background()
	store, d := setup(t)
	_, err := store.ReplaceWeeklyRules(ctx, d.ID, []schedule.WeeklyRule{
		{DayOfWeek: 2, Start: clk("00:00"), End: clk("23:59"), MaxPatientsPerSlot: 5},
	})
	require.NoError(t, err)
	date := timegrid.MustDate("2025-01-01")
	_, err = store.UpsertException(ctx, schedule.ExceptionInput{DoctorID: d.ID, Date: date, Status: schedule.ExceptionCancelled})
	require.NoError(t, err)

	r := NewResolver(store, nil, logging.Discard())
	for _, at := range []string{"00:00", "09:00", "12:00", "23:59"} {
		v, err := r.Resolve(ctx, d.ID, date, clk(at))
		require.NoError(t, err)
		assert.False(t, v.Available, at)
		assert.Equal(t, SourceException, v.Source)
	}
}

func TestResolve_AddedExceptionCapacityFallbacks(t *testing.T) {
	ctx := context.Background()
	date := timegrid.MustDate("2025-01-01")

	t.Run("no weekly rule falls back to one", func(t *testing.T) {
		store, d := setup(t)
		_, err := store.UpsertException(ctx, schedule.ExceptionInput{
			DoctorID: d.ID, Date: date, Status: schedule.ExceptionAdded, Start: ptr("18:00"), End: ptr("20:00"),
		})
		require.NoError(t, err)
		r := NewResolver(store, nil, logging.Discard())

		v, err := r.Resolve(ctx, d.ID, date, clk("19:00"))
		require.NoError(t, err)
		assert.True(t, v.Available)
		assert.Equal(t, 1, v.Capacity)

		v, err = r.Resolve(ctx, d.ID, date, clk("10:00"))
		require.NoError(t, err)
		assert.False(t, v.Available, "exception window replaces the default policy")
	})

	t.Run("weekday rule supplies capacity", func(t *testing.T) {
		store, d := setup(t)
		_, err := store.ReplaceWeeklyRules(ctx, d.ID, []schedule.WeeklyRule{
			{DayOfWeek: 2, Start: clk("09:00"), End: clk("12:00"), MaxPatientsPerSlot: 6},
		})
		require.NoError(t, err)
		_, err = store.UpsertException(ctx, schedule.ExceptionInput{
			DoctorID: d.ID, Date: date, Status: schedule.ExceptionUpdated, Start: ptr("18:00"), End: ptr("20:00"),
		})
		require.NoError(t, err)
		r := NewResolver(store, nil, logging.Discard())

		v, err := r.Resolve(ctx, d.ID, date, clk("20:00"))
		require.NoError(t, err)
		assert.True(t, v.Available)
		assert.Equal(t, 6, v.Capacity)
	})
}

func TestResolve_UnknownDoctor(t *testing.T) {
	store, _ := setup(t)
	r := NewResolver(store, nil, logging.Discard())
	_, err := r.Resolve(context.Background(), uuid.New(), timegrid.MustDate("2025-01-01"), clk("10:00"))
	assert.ErrorIs(t, err, schedule.ErrDoctorNotFound)
}

func TestOpenSlots_SkipsOccupiedAndPastTimes(t *testing.T) {
	ctx := context.Background()
	store, d := setup(t)
	_, err := store.ReplaceWeeklyRules(ctx, d.ID, []schedule.WeeklyRule{
		{DayOfWeek: 2, Start: clk("09:00"), End: clk("11:00"), MaxPatientsPerSlot: 2},
		{DayOfWeek: 2, Start: clk("10:30"), End: clk("12:00"), MaxPatientsPerSlot: 2},
	})
	require.NoError(t, err)
	date := timegrid.MustDate("2025-01-01")
	occ := fakeOccupancy{date: {clk("10:00")}}
	r := NewResolver(store, occ, logging.Discard())

	future := time.Date(2024, 12, 30, 12, 0, 0, 0, time.Local)
	slots, err := r.OpenSlots(ctx, d.ID, date, future)
	require.NoError(t, err)
	assert.Equal(t, []timegrid.Clock{clk("09:00"), clk("09:30"), clk("10:30"), clk("11:00"), clk("11:30"), clk("12:00")}, slots)

	sameDay := time.Date(2025, 1, 1, 10, 45, 0, 0, time.Local)
	slots, err = r.OpenSlots(ctx, d.ID, date, sameDay)
	require.NoError(t, err)
	assert.Equal(t, []timegrid.Clock{clk("11:00"), clk("11:30"), clk("12:00")}, slots)
}

func TestOpenSlots_CancelledDayIsEmpty(t *testing.T) {
	ctx := context.Background()
	store, d := setup(t)
	date := timegrid.MustDate("2025-02-03")
	_, err := store.UpsertException(ctx, schedule.ExceptionInput{DoctorID: d.ID, Date: date, Status: schedule.ExceptionCancelled})
	require.NoError(t, err)

	slots, err := NewResolver(store, nil, logging.Discard()).OpenSlots(ctx, d.ID, date, time.Now())
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestOpenSlots_DefaultWindowCoversWholeGrid(t *testing.T) {
	store, d := setup(t)
	slots, err := NewResolver(store, nil, logging.Discard()).
		OpenSlots(context.Background(), d.ID, timegrid.MustDate("2030-06-03"), time.Date(2030, 1, 1, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	require.Len(t, slots, 29)
	assert.Equal(t, clk("08:00"), slots[0])
	assert.Equal(t, clk("22:00"), slots[len(slots)-1])
}
