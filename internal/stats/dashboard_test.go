package stats

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
)

var today = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := NewService(db, nil)
	s.now = func() time.Time { return time.Date(2025, 1, 6, 15, 30, 0, 0, time.UTC) }
	return s, mock
}

func TestAdminDashboard(t *testing.T) {
	s, mock := newService(t)
	mock.ExpectQuery(`SELECT\s+\(SELECT COUNT\(\*\) FROM doctors\)`).
		WithArgs("Staff", "Patient").
		WillReturnRows(sqlmock.NewRows([]string{"d", "s", "p", "v"}).AddRow(4, 2, 30, 120))

	d, err := s.Dashboard(context.Background(), identity.Requester{Kind: identity.KindAdmin, ID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, 4, *d.TotalDoctors)
	assert.Equal(t, 2, *d.TotalStaff)
	assert.Equal(t, 30, *d.TotalPatients)
	assert.Equal(t, 120, *d.TotalVisits)
	assert.Nil(t, d.UpcomingVisits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDoctorDashboard(t *testing.T) {
	s, mock := newService(t)
	userID := uuid.New()
	mock.ExpectQuery(`SELECT id FROM doctors WHERE user_id = \$1`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-1"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FILTER`).
		WithArgs("doc-1", today).
		WillReturnRows(sqlmock.NewRows([]string{"today", "upcoming"}).AddRow(3, 9))
	mock.ExpectQuery(`SELECT to_char\(visit_date`).
		WithArgs("doc-1", today).
		WillReturnRows(sqlmock.NewRows([]string{"d", "t"}).AddRow("2025-01-06", "16:00"))

	d, err := s.Dashboard(context.Background(), identity.Requester{Kind: identity.KindDoctor, ID: userID})
	require.NoError(t, err)
	assert.Equal(t, 3, *d.TodayAppointments)
	assert.Equal(t, 9, *d.UpcomingAppointments)
	assert.Equal(t, "2025-01-06 at 16:00", d.NextAppointment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDoctorDashboardNoUpcoming(t *testing.T) {
	s, mock := newService(t)
	userID := uuid.New()
	mock.ExpectQuery(`SELECT id FROM doctors`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-1"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FILTER`).
		WithArgs("doc-1", today).
		WillReturnRows(sqlmock.NewRows([]string{"today", "upcoming"}).AddRow(0, 0))
	mock.ExpectQuery(`SELECT to_char\(visit_date`).
		WithArgs("doc-1", today).
		WillReturnError(sql.ErrNoRows)

	d, err := s.Dashboard(context.Background(), identity.Requester{Kind: identity.KindDoctor, ID: userID})
	require.NoError(t, err)
	assert.Equal(t, "None", d.NextAppointment)
}

func TestDoctorWithoutProfile(t *testing.T) {
	s, mock := newService(t)
	userID := uuid.New()
	mock.ExpectQuery(`SELECT id FROM doctors`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	d, err := s.Dashboard(context.Background(), identity.Requester{Kind: identity.KindDoctor, ID: userID})
	require.NoError(t, err)
	assert.Equal(t, Dashboard{}, d)
}

func TestStaffDashboard(t *testing.T) {
	s, mock := newService(t)
	mock.ExpectQuery(`FROM visits WHERE visit_date >= \$1`).
		WithArgs(today).
		WillReturnRows(sqlmock.NewRows([]string{"today", "upcoming"}).AddRow(12, 40))

	d, err := s.Dashboard(context.Background(), identity.Requester{Kind: identity.KindStaff, ID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, 12, *d.TodayTotalVisits)
	assert.Equal(t, 40, *d.UpcomingVisits)
}

func TestPatientDashboard(t *testing.T) {
	s, mock := newService(t)
	userID := uuid.New()
	mock.ExpectQuery(`FROM visits v JOIN doctors d`).
		WithArgs(userID, today).
		WillReturnRows(sqlmock.NewRows([]string{"d", "t", "name"}).AddRow("2025-01-08", "09:30", "Dr. Osei"))

	d, err := s.Dashboard(context.Background(), identity.Requester{Kind: identity.KindPatient, ID: userID})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-08 at 09:30", d.NextVisit)
	assert.Equal(t, "Dr. Osei", d.NextDoctor)
}

func TestPatientDashboardNone(t *testing.T) {
	s, mock := newService(t)
	userID := uuid.New()
	mock.ExpectQuery(`FROM visits v JOIN doctors d`).
		WithArgs(userID, today).
		WillReturnRows(sqlmock.NewRows([]string{"d", "t", "name"}))

	d, err := s.Dashboard(context.Background(), identity.Requester{Kind: identity.KindPatient, ID: userID})
	require.NoError(t, err)
	assert.Equal(t, "None", d.NextVisit)
	assert.Empty(t, d.NextDoctor)
}

func TestGuestForbidden(t *testing.T) {
	s, _ := newService(t)
	_, err := s.Dashboard(context.Background(), identity.Guest("g@example.com"))
	require.ErrorIs(t, err, ErrForbidden)
}

func TestQueryErrorWrapped(t *testing.T) {
	s, mock := newService(t)
	mock.ExpectQuery(`FROM visits WHERE visit_date`).
		WithArgs(today).
		WillReturnError(errors.New("conn reset"))
	_, err := s.Dashboard(context.Background(), identity.Requester{Kind: identity.KindStaff})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stats: staff counts")
}
