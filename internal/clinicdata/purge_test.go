package clinicdata

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/internal/schedule"
)

func TestPurgeDoctorDeletesEverythingInOneTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	doctorID := uuid.New()
	userID := uuid.New()
	v1, v2 := uuid.New(), uuid.New()
	require.NoError(t, mr.Set("reminder:"+v1.String(), "1"))
	require.NoError(t, mr.Set("reminder:"+v2.String(), "1"))
	require.NoError(t, mr.Set("reminder:unrelated", "1"))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id FROM doctors WHERE id = \$1 FOR UPDATE`).
		WithArgs(doctorID).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(&userID))
	mock.ExpectQuery(`DELETE FROM visits WHERE doctor_id = \$1 RETURNING id`).
		WithArgs(doctorID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(v1).AddRow(v2))
	mock.ExpectExec(`DELETE FROM weekly_rules WHERE doctor_id = \$1`).
		WithArgs(doctorID).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`DELETE FROM date_exceptions WHERE doctor_id = \$1`).
		WithArgs(doctorID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM doctors WHERE id = \$1`).
		WithArgs(doctorID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	p := NewPurger(mock, rdb, nil).WithVisitKeys(func(id uuid.UUID) string { return "reminder:" + id.String() })
	n, err := p.PurgeDoctor(context.Background(), doctorID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.False(t, mr.Exists("reminder:"+v1.String()))
	assert.False(t, mr.Exists("reminder:"+v2.String()))
	assert.True(t, mr.Exists("reminder:unrelated"))
}

func TestPurgeDoctorUnknownDoctor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctorID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id FROM doctors`).
		WithArgs(doctorID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err = NewPurger(mock, nil, nil).PurgeDoctor(context.Background(), doctorID)
	require.ErrorIs(t, err, schedule.ErrDoctorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeDoctorRollsBackOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctorID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id FROM doctors`).
		WithArgs(doctorID).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(nil))
	mock.ExpectQuery(`DELETE FROM visits`).
		WithArgs(doctorID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectExec(`DELETE FROM weekly_rules`).
		WithArgs(doctorID).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = NewPurger(mock, nil, nil).PurgeDoctor(context.Background(), doctorID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete weekly rules")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReassignStaff(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	staffID, adminID := uuid.New(), uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE visits SET created_by = \$2 WHERE created_by = \$1`).
		WithArgs(staffID, adminID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))
	mock.ExpectExec(`DELETE FROM users WHERE id = \$1 AND kind = \$2`).
		WithArgs(staffID, "Staff").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	n, err := NewPurger(mock, nil, nil).ReassignStaff(context.Background(), staffID, adminID)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReassignStaffUnknownUserRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	staffID, adminID := uuid.New(), uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE visits SET created_by`).
		WithArgs(staffID, adminID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec(`DELETE FROM users`).
		WithArgs(staffID, "Staff").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	_, err = NewPurger(mock, nil, nil).ReassignStaff(context.Background(), staffID, adminID)
	require.ErrorIs(t, err, identity.ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgerWithoutDatabase(t *testing.T) {
	var p *Purger
	_, err := p.PurgeDoctor(context.Background(), uuid.New())
	require.Error(t, err)
	_, err = NewPurger(nil, nil, nil).ReassignStaff(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
}
