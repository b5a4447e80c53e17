package appointment

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/schedule"
)

var apptColumns = []string{"id", "doctor_id", "patient_id", "appt_date", "start_minute", "duration_minutes", "type", "status", "notes", "reason", "created_at", "updated_at"}

func scheduledRow(a Appointment) *pgxmock.Rows {
	date := a.Date.In(time.UTC)
	start := int16(a.Start)
	return pgxmock.NewRows(apptColumns).AddRow(
		a.ID, a.DoctorID, a.PatientID, &date, &start, int16(a.DurationMinutes),
		a.Type, a.Status, a.Notes, a.Reason, fakeNow, fakeNow,
	)
}

func TestPgInsertScheduled(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	appt := Appointment{
		ID:              uuid.New(),
		DoctorID:        uuid.New(),
		PatientID:       uuid.New(),
		Date:            monday,
		Start:           schedule.MustClock("09:00"),
		DurationMinutes: 30,
		Type:            TypeVideo,
		Status:          StatusScheduled,
	}
	mock.ExpectQuery("ON CONFLICT \\(doctor_id, appt_date, start_minute\\) WHERE status = 'scheduled' DO NOTHING").
		WithArgs(appt.ID, appt.DoctorID, appt.PatientID, monday.In(time.UTC), int16(540), int16(30), TypeVideo, "", "").
		WillReturnRows(scheduledRow(appt))

	repo := NewPgRepository(mock)
	created, err := repo.InsertScheduled(context.Background(), appt)
	require.NoError(t, err)
	assert.Equal(t, monday, created.Date)
	assert.Equal(t, "09:00", created.Start.String())
	assert.Equal(t, StatusScheduled, created.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertScheduledConflictReturnsSlotTaken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	args := make([]any, 9)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(args...).
		WillReturnRows(pgxmock.NewRows(apptColumns))

	repo := NewPgRepository(mock)
	_, err = repo.InsertScheduled(context.Background(), Appointment{ID: uuid.New(), Date: monday, Start: 540, DurationMinutes: 30, Type: TypeInPerson})
	assert.ErrorIs(t, err, ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgScheduleFromPendingUniqueViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, monday.In(time.UTC), int16(600), int16(30)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "appointments_scheduled_slot_uq"})

	repo := NewPgRepository(mock)
	_, err = repo.ScheduleFromPending(context.Background(), id, monday, schedule.MustClock("10:00"), 30)
	assert.ErrorIs(t, err, ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateStatusLostRace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, StatusCancelled, StatusScheduled, "no longer needed").
		WillReturnRows(pgxmock.NewRows(apptColumns))

	repo := NewPgRepository(mock)
	_, err = repo.UpdateAppointmentStatus(context.Background(), id, StatusScheduled, StatusCancelled, "no longer needed")
	assert.ErrorIs(t, err, ErrStatusChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListScheduledIntervals(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctor := uuid.New()
	to := monday.AddDays(1)
	rows := pgxmock.NewRows([]string{"appt_date", "start_minute", "duration_minutes"}).
		AddRow(monday.In(time.UTC), int16(540), int16(30)).
		AddRow(monday.In(time.UTC), int16(600), int16(45)).
		AddRow(to.In(time.UTC), int16(480), int16(30))
	mock.ExpectQuery("status = 'scheduled'").
		WithArgs(doctor, monday.In(time.UTC), to.In(time.UTC)).
		WillReturnRows(rows)

	repo := NewPgRepository(mock)
	busy, err := repo.ListScheduledIntervals(context.Background(), doctor, monday, to)
	require.NoError(t, err)
	require.Len(t, busy[monday], 2)
	assert.Equal(t, schedule.Busy{Start: 600, End: 645}, busy[monday][1])
	assert.Equal(t, []schedule.Busy{{Start: 480, End: 510}}, busy[civil.Date{Year: 2026, Month: 10, Day: 20}])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgDeleteStalePending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	before := fakeNow.Add(-24 * time.Hour)
	mock.ExpectExec("DELETE FROM appointments").
		WithArgs(before).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	repo := NewPgRepository(mock)
	n, err := repo.DeleteStalePending(context.Background(), before)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetPatientNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM patients").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "email", "affiliation", "created_at", "updated_at"}))

	repo := NewPgRepository(mock)
	_, err = repo.GetPatientByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrPatientNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
