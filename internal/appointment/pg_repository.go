package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/db"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/schedule"
)

const appointmentColumns = `id, doctor_id, patient_id, appt_date, start_minute, duration_minutes, type, status, notes, reason, created_at, updated_at`

type PgRepository struct {
	pool db.DBTX
}

func NewPgRepository(pool db.DBTX) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email, affiliation *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&affiliation,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	p.Affiliation = affiliation
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date *time.Time
	var start *int16
	var duration int16

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&date,
		&start,
		&duration,
		&a.Type,
		&a.Status,
		&a.Notes,
		&a.Reason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if date != nil {
		a.Date = civil.DateOf(*date)
	}
	if start != nil {
		a.Start = schedule.Clock(*start)
	}
	a.DurationMinutes = int(duration)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := make([]Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func dateArg(d civil.Date) time.Time {
	return d.In(time.UTC)
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, affiliation, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

// InsertScheduled relies on appointments_scheduled_slot_uq: a losing writer
// inserts nothing and gets no row back.
func (r *PgRepository) InsertScheduled(ctx context.Context, appt Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, appt_date, start_minute, duration_minutes, type, status, notes, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'scheduled', $8, $9, now(), now())
		ON CONFLICT (doctor_id, appt_date, start_minute) WHERE status = 'scheduled' DO NOTHING
		RETURNING `+appointmentColumns,
		appt.ID, appt.DoctorID, appt.PatientID, dateArg(appt.Date), int16(appt.Start),
		int16(appt.DurationMinutes), appt.Type, appt.Notes, appt.Reason)

	created, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrSlotTaken
	}
	if err != nil {
		return nil, fmt.Errorf("insert scheduled appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) InsertPending(ctx context.Context, appt Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, appt_date, start_minute, duration_minutes, type, status, notes, reason, created_at, updated_at)
		VALUES ($1, $2, $3, NULL, NULL, $4, $5, 'pending_schedule', $6, $7, now(), now())
		RETURNING `+appointmentColumns,
		appt.ID, appt.DoctorID, appt.PatientID, int16(appt.DurationMinutes), appt.Type, appt.Notes, appt.Reason)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert pending appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) ScheduleFromPending(ctx context.Context, id uuid.UUID, date civil.Date, start schedule.Clock, durationMinutes int) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'scheduled',
		    appt_date = $2,
		    start_minute = $3,
		    duration_minutes = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending_schedule'
		RETURNING `+appointmentColumns,
		id, dateArg(date), int16(start), int16(durationMinutes))

	updated, err := scanAppointment(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrStatusChanged
		}
		return nil, fmt.Errorf("schedule pending appointment: %w", err)
	}
	return updated, nil
}

// UpdateAppointmentStatus only applies when the row still has status from.
// A non-empty note is appended to the appointment notes.
func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, note string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    notes = CASE WHEN $4::text = '' THEN notes
		                 WHEN notes = '' THEN $4::text
		                 ELSE notes || E'\n' || $4::text END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from, note)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStatusChanged
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return updated, nil
}

func (r *PgRepository) ListScheduledIntervals(ctx context.Context, doctorID uuid.UUID, from, to civil.Date) (map[civil.Date][]schedule.Busy, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT appt_date, start_minute, duration_minutes
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'scheduled'
		  AND appt_date BETWEEN $2 AND $3
		ORDER BY appt_date, start_minute
	`, doctorID, dateArg(from), dateArg(to))
	if err != nil {
		return nil, fmt.Errorf("list scheduled intervals: %w", err)
	}
	defer rows.Close()

	result := make(map[civil.Date][]schedule.Busy)
	for rows.Next() {
		var date time.Time
		var start, duration int16
		if err := rows.Scan(&date, &start, &duration); err != nil {
			return nil, err
		}
		d := civil.DateOf(date)
		result[d] = append(result[d], schedule.Busy{
			Start: schedule.Clock(start),
			End:   schedule.Clock(start).Add(int(duration)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date civil.Date) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appt_date = $2
		ORDER BY start_minute, created_at
	`, doctorID, dateArg(date))
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor date: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) DeleteStalePending(ctx context.Context, createdBefore time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM appointments
		WHERE status = 'pending_schedule'
		  AND created_at < $1
	`, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("delete stale pending appointments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
