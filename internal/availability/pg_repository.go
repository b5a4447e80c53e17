package availability

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/db"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/schedule"
)

type PgRepository struct {
	pool db.DBTX
}

func NewPgRepository(pool db.DBTX) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanException(row pgx.Row) (*schedule.DateException, error) {
	var (
		e                             schedule.DateException
		date                          time.Time
		startMin, endMin, slotMinutes int16
		reason                        *string
	)

	err := row.Scan(
		&e.ID,
		&e.DoctorID,
		&date,
		&e.Blocked,
		&startMin,
		&endMin,
		&slotMinutes,
		&reason,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Date = civil.DateOf(date)
	e.Start = schedule.Clock(startMin)
	e.End = schedule.Clock(endMin)
	e.SlotMinutes = int(slotMinutes)
	if reason != nil {
		e.Reason = *reason
	}
	return &e, nil
}

func dateArg(d civil.Date) time.Time {
	return d.In(time.UTC)
}

// Interface methods

func (r *PgRepository) DoctorExists(ctx context.Context, doctorID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM doctors WHERE id = $1)
	`, doctorID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check doctor: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) GetTemplate(ctx context.Context, doctorID uuid.UUID) (*schedule.WeeklyTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, active, start_minute, end_minute, slot_minutes, updated_at
		FROM weekly_schedules
		WHERE doctor_id = $1
		ORDER BY weekday
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load weekly schedule: %w", err)
	}
	defer rows.Close()

	tpl := schedule.EmptyTemplate(doctorID)
	for rows.Next() {
		var (
			weekday, startMin, endMin, slotMinutes int16
			active                                 bool
			updatedAt                              time.Time
		)
		if err := rows.Scan(&weekday, &active, &startMin, &endMin, &slotMinutes, &updatedAt); err != nil {
			return nil, err
		}
		wd := schedule.Weekday(weekday)
		if !wd.Valid() {
			return nil, fmt.Errorf("weekly schedule for %s has weekday %d", doctorID, weekday)
		}
		tpl.Days[wd] = schedule.DayRule{
			Weekday:     wd,
			Active:      active,
			Start:       schedule.Clock(startMin),
			End:         schedule.Clock(endMin),
			SlotMinutes: int(slotMinutes),
		}
		if updatedAt.After(tpl.UpdatedAt) {
			tpl.UpdatedAt = updatedAt
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &tpl, nil
}

func (r *PgRepository) SaveTemplate(ctx context.Context, tpl schedule.WeeklyTemplate) error {
	var (
		weekdays = make([]int16, 0, len(tpl.Days))
		active   = make([]bool, 0, len(tpl.Days))
		starts   = make([]int16, 0, len(tpl.Days))
		ends     = make([]int16, 0, len(tpl.Days))
		widths   = make([]int16, 0, len(tpl.Days))
	)
	for _, d := range tpl.Days {
		weekdays = append(weekdays, int16(d.Weekday))
		active = append(active, d.Active)
		starts = append(starts, int16(d.Start))
		ends = append(ends, int16(d.End))
		widths = append(widths, int16(d.SlotMinutes))
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO weekly_schedules (doctor_id, weekday, active, start_minute, end_minute, slot_minutes, updated_at)
		SELECT $1, d.weekday, d.active, d.start_minute, d.end_minute, d.slot_minutes, now()
		FROM unnest($2::smallint[], $3::boolean[], $4::smallint[], $5::smallint[], $6::smallint[])
		     AS d(weekday, active, start_minute, end_minute, slot_minutes)
		ON CONFLICT (doctor_id, weekday) DO UPDATE
		SET active = EXCLUDED.active,
		    start_minute = EXCLUDED.start_minute,
		    end_minute = EXCLUDED.end_minute,
		    slot_minutes = EXCLUDED.slot_minutes,
		    updated_at = EXCLUDED.updated_at
	`, tpl.DoctorID, weekdays, active, starts, ends, widths)
	if err != nil {
		return fmt.Errorf("save weekly schedule: %w", err)
	}
	return nil
}

func (r *PgRepository) ListExceptions(ctx context.Context, doctorID uuid.UUID, from, to civil.Date) ([]schedule.DateException, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, exception_date, blocked, start_minute, end_minute, slot_minutes, reason, created_at
		FROM date_exceptions
		WHERE doctor_id = $1
		  AND exception_date BETWEEN $2 AND $3
		ORDER BY exception_date
	`, doctorID, dateArg(from), dateArg(to))
	if err != nil {
		return nil, fmt.Errorf("list date exceptions: %w", err)
	}
	defer rows.Close()

	var result []schedule.DateException
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertException(ctx context.Context, exc schedule.DateException) (*schedule.DateException, error) {
	if exc.ID == uuid.Nil {
		exc.ID = uuid.New()
	}

	var reason *string
	if exc.Reason != "" {
		reason = &exc.Reason
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO date_exceptions (id, doctor_id, exception_date, blocked, start_minute, end_minute, slot_minutes, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING id, doctor_id, exception_date, blocked, start_minute, end_minute, slot_minutes, reason, created_at
	`, exc.ID, exc.DoctorID, dateArg(exc.Date), exc.Blocked, int16(exc.Start), int16(exc.End), int16(exc.SlotMinutes), reason)

	created, err := scanException(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrExceptionExists
		}
		return nil, fmt.Errorf("insert date exception: %w", err)
	}
	return created, nil
}

func (r *PgRepository) DeleteException(ctx context.Context, doctorID, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM date_exceptions
		WHERE id = $1 AND doctor_id = $2
	`, id, doctorID)
	if err != nil {
		return false, fmt.Errorf("delete date exception: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
