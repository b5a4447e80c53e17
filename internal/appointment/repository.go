package appointment

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/apperr"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/schedule"
)

var (
	ErrPatientNotFound     = &apperr.Error{Kind: apperr.KindNotFound, Message: "patient not found"}
	ErrAppointmentNotFound = &apperr.Error{Kind: apperr.KindNotFound, Message: "appointment not found"}
	// ErrSlotTaken is returned by the conditional writes when another
	// Scheduled appointment already holds the (doctor, date, start) key.
	ErrSlotTaken = &apperr.Error{Kind: apperr.KindConflict, Message: "slot already holds a scheduled appointment"}
	// ErrStatusChanged is returned by UpdateAppointmentStatus when the row is
	// no longer in the expected status.
	ErrStatusChanged = &apperr.Error{Kind: apperr.KindConflict, Message: "appointment status changed concurrently"}
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// InsertScheduled is a single conditional insert keyed by
	// (doctor, date, start, status=scheduled).
	InsertScheduled(ctx context.Context, appt Appointment) (*Appointment, error)
	InsertPending(ctx context.Context, appt Appointment) (*Appointment, error)
	// ScheduleFromPending moves a pending appointment onto a slot under the
	// same uniqueness rule as InsertScheduled.
	ScheduleFromPending(ctx context.Context, id uuid.UUID, date civil.Date, start schedule.Clock, durationMinutes int) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, note string) (*Appointment, error)

	ListScheduledIntervals(ctx context.Context, doctorID uuid.UUID, from, to civil.Date) (map[civil.Date][]schedule.Busy, error)
	ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date civil.Date) ([]Appointment, error)

	// Retention purge
	DeleteStalePending(ctx context.Context, createdBefore time.Time) (int64, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
