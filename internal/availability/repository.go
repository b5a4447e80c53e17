package availability

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/apperr"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/schedule"
)

var (
	ErrDoctorNotFound  = &apperr.Error{Kind: apperr.KindNotFound, Message: "doctor not found"}
	ErrExceptionExists = &apperr.Error{Kind: apperr.KindConflict, Message: "a date exception already exists for this doctor and date"}
)

// Repository holds the doctor's availability rules.
type Repository interface {
	DoctorExists(ctx context.Context, doctorID uuid.UUID) (bool, error)

	// GetTemplate returns an all-inactive template when none was saved.
	GetTemplate(ctx context.Context, doctorID uuid.UUID) (*schedule.WeeklyTemplate, error)
	// SaveTemplate replaces all seven weekday rules in one statement.
	SaveTemplate(ctx context.Context, tpl schedule.WeeklyTemplate) error

	ListExceptions(ctx context.Context, doctorID uuid.UUID, from, to civil.Date) ([]schedule.DateException, error)
	// InsertException returns ErrExceptionExists when the doctor already has
	// an exception on that date.
	InsertException(ctx context.Context, exc schedule.DateException) (*schedule.DateException, error)
	// DeleteException reports whether a row was removed.
	DeleteException(ctx context.Context, doctorID, id uuid.UUID) (bool, error)
}

// BookingLookup reports the intervals already held by Scheduled
// appointments. It is queried on every computation, never cached.
type BookingLookup interface {
	ListScheduledIntervals(ctx context.Context, doctorID uuid.UUID, from, to civil.Date) (map[civil.Date][]schedule.Busy, error)
}
