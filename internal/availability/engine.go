package availability

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/apperr"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/metrics"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/schedule"
)

const defaultMaxRangeDays = 62

type EngineConfig struct {
	Location     *time.Location   // clinic-local zone, UTC when nil
	MaxRangeDays int              // widest accepted query, inclusive of both ends
	Now          func() time.Time // clock override for tests
}

// Engine turns weekly templates, date exceptions and existing bookings into
// open slots.
type Engine struct {
	repo     Repository
	bookings BookingLookup
	cfg      EngineConfig
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

func NewEngine(repo Repository, bookings BookingLookup, cfg EngineConfig, logger zerolog.Logger, m *metrics.Metrics) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = defaultMaxRangeDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		repo:     repo,
		bookings: bookings,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// Today is the current date in the clinic zone.
func (e *Engine) Today() civil.Date {
	return schedule.Today(e.cfg.Now(), e.cfg.Location)
}

// ComputeAvailableSlots returns one entry per date in [from, to], ascending,
// each with its open slots in start order. A date with nothing to offer has
// an empty slot list; that covers inactive weekdays, blocked dates and fully
// booked days alike.
func (e *Engine) ComputeAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to civil.Date) ([]schedule.DaySlots, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveSlotQuery(time.Since(start).Seconds()) }()

	if err := e.validateRange(doctorID, from, to); err != nil {
		return nil, err
	}
	if err := e.ensureDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	tpl, err := e.repo.GetTemplate(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}

	exceptions, err := e.repo.ListExceptions(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load exceptions: %w", err)
	}
	byDate := make(map[civil.Date]*schedule.DateException, len(exceptions))
	for i := range exceptions {
		byDate[exceptions[i].Date] = &exceptions[i]
	}

	booked, err := e.bookings.ListScheduledIntervals(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load scheduled appointments: %w", err)
	}

	now := e.cfg.Now()
	days := make([]schedule.DaySlots, 0, to.DaysSince(from)+1)
	for d := from; !d.After(to); d = d.AddDays(1) {
		rule := schedule.EffectiveRule(*tpl, byDate[d], d)
		days = append(days, schedule.DaySlots{
			Date:  d,
			Slots: e.notStarted(withoutBooked(schedule.GenerateSlots(doctorID, d, rule), booked[d]), now),
		})
	}

	return days, nil
}

// started reports whether start on date lies before now in the clinic zone.
func (e *Engine) started(date civil.Date, start schedule.Clock, now time.Time) bool {
	return start.On(date, e.cfg.Location).Before(now)
}

// notStarted drops slots on the current date whose start has passed.
func (e *Engine) notStarted(slots []schedule.Slot, now time.Time) []schedule.Slot {
	open := slots[:0]
	for _, s := range slots {
		if !e.started(s.Date, s.Start, now) {
			open = append(open, s)
		}
	}
	return open
}

// OpenSlots is ComputeAvailableSlots flattened into a single ascending list.
func (e *Engine) OpenSlots(ctx context.Context, doctorID uuid.UUID, from, to civil.Date) ([]schedule.Slot, error) {
	days, err := e.ComputeAvailableSlots(ctx, doctorID, from, to)
	if err != nil {
		return nil, err
	}

	slots := make([]schedule.Slot, 0)
	for _, d := range days {
		slots = append(slots, d.Slots...)
	}
	return slots, nil
}

// ResolveSlot checks that start is a slot the doctor offers on date,
// ignoring existing bookings. The booking coordinator calls it before the
// conditional insert that settles contention.
func (e *Engine) ResolveSlot(ctx context.Context, doctorID uuid.UUID, date civil.Date, start schedule.Clock) (schedule.Slot, error) {
	if doctorID == uuid.Nil {
		return schedule.Slot{}, apperr.Validation("doctor_id is required")
	}
	if !date.IsValid() {
		return schedule.Slot{}, apperr.Validation("date is invalid")
	}
	if !start.Valid() {
		return schedule.Slot{}, apperr.Validation("start time is invalid")
	}
	if date.Before(e.Today()) {
		return schedule.Slot{}, apperr.Validation("date is in the past")
	}
	if e.started(date, start, e.cfg.Now()) {
		return schedule.Slot{}, fmt.Errorf("%w: %s %s has already started", apperr.ErrSlotUnavailable, date, start)
	}
	if err := e.ensureDoctor(ctx, doctorID); err != nil {
		return schedule.Slot{}, err
	}

	tpl, err := e.repo.GetTemplate(ctx, doctorID)
	if err != nil {
		return schedule.Slot{}, fmt.Errorf("load template: %w", err)
	}
	exceptions, err := e.repo.ListExceptions(ctx, doctorID, date, date)
	if err != nil {
		return schedule.Slot{}, fmt.Errorf("load exceptions: %w", err)
	}
	var exc *schedule.DateException
	if len(exceptions) > 0 {
		exc = &exceptions[0]
	}

	rule := schedule.EffectiveRule(*tpl, exc, date)
	if !schedule.OnGrid(rule, start) {
		return schedule.Slot{}, fmt.Errorf("%w: %s %s is not offered", apperr.ErrSlotUnavailable, date, start)
	}

	return schedule.Slot{
		DoctorID: doctorID,
		Date:     date,
		Start:    start,
		End:      start.Add(rule.SlotMinutes),
	}, nil
}

func (e *Engine) GetTemplate(ctx context.Context, doctorID uuid.UUID) (*schedule.WeeklyTemplate, error) {
	if err := e.ensureDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	return e.repo.GetTemplate(ctx, doctorID)
}

// SaveTemplate replaces the doctor's weekly template wholesale.
func (e *Engine) SaveTemplate(ctx context.Context, tpl schedule.WeeklyTemplate) (*schedule.WeeklyTemplate, error) {
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	if err := e.ensureDoctor(ctx, tpl.DoctorID); err != nil {
		return nil, err
	}
	if err := e.repo.SaveTemplate(ctx, tpl); err != nil {
		return nil, err
	}

	e.logger.Info().Str("doctor_id", tpl.DoctorID.String()).Msg("weekly template saved")
	return e.repo.GetTemplate(ctx, tpl.DoctorID)
}

// AddDateException rejects past dates, empty custom intervals and a second
// exception for the same doctor and date.
func (e *Engine) AddDateException(ctx context.Context, exc schedule.DateException) (*schedule.DateException, error) {
	if exc.DoctorID == uuid.Nil {
		return nil, apperr.Validation("doctor_id is required")
	}
	if !exc.Date.IsValid() {
		return nil, apperr.Validation("date is invalid")
	}
	if exc.Date.Before(e.Today()) {
		return nil, apperr.Validation("cannot add an exception for a past date")
	}
	if exc.Blocked {
		exc.Start, exc.End, exc.SlotMinutes = 0, 0, 0
	} else {
		if !exc.Start.Valid() || !exc.End.Valid() {
			return nil, apperr.Validation("custom interval times are out of range")
		}
		if exc.End <= exc.Start {
			return nil, apperr.Validation("custom interval end time must be after start time")
		}
		if exc.SlotMinutes < 0 {
			return nil, apperr.Validation("slot duration cannot be negative")
		}
		if schedule.Clock(exc.SlotMinutes) > exc.End-exc.Start {
			return nil, apperr.Validation("slot duration exceeds the custom interval")
		}
	}

	if err := e.ensureDoctor(ctx, exc.DoctorID); err != nil {
		return nil, err
	}

	created, err := e.repo.InsertException(ctx, exc)
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("doctor_id", created.DoctorID.String()).
		Str("date", created.Date.String()).
		Bool("blocked", created.Blocked).
		Msg("date exception added")
	return created, nil
}

// RemoveDateException is idempotent: removing an unknown or already removed
// exception succeeds.
func (e *Engine) RemoveDateException(ctx context.Context, doctorID, id uuid.UUID) error {
	removed, err := e.repo.DeleteException(ctx, doctorID, id)
	if err != nil {
		return err
	}
	if removed {
		e.logger.Info().Str("doctor_id", doctorID.String()).Str("exception_id", id.String()).Msg("date exception removed")
	}
	return nil
}

func (e *Engine) validateRange(doctorID uuid.UUID, from, to civil.Date) error {
	if doctorID == uuid.Nil {
		return apperr.Validation("doctor_id is required")
	}
	if !from.IsValid() || !to.IsValid() {
		return apperr.Validation("date range is invalid")
	}
	if to.Before(from) {
		return apperr.Validation("date_to must not be before date_from")
	}
	if to.DaysSince(from)+1 > e.cfg.MaxRangeDays {
		return apperr.Validationf("date range exceeds %d days", e.cfg.MaxRangeDays)
	}
	return nil
}

func (e *Engine) ensureDoctor(ctx context.Context, doctorID uuid.UUID) error {
	ok, err := e.repo.DoctorExists(ctx, doctorID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDoctorNotFound
	}
	return nil
}

// withoutBooked drops every slot that overlaps a booking. With an unchanged
// template that is exactly the slot whose start matches the booking.
func withoutBooked(slots []schedule.Slot, booked []schedule.Busy) []schedule.Slot {
	out := make([]schedule.Slot, 0, len(slots))
	for _, s := range slots {
		if overlapsAny(s, booked) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func overlapsAny(s schedule.Slot, booked []schedule.Busy) bool {
	for _, b := range booked {
		if s.Overlaps(b) {
			return true
		}
	}
	return false
}
