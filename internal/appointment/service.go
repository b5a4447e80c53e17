package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/apperr"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/metrics"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/schedule"
)

const (
	EventAppointmentRequested = "APPOINTMENT_REQUESTED"
	EventAppointmentScheduled = "APPOINTMENT_SCHEDULED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
)

var tracer = otel.Tracer("clinic.internal.appointment")

// SlotResolver confirms that a start time is on the doctor's slot grid for a
// date and returns the slot it names. availability.Engine implements it.
type SlotResolver interface {
	ResolveSlot(ctx context.Context, doctorID uuid.UUID, date civil.Date, start schedule.Clock) (schedule.Slot, error)
}

type ReserveRequest struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      civil.Date
	Start     schedule.Clock
	Type      AppointmentType
	Notes     string
	Reason    string
}

type RequestInput struct {
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	DurationMinutes int
	Type            AppointmentType
	Reason          string
}

type Service struct {
	repo    Repository
	slots   SlotResolver
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(repo Repository, slots SlotResolver, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		slots:   slots,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// ReserveSlot books the slot at (doctor, date, start) for a patient.
// Whether the slot is still free is decided by the conditional insert alone,
// never by an earlier slot listing, so of two concurrent callers for the same
// key exactly one succeeds and the other gets apperr.ErrSlotUnavailable.
func (s *Service) ReserveSlot(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.ReserveSlot")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.doctor_id", req.DoctorID.String()),
		attribute.String("clinic.date", req.Date.String()),
		attribute.String("clinic.start", req.Start.String()),
	)

	appt, err := s.reserve(ctx, req)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveBooking(bookingOutcome(err))
		return nil, err
	}
	s.metrics.ObserveBooking("reserved")
	return appt, nil
}

func (s *Service) reserve(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if req.Type == "" {
		req.Type = TypeInPerson
	}
	if !req.Type.Valid() {
		return nil, apperr.Validationf("unknown appointment type %q", req.Type)
	}

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	slot, err := s.slots.ResolveSlot(ctx, req.DoctorID, req.Date, req.Start)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.InsertScheduled(ctx, Appointment{
		ID:              uuid.New(),
		DoctorID:        req.DoctorID,
		PatientID:       req.PatientID,
		Date:            slot.Date,
		Start:           slot.Start,
		DurationMinutes: int(slot.End - slot.Start),
		Type:            req.Type,
		Notes:           req.Notes,
		Reason:          req.Reason,
	})
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, fmt.Errorf("%w: %s %s", apperr.ErrSlotUnavailable, slot.Date, slot.Start)
		}
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", created.DoctorID.String()).
		Str("date", created.Date.String()).
		Str("start", created.Start.String()).
		Msg("slot reserved")

	s.logEvent(ctx, created.ID, EventAppointmentScheduled, map[string]any{
		"doctor_id":  created.DoctorID.String(),
		"patient_id": created.PatientID.String(),
		"date":       created.Date.String(),
		"start_time": created.Start.String(),
	})

	return created, nil
}

// RequestAppointment records a patient's request before a time is agreed.
// It holds no slot until ScheduleAppointment moves it to scheduled.
func (s *Service) RequestAppointment(ctx context.Context, in RequestInput) (*Appointment, error) {
	if in.DoctorID == uuid.Nil || in.PatientID == uuid.Nil {
		return nil, apperr.Validation("doctor_id and patient_id are required")
	}
	if in.Type == "" {
		in.Type = TypeInPerson
	}
	if !in.Type.Valid() {
		return nil, apperr.Validationf("unknown appointment type %q", in.Type)
	}
	if in.DurationMinutes <= 0 {
		in.DurationMinutes = schedule.DefaultSlotMinutes
	}
	if in.DurationMinutes > schedule.MinutesPerDay {
		return nil, apperr.Validationf("duration of %d minutes exceeds one day", in.DurationMinutes)
	}

	if _, err := s.repo.GetPatientByID(ctx, in.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	created, err := s.repo.InsertPending(ctx, Appointment{
		ID:              uuid.New(),
		DoctorID:        in.DoctorID,
		PatientID:       in.PatientID,
		DurationMinutes: in.DurationMinutes,
		Type:            in.Type,
		Reason:          in.Reason,
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentRequested, map[string]any{
		"doctor_id":  created.DoctorID.String(),
		"patient_id": created.PatientID.String(),
	})
	return created, nil
}

// ScheduleAppointment places a pending request on a slot under the same
// uniqueness rule as ReserveSlot.
func (s *Service) ScheduleAppointment(ctx context.Context, id uuid.UUID, date civil.Date, start schedule.Clock) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.ScheduleAppointment")
	defer span.End()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if appt.Status != StatusPendingSchedule {
		return nil, apperr.InvalidTransition(string(appt.Status), string(StatusScheduled))
	}

	slot, err := s.slots.ResolveSlot(ctx, appt.DoctorID, date, start)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveBooking(bookingOutcome(err))
		return nil, err
	}

	updated, err := s.repo.ScheduleFromPending(ctx, id, slot.Date, slot.Start, int(slot.End-slot.Start))
	switch {
	case errors.Is(err, ErrSlotTaken):
		s.metrics.ObserveBooking("unavailable")
		return nil, fmt.Errorf("%w: %s %s", apperr.ErrSlotUnavailable, slot.Date, slot.Start)
	case errors.Is(err, ErrStatusChanged):
		return nil, apperr.InvalidTransition("changed", string(StatusScheduled))
	case err != nil:
		span.RecordError(err)
		return nil, err
	}
	s.metrics.ObserveBooking("reserved")

	s.logEvent(ctx, updated.ID, EventAppointmentScheduled, map[string]any{
		"date":       updated.Date.String(),
		"start_time": updated.Start.String(),
		"from":       string(StatusPendingSchedule),
	})
	return updated, nil
}

func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled, reason, EventAppointmentCancelled)
}

// CompleteAppointment is also called by the meeting manager when a linked
// session ends.
func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, notes, EventAppointmentCompleted)
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, id, StatusNoShow, reason, EventAppointmentNoShow)
}

// transition moves a scheduled appointment to a terminal status. The write is
// conditional on the status read here, so a concurrent change surfaces as an
// invalid transition rather than a lost update.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus, note, event string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.Transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.appointment_id", id.String()),
		attribute.String("clinic.to_status", string(to)),
	)

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !CanTransition(appt.Status, to) {
		return nil, apperr.InvalidTransition(string(appt.Status), string(to))
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, appt.Status, to, note)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			// re-read to report the status that won
			if cur, getErr := s.repo.GetAppointmentByID(ctx, id); getErr == nil {
				return nil, apperr.InvalidTransition(string(cur.Status), string(to))
			}
			return nil, apperr.InvalidTransition(string(appt.Status), string(to))
		}
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", string(appt.Status)).
		Str("to", string(to)).
		Msg("appointment status changed")

	payload := map[string]any{"from": string(appt.Status)}
	if note != "" {
		payload["note"] = note
	}
	s.logEvent(ctx, id, event, payload)

	return updated, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

// ListDoctorDay returns every appointment on the doctor's date, any status.
func (s *Service) ListDoctorDay(ctx context.Context, doctorID uuid.UUID, date civil.Date) ([]Appointment, error) {
	if doctorID == uuid.Nil {
		return nil, apperr.Validation("doctor_id is required")
	}
	return s.repo.ListByDoctorDate(ctx, doctorID, date)
}

// PatientAffiliation returns the patient's organizational affiliation, empty
// when none is recorded.
func (s *Service) PatientAffiliation(ctx context.Context, patientID uuid.UUID) (string, error) {
	p, err := s.repo.GetPatientByID(ctx, patientID)
	if err != nil {
		return "", err
	}
	if p.Affiliation == nil {
		return "", nil
	}
	return *p.Affiliation, nil
}

// PurgeStalePending deletes pending requests that never got a slot within
// the retention window. It is called by the reconcile worker.
func (s *Service) PurgeStalePending(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, apperr.Validation("retention must be positive")
	}
	n, err := s.repo.DeleteStalePending(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("count", n).Dur("retention", retention).Msg("purged stale pending appointments")
	}
	return n, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

func bookingOutcome(err error) string {
	switch {
	case errors.Is(err, apperr.ErrSlotUnavailable):
		return "unavailable"
	case apperr.IsKind(err, apperr.KindValidation):
		return "invalid"
	case apperr.IsKind(err, apperr.KindNotFound):
		return "not_found"
	default:
		return "error"
	}
}
