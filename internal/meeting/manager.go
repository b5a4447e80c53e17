package meeting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/apperr"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/appointment"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/conferencing"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/metrics"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-teleconsult-scheduling/internal/redis"
)

const maxUpdateAttempts = 3

// errUnchanged lets a mutate callback skip the write.
var errUnchanged = errors.New("meeting: unchanged")

var tracer = otel.Tracer("clinic.internal.meeting")

// AppointmentGateway is what the manager needs from the booking side.
// appointment.Service implements it.
type AppointmentGateway interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID, notes string) (*appointment.Appointment, error)
	PatientAffiliation(ctx context.Context, patientID uuid.UUID) (string, error)
}

type ManagerConfig struct {
	MediaRegion      string
	RecordingSinkARN string        // empty disables recording
	Retention        time.Duration // how long records live after their last update
	Now              func() time.Time
}

// Manager drives sessions through created, active, ended and expired.
// Provider not-found on teardown is success; recording and notification
// steps are best-effort and never fail the operation.
type Manager struct {
	store    Store
	provider conferencing.Provider
	appts    AppointmentGateway
	sender   notify.SummarySender
	routes   notify.RoutingTable
	locker   redisclient.Locker
	group    singleflight.Group
	cfg      ManagerConfig
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

func NewManager(
	store Store,
	provider conferencing.Provider,
	appts AppointmentGateway,
	sender notify.SummarySender,
	routes notify.RoutingTable,
	locker redisclient.Locker,
	cfg ManagerConfig,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if locker == nil {
		locker = redisclient.NopLocker{}
	}
	if sender == nil {
		sender = notify.NoopSender{Logger: logger}
	}
	return &Manager{
		store:    store,
		provider: provider,
		appts:    appts,
		sender:   sender,
		routes:   routes,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

func (m *Manager) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	return m.store.Get(ctx, id)
}

// CreateSession opens a provider session and records it as created. Nothing
// is stored when the provider call fails. Recording is attached afterwards
// when a sink is configured; its failure only leaves the pipeline id unset.
func (m *Manager) CreateSession(ctx context.Context, appointmentID *uuid.UUID) (*Session, error) {
	ctx, span := tracer.Start(ctx, "meeting.CreateSession")
	defer span.End()

	if appointmentID != nil {
		appt, err := m.appts.GetAppointment(ctx, *appointmentID)
		if err != nil {
			return nil, err
		}
		if appt.Status != appointment.StatusScheduled {
			return nil, apperr.Conflict(fmt.Sprintf("appointment is %s, not scheduled", appt.Status))
		}
		span.SetAttributes(attribute.String("clinic.appointment_id", appointmentID.String()))
	}

	id := uuid.New()
	handle, err := m.provider.CreateSession(ctx, conferencing.SessionConfig{
		ExternalID:  id.String(),
		ClientToken: id.String(),
		MediaRegion: m.cfg.MediaRegion,
	})
	if err != nil {
		span.RecordError(err)
		m.logger.Error().Err(err).Str("meeting_id", id.String()).Msg("provider session create failed")
		return nil, err
	}

	now := m.cfg.Now()
	s := &Session{
		ID:                 id,
		AppointmentID:      appointmentID,
		ProviderSessionID:  handle.ProviderSessionID,
		ProviderSessionARN: handle.ARN,
		MediaRegion:        handle.MediaRegion,
		Attendees:          []Attendee{},
		Status:             StatusCreated,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(m.cfg.Retention),
	}
	if err := m.store.Create(ctx, s); err != nil {
		span.RecordError(err)
		// do not leave a provider session nobody can reach
		if _, delErr := m.provider.DeleteSession(ctx, handle.ProviderSessionID); delErr != nil {
			m.logger.Warn().Err(delErr).Str("provider_session_id", handle.ProviderSessionID).Msg("failed to delete orphaned provider session")
		}
		return nil, fmt.Errorf("persist meeting session: %w", err)
	}

	m.metrics.ObserveSessionEvent("created")
	m.logger.Info().
		Str("meeting_id", s.ID.String()).
		Str("provider_session_id", s.ProviderSessionID).
		Msg("meeting session created")

	if m.cfg.RecordingSinkARN != "" {
		s = m.attachRecording(ctx, s)
	}
	return s, nil
}

func (m *Manager) attachRecording(ctx context.Context, s *Session) *Session {
	pipe, err := m.provider.AttachRecordingPipeline(ctx, s.ProviderSessionARN, m.cfg.RecordingSinkARN)
	if err != nil {
		m.metrics.ObserveBestEffortFailure("recording_attach")
		m.logger.Warn().Err(err).Str("meeting_id", s.ID.String()).Msg("recording pipeline attach failed, continuing without recording")
		return s
	}

	updated, err := m.mutate(ctx, s.ID, func(cur *Session) error {
		cur.RecordingPipelineID = pipe.ID
		return nil
	})
	if err != nil {
		m.metrics.ObserveBestEffortFailure("recording_attach")
		m.logger.Warn().Err(err).Str("meeting_id", s.ID.String()).Str("pipeline_id", pipe.ID).Msg("failed to record pipeline id, detaching")
		if _, detachErr := m.provider.DetachRecordingPipeline(ctx, pipe.ID); detachErr != nil {
			m.logger.Warn().Err(detachErr).Str("pipeline_id", pipe.ID).Msg("recording pipeline detach failed")
		}
		return s
	}
	return updated
}

// JoinSession issues an attendee credential after confirming with the
// provider that the session still exists. A session the provider no longer
// knows is stored as expired before SessionExpired is returned.
func (m *Manager) JoinSession(ctx context.Context, meetingID uuid.UUID, identity string) (*JoinResult, error) {
	ctx, span := tracer.Start(ctx, "meeting.JoinSession")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.meeting_id", meetingID.String()))

	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, apperr.Validation("participant identity is required")
	}

	s, err := m.store.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		return nil, fmt.Errorf("%w: session is %s", apperr.ErrSessionExpired, s.Status)
	}

	_, res, err := m.provider.GetSession(ctx, s.ProviderSessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if res == conferencing.ResultNotFound {
		if _, err := m.expire(ctx, meetingID); err != nil {
			m.logger.Warn().Err(err).Str("meeting_id", meetingID.String()).Msg("failed to mark session expired")
		}
		return nil, fmt.Errorf("%w: provider no longer has session %s", apperr.ErrSessionExpired, s.ProviderSessionID)
	}

	cred, err := m.provider.CreateAttendee(ctx, s.ProviderSessionID, identity)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	updated, err := m.mutate(ctx, meetingID, func(cur *Session) error {
		if cur.Status.Terminal() {
			return fmt.Errorf("%w: session is %s", apperr.ErrSessionExpired, cur.Status)
		}
		cur.Attendees = append(cur.Attendees, Attendee{
			Identity:   identity,
			AttendeeID: cred.AttendeeID,
			JoinedAt:   m.cfg.Now(),
		})
		cur.Status = StatusActive
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	m.metrics.ObserveSessionEvent("joined")
	m.logger.Info().
		Str("meeting_id", meetingID.String()).
		Str("attendee_id", cred.AttendeeID).
		Int("attendees", len(updated.Attendees)).
		Msg("attendee joined")

	return &JoinResult{Session: updated, Credential: cred}, nil
}

// EndSession tears the session down. Ending an ended or expired session
// returns it unchanged. A provider that no longer has the session counts as
// success and the session is stored as expired instead of ended.
func (m *Manager) EndSession(ctx context.Context, meetingID uuid.UUID, summary *Summary) (*Session, error) {
	ctx, span := tracer.Start(ctx, "meeting.EndSession")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.meeting_id", meetingID.String()))

	s, err := m.store.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		return s, nil
	}

	if s.RecordingPipelineID != "" {
		if _, err := m.provider.DetachRecordingPipeline(ctx, s.RecordingPipelineID); err != nil {
			m.metrics.ObserveBestEffortFailure("recording_detach")
			m.logger.Warn().Err(err).
				Str("meeting_id", meetingID.String()).
				Str("pipeline_id", s.RecordingPipelineID).
				Msg("recording pipeline detach failed")
		}
	}

	res, err := m.provider.DeleteSession(ctx, s.ProviderSessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	final := StatusEnded
	if res == conferencing.ResultNotFound {
		final = StatusExpired
	}

	transitioned := false
	updated, err := m.mutate(ctx, meetingID, func(cur *Session) error {
		transitioned = false
		if cur.Status.Terminal() {
			return errUnchanged
		}
		now := m.cfg.Now()
		cur.Status = final
		cur.EndedAt = &now
		transitioned = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !transitioned {
		return updated, nil
	}

	m.metrics.ObserveSessionEvent(string(final))
	m.logger.Info().
		Str("meeting_id", meetingID.String()).
		Str("status", string(final)).
		Msg("meeting session ended")

	if updated.AppointmentID != nil {
		m.completeAppointment(ctx, *updated.AppointmentID, summary)
	}
	return updated, nil
}

func (m *Manager) completeAppointment(ctx context.Context, appointmentID uuid.UUID, summary *Summary) {
	var notes string
	var docs []string
	if summary != nil {
		notes = summary.Notes
		docs = summary.DocumentRefs
	}

	appt, err := m.appts.CompleteAppointment(ctx, appointmentID, notes)
	switch {
	case errors.Is(err, apperr.ErrInvalidTransition):
		m.logger.Debug().Str("appointment_id", appointmentID.String()).Msg("appointment already left scheduled")
		appt, err = m.appts.GetAppointment(ctx, appointmentID)
		if err != nil {
			m.logger.Warn().Err(err).Str("appointment_id", appointmentID.String()).Msg("failed to load appointment for summary")
			return
		}
	case err != nil:
		m.metrics.ObserveBestEffortFailure("appointment_complete")
		m.logger.Warn().Err(err).Str("appointment_id", appointmentID.String()).Msg("failed to complete appointment after session end")
		return
	}

	affiliation, err := m.appts.PatientAffiliation(ctx, appt.PatientID)
	if err != nil {
		m.logger.Warn().Err(err).Str("patient_id", appt.PatientID.String()).Msg("failed to load patient affiliation")
	}
	routingKey, ok := m.routes.RouteFor(affiliation)
	if !ok {
		m.logger.Warn().Str("affiliation", affiliation).Msg("no summary route for affiliation, skipping notification")
		return
	}

	if err := m.sender.SendSummary(ctx, appointmentID, docs, routingKey); err != nil {
		m.metrics.ObserveBestEffortFailure("summary_notification")
		m.logger.Warn().Err(err).Str("appointment_id", appointmentID.String()).Msg("summary notification failed")
	}
}

// ReconcileState marks every open session the provider no longer knows as
// expired. Each session is handled by at most one sweep at a time: in
// process through singleflight and across processes through the locker.
func (m *Manager) ReconcileState(ctx context.Context) (ReconcileReport, error) {
	ctx, span := tracer.Start(ctx, "meeting.ReconcileState")
	defer span.End()

	var report ReconcileReport
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		span.RecordError(err)
		return report, err
	}

	for _, s := range open {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		outcome := m.reconcileOne(ctx, s.ID)
		m.metrics.ObserveReconciled(outcome)
		switch outcome {
		case "alive":
			report.Checked++
		case "expired":
			report.Checked++
			report.Expired++
		case "skipped":
			report.Skipped++
		default:
			report.Failed++
		}
	}

	if report.Expired > 0 || report.Failed > 0 {
		m.logger.Info().
			Int("checked", report.Checked).
			Int("expired", report.Expired).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Msg("reconcile sweep finished")
	}
	return report, nil
}

func (m *Manager) reconcileOne(ctx context.Context, id uuid.UUID) string {
	ran := false
	v, err, _ := m.group.Do(id.String(), func() (any, error) {
		ran = true
		outcome := "skipped"
		err := m.locker.WithLock(ctx, id.String(), func(lockCtx context.Context) error {
			var err error
			outcome, err = m.checkProvider(lockCtx, id)
			return err
		})
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return "skipped", nil
		}
		return outcome, err
	})
	if !ran {
		// another sweep in this process handled it
		return "skipped"
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("meeting_id", id.String()).Msg("reconcile failed for session")
		return "failed"
	}
	return v.(string)
}

func (m *Manager) checkProvider(ctx context.Context, id uuid.UUID) (string, error) {
	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return "skipped", nil
	}
	if err != nil {
		return "", err
	}
	if s.Status.Terminal() {
		return "skipped", nil
	}

	_, res, err := m.provider.GetSession(ctx, s.ProviderSessionID)
	if err != nil {
		return "", err
	}
	if res == conferencing.ResultOK {
		return "alive", nil
	}

	changed, err := m.expire(ctx, id)
	if err != nil {
		return "", err
	}
	if !changed {
		return "skipped", nil
	}
	return "expired", nil
}

// expire moves a non-terminal session to expired and reports whether it
// changed anything.
func (m *Manager) expire(ctx context.Context, id uuid.UUID) (bool, error) {
	changed := false
	_, err := m.mutate(ctx, id, func(cur *Session) error {
		changed = false
		if cur.Status.Terminal() {
			return errUnchanged
		}
		now := m.cfg.Now()
		cur.Status = StatusExpired
		cur.EndedAt = &now
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		m.metrics.ObserveSessionEvent(string(StatusExpired))
		m.logger.Info().Str("meeting_id", id.String()).Msg("meeting session expired by provider")
	}
	return changed, nil
}

// mutate re-reads the session, applies fn and writes it back, retrying when
// another writer got there first.
func (m *Manager) mutate(ctx context.Context, id uuid.UUID, fn func(*Session) error) (*Session, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		cur, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(cur); err != nil {
			if errors.Is(err, errUnchanged) {
				return cur, nil
			}
			return nil, err
		}

		now := m.cfg.Now()
		cur.UpdatedAt = now
		cur.ExpiresAt = now.Add(m.cfg.Retention)

		err = m.store.Update(ctx, cur)
		if err == nil {
			return cur, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
