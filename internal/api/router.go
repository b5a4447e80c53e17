package api

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/appointment"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/meeting"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/schedule"
)

// AvailabilityService is implemented by availability.Engine.
type AvailabilityService interface {
	ComputeAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to civil.Date) ([]schedule.DaySlots, error)
	OpenSlots(ctx context.Context, doctorID uuid.UUID, from, to civil.Date) ([]schedule.Slot, error)
	GetTemplate(ctx context.Context, doctorID uuid.UUID) (*schedule.WeeklyTemplate, error)
	SaveTemplate(ctx context.Context, tpl schedule.WeeklyTemplate) (*schedule.WeeklyTemplate, error)
	AddDateException(ctx context.Context, exc schedule.DateException) (*schedule.DateException, error)
	RemoveDateException(ctx context.Context, doctorID, id uuid.UUID) error
}

// BookingService is implemented by appointment.Service.
type BookingService interface {
	ReserveSlot(ctx context.Context, req appointment.ReserveRequest) (*appointment.Appointment, error)
	RequestAppointment(ctx context.Context, in appointment.RequestInput) (*appointment.Appointment, error)
	ScheduleAppointment(ctx context.Context, id uuid.UUID, date civil.Date, start schedule.Clock) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID, notes string) (*appointment.Appointment, error)
	MarkNoShow(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListDoctorDay(ctx context.Context, doctorID uuid.UUID, date civil.Date) ([]appointment.Appointment, error)
}

// MeetingService is implemented by meeting.Manager.
type MeetingService interface {
	CreateSession(ctx context.Context, appointmentID *uuid.UUID) (*meeting.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*meeting.Session, error)
	JoinSession(ctx context.Context, meetingID uuid.UUID, identity string) (*meeting.JoinResult, error)
	EndSession(ctx context.Context, meetingID uuid.UUID, summary *meeting.Summary) (*meeting.Session, error)
	ReconcileState(ctx context.Context) (meeting.ReconcileReport, error)
}

type RouterConfig struct {
	Availability AvailabilityService
	Bookings     BookingService
	Meetings     MeetingService
	Health       *HealthHandler
	Gatherer     prometheus.Gatherer // nil serves the default registry
	Logger       zerolog.Logger
	Timeout      time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	if cfg.Timeout > 0 {
		r.Use(timeoutMiddleware(cfg.Timeout))
	}

	// Health and metrics endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Doctor availability endpoints
	r.Route("/doctors/{doctorID}", func(r chi.Router) {
		r.Get("/slots", listSlotsHandler(cfg.Availability))
		r.Get("/template", getTemplateHandler(cfg.Availability))
		r.Put("/template", saveTemplateHandler(cfg.Availability))
		r.Post("/exceptions", addExceptionHandler(cfg.Availability))
		r.Delete("/exceptions/{id}", removeExceptionHandler(cfg.Availability))
		r.Get("/appointments", listDoctorDayHandler(cfg.Bookings))
	})

	// Appointment endpoints
	bookings := cfg.Bookings
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", reserveAppointmentHandler(bookings))
		r.Post("/requests", requestAppointmentHandler(bookings))
		r.Get("/{id}", getAppointmentHandler(bookings))
		r.Post("/{id}/schedule", scheduleAppointmentHandler(bookings))
		r.Post("/{id}/cancel", statusChangeHandler(func(r *http.Request, id uuid.UUID, note string) (*appointment.Appointment, error) {
			return bookings.CancelAppointment(r.Context(), id, note)
		}))
		r.Post("/{id}/complete", statusChangeHandler(func(r *http.Request, id uuid.UUID, note string) (*appointment.Appointment, error) {
			return bookings.CompleteAppointment(r.Context(), id, note)
		}))
		r.Post("/{id}/no-show", statusChangeHandler(func(r *http.Request, id uuid.UUID, note string) (*appointment.Appointment, error) {
			return bookings.MarkNoShow(r.Context(), id, note)
		}))
	})

	// Meeting endpoints
	r.Route("/meetings", func(r chi.Router) {
		r.Post("/", createMeetingHandler(cfg.Meetings))
		r.Post("/reconcile", reconcileHandler(cfg.Meetings))
		r.Get("/{id}", getMeetingHandler(cfg.Meetings))
		r.Post("/{id}/join", joinMeetingHandler(cfg.Meetings))
		r.Post("/{id}/end", endMeetingHandler(cfg.Meetings))
	})

	return r
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
