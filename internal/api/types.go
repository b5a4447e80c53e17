package api

import (
	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/appointment"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/schedule"
)

type ReserveAppointmentRequest struct {
	DoctorID  uuid.UUID                   `json:"doctor_id"`
	PatientID uuid.UUID                   `json:"patient_id"`
	Date      civil.Date                  `json:"date"`
	StartTime schedule.Clock              `json:"start_time"`
	Type      appointment.AppointmentType `json:"type"`
	Notes     string                      `json:"notes,omitempty"`
	Reason    string                      `json:"reason,omitempty"`
}

// RequestAppointmentRequest creates a pending appointment with no slot yet.
type RequestAppointmentRequest struct {
	DoctorID        uuid.UUID                   `json:"doctor_id"`
	PatientID       uuid.UUID                   `json:"patient_id"`
	DurationMinutes int                         `json:"duration_minutes"`
	Type            appointment.AppointmentType `json:"type"`
	Reason          string                      `json:"reason,omitempty"`
}

type ScheduleAppointmentRequest struct {
	Date      civil.Date     `json:"date"`
	StartTime schedule.Clock `json:"start_time"`
}

// StatusChangeRequest carries the optional note for cancel, complete and
// no-show.
type StatusChangeRequest struct {
	Note string `json:"note,omitempty"`
}

type AddExceptionRequest struct {
	Date        civil.Date     `json:"date"`
	Blocked     bool           `json:"blocked"`
	StartTime   schedule.Clock `json:"start_time"`
	EndTime     schedule.Clock `json:"end_time"`
	SlotMinutes int            `json:"slot_duration_minutes,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

type SaveTemplateRequest struct {
	Days [7]schedule.DayRule `json:"days"`
}

type CreateMeetingRequest struct {
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

type JoinMeetingRequest struct {
	Identity string `json:"identity"`
}

type EndMeetingRequest struct {
	Notes        string   `json:"notes,omitempty"`
	DocumentRefs []string `json:"document_refs,omitempty"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID           `json:"doctor_id"`
	From     civil.Date          `json:"from"`
	To       civil.Date          `json:"to"`
	Days     []schedule.DaySlots `json:"days"`
}

// FlatSlotsResponse is the ?flat=1 form: one ascending list across the range.
type FlatSlotsResponse struct {
	DoctorID uuid.UUID       `json:"doctor_id"`
	From     civil.Date      `json:"from"`
	To       civil.Date      `json:"to"`
	Slots    []schedule.Slot `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
