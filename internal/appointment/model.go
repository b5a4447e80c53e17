package appointment

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/schedule"
)

type AppointmentStatus string

const (
	StatusPendingSchedule AppointmentStatus = "pending_schedule"
	StatusScheduled       AppointmentStatus = "scheduled"
	StatusCompleted       AppointmentStatus = "completed"
	StatusCancelled       AppointmentStatus = "cancelled"
	StatusNoShow          AppointmentStatus = "no_show"
)

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPendingSchedule: {StatusScheduled},
	StatusScheduled:       {StatusCompleted, StatusCancelled, StatusNoShow},
}

// CanTransition reports whether the status machine allows from -> to.
func CanTransition(from, to AppointmentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

type AppointmentType string

const (
	TypeInPerson AppointmentType = "in_person"
	TypeVideo    AppointmentType = "video"
)

func (t AppointmentType) Valid() bool {
	return t == TypeInPerson || t == TypeVideo
}

type Patient struct {
	ID          uuid.UUID
	Name        string
	Email       *string
	Affiliation *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Appointment is a reservation of a doctor's slot. Date and Start are zero
// while the appointment is still pending a schedule.
type Appointment struct {
	ID              uuid.UUID         `json:"id"`
	DoctorID        uuid.UUID         `json:"doctor_id"`
	PatientID       uuid.UUID         `json:"patient_id"`
	Date            civil.Date        `json:"date"`
	Start           schedule.Clock    `json:"start_time"`
	DurationMinutes int               `json:"duration_minutes"`
	Type            AppointmentType   `json:"type"`
	Status          AppointmentStatus `json:"status"`
	Notes           string            `json:"notes,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func (a Appointment) End() schedule.Clock {
	return a.Start.Add(a.DurationMinutes)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
