package meeting

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/conferencing"
)

type Status string

const (
	StatusCreated Status = "created"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
	StatusExpired Status = "expired"
)

func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusExpired
}

type Attendee struct {
	Identity   string    `json:"identity"`
	AttendeeID string    `json:"attendee_id"`
	JoinedAt   time.Time `json:"joined_at"`
}

// Session is the local record of a provider conferencing session.
// Version increases by one on every stored update.
type Session struct {
	ID                  uuid.UUID  `json:"id"`
	AppointmentID       *uuid.UUID `json:"appointment_id,omitempty"`
	ProviderSessionID   string     `json:"provider_session_id"`
	ProviderSessionARN  string     `json:"-"`
	MediaRegion         string     `json:"media_region"`
	Attendees           []Attendee `json:"attendees"`
	RecordingPipelineID string     `json:"recording_pipeline_id,omitempty"`
	Status              Status     `json:"status"`
	Version             int64      `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
	ExpiresAt           time.Time  `json:"-"`
}

func (s *Session) clone() *Session {
	c := *s
	c.Attendees = append([]Attendee(nil), s.Attendees...)
	if s.AppointmentID != nil {
		id := *s.AppointmentID
		c.AppointmentID = &id
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// Summary is the optional payload passed when a consultation ends.
type Summary struct {
	Notes        string   `json:"notes"`
	DocumentRefs []string `json:"document_refs"`
}

type JoinResult struct {
	Session    *Session                `json:"session"`
	Credential conferencing.Credential `json:"credential"`
}

type ReconcileReport struct {
	Checked int `json:"checked"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}
