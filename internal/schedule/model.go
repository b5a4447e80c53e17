package schedule

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/apperr"
)

// DefaultSlotMinutes applies to custom exception intervals on a weekday the
// template leaves without a slot width.
const DefaultSlotMinutes = 30

// DayRule is one weekday's entry in a doctor's weekly template.
type DayRule struct {
	Weekday     Weekday `json:"weekday"`
	Active      bool    `json:"active"`
	Start       Clock   `json:"start_time"`
	End         Clock   `json:"end_time"`
	SlotMinutes int     `json:"slot_duration_minutes"`
}

func (r DayRule) Validate() error {
	if !r.Weekday.Valid() {
		return apperr.Validationf("weekday %d out of range", r.Weekday)
	}
	if r.SlotMinutes < 0 || r.SlotMinutes > MinutesPerDay {
		return apperr.Validationf("weekday %d: slot duration out of range", r.Weekday)
	}
	if !r.Active {
		return nil
	}
	if !r.Start.Valid() || !r.End.Valid() {
		return apperr.Validationf("weekday %d: times out of range", r.Weekday)
	}
	if r.End <= r.Start {
		return apperr.Validationf("weekday %d: end time must be after start time", r.Weekday)
	}
	if r.SlotMinutes <= 0 {
		return apperr.Validationf("weekday %d: slot duration must be positive", r.Weekday)
	}
	if Clock(r.SlotMinutes) > r.End-r.Start {
		return apperr.Validationf("weekday %d: slot duration exceeds the working interval", r.Weekday)
	}
	return nil
}

// WeeklyTemplate is replaced wholesale on save.
type WeeklyTemplate struct {
	DoctorID  uuid.UUID  `json:"doctor_id"`
	Days      [7]DayRule `json:"days"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// EmptyTemplate has every weekday inactive.
func EmptyTemplate(doctorID uuid.UUID) WeeklyTemplate {
	t := WeeklyTemplate{DoctorID: doctorID}
	for i := range t.Days {
		t.Days[i] = DayRule{Weekday: Weekday(i)}
	}
	return t
}

func (t WeeklyTemplate) Validate() error {
	if t.DoctorID == uuid.Nil {
		return apperr.Validation("doctor_id is required")
	}
	for i, d := range t.Days {
		if d.Weekday != Weekday(i) {
			return apperr.Validationf("day %d is labelled weekday %d", i, d.Weekday)
		}
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DateException overrides the template for one date. Blocked removes every
// slot; otherwise Start/End replace the template interval.
type DateException struct {
	ID          uuid.UUID  `json:"id"`
	DoctorID    uuid.UUID  `json:"doctor_id"`
	Date        civil.Date `json:"date"`
	Blocked     bool       `json:"blocked"`
	Start       Clock      `json:"start_time"`
	End         Clock      `json:"end_time"`
	SlotMinutes int        `json:"slot_duration_minutes,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Slot is derived on demand and never stored.
type Slot struct {
	DoctorID uuid.UUID  `json:"doctor_id"`
	Date     civil.Date `json:"date"`
	Start    Clock      `json:"start_time"`
	End      Clock      `json:"end_time"`
}

// DaySlots groups the open slots of a single date.
type DaySlots struct {
	Date  civil.Date `json:"date"`
	Slots []Slot     `json:"slots"`
}

// EffectiveRule resolves the rule that governs date: an exception wins over
// the template. The returned rule is inactive when nothing can be booked.
func EffectiveRule(tpl WeeklyTemplate, exc *DateException, date civil.Date) DayRule {
	day := tpl.Days[WeekdayOf(date)]
	if exc == nil {
		return day
	}

	rule := DayRule{Weekday: day.Weekday}
	if exc.Blocked {
		return rule
	}

	rule.Active = true
	rule.Start = exc.Start
	rule.End = exc.End
	switch {
	case exc.SlotMinutes > 0:
		rule.SlotMinutes = exc.SlotMinutes
	case day.SlotMinutes > 0:
		rule.SlotMinutes = day.SlotMinutes
	default:
		rule.SlotMinutes = DefaultSlotMinutes
	}
	return rule
}

// GenerateSlots cuts [start, end) into fixed-width intervals. A trailing
// interval that would run past end is dropped.
func GenerateSlots(doctorID uuid.UUID, date civil.Date, rule DayRule) []Slot {
	if !rule.Active || rule.SlotMinutes <= 0 || rule.End <= rule.Start {
		return nil
	}

	slots := make([]Slot, 0, int(rule.End-rule.Start)/rule.SlotMinutes)
	for start := rule.Start; start.Add(rule.SlotMinutes) <= rule.End; start = start.Add(rule.SlotMinutes) {
		slots = append(slots, Slot{
			DoctorID: doctorID,
			Date:     date,
			Start:    start,
			End:      start.Add(rule.SlotMinutes),
		})
	}
	return slots
}

// OnGrid reports whether start is the beginning of one of the rule's slots.
func OnGrid(rule DayRule, start Clock) bool {
	if !rule.Active || rule.SlotMinutes <= 0 {
		return false
	}
	if start < rule.Start || start.Add(rule.SlotMinutes) > rule.End {
		return false
	}
	return int(start-rule.Start)%rule.SlotMinutes == 0
}

// Busy is the interval held by a Scheduled appointment.
type Busy struct {
	Start Clock
	End   Clock
}

func (s Slot) Overlaps(b Busy) bool {
	return s.Start < b.End && b.Start < s.End
}
