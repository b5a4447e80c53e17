package schedule

import (
	"encoding/json"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/apperr"
)

// 2026-10-19 is a Monday.
var monday = civil.Date{Year: 2026, Month: 10, Day: 19}

func TestWeekdayOfIsMondayFirst(t *testing.T) {
	assert.Equal(t, Monday, WeekdayOf(monday))
	assert.Equal(t, Sunday, WeekdayOf(monday.AddDays(6)))
	assert.Equal(t, Monday, WeekdayOf(monday.AddDays(7)))
	assert.Equal(t, Saturday, WeekdayOf(monday.AddDays(-2)))
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("08:30")
	require.NoError(t, err)
	assert.Equal(t, Clock(510), c)
	assert.Equal(t, "08:30", c.String())

	_, err = ParseClock("8h30")
	assert.Error(t, err)

	midnight, err := ParseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, Clock(MinutesPerDay), midnight)
	assert.True(t, midnight.Valid())
	assert.Equal(t, "24:00", midnight.String())

	_, err = ParseClock("24:30")
	assert.Error(t, err)
}

func TestDayRuleRunningToMidnight(t *testing.T) {
	var rule DayRule
	require.NoError(t, json.Unmarshal([]byte(`{"weekday":4,"active":true,"start_time":"20:00","end_time":"24:00","slot_duration_minutes":60}`), &rule))
	require.NoError(t, rule.Validate())
	assert.Len(t, GenerateSlots(uuid.New(), monday, rule), 4)
}

func TestDayRuleRejectsOversizedSlot(t *testing.T) {
	rule := DayRule{Weekday: Monday, Active: true, Start: MustClock("08:00"), End: MustClock("17:00"), SlotMinutes: 65566}
	assert.True(t, apperr.IsKind(rule.Validate(), apperr.KindValidation))

	rule.SlotMinutes = 9*60 + 1
	assert.True(t, apperr.IsKind(rule.Validate(), apperr.KindValidation))

	rule.SlotMinutes = 9 * 60
	assert.NoError(t, rule.Validate())

	inactive := DayRule{Weekday: Tuesday, SlotMinutes: MinutesPerDay + 1}
	assert.True(t, apperr.IsKind(inactive.Validate(), apperr.KindValidation))
}

func TestClockJSONRoundTrip(t *testing.T) {
	var rule DayRule
	require.NoError(t, json.Unmarshal([]byte(`{"weekday":0,"active":true,"start_time":"09:00","end_time":"12:00","slot_duration_minutes":20}`), &rule))
	assert.Equal(t, MustClock("09:00"), rule.Start)
	assert.NoError(t, rule.Validate())

	out, err := json.Marshal(rule)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"end_time":"12:00"`)
}

func TestGenerateSlotsFullDay(t *testing.T) {
	doctor := uuid.New()
	rule := DayRule{Weekday: Monday, Active: true, Start: MustClock("08:00"), End: MustClock("17:00"), SlotMinutes: 30}

	slots := GenerateSlots(doctor, monday, rule)
	require.Len(t, slots, 18)
	assert.Equal(t, "08:00", slots[0].Start.String())
	assert.Equal(t, "08:30", slots[0].End.String())
	assert.Equal(t, "16:30", slots[17].Start.String())
	assert.Equal(t, "17:00", slots[17].End.String())
}

func TestGenerateSlotsDropsPartialTrailingInterval(t *testing.T) {
	rule := DayRule{Active: true, Start: MustClock("09:00"), End: MustClock("10:50"), SlotMinutes: 25}

	slots := GenerateSlots(uuid.New(), monday, rule)
	require.Len(t, slots, 4)
	assert.Equal(t, "10:40", slots[3].End.String())
}

func TestGenerateSlotsInactive(t *testing.T) {
	assert.Empty(t, GenerateSlots(uuid.New(), monday, DayRule{Active: false, Start: 0, End: 600, SlotMinutes: 30}))
}

func TestEffectiveRule(t *testing.T) {
	tpl := EmptyTemplate(uuid.New())
	tpl.Days[Monday] = DayRule{Weekday: Monday, Active: true, Start: MustClock("08:00"), End: MustClock("17:00"), SlotMinutes: 30}

	t.Run("template", func(t *testing.T) {
		rule := EffectiveRule(tpl, nil, monday)
		assert.True(t, rule.Active)
		assert.Equal(t, MustClock("08:00"), rule.Start)
	})

	t.Run("blocked exception wins over active weekday", func(t *testing.T) {
		rule := EffectiveRule(tpl, &DateException{Date: monday, Blocked: true}, monday)
		assert.False(t, rule.Active)
	})

	t.Run("custom interval keeps weekday slot width", func(t *testing.T) {
		rule := EffectiveRule(tpl, &DateException{Date: monday, Start: MustClock("13:00"), End: MustClock("15:00")}, monday)
		assert.True(t, rule.Active)
		assert.Equal(t, 30, rule.SlotMinutes)
		assert.Len(t, GenerateSlots(tpl.DoctorID, monday, rule), 4)
	})

	t.Run("custom interval on inactive weekday", func(t *testing.T) {
		sunday := monday.AddDays(6)
		rule := EffectiveRule(tpl, &DateException{Date: sunday, Start: MustClock("10:00"), End: MustClock("11:00")}, sunday)
		assert.True(t, rule.Active)
		assert.Equal(t, DefaultSlotMinutes, rule.SlotMinutes)
	})
}

func TestOnGrid(t *testing.T) {
	rule := DayRule{Active: true, Start: MustClock("08:00"), End: MustClock("17:00"), SlotMinutes: 30}
	assert.True(t, OnGrid(rule, MustClock("09:00")))
	assert.True(t, OnGrid(rule, MustClock("16:30")))
	assert.False(t, OnGrid(rule, MustClock("09:15")))
	assert.False(t, OnGrid(rule, MustClock("17:00")))
	assert.False(t, OnGrid(rule, MustClock("07:30")))
}

func TestTemplateValidate(t *testing.T) {
	tpl := EmptyTemplate(uuid.New())
	assert.NoError(t, tpl.Validate())

	tpl.Days[Tuesday] = DayRule{Weekday: Tuesday, Active: true, Start: MustClock("12:00"), End: MustClock("09:00"), SlotMinutes: 30}
	err := tpl.Validate()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	tpl = EmptyTemplate(uuid.New())
	tpl.Days[Friday].Weekday = Monday
	assert.Error(t, tpl.Validate())
}
