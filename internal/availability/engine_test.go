package availability

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-teleconsult-scheduling/internal/apperr"
	"github.com/hackgods/clinic-teleconsult-scheduling/internal/schedule"
	"github.com/hackgods/clinic-teleconsult-scheduling/pkg/logging"
)

var (
	// 2026-10-19 is a Monday; "now" sits on the Wednesday before it.
	monday  = civil.Date{Year: 2026, Month: 10, Day: 19}
	fakeNow = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
)

type memRepo struct {
	mu         sync.Mutex
	doctors    map[uuid.UUID]bool
	templates  map[uuid.UUID]schedule.WeeklyTemplate
	exceptions map[uuid.UUID]schedule.DateException
}

func newMemRepo(doctors ...uuid.UUID) *memRepo {
	r := &memRepo{
		doctors:    map[uuid.UUID]bool{},
		templates:  map[uuid.UUID]schedule.WeeklyTemplate{},
		exceptions: map[uuid.UUID]schedule.DateException{},
	}
	for _, d := range doctors {
		r.doctors[d] = true
	}
	return r
}

func (r *memRepo) DoctorExists(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doctors[id], nil
}

func (r *memRepo) GetTemplate(_ context.Context, id uuid.UUID) (*schedule.WeeklyTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tpl, ok := r.templates[id]
	if !ok {
		tpl = schedule.EmptyTemplate(id)
	}
	return &tpl, nil
}

func (r *memRepo) SaveTemplate(_ context.Context, tpl schedule.WeeklyTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tpl.DoctorID] = tpl
	return nil
}

func (r *memRepo) ListExceptions(_ context.Context, doctorID uuid.UUID, from, to civil.Date) ([]schedule.DateException, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schedule.DateException
	for _, e := range r.exceptions {
		if e.DoctorID == doctorID && !e.Date.Before(from) && !e.Date.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memRepo) InsertException(_ context.Context, exc schedule.DateException) (*schedule.DateException, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.exceptions {
		if e.DoctorID == exc.DoctorID && e.Date == exc.Date {
			return nil, ErrExceptionExists
		}
	}
	exc.ID = uuid.New()
	exc.CreatedAt = fakeNow
	r.exceptions[exc.ID] = exc
	return &exc, nil
}

func (r *memRepo) DeleteException(_ context.Context, doctorID, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.exceptions[id]
	if !ok || e.DoctorID != doctorID {
		return false, nil
	}
	delete(r.exceptions, id)
	return true, nil
}

type memBookings map[civil.Date][]schedule.Busy

func (b memBookings) ListScheduledIntervals(_ context.Context, _ uuid.UUID, from, to civil.Date) (map[civil.Date][]schedule.Busy, error) {
	out := map[civil.Date][]schedule.Busy{}
	for d, v := range b {
		if !d.Before(from) && !d.After(to) {
			out[d] = v
		}
	}
	return out, nil
}

func mondayTemplate(doctorID uuid.UUID) schedule.WeeklyTemplate {
	tpl := schedule.EmptyTemplate(doctorID)
	tpl.Days[schedule.Monday] = schedule.DayRule{
		Weekday:     schedule.Monday,
		Active:      true,
		Start:       schedule.MustClock("08:00"),
		End:         schedule.MustClock("17:00"),
		SlotMinutes: 30,
	}
	return tpl
}

func newTestEngine(t *testing.T, bookings memBookings) (*Engine, *memRepo, uuid.UUID) {
	t.Helper()
	doctor := uuid.New()
	repo := newMemRepo(doctor)
	require.NoError(t, repo.SaveTemplate(context.Background(), mondayTemplate(doctor)))

	engine := NewEngine(repo, bookings, EngineConfig{Now: func() time.Time { return fakeNow }}, logging.Nop(), nil)
	return engine, repo, doctor
}

func TestComputeAvailableSlotsFullMonday(t *testing.T) {
	engine, _, doctor := newTestEngine(t, memBookings{})

	days, err := engine.ComputeAvailableSlots(context.Background(), doctor, monday, monday)
	require.NoError(t, err)
	require.Len(t, days, 1)

	slots := days[0].Slots
	require.Len(t, slots, 18)
	assert.Equal(t, "08:00", slots[0].Start.String())
	assert.Equal(t, "08:30", slots[0].End.String())
	assert.Equal(t, "16:30", slots[17].Start.String())
	assert.Equal(t, "17:00", slots[17].End.String())
}

func TestComputeAvailableSlotsRangeIsAscendingWithEmptyDays(t *testing.T) {
	engine, _, doctor := newTestEngine(t, memBookings{})

	days, err := engine.ComputeAvailableSlots(context.Background(), doctor, monday, monday.AddDays(7))
	require.NoError(t, err)
	require.Len(t, days, 8)

	for i, d := range days {
		assert.Equal(t, monday.AddDays(i), d.Date)
		assert.NotNil(t, d.Slots)
	}
	assert.Len(t, days[0].Slots, 18)
	assert.Empty(t, days[1].Slots)
	assert.Len(t, days[7].Slots, 18)
}

func TestBlockingExceptionRemovesAllSlots(t *testing.T) {
	engine, _, doctor := newTestEngine(t, memBookings{})
	ctx := context.Background()

	_, err := engine.AddDateException(ctx, schedule.DateException{DoctorID: doctor, Date: monday, Blocked: true})
	require.NoError(t, err)

	slots, err := engine.OpenSlots(ctx, doctor, monday, monday)
	require.NoError(t, err)
	assert.NotNil(t, slots)
	assert.Empty(t, slots)

	// the following Monday still follows the template
	slots, err = engine.OpenSlots(ctx, doctor, monday.AddDays(7), monday.AddDays(7))
	require.NoError(t, err)
	assert.Len(t, slots, 18)
}

func TestCustomIntervalExceptionOverridesTemplate(t *testing.T) {
	engine, _, doctor := newTestEngine(t, memBookings{})
	ctx := context.Background()
	tuesday := monday.AddDays(1)

	_, err := engine.AddDateException(ctx, schedule.DateException{
		DoctorID: doctor,
		Date:     tuesday,
		Start:    schedule.MustClock("10:00"),
		End:      schedule.MustClock("12:00"),
	})
	require.NoError(t, err)

	slots, err := engine.OpenSlots(ctx, doctor, tuesday, tuesday)
	require.NoError(t, err)
	require.Len(t, slots, 4)
	assert.Equal(t, "10:00", slots[0].Start.String())
	assert.Equal(t, "11:30", slots[3].Start.String())
}

func TestBookedSlotsAreExcluded(t *testing.T) {
	bookings := memBookings{
		monday: {{Start: schedule.MustClock("09:00"), End: schedule.MustClock("09:30")}},
	}
	engine, _, doctor := newTestEngine(t, bookings)

	slots, err := engine.OpenSlots(context.Background(), doctor, monday, monday)
	require.NoError(t, err)
	require.Len(t, slots, 17)

	starts := make([]string, 0, len(slots))
	for _, s := range slots {
		starts = append(starts, s.Start.String())
	}
	assert.NotContains(t, starts, "09:00")
	assert.Contains(t, starts, "08:00")
}

func TestNoSlotOverlapsABooking(t *testing.T) {
	// a 45 minute appointment left over from an older template
	bookings := memBookings{
		monday: {{Start: schedule.MustClock("09:00"), End: schedule.MustClock("09:45")}},
	}
	engine, _, doctor := newTestEngine(t, bookings)

	slots, err := engine.OpenSlots(context.Background(), doctor, monday, monday)
	require.NoError(t, err)
	assert.Len(t, slots, 16)
	for _, s := range slots {
		for _, b := range bookings[monday] {
			assert.False(t, s.Overlaps(b), "slot %s overlaps booking %s", s.Start, b.Start)
		}
	}
}

func TestComputeAvailableSlotsValidation(t *testing.T) {
	engine, _, doctor := newTestEngine(t, memBookings{})
	ctx := context.Background()

	_, err := engine.ComputeAvailableSlots(ctx, doctor, monday, monday.AddDays(-1))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = engine.ComputeAvailableSlots(ctx, doctor, monday, monday.AddDays(90))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = engine.ComputeAvailableSlots(ctx, uuid.New(), monday, monday)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestAddDateExceptionRules(t *testing.T) {
	engine, _, doctor := newTestEngine(t, memBookings{})
	ctx := context.Background()

	_, err := engine.AddDateException(ctx, schedule.DateException{DoctorID: doctor, Date: monday, Blocked: true})
	require.NoError(t, err)

	t.Run("duplicate date", func(t *testing.T) {
		_, err := engine.AddDateException(ctx, schedule.DateException{DoctorID: doctor, Date: monday, Start: 600, End: 660})
		assert.ErrorIs(t, err, ErrExceptionExists)
		assert.True(t, apperr.IsKind(err, apperr.KindConflict))
	})

	t.Run("past date", func(t *testing.T) {
		_, err := engine.AddDateException(ctx, schedule.DateException{DoctorID: doctor, Date: civil.DateOf(fakeNow).AddDays(-1), Blocked: true})
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	})

	t.Run("today is allowed", func(t *testing.T) {
		_, err := engine.AddDateException(ctx, schedule.DateException{DoctorID: doctor, Date: civil.DateOf(fakeNow), Blocked: true})
		assert.NoError(t, err)
	})

	t.Run("slot wider than interval", func(t *testing.T) {
		_, err := engine.AddDateException(ctx, schedule.DateException{
			DoctorID:    doctor,
			Date:        monday.AddDays(3),
			Start:       schedule.MustClock("10:00"),
			End:         schedule.MustClock("11:00"),
			SlotMinutes: 65566,
		})
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	})

	t.Run("end not after start", func(t *testing.T) {
		_, err := engine.AddDateException(ctx, schedule.DateException{
			DoctorID: doctor,
			Date:     monday.AddDays(2),
			Start:    schedule.MustClock("12:00"),
			End:      schedule.MustClock("12:00"),
		})
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	})
}

func TestRemoveDateExceptionIsIdempotent(t *testing.T) {
	engine, repo, doctor := newTestEngine(t, memBookings{})
	ctx := context.Background()

	exc, err := engine.AddDateException(ctx, schedule.DateException{DoctorID: doctor, Date: monday, Blocked: true})
	require.NoError(t, err)

	require.NoError(t, engine.RemoveDateException(ctx, doctor, exc.ID))
	require.NoError(t, engine.RemoveDateException(ctx, doctor, exc.ID))
	assert.Empty(t, repo.exceptions)

	slots, err := engine.OpenSlots(ctx, doctor, monday, monday)
	require.NoError(t, err)
	assert.Len(t, slots, 18)
}

func TestResolveSlot(t *testing.T) {
	engine, _, doctor := newTestEngine(t, memBookings{})
	ctx := context.Background()

	slot, err := engine.ResolveSlot(ctx, doctor, monday, schedule.MustClock("09:00"))
	require.NoError(t, err)
	assert.Equal(t, "09:30", slot.End.String())

	_, err = engine.ResolveSlot(ctx, doctor, monday, schedule.MustClock("09:10"))
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)

	_, err = engine.ResolveSlot(ctx, doctor, monday.AddDays(1), schedule.MustClock("09:00"))
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)

	_, err = engine.ResolveSlot(ctx, doctor, monday.AddDays(-7), schedule.MustClock("09:00"))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestSaveTemplateValidates(t *testing.T) {
	engine, _, doctor := newTestEngine(t, memBookings{})
	ctx := context.Background()

	tpl := schedule.EmptyTemplate(doctor)
	tpl.Days[schedule.Friday] = schedule.DayRule{Weekday: schedule.Friday, Active: true, Start: 600, End: 540, SlotMinutes: 15}
	_, err := engine.SaveTemplate(ctx, tpl)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	tpl.Days[schedule.Friday].End = 720
	saved, err := engine.SaveTemplate(ctx, tpl)
	require.NoError(t, err)
	assert.False(t, saved.Days[schedule.Monday].Active, "template is replaced wholesale")
	assert.True(t, saved.Days[schedule.Friday].Active)
}

func TestSaveTemplateRejectsOversizedSlot(t *testing.T) {
	engine, repo, doctor := newTestEngine(t, memBookings{})

	tpl := mondayTemplate(doctor)
	tpl.Days[schedule.Monday].SlotMinutes = 65566
	_, err := engine.SaveTemplate(context.Background(), tpl)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	stored, err := repo.GetTemplate(context.Background(), doctor)
	require.NoError(t, err)
	assert.Equal(t, 30, stored.Days[schedule.Monday].SlotMinutes)
}

func TestCurrentDaySkipsStartedSlots(t *testing.T) {
	doctor := uuid.New()
	repo := newMemRepo(doctor)
	require.NoError(t, repo.SaveTemplate(context.Background(), mondayTemplate(doctor)))
	now := time.Date(2026, 10, 19, 10, 5, 0, 0, time.UTC)
	engine := NewEngine(repo, memBookings{}, EngineConfig{Now: func() time.Time { return now }}, logging.Nop(), nil)
	ctx := context.Background()

	days, err := engine.ComputeAvailableSlots(ctx, doctor, monday, monday)
	require.NoError(t, err)
	require.Len(t, days, 1)
	require.Len(t, days[0].Slots, 13)
	assert.Equal(t, "10:30", days[0].Slots[0].Start.String())

	_, err = engine.ResolveSlot(ctx, doctor, monday, schedule.MustClock("08:00"))
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)

	slot, err := engine.ResolveSlot(ctx, doctor, monday, schedule.MustClock("10:30"))
	require.NoError(t, err)
	assert.Equal(t, "11:00", slot.End.String())

	next, err := engine.OpenSlots(ctx, doctor, monday.AddDays(7), monday.AddDays(7))
	require.NoError(t, err)
	assert.Len(t, next, 18)
}
