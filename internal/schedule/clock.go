package schedule

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Weekday is the clinic's fixed day index: 0=Monday through 6=Sunday.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

func (w Weekday) Valid() bool {
	return w >= Monday && w <= Sunday
}

// WeekdayOf maps a calendar date onto the Monday-first index.
func WeekdayOf(d civil.Date) Weekday {
	return Weekday((int(d.In(time.UTC).Weekday()) + 6) % 7)
}

// Clock is a wall-clock time of day in the clinic zone, in minutes since midnight.
type Clock int

// MinutesPerDay bounds both a Clock and any slot or appointment length.
const MinutesPerDay = 24 * 60

// ParseClock accepts "HH:MM" (24h). "24:00" is end of day.
func ParseClock(s string) (Clock, error) {
	if s == "24:00" {
		return MinutesPerDay, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) Valid() bool {
	return c >= 0 && c <= MinutesPerDay
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) Add(minutes int) Clock {
	return c + Clock(minutes)
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// On returns the instant the clock reads on date d in loc.
func (c Clock) On(d civil.Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, int(c)/60, int(c)%60, 0, 0, loc)
}

// Today returns the calendar date of now in loc.
func Today(now time.Time, loc *time.Location) civil.Date {
	return civil.DateOf(now.In(loc))
}
