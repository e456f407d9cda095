package circulation

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// =============================================================================
// CLOCK
// =============================================================================

// Clock supplies the current time. Engines never call time.Now directly.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// =============================================================================
// SERVICE WINDOW - Daily local-time range for loan/return/cancel operations
// =============================================================================

// DefaultTimezone is the civil time zone the service window is evaluated in.
const DefaultTimezone = "America/Lima"

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) seconds() int { return t.Hour*3600 + t.Minute*60 }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q (use HH:MM): %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// ServiceWindow is the inclusive [Open, Close] daily range, in Location.
// Close doubles as the due-time cutoff: every loan due on a given date is due
// at Close on that date.
type ServiceWindow struct {
	Open     TimeOfDay
	Close    TimeOfDay
	Location *time.Location
}

// DefaultServiceWindow returns 07:00-14:45 America/Lima.
func DefaultServiceWindow() ServiceWindow {
	return ServiceWindow{
		Open:     TimeOfDay{Hour: 7},
		Close:    TimeOfDay{Hour: 14, Minute: 45},
		Location: LoadLocation(DefaultTimezone),
	}
}

// LoadLocation loads a zone by name; an unknown name falls back to UTC-5,
// the offset of the default zone.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, -5*3600)
	}
	return loc
}

func (w ServiceWindow) loc() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

// Contains reports whether t falls inside the window (both ends inclusive,
// to the second).
func (w ServiceWindow) Contains(t time.Time) bool {
	local := t.In(w.loc())
	sec := local.Hour()*3600 + local.Minute()*60 + local.Second()
	return sec >= w.Open.seconds() && sec <= w.Close.seconds()
}

// DueAt returns the due timestamp for a loan of days days starting at now:
// the local date days days ahead, at the Close time of day.
func (w ServiceWindow) DueAt(now time.Time, days int) time.Time {
	local := now.In(w.loc()).AddDate(0, 0, days)
	return time.Date(local.Year(), local.Month(), local.Day(),
		w.Close.Hour, w.Close.Minute, 0, 0, w.loc())
}

// CalendarDays counts local calendar days from from to to, negative when to
// is on an earlier date.
func (w ServiceWindow) CalendarDays(from, to time.Time) int {
	f, t := from.In(w.loc()), to.In(w.loc())
	fd := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	td := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(td.Sub(fd).Hours() / 24)
}

func (w ServiceWindow) String() string {
	return fmt.Sprintf("%s-%s %s", w.Open, w.Close, w.loc())
}

// DaysLate returns the whole days a return at now is late for dueAt, rounding
// any partial day up. Returns 0 when not late. A return one second after the
// due time is one day late: it pays one day of fine and carries
// sanction_days_per_day_late days of ban.
func DaysLate(now, dueAt int64) int {
	if now <= dueAt {
		return 0
	}
	late := now - dueAt
	days := late / SecondsPerDay
	if late%SecondsPerDay != 0 {
		days++
	}
	return int(days)
}
