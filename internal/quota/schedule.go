package quota

import (
	"errors"
	"fmt"

	"github.com/goodtune/ktimer/internal/calendar"
)

var (
	// ErrWeekdayRange is returned when a weekday outside Monday..Sunday enters the system.
	ErrWeekdayRange = errors.New("quota: weekday out of range")

	// ErrNegativeMinutes is returned when a negative limit enters the system.
	ErrNegativeMinutes = errors.New("quota: negative minutes")
)

// WeeklySchedule holds the daily limit in minutes for each weekday, Monday first.
type WeeklySchedule [calendar.DaysPerWeek]int

// Limit returns the limit for w, which must be valid.
func (s WeeklySchedule) Limit(w calendar.Weekday) int {
	return s[w.Index()]
}

// Set stores the limit for w.
func (s *WeeklySchedule) Set(w calendar.Weekday, minutes int) error {
	if !w.Valid() {
		return fmt.Errorf("%w: %d", ErrWeekdayRange, int(w))
	}
	if minutes < 0 {
		return fmt.Errorf("%w: %s=%d", ErrNegativeMinutes, w, minutes)
	}
	s[w.Index()] = minutes
	return nil
}

// Overrides maps a specific date to a limit that replaces the weekly value
// for that date only.
type Overrides map[calendar.Date]int

// Set stores an override and reports whether an earlier value for the same
// date was replaced.
func (o Overrides) Set(date calendar.Date, minutes int) (bool, error) {
	if minutes < 0 {
		return false, fmt.Errorf("%w: %s=%d", ErrNegativeMinutes, date, minutes)
	}
	_, replaced := o[date]
	o[date] = minutes
	return replaced, nil
}

// Policy is the quota configuration of one user.
type Policy struct {
	Weekly    WeeklySchedule
	Overrides Overrides
}

// LimitFor returns the effective limit on date: the override when one exists,
// otherwise the weekly value for the date's weekday.
func (p Policy) LimitFor(date calendar.Date) int {
	if minutes, ok := p.Overrides[date]; ok {
		return minutes
	}
	return p.Weekly.Limit(date.Weekday())
}
