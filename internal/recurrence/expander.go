// Package recurrence turns a weekly recurrence rule into concrete session times.
package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"ms-scheduling/internal/models"
)

// DefaultHorizon bounds how far ahead sessions are generated when no horizon is given.
const DefaultHorizon = 90 * 24 * time.Hour

var ErrInvalidRule = errors.New("invalid recurrence rule")

// Occurrence is one generated session slot, in UTC.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

type Expander struct {
	// DefaultLocation applies to rules without a timezone.
	DefaultLocation *time.Location
}

func NewExpander(defaultTZ string) (*Expander, error) {
	loc, err := time.LoadLocation(defaultTZ)
	if err != nil {
		return nil, fmt.Errorf("load default timezone: %w", err)
	}
	return &Expander{DefaultLocation: loc}, nil
}

// Validate checks a rule without expanding it.
func (e *Expander) Validate(rule *models.RecurrenceRule) error {
	_, _, _, err := e.prepare(rule)
	return err
}

// Expand returns every occurrence of rule that starts strictly after now and no later
// than horizon (or the rule's end date, whichever is earlier). A zero horizon means
// now + DefaultHorizon. The result is ordered by start time.
func (e *Expander) Expand(rule *models.RecurrenceRule, duration time.Duration, now, horizon time.Time) ([]Occurrence, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidRule)
	}
	loc, hour, minute, err := e.prepare(rule)
	if err != nil {
		return nil, err
	}
	if horizon.IsZero() {
		horizon = now.Add(DefaultHorizon)
	}

	weekdays := make(map[time.Weekday]bool, len(rule.Weekdays))
	for _, wd := range rule.Weekdays {
		weekdays[wd] = true
	}

	// Weeks run Sunday to Saturday, counted from the week holding the start date.
	first := ruleDate(rule.StartDate)
	anchor := first.AddDate(0, 0, -int(first.Weekday()))

	var last time.Time
	hasEnd := rule.EndDate != nil
	if hasEnd {
		last = ruleDate(*rule.EndDate)
	}

	// Skip the days that are entirely in the past.
	day := first
	if today := calendarDay(now.In(loc)).AddDate(0, 0, -1); today.After(day) {
		day = today
	}

	var out []Occurrence
	for ; ; day = day.AddDate(0, 0, 1) {
		if hasEnd && day.After(last) {
			break
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		if start.After(horizon) {
			break
		}
		if !weekdays[day.Weekday()] {
			continue
		}
		week := daysBetween(anchor, day) / 7
		if week%rule.Interval != 0 {
			continue
		}
		if !start.After(now) {
			continue
		}
		out = append(out, Occurrence{
			Start: start.UTC(),
			End:   start.Add(duration).UTC(),
		})
	}
	return out, nil
}

func (e *Expander) prepare(rule *models.RecurrenceRule) (*time.Location, int, int, error) {
	if rule == nil {
		return nil, 0, 0, fmt.Errorf("%w: missing rule", ErrInvalidRule)
	}
	if rule.Frequency != models.FrequencyWeekly {
		return nil, 0, 0, fmt.Errorf("%w: unsupported frequency %q", ErrInvalidRule, rule.Frequency)
	}
	if rule.Interval < 1 {
		return nil, 0, 0, fmt.Errorf("%w: interval must be at least 1", ErrInvalidRule)
	}
	if len(rule.Weekdays) == 0 {
		return nil, 0, 0, fmt.Errorf("%w: weekday set is empty", ErrInvalidRule)
	}
	for _, wd := range rule.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return nil, 0, 0, fmt.Errorf("%w: weekday %d out of range", ErrInvalidRule, wd)
		}
	}
	hour, minute, err := ParseTimeOfDay(rule.TimeOfDay)
	if err != nil {
		return nil, 0, 0, err
	}
	if rule.StartDate.IsZero() {
		return nil, 0, 0, fmt.Errorf("%w: start date is required", ErrInvalidRule)
	}
	if rule.EndDate != nil && ruleDate(*rule.EndDate).Before(ruleDate(rule.StartDate)) {
		return nil, 0, 0, fmt.Errorf("%w: end date before start date", ErrInvalidRule)
	}

	loc := e.DefaultLocation
	if rule.Timezone != "" {
		loc, err = time.LoadLocation(rule.Timezone)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("%w: unknown timezone %q", ErrInvalidRule, rule.Timezone)
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	return loc, hour, minute, nil
}

// ParseTimeOfDay parses a 24h "HH:MM" wall-clock time.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("%w: time of day %q is not HH:MM", ErrInvalidRule, s)
	}
	hour, herr := strconv.Atoi(s[:2])
	minute, merr := strconv.Atoi(s[3:])
	if herr != nil || merr != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: time of day %q is not HH:MM", ErrInvalidRule, s)
	}
	return hour, minute, nil
}

// calendarDay drops the clock, keeping the date as written.
func calendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ruleDate reads a stored start or end date. Those are UTC midnights, whatever
// zone the driver hands them back in.
func ruleDate(t time.Time) time.Time {
	return calendarDay(t.UTC())
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
