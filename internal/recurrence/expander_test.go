package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-scheduling/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func weeklyRule(days ...time.Weekday) *models.RecurrenceRule {
	return &models.RecurrenceRule{
		ID:        "rule-1",
		ClassID:   "class-1",
		Frequency: models.FrequencyWeekly,
		Interval:  1,
		Weekdays:  days,
		TimeOfDay: "18:00",
		Timezone:  "UTC",
		StartDate: date(2025, time.March, 3), // Monday
	}
}

func TestExpandMondayWednesdayForTwoWeeks(t *testing.T) {
	e := &Expander{DefaultLocation: time.UTC}
	rule := weeklyRule(time.Monday, time.Wednesday)
	end := date(2025, time.March, 16)
	rule.EndDate = &end

	now := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	occ, err := e.Expand(rule, time.Hour, now, time.Time{})
	require.NoError(t, err)

	require.Len(t, occ, 4)
	want := []time.Time{
		time.Date(2025, time.March, 3, 18, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 5, 18, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 10, 18, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 12, 18, 0, 0, 0, time.UTC),
	}
	for i, o := range occ {
		assert.Equal(t, want[i], o.Start)
		assert.Equal(t, want[i].Add(time.Hour), o.End)
	}
}

func TestExpandEveryOtherWeek(t *testing.T) {
	e := &Expander{DefaultLocation: time.UTC}
	rule := weeklyRule(time.Tuesday)
	rule.Interval = 2
	// Starting on a Thursday still anchors the week on its Sunday.
	rule.StartDate = date(2025, time.March, 6)

	now := date(2025, time.March, 1)
	occ, err := e.Expand(rule, 45*time.Minute, now, date(2025, time.April, 10))
	require.NoError(t, err)

	var got []int
	for _, o := range occ {
		got = append(got, o.Start.Day())
	}
	// Week of Mar 2 is on (but its Tuesday precedes the start date), Mar 9 off, Mar 16 on, Mar 23 off, Mar 30 on.
	assert.Equal(t, []int{18, 1}, got)
	assert.Equal(t, time.April, occ[1].Start.Month())
}

func TestExpandEveryOtherWeekWrapsOnSunday(t *testing.T) {
	e := &Expander{DefaultLocation: time.UTC}
	rule := weeklyRule(time.Sunday)
	rule.Interval = 2
	rule.StartDate = date(2025, time.March, 5) // Wednesday

	occ, err := e.Expand(rule, time.Hour, date(2025, time.March, 1), date(2025, time.April, 1))
	require.NoError(t, err)

	var got []int
	for _, o := range occ {
		got = append(got, o.Start.Day())
	}
	// Mar 2 is the start week's Sunday and precedes the start date; Mar 9 falls in the off week.
	assert.Equal(t, []int{16, 30}, got)
}

func TestExpandReadsStoredDatesAsUTC(t *testing.T) {
	e := &Expander{DefaultLocation: time.UTC}
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	rule := weeklyRule(time.Monday)
	// Postgres sessions outside UTC return the stored midnight as the previous evening.
	rule.StartDate = date(2025, time.March, 3).In(la)
	end := date(2025, time.March, 10).In(la)
	rule.EndDate = &end

	occ, err := e.Expand(rule, time.Hour, date(2025, time.March, 1), time.Time{})
	require.NoError(t, err)
	require.Len(t, occ, 2)
	assert.Equal(t, time.Date(2025, time.March, 3, 18, 0, 0, 0, time.UTC), occ[0].Start)
	assert.Equal(t, time.Date(2025, time.March, 10, 18, 0, 0, 0, time.UTC), occ[1].Start)
}

func TestExpandOnlyEmitsFutureStarts(t *testing.T) {
	e := &Expander{DefaultLocation: time.UTC}
	rule := weeklyRule(time.Monday)

	now := time.Date(2025, time.March, 10, 18, 0, 0, 0, time.UTC)
	occ, err := e.Expand(rule, time.Hour, now, now.Add(8*24*time.Hour))
	require.NoError(t, err)

	require.Len(t, occ, 1)
	assert.Equal(t, time.Date(2025, time.March, 17, 18, 0, 0, 0, time.UTC), occ[0].Start)
}

func TestExpandDefaultHorizonIsNinetyDays(t *testing.T) {
	e := &Expander{DefaultLocation: time.UTC}
	rule := weeklyRule(time.Monday)

	now := date(2025, time.March, 2)
	occ, err := e.Expand(rule, time.Hour, now, time.Time{})
	require.NoError(t, err)

	require.NotEmpty(t, occ)
	last := occ[len(occ)-1].Start
	assert.False(t, last.After(now.Add(DefaultHorizon)))
	assert.Len(t, occ, 13)
}

func TestExpandKeepsWallClockAcrossDST(t *testing.T) {
	e := &Expander{DefaultLocation: time.UTC}
	rule := weeklyRule(time.Sunday)
	rule.Timezone = "America/New_York"
	rule.TimeOfDay = "09:30"
	rule.StartDate = date(2025, time.March, 2)
	end := date(2025, time.March, 9)
	rule.EndDate = &end

	occ, err := e.Expand(rule, time.Hour, date(2025, time.March, 1), time.Time{})
	require.NoError(t, err)
	require.Len(t, occ, 2)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	for _, o := range occ {
		local := o.Start.In(ny)
		assert.Equal(t, 9, local.Hour())
		assert.Equal(t, 30, local.Minute())
		assert.Equal(t, time.UTC, o.Start.Location())
	}
	// EST before the switch, EDT after.
	assert.Equal(t, 14, occ[0].Start.Hour())
	assert.Equal(t, 13, occ[1].Start.Hour())
}

func TestExpandIsDeterministic(t *testing.T) {
	e := &Expander{DefaultLocation: time.UTC}
	rule := weeklyRule(time.Monday, time.Friday)
	now := date(2025, time.March, 1)

	a, err := e.Expand(rule, time.Hour, now, time.Time{})
	require.NoError(t, err)
	b, err := e.Expand(rule, time.Hour, now, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExpandRejectsInvalidRules(t *testing.T) {
	e := &Expander{DefaultLocation: time.UTC}
	now := date(2025, time.March, 1)

	tests := []struct {
		name     string
		mutate   func(r *models.RecurrenceRule)
		duration time.Duration
	}{
		{"empty weekdays", func(r *models.RecurrenceRule) { r.Weekdays = nil }, time.Hour},
		{"zero interval", func(r *models.RecurrenceRule) { r.Interval = 0 }, time.Hour},
		{"bad frequency", func(r *models.RecurrenceRule) { r.Frequency = "DAILY" }, time.Hour},
		{"bad time of day", func(r *models.RecurrenceRule) { r.TimeOfDay = "25:00" }, time.Hour},
		{"unpadded time of day", func(r *models.RecurrenceRule) { r.TimeOfDay = "9:00" }, time.Hour},
		{"unknown timezone", func(r *models.RecurrenceRule) { r.Timezone = "Nowhere/City" }, time.Hour},
		{"weekday out of range", func(r *models.RecurrenceRule) { r.Weekdays = []time.Weekday{7} }, time.Hour},
		{"end before start", func(r *models.RecurrenceRule) {
			end := r.StartDate.AddDate(0, 0, -1)
			r.EndDate = &end
		}, time.Hour},
		{"zero duration", func(r *models.RecurrenceRule) {}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := weeklyRule(time.Monday)
			tt.mutate(rule)
			_, err := e.Expand(rule, tt.duration, now, time.Time{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRule))
		})
	}
}

func TestExpandUsesDefaultLocation(t *testing.T) {
	e, err := NewExpander("Asia/Tokyo")
	require.NoError(t, err)
	rule := weeklyRule(time.Monday)
	rule.Timezone = ""
	end := rule.StartDate
	rule.EndDate = &end

	occ, err := e.Expand(rule, time.Hour, date(2025, time.March, 1), time.Time{})
	require.NoError(t, err)
	require.Len(t, occ, 1)
	assert.Equal(t, time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC), occ[0].Start)
}
