package models

import (
	"fmt"
	"time"
)

type UpsertClassRequest struct {
	Name                 string `json:"name" validate:"required"`
	Capacity             int    `json:"capacity" validate:"min=0"`
	DurationMinutes      int    `json:"duration_minutes" validate:"min=1"`
	BookingOpensHours    int    `json:"booking_opens_hours" validate:"min=0"`
	BookingClosesMinutes int    `json:"booking_closes_minutes" validate:"min=0"`
	CancellationMinutes  int    `json:"cancellation_minutes" validate:"min=0"`
	WaitlistEnabled      bool   `json:"waitlist_enabled"`
	WaitlistMax          int    `json:"waitlist_max" validate:"min=0"`
}

func (r UpsertClassRequest) ToClass(id string, now time.Time) *Class {
	return &Class{
		ID:                   id,
		Name:                 r.Name,
		Capacity:             r.Capacity,
		DurationMinutes:      r.DurationMinutes,
		BookingOpensHours:    r.BookingOpensHours,
		BookingClosesMinutes: r.BookingClosesMinutes,
		CancellationMinutes:  r.CancellationMinutes,
		WaitlistEnabled:      r.WaitlistEnabled,
		WaitlistMax:          r.WaitlistMax,
		UpdatedAt:            now.UTC(),
	}
}

type CreateSessionRequest struct {
	StartTime time.Time `json:"start_time" validate:"required"`
}

// CreateRecurrenceRuleRequest carries dates as YYYY-MM-DD in the rule's timezone.
type CreateRecurrenceRuleRequest struct {
	Frequency Frequency `json:"frequency"`
	Interval  int       `json:"interval"`
	Weekdays  []int     `json:"weekdays" validate:"dive,min=0,max=6"`
	TimeOfDay string    `json:"time_of_day" validate:"required"`
	Timezone  string    `json:"timezone"`
	StartDate string    `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string    `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// ToRule converts the request. Frequency defaults to WEEKLY and interval to 1.
func (r CreateRecurrenceRuleRequest) ToRule(classID string) (*RecurrenceRule, error) {
	start, err := time.Parse(time.DateOnly, r.StartDate)
	if err != nil {
		return nil, fmt.Errorf("start_date: %w", err)
	}
	rule := &RecurrenceRule{
		ClassID:   classID,
		Frequency: r.Frequency,
		Interval:  r.Interval,
		TimeOfDay: r.TimeOfDay,
		Timezone:  r.Timezone,
		StartDate: start,
	}
	if rule.Frequency == "" {
		rule.Frequency = FrequencyWeekly
	}
	if rule.Interval == 0 {
		rule.Interval = 1
	}
	if r.EndDate != "" {
		end, err := time.Parse(time.DateOnly, r.EndDate)
		if err != nil {
			return nil, fmt.Errorf("end_date: %w", err)
		}
		rule.EndDate = &end
	}
	for _, d := range r.Weekdays {
		rule.Weekdays = append(rule.Weekdays, time.Weekday(d))
	}
	return rule, nil
}

// BookRequest lets staff act on behalf of a member; members always book for themselves.
type BookRequest struct {
	MemberID string `json:"member_id,omitempty"`
}

type CancelSessionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type CapacityOverrideRequest struct {
	Capacity *int `json:"capacity" validate:"omitempty,min=0"`
}

type ExpandRequest struct {
	HorizonDays int `json:"horizon_days,omitempty" validate:"min=0,max=730"`
}

type CheckInRequest struct {
	Pass string `json:"pass" validate:"required"`
}
