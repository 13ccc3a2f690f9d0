package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Class is the scheduling policy of a class as published by the gym-operations platform.
// The scheduling engine only reads it.
type Class struct {
	bun.BaseModel `bun:"table:classes"`

	ID                   string    `bun:"id,pk" json:"id"`
	Name                 string    `bun:"name,notnull" json:"name"`
	Capacity             int       `bun:"capacity,notnull" json:"capacity"`
	DurationMinutes      int       `bun:"duration_minutes,notnull" json:"duration_minutes"`
	BookingOpensHours    int       `bun:"booking_opens_hours,notnull" json:"booking_opens_hours"`
	BookingClosesMinutes int       `bun:"booking_closes_minutes,notnull" json:"booking_closes_minutes"`
	CancellationMinutes  int       `bun:"cancellation_minutes,notnull" json:"cancellation_minutes"`
	WaitlistEnabled      bool      `bun:"waitlist_enabled,notnull" json:"waitlist_enabled"`
	WaitlistMax          int       `bun:"waitlist_max,notnull" json:"waitlist_max"`
	UpdatedAt            time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// Duration is the fixed length of every session of the class.
func (c *Class) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}

// BookingWindow returns when booking opens and closes for a session starting at start.
func (c *Class) BookingWindow(start time.Time) (opens, closes time.Time) {
	opens = start.Add(-time.Duration(c.BookingOpensHours) * time.Hour)
	closes = start.Add(-time.Duration(c.BookingClosesMinutes) * time.Minute)
	return opens, closes
}

// CancellationDeadline is the last instant a confirmed booking may still be cancelled.
func (c *Class) CancellationDeadline(start time.Time) time.Time {
	return start.Add(-time.Duration(c.CancellationMinutes) * time.Minute)
}
