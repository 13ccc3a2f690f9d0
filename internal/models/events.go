package models

import "time"

type EventType string

const (
	EventBookingConfirmed EventType = "booking.confirmed"
	EventBookingCancelled EventType = "booking.cancelled"
	EventBookingCompleted EventType = "booking.completed"
	EventWaitlistJoined   EventType = "waitlist.joined"
	EventWaitlistLeft     EventType = "waitlist.left"
	EventWaitlistPromoted EventType = "waitlist.promoted"
	EventSessionCancelled EventType = "session.cancelled"
	EventSessionUpdated   EventType = "session.updated"
)

// SchedulingEvent is published after a unit of work commits.
type SchedulingEvent struct {
	Type       EventType     `json:"type"`
	SessionID  string        `json:"session_id"`
	ClassID    string        `json:"class_id,omitempty"`
	MemberID   string        `json:"member_id,omitempty"`
	BookingID  string        `json:"booking_id,omitempty"`
	Status     BookingStatus `json:"status,omitempty"`
	Position   int           `json:"position,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Capacity   *Capacity     `json:"capacity,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// AttendanceEvent is handed to the attendance recorder when a member checks in.
type AttendanceEvent struct {
	BookingID  string    `json:"booking_id"`
	MemberID   string    `json:"member_id"`
	SessionID  string    `json:"session_id"`
	ClassID    string    `json:"class_id"`
	StartTime  time.Time `json:"start_time"`
	AttendedAt time.Time `json:"attended_at"`
}

// EntitlementChangedEvent arrives from billing whenever a member's subscription or passes change.
type EntitlementChangedEvent struct {
	MemberID string `json:"member_id"`
	Active   *bool  `json:"active,omitempty"`
}
