package models

import (
	"time"

	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingAttended  BookingStatus = "ATTENDED"
	BookingNoShow    BookingStatus = "NO_SHOW"
)

// IsTerminal reports whether no further transition is allowed.
func (s BookingStatus) IsTerminal() bool {
	return s != BookingConfirmed
}

type BookingSource string

const (
	SourceDirect   BookingSource = "DIRECT"
	SourceWaitlist BookingSource = "WAITLIST"
)

// CancelledBy records who triggered a cancellation.
type CancelledBy string

const (
	CancelledByMember  CancelledBy = "MEMBER"
	CancelledByStaff   CancelledBy = "STAFF"
	CancelledBySession CancelledBy = "SESSION"
)

type Booking struct {
	bun.BaseModel `bun:"table:bookings,alias:b"`

	ID          string        `bun:"id,pk" json:"id"`
	MemberID    string        `bun:"member_id,notnull" json:"member_id"`
	SessionID   string        `bun:"session_id,notnull" json:"session_id"`
	Status      BookingStatus `bun:"status,notnull" json:"status"`
	Source      BookingSource `bun:"source,notnull" json:"source"`
	CreatedAt   time.Time     `bun:"created_at,notnull" json:"created_at"`
	CancelledAt *time.Time    `bun:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelledBy CancelledBy   `bun:"cancelled_by,nullzero" json:"cancelled_by,omitempty"`
	CheckedAt   *time.Time    `bun:"checked_at" json:"checked_at,omitempty"`
}
