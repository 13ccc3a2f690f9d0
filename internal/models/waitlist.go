package models

import (
	"time"

	"github.com/uptrace/bun"
)

// WaitlistEntry holds a member's 1-based place in a session's queue.
// Positions are dense per session.
type WaitlistEntry struct {
	bun.BaseModel `bun:"table:waitlist_entries,alias:w"`

	ID        string    `bun:"id,pk" json:"id"`
	MemberID  string    `bun:"member_id,notnull" json:"member_id"`
	SessionID string    `bun:"session_id,notnull" json:"session_id"`
	Position  int       `bun:"position,notnull" json:"position"`
	JoinedAt  time.Time `bun:"joined_at,notnull" json:"joined_at"`
}
