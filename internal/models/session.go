package models

import (
	"time"

	"github.com/uptrace/bun"
)

type SessionStatus string

const (
	SessionScheduled SessionStatus = "SCHEDULED"
	SessionCancelled SessionStatus = "CANCELLED"
)

// Session is one concrete, time-bound occurrence of a class.
type Session struct {
	bun.BaseModel `bun:"table:class_sessions,alias:s"`

	ID                 string        `bun:"id,pk" json:"id"`
	ClassID            string        `bun:"class_id,notnull" json:"class_id"`
	RuleID             string        `bun:"rule_id,nullzero" json:"rule_id,omitempty"`
	StartTime          time.Time     `bun:"start_time,notnull" json:"start_time"`
	EndTime            time.Time     `bun:"end_time,notnull" json:"end_time"`
	Status             SessionStatus `bun:"status,notnull" json:"status"`
	CapacityOverride   *int          `bun:"capacity_override" json:"capacity_override,omitempty"`
	CancellationReason string        `bun:"cancellation_reason,nullzero" json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time    `bun:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt          time.Time     `bun:"created_at,notnull" json:"created_at"`
}

func (s *Session) IsScheduled() bool {
	return s.Status == SessionScheduled
}

// SessionWithCapacity is the read model returned to clients.
type SessionWithCapacity struct {
	Session  Session  `json:"session"`
	Capacity Capacity `json:"capacity"`
}
