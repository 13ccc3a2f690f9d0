package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Frequency string

const FrequencyWeekly Frequency = "WEEKLY"

// RecurrenceRule is immutable once stored; a schedule change is a new rule.
type RecurrenceRule struct {
	bun.BaseModel `bun:"table:recurrence_rules,alias:r"`

	ID        string         `bun:"id,pk" json:"id"`
	ClassID   string         `bun:"class_id,notnull" json:"class_id"`
	Frequency Frequency      `bun:"frequency,notnull" json:"frequency"`
	Interval  int            `bun:"interval,notnull" json:"interval"`
	Weekdays  []time.Weekday `bun:"weekdays,notnull" json:"weekdays"`
	TimeOfDay string         `bun:"time_of_day,notnull" json:"time_of_day"`
	Timezone  string         `bun:"timezone,notnull" json:"timezone"`
	StartDate time.Time      `bun:"start_date,notnull" json:"start_date"`
	EndDate   *time.Time     `bun:"end_date" json:"end_date,omitempty"`
	CreatedAt time.Time      `bun:"created_at,notnull" json:"created_at"`
}

// ExpansionResult reports one expansion run of a rule.
type ExpansionResult struct {
	RuleID    string `json:"rule_id"`
	ClassID   string `json:"class_id"`
	Generated int    `json:"generated"`
	Inserted  int    `json:"inserted"`
}
