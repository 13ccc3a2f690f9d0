package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-scheduling/internal/models"
)

var tables = []interface{}{
	(*models.Class)(nil),
	(*models.RecurrenceRule)(nil),
	(*models.Session)(nil),
	(*models.Booking)(nil),
	(*models.WaitlistEntry)(nil),
}

// Constraints the store relies on. Valid for both Postgres and SQLite.
var indexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_class_sessions_class_start ON class_sessions (class_id, start_time)`,
	`CREATE INDEX IF NOT EXISTS ix_class_sessions_start ON class_sessions (start_time)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_member_session_active ON bookings (member_id, session_id) WHERE status <> 'CANCELLED'`,
	`CREATE INDEX IF NOT EXISTS ix_bookings_session_status ON bookings (session_id, status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_waitlist_member_session ON waitlist_entries (member_id, session_id)`,
	`CREATE INDEX IF NOT EXISTS ix_waitlist_session_position ON waitlist_entries (session_id, position)`,
}

// CreateSchema creates the tables and indexes from the bun models. Production databases
// are managed by the SQL migrations; this is for tests and local development.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// DropSchema removes every table. Used by the dev reset command.
func DropSchema(ctx context.Context, db *bun.DB) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(tables[i]).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("drop table for %T: %w", tables[i], err)
		}
	}
	return nil
}
