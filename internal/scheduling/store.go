package scheduling

import (
	"context"
	"errors"
	"time"

	"ms-scheduling/internal/models"
)

var (
	// ErrNoRows is returned by single-row lookups that match nothing.
	ErrNoRows = errors.New("scheduling: no rows")
	// ErrDuplicate is returned when an insert hits a uniqueness constraint.
	ErrDuplicate = errors.New("scheduling: duplicate row")
	// ErrTxConflict marks a serialization failure or deadlock; the whole unit may be retried.
	ErrTxConflict = errors.New("scheduling: transaction conflict")
)

// Store opens units of work. fn's changes are committed only if it returns nil.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of statements a unit of work may run.
type Tx interface {
	GetClass(ctx context.Context, id string) (*models.Class, error)
	UpsertClass(ctx context.Context, class *models.Class) error

	GetSession(ctx context.Context, id string) (*models.Session, error)
	// LockSession reads the session and holds its row lock until the unit ends.
	LockSession(ctx context.Context, id string) (*models.Session, error)
	InsertSession(ctx context.Context, session *models.Session) error
	// InsertSessions skips rows whose (class_id, start_time) already exists and returns how many were written.
	InsertSessions(ctx context.Context, sessions []*models.Session) (int, error)
	UpdateSession(ctx context.Context, session *models.Session) error
	// ListUpcomingSessions returns the class's scheduled sessions starting after since, by start time.
	ListUpcomingSessions(ctx context.Context, classID string, since time.Time) ([]*models.Session, error)

	CountConfirmed(ctx context.Context, sessionID string) (int, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	// FindActiveBooking returns the member's non-cancelled booking for the session.
	FindActiveBooking(ctx context.Context, memberID, sessionID string) (*models.Booking, error)
	ListConfirmedBookings(ctx context.Context, sessionID string) ([]*models.Booking, error)
	InsertBooking(ctx context.Context, booking *models.Booking) error
	// UpdateBooking moves a booking out of CONFIRMED. It returns ErrNoRows when the
	// stored row is no longer CONFIRMED, so terminal states are never overwritten.
	UpdateBooking(ctx context.Context, booking *models.Booking) error

	CountWaitlist(ctx context.Context, sessionID string) (int, error)
	GetWaitlistEntry(ctx context.Context, memberID, sessionID string) (*models.WaitlistEntry, error)
	// FirstWaitlistEntry returns the entry with the lowest position.
	FirstWaitlistEntry(ctx context.Context, sessionID string) (*models.WaitlistEntry, error)
	ListWaitlist(ctx context.Context, sessionID string) ([]*models.WaitlistEntry, error)
	InsertWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) error
	DeleteWaitlistEntry(ctx context.Context, id string) error
	// ShiftWaitlistAfter decrements every position greater than position.
	ShiftWaitlistAfter(ctx context.Context, sessionID string, position int) error
	ClearWaitlist(ctx context.Context, sessionID string) (int, error)

	InsertRecurrenceRule(ctx context.Context, rule *models.RecurrenceRule) error
	GetRecurrenceRule(ctx context.Context, id string) (*models.RecurrenceRule, error)
	// ListActiveRecurrenceRules returns rules with no end date or an end date on or after since.
	ListActiveRecurrenceRules(ctx context.Context, since time.Time) ([]*models.RecurrenceRule, error)
}
