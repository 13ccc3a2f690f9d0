package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"ms-scheduling/internal/models"
	"ms-scheduling/internal/scheduling"
)

// Tx implements scheduling.Tx on top of a bun transaction.
type Tx struct {
	tx bun.Tx
	// rowLocks enables SELECT ... FOR UPDATE; SQLite already serialises writers.
	rowLocks bool
}

// ---------------- CLASSES ----------------

func (t *Tx) GetClass(ctx context.Context, id string) (*models.Class, error) {
	var class models.Class
	err := t.tx.NewSelect().
		Model(&class).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return &class, nil
}

func (t *Tx) UpsertClass(ctx context.Context, class *models.Class) error {
	_, err := t.tx.NewInsert().
		Model(class).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("capacity = EXCLUDED.capacity").
		Set("duration_minutes = EXCLUDED.duration_minutes").
		Set("booking_opens_hours = EXCLUDED.booking_opens_hours").
		Set("booking_closes_minutes = EXCLUDED.booking_closes_minutes").
		Set("cancellation_minutes = EXCLUDED.cancellation_minutes").
		Set("waitlist_enabled = EXCLUDED.waitlist_enabled").
		Set("waitlist_max = EXCLUDED.waitlist_max").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return translate(err)
}

// ---------------- SESSIONS ----------------

func (t *Tx) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := t.tx.NewSelect().
		Model(&session).
		Where("s.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

func (t *Tx) LockSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	q := t.tx.NewSelect().
		Model(&session).
		Where("s.id = ?", id)
	if t.rowLocks {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

func (t *Tx) InsertSession(ctx context.Context, session *models.Session) error {
	_, err := t.tx.NewInsert().Model(session).Exec(ctx)
	return translate(err)
}

func (t *Tx) InsertSessions(ctx context.Context, sessions []*models.Session) (int, error) {
	if len(sessions) == 0 {
		return 0, nil
	}
	res, err := t.tx.NewInsert().
		Model(&sessions).
		On("CONFLICT (class_id, start_time) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return 0, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (t *Tx) UpdateSession(ctx context.Context, session *models.Session) error {
	res, err := t.tx.NewUpdate().
		Model(session).
		Column("status", "capacity_override", "cancellation_reason", "cancelled_at").
		WherePK().
		Exec(ctx)
	return affectedOne(res, err)
}

// ---------------- BOOKINGS ----------------

func (t *Tx) ListUpcomingSessions(ctx context.Context, classID string, since time.Time) ([]*models.Session, error) {
	var sessions []*models.Session
	err := t.tx.NewSelect().
		Model(&sessions).
		Where("s.class_id = ?", classID).
		Where("s.status = ?", models.SessionScheduled).
		Where("s.start_time > ?", since).
		Order("s.start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return sessions, nil
}

func (t *Tx) CountConfirmed(ctx context.Context, sessionID string) (int, error) {
	n, err := t.tx.NewSelect().
		Model((*models.Booking)(nil)).
		Where("session_id = ?", sessionID).
		Where("status = ?", models.BookingConfirmed).
		Count(ctx)
	return n, translate(err)
}

func (t *Tx) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	err := t.tx.NewSelect().
		Model(&booking).
		Where("b.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return &booking, nil
}

func (t *Tx) FindActiveBooking(ctx context.Context, memberID, sessionID string) (*models.Booking, error) {
	var booking models.Booking
	err := t.tx.NewSelect().
		Model(&booking).
		Where("member_id = ?", memberID).
		Where("session_id = ?", sessionID).
		Where("status <> ?", models.BookingCancelled).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return &booking, nil
}

func (t *Tx) ListConfirmedBookings(ctx context.Context, sessionID string) ([]*models.Booking, error) {
	var bookings []*models.Booking
	err := t.tx.NewSelect().
		Model(&bookings).
		Where("session_id = ?", sessionID).
		Where("status = ?", models.BookingConfirmed).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return bookings, nil
}

func (t *Tx) InsertBooking(ctx context.Context, booking *models.Booking) error {
	_, err := t.tx.NewInsert().Model(booking).Exec(ctx)
	return translate(err)
}

func (t *Tx) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	res, err := t.tx.NewUpdate().
		Model(booking).
		Column("status", "cancelled_at", "cancelled_by", "checked_at").
		WherePK().
		Where("status = ?", models.BookingConfirmed).
		Exec(ctx)
	return affectedOne(res, err)
}

// ---------------- WAITLIST ----------------

func (t *Tx) CountWaitlist(ctx context.Context, sessionID string) (int, error) {
	n, err := t.tx.NewSelect().
		Model((*models.WaitlistEntry)(nil)).
		Where("session_id = ?", sessionID).
		Count(ctx)
	return n, translate(err)
}

func (t *Tx) GetWaitlistEntry(ctx context.Context, memberID, sessionID string) (*models.WaitlistEntry, error) {
	var entry models.WaitlistEntry
	err := t.tx.NewSelect().
		Model(&entry).
		Where("member_id = ?", memberID).
		Where("session_id = ?", sessionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return &entry, nil
}

func (t *Tx) FirstWaitlistEntry(ctx context.Context, sessionID string) (*models.WaitlistEntry, error) {
	var entry models.WaitlistEntry
	err := t.tx.NewSelect().
		Model(&entry).
		Where("session_id = ?", sessionID).
		Order("position ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return &entry, nil
}

func (t *Tx) ListWaitlist(ctx context.Context, sessionID string) ([]*models.WaitlistEntry, error) {
	var entries []*models.WaitlistEntry
	err := t.tx.NewSelect().
		Model(&entries).
		Where("session_id = ?", sessionID).
		Order("position ASC").
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return entries, nil
}

func (t *Tx) InsertWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) error {
	_, err := t.tx.NewInsert().Model(entry).Exec(ctx)
	return translate(err)
}

func (t *Tx) DeleteWaitlistEntry(ctx context.Context, id string) error {
	res, err := t.tx.NewDelete().
		Model((*models.WaitlistEntry)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return affectedOne(res, err)
}

func (t *Tx) ShiftWaitlistAfter(ctx context.Context, sessionID string, position int) error {
	_, err := t.tx.NewUpdate().
		Model((*models.WaitlistEntry)(nil)).
		Set("position = position - 1").
		Where("session_id = ?", sessionID).
		Where("position > ?", position).
		Exec(ctx)
	return translate(err)
}

func (t *Tx) ClearWaitlist(ctx context.Context, sessionID string) (int, error) {
	res, err := t.tx.NewDelete().
		Model((*models.WaitlistEntry)(nil)).
		Where("session_id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return 0, translate(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ---------------- RECURRENCE RULES ----------------

func (t *Tx) InsertRecurrenceRule(ctx context.Context, rule *models.RecurrenceRule) error {
	_, err := t.tx.NewInsert().Model(rule).Exec(ctx)
	return translate(err)
}

func (t *Tx) GetRecurrenceRule(ctx context.Context, id string) (*models.RecurrenceRule, error) {
	var rule models.RecurrenceRule
	err := t.tx.NewSelect().
		Model(&rule).
		Where("r.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return &rule, nil
}

func (t *Tx) ListActiveRecurrenceRules(ctx context.Context, since time.Time) ([]*models.RecurrenceRule, error) {
	day := since.UTC().Truncate(24 * time.Hour)
	var rules []*models.RecurrenceRule
	err := t.tx.NewSelect().
		Model(&rules).
		Where("end_date IS NULL OR end_date >= ?", day).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return rules, nil
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return scheduling.ErrNoRows
	}
	return nil
}

var _ scheduling.Tx = (*Tx)(nil)
var _ scheduling.Store = (*DB)(nil)
