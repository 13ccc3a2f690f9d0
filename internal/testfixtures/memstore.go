package testfixtures

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"ms-scheduling/internal/models"
	"ms-scheduling/internal/scheduling"
)

// MemStore is an in-memory scheduling.Store. Units of work run one at a time and
// roll back to a snapshot when fn fails, which makes them serializable.
type MemStore struct {
	mu sync.Mutex

	classes  map[string]models.Class
	sessions map[string]models.Session
	bookings map[string]models.Booking
	waitlist map[string]models.WaitlistEntry
	rules    map[string]models.RecurrenceRule

	failCommits int
	commits     int
}

func NewMemStore() *MemStore {
	return &MemStore{
		classes:  map[string]models.Class{},
		sessions: map[string]models.Session{},
		bookings: map[string]models.Booking{},
		waitlist: map[string]models.WaitlistEntry{},
		rules:    map[string]models.RecurrenceRule{},
	}
}

// FailNextCommits makes the next n units of work roll back with scheduling.ErrTxConflict.
func (m *MemStore) FailNextCommits(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommits = n
}

// Commits counts successful units of work.
func (m *MemStore) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

func (m *MemStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx scheduling.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	err := fn(ctx, &memTx{m: m})
	if err == nil && m.failCommits > 0 {
		m.failCommits--
		err = scheduling.ErrTxConflict
	}
	if err != nil {
		m.restore(snap)
		return err
	}
	m.commits++
	return nil
}

type memSnapshot struct {
	classes  map[string]models.Class
	sessions map[string]models.Session
	bookings map[string]models.Booking
	waitlist map[string]models.WaitlistEntry
	rules    map[string]models.RecurrenceRule
}

func (m *MemStore) snapshot() memSnapshot {
	return memSnapshot{
		classes:  maps.Clone(m.classes),
		sessions: maps.Clone(m.sessions),
		bookings: maps.Clone(m.bookings),
		waitlist: maps.Clone(m.waitlist),
		rules:    maps.Clone(m.rules),
	}
}

func (m *MemStore) restore(s memSnapshot) {
	m.classes, m.sessions, m.bookings, m.waitlist, m.rules = s.classes, s.sessions, s.bookings, s.waitlist, s.rules
}

// Seed helpers bypass the service for test setup.

func (m *MemStore) PutClass(c models.Class) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[c.ID] = c
}

func (m *MemStore) PutSession(s models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

func (m *MemStore) PutBooking(b models.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
}

// Bookings returns all bookings of a session ordered by creation.
func (m *MemStore) Bookings(sessionID string) []models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.SessionID == sessionID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Waitlist returns a session's entries ordered by position.
func (m *MemStore) Waitlist(sessionID string) []models.WaitlistEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waitlistOf(sessionID)
}

// Sessions returns all sessions of a class ordered by start.
func (m *MemStore) Sessions(classID string) []models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.ClassID == classID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (m *MemStore) waitlistOf(sessionID string) []models.WaitlistEntry {
	var out []models.WaitlistEntry
	for _, e := range m.waitlist {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

type memTx struct {
	m *MemStore
}

func (t *memTx) GetClass(_ context.Context, id string) (*models.Class, error) {
	c, ok := t.m.classes[id]
	if !ok {
		return nil, scheduling.ErrNoRows
	}
	return &c, nil
}

func (t *memTx) UpsertClass(_ context.Context, class *models.Class) error {
	t.m.classes[class.ID] = *class
	return nil
}

func (t *memTx) GetSession(_ context.Context, id string) (*models.Session, error) {
	s, ok := t.m.sessions[id]
	if !ok {
		return nil, scheduling.ErrNoRows
	}
	return &s, nil
}

func (t *memTx) LockSession(ctx context.Context, id string) (*models.Session, error) {
	return t.GetSession(ctx, id)
}

func (t *memTx) hasSessionAt(classID string, start time.Time) bool {
	for _, s := range t.m.sessions {
		if s.ClassID == classID && s.StartTime.Equal(start) {
			return true
		}
	}
	return false
}

func (t *memTx) InsertSession(_ context.Context, session *models.Session) error {
	if t.hasSessionAt(session.ClassID, session.StartTime) {
		return scheduling.ErrDuplicate
	}
	t.m.sessions[session.ID] = *session
	return nil
}

func (t *memTx) InsertSessions(_ context.Context, sessions []*models.Session) (int, error) {
	n := 0
	for _, s := range sessions {
		if t.hasSessionAt(s.ClassID, s.StartTime) {
			continue
		}
		t.m.sessions[s.ID] = *s
		n++
	}
	return n, nil
}

func (t *memTx) UpdateSession(_ context.Context, session *models.Session) error {
	if _, ok := t.m.sessions[session.ID]; !ok {
		return scheduling.ErrNoRows
	}
	t.m.sessions[session.ID] = *session
	return nil
}

func (t *memTx) ListUpcomingSessions(_ context.Context, classID string, since time.Time) ([]*models.Session, error) {
	var out []*models.Session
	for _, s := range t.m.sessions {
		if s.ClassID == classID && s.IsScheduled() && s.StartTime.After(since) {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (t *memTx) CountConfirmed(_ context.Context, sessionID string) (int, error) {
	n := 0
	for _, b := range t.m.bookings {
		if b.SessionID == sessionID && b.Status == models.BookingConfirmed {
			n++
		}
	}
	return n, nil
}

func (t *memTx) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	b, ok := t.m.bookings[id]
	if !ok {
		return nil, scheduling.ErrNoRows
	}
	return &b, nil
}

func (t *memTx) FindActiveBooking(_ context.Context, memberID, sessionID string) (*models.Booking, error) {
	for _, b := range t.m.bookings {
		if b.MemberID == memberID && b.SessionID == sessionID && b.Status != models.BookingCancelled {
			return &b, nil
		}
	}
	return nil, scheduling.ErrNoRows
}

func (t *memTx) ListConfirmedBookings(_ context.Context, sessionID string) ([]*models.Booking, error) {
	var out []*models.Booking
	for _, b := range t.m.bookings {
		if b.SessionID == sessionID && b.Status == models.BookingConfirmed {
			b := b
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) InsertBooking(ctx context.Context, booking *models.Booking) error {
	if _, err := t.FindActiveBooking(ctx, booking.MemberID, booking.SessionID); err == nil {
		return scheduling.ErrDuplicate
	}
	t.m.bookings[booking.ID] = *booking
	return nil
}

func (t *memTx) UpdateBooking(_ context.Context, booking *models.Booking) error {
	current, ok := t.m.bookings[booking.ID]
	if !ok || current.Status != models.BookingConfirmed {
		return scheduling.ErrNoRows
	}
	t.m.bookings[booking.ID] = *booking
	return nil
}

func (t *memTx) CountWaitlist(_ context.Context, sessionID string) (int, error) {
	return len(t.m.waitlistOf(sessionID)), nil
}

func (t *memTx) GetWaitlistEntry(_ context.Context, memberID, sessionID string) (*models.WaitlistEntry, error) {
	for _, e := range t.m.waitlist {
		if e.MemberID == memberID && e.SessionID == sessionID {
			return &e, nil
		}
	}
	return nil, scheduling.ErrNoRows
}

func (t *memTx) FirstWaitlistEntry(_ context.Context, sessionID string) (*models.WaitlistEntry, error) {
	entries := t.m.waitlistOf(sessionID)
	if len(entries) == 0 {
		return nil, scheduling.ErrNoRows
	}
	return &entries[0], nil
}

func (t *memTx) ListWaitlist(_ context.Context, sessionID string) ([]*models.WaitlistEntry, error) {
	entries := t.m.waitlistOf(sessionID)
	out := make([]*models.WaitlistEntry, 0, len(entries))
	for i := range entries {
		out = append(out, &entries[i])
	}
	return out, nil
}

func (t *memTx) InsertWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) error {
	if _, err := t.GetWaitlistEntry(ctx, entry.MemberID, entry.SessionID); err == nil {
		return scheduling.ErrDuplicate
	}
	t.m.waitlist[entry.ID] = *entry
	return nil
}

func (t *memTx) DeleteWaitlistEntry(_ context.Context, id string) error {
	delete(t.m.waitlist, id)
	return nil
}

func (t *memTx) ShiftWaitlistAfter(_ context.Context, sessionID string, position int) error {
	for id, e := range t.m.waitlist {
		if e.SessionID == sessionID && e.Position > position {
			e.Position--
			t.m.waitlist[id] = e
		}
	}
	return nil
}

func (t *memTx) ClearWaitlist(_ context.Context, sessionID string) (int, error) {
	n := 0
	for id, e := range t.m.waitlist {
		if e.SessionID == sessionID {
			delete(t.m.waitlist, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertRecurrenceRule(_ context.Context, rule *models.RecurrenceRule) error {
	t.m.rules[rule.ID] = *rule
	return nil
}

func (t *memTx) GetRecurrenceRule(_ context.Context, id string) (*models.RecurrenceRule, error) {
	r, ok := t.m.rules[id]
	if !ok {
		return nil, scheduling.ErrNoRows
	}
	return &r, nil
}

func (t *memTx) ListActiveRecurrenceRules(_ context.Context, since time.Time) ([]*models.RecurrenceRule, error) {
	var out []*models.RecurrenceRule
	for _, r := range t.m.rules {
		if r.EndDate == nil || !r.EndDate.Before(since.Truncate(24*time.Hour)) {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
