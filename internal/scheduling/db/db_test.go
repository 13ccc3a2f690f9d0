package db_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-scheduling/internal/logger"
	"ms-scheduling/internal/models"
	"ms-scheduling/internal/scheduling"
	"ms-scheduling/internal/scheduling/db"
	"ms-scheduling/internal/testfixtures"
)

var t0 = time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	// One connection keeps the in-memory database shared and serialises writers.
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	require.NoError(t, db.DropSchema(context.Background(), bunDB))
	require.NoError(t, db.CreateSchema(context.Background(), bunDB))
	return db.New(bunDB), bunDB
}

func newService(t *testing.T, store scheduling.Store, capacity int) (*scheduling.Service, *models.Session) {
	t.Helper()
	ctx := context.Background()

	svc := scheduling.NewService(store, scheduling.EntitlementFunc(func(context.Context, string) (bool, error) {
		return true, nil
	}), logger.NewNop())
	clock := testfixtures.NewClock(t0)
	svc.Now = clock.Now

	require.NoError(t, svc.SyncClass(ctx, &models.Class{
		ID:                  "class-1",
		Name:                "Spin",
		Capacity:            capacity,
		DurationMinutes:     45,
		BookingOpensHours:   48,
		CancellationMinutes: 15,
		WaitlistEnabled:     true,
		WaitlistMax:         3,
	}))
	session, err := svc.CreateSession(ctx, "class-1", t0.Add(3*time.Hour))
	require.NoError(t, err)
	return svc, session
}

func TestGetMissingRowsReturnsErrNoRows(t *testing.T) {
	store, _ := setupTestDB(t)

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx scheduling.Tx) error {
		_, err := tx.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, scheduling.ErrNoRows)
		_, err = tx.LockSession(ctx, "missing")
		assert.ErrorIs(t, err, scheduling.ErrNoRows)
		_, err = tx.FirstWaitlistEntry(ctx, "missing")
		assert.ErrorIs(t, err, scheduling.ErrNoRows)
		return nil
	})
	require.NoError(t, err)
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	store, bunDB := setupTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
		require.NoError(t, tx.UpsertClass(ctx, &models.Class{ID: "c1", Name: "Yoga", Capacity: 5, DurationMinutes: 60, UpdatedAt: t0}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	count, err := bunDB.NewSelect().Model((*models.Class)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpsertClassReplacesPolicy(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	for _, capacity := range []int{5, 8} {
		err := store.RunInTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
			return tx.UpsertClass(ctx, &models.Class{ID: "c1", Name: "Yoga", Capacity: capacity, DurationMinutes: 60, UpdatedAt: t0})
		})
		require.NoError(t, err)
	}

	err := store.RunInTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
		class, err := tx.GetClass(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, 8, class.Capacity)
		return nil
	})
	require.NoError(t, err)
}

func TestActiveBookingIndexRejectsDuplicates(t *testing.T) {
	store, _ := setupTestDB(t)
	_, session := newService(t, store, 5)
	ctx := context.Background()

	booking := func(id string, status models.BookingStatus) *models.Booking {
		return &models.Booking{ID: id, MemberID: "m1", SessionID: session.ID, Status: status, Source: models.SourceDirect, CreatedAt: t0}
	}

	err := store.RunInTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
		require.NoError(t, tx.InsertBooking(ctx, booking("b1", models.BookingCancelled)))
		require.NoError(t, tx.InsertBooking(ctx, booking("b2", models.BookingConfirmed)))
		return tx.InsertBooking(ctx, booking("b3", models.BookingConfirmed))
	})
	assert.ErrorIs(t, err, scheduling.ErrDuplicate)
}

func TestInsertSessionsSkipsExistingStarts(t *testing.T) {
	store, _ := setupTestDB(t)
	_, session := newService(t, store, 5)
	ctx := context.Background()

	mk := func(id string, start time.Time) *models.Session {
		return &models.Session{ID: id, ClassID: "class-1", StartTime: start, EndTime: start.Add(45 * time.Minute), Status: models.SessionScheduled, CreatedAt: t0}
	}

	err := store.RunInTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
		n, err := tx.InsertSessions(ctx, []*models.Session{
			mk("dup", session.StartTime),
			mk("new", session.StartTime.Add(24*time.Hour)),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = tx.InsertSessions(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	})
	require.NoError(t, err)

	err = store.RunInTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
		_, err := tx.InsertSessions(ctx, []*models.Session{mk("again", session.StartTime.Add(24*time.Hour))})
		require.NoError(t, err)
		return tx.InsertSession(ctx, mk("explicit", session.StartTime))
	})
	assert.ErrorIs(t, err, scheduling.ErrDuplicate)
}

func TestRecurrenceRuleRoundTrip(t *testing.T) {
	store, _ := setupTestDB(t)
	svc, _ := newService(t, store, 5)
	svc.Horizon = 14 * 24 * time.Hour
	ctx := context.Background()

	rule, res, err := svc.CreateRecurrenceRule(ctx, &models.RecurrenceRule{
		ClassID:   "class-1",
		Frequency: models.FrequencyWeekly,
		Interval:  1,
		Weekdays:  []time.Weekday{time.Tuesday, time.Saturday},
		TimeOfDay: "06:15",
		Timezone:  "Europe/Berlin",
		StartDate: time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Inserted)

	err = store.RunInTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
		got, err := tx.GetRecurrenceRule(ctx, rule.ID)
		require.NoError(t, err)
		assert.Equal(t, []time.Weekday{time.Tuesday, time.Saturday}, got.Weekdays)
		assert.Equal(t, "Europe/Berlin", got.Timezone)
		assert.Nil(t, got.EndDate)

		active, err := tx.ListActiveRecurrenceRules(ctx, t0)
		require.NoError(t, err)
		assert.Len(t, active, 1)
		return nil
	})
	require.NoError(t, err)

	again, err := svc.ExpandRule(ctx, rule.ID, 21*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 6, again.Generated)
	assert.Equal(t, 2, again.Inserted)
}

func TestConcurrentBookingAgainstSQLite(t *testing.T) {
	const capacity, bookers = 3, 12
	store, _ := setupTestDB(t)
	svc, session := newService(t, store, capacity)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, full := 0, 0
	for i := 0; i < bookers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Book(ctx, fmt.Sprintf("member-%d", i), session.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, scheduling.ErrSessionFull):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, capacity, succeeded)
	assert.Equal(t, bookers-capacity, full)

	c, err := svc.GetCapacity(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, capacity, c.Booked)
	assert.Zero(t, c.Available)
}

func TestUpdateBookingKeepsTerminalState(t *testing.T) {
	store, _ := setupTestDB(t)
	svc, session := newService(t, store, 2)
	ctx := context.Background()

	b, err := svc.Book(ctx, "member-1", session.ID)
	require.NoError(t, err)

	// A cancellation that read the booking before the check-in committed.
	stale := *b
	_, err = svc.MarkAttended(ctx, b.ID)
	require.NoError(t, err)

	now := t0
	stale.Status = models.BookingCancelled
	stale.CancelledAt = &now
	stale.CancelledBy = models.CancelledByStaff
	err = store.RunInTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
		return tx.UpdateBooking(ctx, &stale)
	})
	assert.ErrorIs(t, err, scheduling.ErrNoRows)

	got, err := svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingAttended, got.Status)
	assert.Nil(t, got.CancelledAt)

	_, err = svc.Cancel(ctx, b.ID, "")
	assert.ErrorIs(t, err, scheduling.ErrInvalidState)
}

// Several pooled connections to one database file, so bookers really overlap and
// SQLite's writer lock pushes losers through the conflict retry.
func TestConcurrentBookingAcrossConnections(t *testing.T) {
	const capacity, bookers = 3, 12
	ctx := context.Background()

	dsn := "file:" + filepath.Join(t.TempDir(), "scheduling.db") + "?_busy_timeout=5000&_pragma=busy_timeout(5000)"
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(bookers)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })
	require.NoError(t, db.CreateSchema(ctx, bunDB))

	store := db.New(bunDB)
	svc, session := newService(t, store, capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < bookers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Book(ctx, fmt.Sprintf("member-%d", i), session.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, scheduling.ErrSessionFull), scheduling.KindOf(err) == scheduling.KindConflict:
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.GreaterOrEqual(t, succeeded, 1)
	assert.LessOrEqual(t, succeeded, capacity)

	c, err := svc.GetCapacity(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, succeeded, c.Booked)
}

func TestScenarioAgainstSQLite(t *testing.T) {
	store, _ := setupTestDB(t)
	svc, session := newService(t, store, 1)
	ctx := context.Background()

	a, err := svc.Book(ctx, "A", session.ID)
	require.NoError(t, err)
	_, err = svc.Book(ctx, "B", session.ID)
	assert.ErrorIs(t, err, scheduling.ErrSessionFull)

	for _, m := range []string{"B", "C", "D"} {
		_, err := svc.Join(ctx, m, session.ID)
		require.NoError(t, err)
	}
	require.NoError(t, svc.Leave(ctx, "C", session.ID))

	_, err = svc.Cancel(ctx, a.ID, "A")
	require.NoError(t, err)

	list, err := svc.ListWaitlist(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "D", list[0].MemberID)
	assert.Equal(t, 1, list[0].Position)

	c, err := svc.GetCapacity(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Capacity{SessionID: session.ID, Capacity: 1, Booked: 1, Available: 0, WaitlistCount: 1}, c)

	cancelled, err := svc.CancelSession(ctx, session.ID, "maintenance")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, cancelled.Status)

	c, err = svc.GetCapacity(ctx, session.ID)
	require.NoError(t, err)
	assert.Zero(t, c.Booked)
	assert.Zero(t, c.WaitlistCount)
}
