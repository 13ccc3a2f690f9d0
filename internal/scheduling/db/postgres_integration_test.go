//go:build integration

package db_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-scheduling/internal/database/migrations"
	"ms-scheduling/internal/models"
	"ms-scheduling/internal/scheduling"
	"ms-scheduling/internal/scheduling/db"
)

// TestPostgresConcurrentBooking runs the capacity property against a real Postgres migrated with
// the SQL migrations, where the session row lock is what keeps concurrent bookers apart.
func TestPostgresConcurrentBooking(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Postgres integration test in short mode")
	}

	ctx := context.Background()
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "scheduling",
				"POSTGRES_PASSWORD": "scheduling",
				"POSTGRES_DB":       "scheduling",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer pg.Terminate(ctx)

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://scheduling:scheduling@%s:%s/scheduling?sslmode=disable", host, port.Port())
	sqldb, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(20)
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	runner := migrations.NewRunner(sqldb, "file://../../../migrations", nil)
	require.NoError(t, runner.Up())
	version, dirty, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
	store := db.New(bunDB)
	svc, session := newService(t, store, 4)

	const bookers = 40
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

	assert.Equal(t, 4, succeeded)
	assert.Equal(t, bookers-4, full)

	for _, m := range []string{"w1", "w2", "w3"} {
		_, err := svc.Join(ctx, m, session.ID)
		require.NoError(t, err)
	}
	require.NoError(t, svc.Leave(ctx, "w2", session.ID))
	list, err := svc.ListWaitlist(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].Position)
	assert.Equal(t, 2, list[1].Position)

	rule, result, err := svc.CreateRecurrenceRule(ctx, &models.RecurrenceRule{
		ClassID:   "class-1",
		Frequency: models.FrequencyWeekly,
		Interval:  1,
		Weekdays:  []time.Weekday{time.Monday, time.Thursday},
		TimeOfDay: "18:30",
		StartDate: t0,
	})
	require.NoError(t, err)
	assert.Equal(t, result.Generated, result.Inserted)

	again, err := svc.ExpandRule(ctx, rule.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Inserted)
}
