package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/uptrace/bun"

	"ms-scheduling/internal/config"
	"ms-scheduling/internal/database"
	"ms-scheduling/internal/database/migrations"
	"ms-scheduling/internal/logger"
	"ms-scheduling/internal/models"
	"ms-scheduling/internal/recurrence"
	"ms-scheduling/internal/scheduling"
	"ms-scheduling/internal/scheduling/db"
)

const usage = `usage: migrate [flags] <command>

commands:
  up        apply all pending migrations
  down      roll back migrations (-steps, default 1)
  version   print the current schema version
  reset     drop and recreate the schema from the models, then seed sample data (development only)
`

func main() {
	steps := flag.Int("steps", 1, "number of migrations to roll back with down")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.NewLogger().Fatal("CONFIG", fmt.Sprintf("Invalid configuration: %v", err))
	}
	log, err := logger.New(logger.Options{Service: cfg.Telemetry.ServiceName + "-migrate", Level: cfg.Log.Level})
	if err != nil {
		log = logger.NewLogger()
	}
	defer log.Close()

	ctx := context.Background()
	bunDB, err := database.OpenPostgres(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB.DB, cfg.Migrations.Path, log)

	switch flag.Arg(0) {
	case "up":
		err = runner.Up()
	case "down":
		err = runner.Down(*steps)
	case "version":
		var (
			v     uint
			dirty bool
		)
		if v, dirty, err = runner.Version(); err == nil {
			fmt.Printf("version %d (dirty: %t)\n", v, dirty)
		}
	case "reset":
		err = reset(ctx, cfg, log, bunDB)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("MIGRATION", err.Error())
	}
	log.Info("MIGRATION", fmt.Sprintf("%s done", flag.Arg(0)))
}

func reset(ctx context.Context, cfg *config.Config, log *logger.Logger, bunDB *bun.DB) error {
	log.Info("MIGRATION", "Dropping tables...")
	if err := db.DropSchema(ctx, bunDB); err != nil {
		return err
	}
	log.Info("MIGRATION", "Creating tables...")
	if err := db.CreateSchema(ctx, bunDB); err != nil {
		return err
	}
	log.Info("MIGRATION", "Seeding sample data...")
	return seed(ctx, cfg, log, bunDB)
}

// seed publishes two classes and a weekly schedule for each, expanded to the horizon.
func seed(ctx context.Context, cfg *config.Config, log *logger.Logger, bunDB *bun.DB) error {
	expander, err := recurrence.NewExpander(cfg.Scheduling.DefaultTimezone)
	if err != nil {
		return err
	}
	svc := scheduling.NewService(db.New(bunDB), nil, log)
	svc.Expander = expander
	svc.Horizon = cfg.Scheduling.Horizon()

	classes := []struct {
		class models.Class
		days  []time.Weekday
		at    string
	}{
		{
			class: models.Class{ID: "yoga-morning", Name: "Morning Yoga", Capacity: 12, DurationMinutes: 60,
				BookingOpensHours: 168, BookingClosesMinutes: 15, CancellationMinutes: 120,
				WaitlistEnabled: true, WaitlistMax: 10},
			days: []time.Weekday{time.Monday, time.Wednesday, time.Friday},
			at:   "07:00",
		},
		{
			class: models.Class{ID: "hiit-evening", Name: "Evening HIIT", Capacity: 20, DurationMinutes: 45,
				BookingOpensHours: 72, BookingClosesMinutes: 0, CancellationMinutes: 60,
				WaitlistEnabled: true, WaitlistMax: 15},
			days: []time.Weekday{time.Tuesday, time.Thursday},
			at:   "18:30",
		},
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	for _, c := range classes {
		class := c.class
		if err := svc.SyncClass(ctx, &class); err != nil {
			return fmt.Errorf("seed class %s: %w", class.ID, err)
		}
		_, result, err := svc.CreateRecurrenceRule(ctx, &models.RecurrenceRule{
			ClassID:   class.ID,
			Frequency: models.FrequencyWeekly,
			Interval:  1,
			Weekdays:  c.days,
			TimeOfDay: c.at,
			Timezone:  cfg.Scheduling.DefaultTimezone,
			StartDate: today,
		})
		if err != nil {
			return fmt.Errorf("seed rule for %s: %w", class.ID, err)
		}
		log.Info("MIGRATION", fmt.Sprintf("Seeded %s with %d sessions", class.Name, result.Inserted))
	}
	return nil
}
