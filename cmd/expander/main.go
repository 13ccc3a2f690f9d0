package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"ms-scheduling/internal/config"
	"ms-scheduling/internal/database"
	"ms-scheduling/internal/logger"
	"ms-scheduling/internal/recurrence"
	"ms-scheduling/internal/scheduling"
	"ms-scheduling/internal/scheduling/db"
	"ms-scheduling/internal/telemetry"
)

// The expander keeps every active recurrence rule materialised up to the
// scheduling horizon. Expansion is idempotent, so overlapping runs are safe.
func main() {
	once := flag.Bool("once", false, "expand all rules a single time and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.NewLogger().Fatal("CONFIG", fmt.Sprintf("Invalid configuration: %v", err))
	}

	log, err := logger.New(logger.Options{Service: cfg.Telemetry.ServiceName + "-expander", Dir: cfg.Log.Dir, Level: cfg.Log.Level})
	if err != nil {
		log = logger.NewLogger()
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName+"-expander", cfg.Telemetry.ExporterEndpoint)
	if err != nil {
		log.Warn("TELEMETRY", fmt.Sprintf("Tracing disabled: %v", err))
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	bunDB, err := database.OpenPostgres(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	expander, err := recurrence.NewExpander(cfg.Scheduling.DefaultTimezone)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Default timezone: %v", err))
	}

	// Expansion never books, so the entitlement gate is never consulted.
	svc := scheduling.NewService(db.New(bunDB), nil, log)
	svc.Expander = expander
	svc.Horizon = cfg.Scheduling.Horizon()

	run(ctx, svc, log)
	if *once {
		return
	}

	ticker := time.NewTicker(cfg.Scheduling.ExpanderInterval)
	defer ticker.Stop()
	log.LogProcess("EXPANDER", fmt.Sprintf("Running every %s", cfg.Scheduling.ExpanderInterval))

	for {
		select {
		case <-ctx.Done():
			log.LogProcess("EXPANDER", "Stopped")
			return
		case <-ticker.C:
			run(ctx, svc, log)
		}
	}
}

func run(ctx context.Context, svc *scheduling.Service, log *logger.Logger) {
	start := time.Now()
	results, err := svc.ExpandAll(ctx)
	if err != nil {
		log.Error("EXPANDER", fmt.Sprintf("Expansion pass failed: %v", err))
		return
	}

	inserted := 0
	for _, r := range results {
		inserted += r.Inserted
	}
	log.LogProcess("EXPANDER", fmt.Sprintf("Expanded %d rules, %d new sessions in %s", len(results), inserted, time.Since(start).Round(time.Millisecond)))
}
