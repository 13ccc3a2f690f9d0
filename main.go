package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ms-scheduling/internal/auth"
	"ms-scheduling/internal/checkin"
	"ms-scheduling/internal/config"
	"ms-scheduling/internal/database"
	"ms-scheduling/internal/database/migrations"
	"ms-scheduling/internal/entitlement"
	"ms-scheduling/internal/kafka"
	"ms-scheduling/internal/logger"
	"ms-scheduling/internal/models"
	"ms-scheduling/internal/recurrence"
	"ms-scheduling/internal/scheduling"
	"ms-scheduling/internal/scheduling/api"
	"ms-scheduling/internal/scheduling/db"
	schedredis "ms-scheduling/internal/scheduling/redis"
	"ms-scheduling/internal/sse"
	"ms-scheduling/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.NewLogger()
		boot.Fatal("CONFIG", fmt.Sprintf("Invalid configuration: %v", err))
	}

	log, err := logger.New(logger.Options{Service: cfg.Telemetry.ServiceName, Dir: cfg.Log.Dir, Level: cfg.Log.Level})
	if err != nil {
		log = logger.NewLogger()
		log.Warn("LOGGER", fmt.Sprintf("File sink unavailable, logging to terminal only: %v", err))
	}
	defer log.Close()

	log.Info("APP", "Starting scheduling service initialization")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.ExporterEndpoint)
	if err != nil {
		log.Warn("TELEMETRY", fmt.Sprintf("Tracing disabled: %v", err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	bunDB, err := database.OpenPostgres(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if cfg.Migrations.Auto {
		runner := migrations.NewRunner(bunDB.DB, cfg.Migrations.Path, log)
		if err := runner.Up(); err != nil {
			log.Fatal("MIGRATION", err.Error())
		}
	}

	rdb, err := database.OpenRedis(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("REDIS", err.Error())
	}
	defer rdb.Close()

	expander, err := recurrence.NewExpander(cfg.Scheduling.DefaultTimezone)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Default timezone: %v", err))
	}

	store := db.New(bunDB)
	gate, invalidator := buildEntitlementGate(ctx, cfg, rdb, log)

	svc := scheduling.NewService(store, gate, log)
	svc.Expander = expander
	svc.Horizon = cfg.Scheduling.Horizon()
	svc.Policy = scheduling.PromotionPolicy{
		RecheckEntitlement:   cfg.Scheduling.PromotionRecheckEntitlement,
		RespectBookingWindow: cfg.Scheduling.PromotionRespectBookingWindow,
	}
	if cfg.Scheduling.SessionLockEnabled {
		svc.Locker = schedredis.NewSessionLock(rdb, cfg.Scheduling.SessionLockTTL, log)
		log.Info("REDIS", "Session lock enabled")
	}

	emitter := sse.NewAvailabilityEmitter()
	publishers := scheduling.MultiPublisher{emitter}

	var consumers []*kafka.Consumer
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()

		events := kafka.NewEventPublisher(producer, cfg.Kafka.TopicPrefix)
		topics := append(events.Topics(),
			cfg.Kafka.Topic(kafka.TopicClassUpdated),
			cfg.Kafka.Topic(kafka.TopicEntitlementChanged),
		)
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}

		publishers = append(publishers, events)
		svc.Attendance = events

		classes := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic(kafka.TopicClassUpdated), cfg.Kafka.GroupID, log)
		go classes.Start(ctx, kafka.ClassUpdatedHandler(svc))
		consumers = append(consumers, classes)

		if invalidator != nil {
			changes := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic(kafka.TopicEntitlementChanged), cfg.Kafka.GroupID, log)
			go changes.Start(ctx, kafka.EntitlementChangedHandler(invalidator))
			consumers = append(consumers, changes)
		}
	} else {
		log.Warn("KAFKA", "Kafka disabled, domain events stay in-process")
	}
	svc.Events = publishers

	var checkIns *checkin.Service
	if cfg.Scheduling.CheckInSecret != "" {
		codec, err := checkin.NewPassCodec([]byte(cfg.Scheduling.CheckInSecret))
		if err != nil {
			log.Fatal("CONFIG", fmt.Sprintf("Check-in secret: %v", err))
		}
		checkIns = checkin.NewService(codec, svc, log)
	} else {
		log.Warn("CONFIG", "CHECKIN_SECRET not set, check-in passes disabled")
	}

	verify := auth.TrustedVerifier()
	if !cfg.Auth.TrustedNetwork {
		verify, err = auth.OIDCVerifier(ctx, cfg.Auth.IssuerURL())
		if err != nil {
			log.Fatal("AUTH", fmt.Sprintf("OIDC discovery failed: %v", err))
		}
	} else {
		log.Warn("AUTH", "Trusting gateway-verified tokens without signature checks")
	}
	authenticator := auth.NewAuthenticator(verify, cfg.Auth.StaffRole, log)

	handler := api.NewHandler(svc, checkIns, sse.NewStreamer(emitter, log), log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(api.RequestLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", api.Health(map[string]api.Check{
		"postgres": store.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}))
	r.Mount("/api/scheduling", handler.Routes(authenticator.Middleware))
	log.Info("ROUTER", "Scheduling routes registered under /api/scheduling")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      otelhttp.NewHandler(r, cfg.Telemetry.ServiceName),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Scheduling service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	<-ctx.Done()
	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	}
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			log.Error("KAFKA", fmt.Sprintf("Consumer close failed: %v", err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("TELEMETRY", fmt.Sprintf("Tracer shutdown failed: %v", err))
	}
	log.Info("APP", "Scheduling service shutdown complete")
}

// buildEntitlementGate returns the gate consulted on booking and, when the
// answers are cached, the cache so entitlement-change events can evict it.
func buildEntitlementGate(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *logger.Logger) (scheduling.EntitlementGate, *entitlement.CachedGate) {
	if cfg.Billing.Disabled {
		log.Warn("BILLING", "Entitlement checks disabled, every member may book")
		return entitlement.AllowAll(), nil
	}

	httpClient := &http.Client{
		Timeout:   cfg.Billing.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	tokenCache, err := auth.InitializeTokenCache(ctx, rdb, cfg.Auth.ClientID, log)
	if err != nil {
		log.Warn("AUTH", fmt.Sprintf("Token cache unavailable: %v", err))
	}
	tokens := auth.NewM2MTokenSource(models.OAuthClient{
		KeycloakURL:   cfg.Auth.KeycloakURL,
		KeycloakRealm: cfg.Auth.KeycloakRealm,
		ClientID:      cfg.Auth.ClientID,
		ClientSecret:  cfg.Auth.ClientSecret,
	}, httpClient, tokenCache, log)

	billing := entitlement.NewHTTPGate(cfg.Billing.ServiceURL, httpClient, tokens, log)
	cached := entitlement.NewCachedGate(billing, rdb, cfg.Billing.CacheTTL, log)
	return cached, cached
}
