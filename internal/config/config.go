package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig     `envPrefix:"SERVER_"`
	Database   DatabaseConfig   `envPrefix:"DB_"`
	Redis      RedisConfig      `envPrefix:"REDIS_"`
	Kafka      KafkaConfig      `envPrefix:"KAFKA_"`
	Auth       AuthConfig       `envPrefix:"AUTH_"`
	Billing    BillingConfig    `envPrefix:"BILLING_"`
	Scheduling SchedulingConfig `envPrefix:"SCHEDULING_"`
	Telemetry  TelemetryConfig
	Log        LogConfig       `envPrefix:"LOG_"`
	Migrations MigrationConfig `envPrefix:"MIGRATIONS_"`
}

type ServerConfig struct {
	Port         string        `env:"PORT" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	CORSOrigins  []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

type DatabaseConfig struct {
	Host         string        `env:"HOST" envDefault:"localhost"`
	Port         string        `env:"PORT" envDefault:"5432"`
	Username     string        `env:"USERNAME" envDefault:"scheduling_user"`
	Password     string        `env:"PASSWORD"`
	Database     string        `env:"NAME" envDefault:"scheduling"`
	SSLMode      string        `env:"SSLMODE" envDefault:"disable"`
	MaxOpenConns int           `env:"MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"MAX_IDLE_CONNS" envDefault:"25"`
	MaxLifetime  time.Duration `env:"MAX_LIFETIME" envDefault:"5m"`
}

// DSN is the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type KafkaConfig struct {
	Enabled           bool     `env:"ENABLED" envDefault:"true"`
	Brokers           []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	GroupID           string   `env:"GROUP_ID" envDefault:"ms-scheduling"`
	TopicPrefix       string   `env:"TOPIC_PREFIX" envDefault:"gym."`
	Partitions        int      `env:"PARTITIONS" envDefault:"3"`
	ReplicationFactor int      `env:"REPLICATION_FACTOR" envDefault:"1"`
}

// Topic returns the fully qualified topic for a short event name.
func (k KafkaConfig) Topic(name string) string {
	return k.TopicPrefix + name
}

type AuthConfig struct {
	// TrustedNetwork skips signature checks because a gateway in front already verified the token.
	TrustedNetwork bool   `env:"TRUSTED_NETWORK" envDefault:"false"`
	KeycloakURL    string `env:"KEYCLOAK_URL" envDefault:"http://localhost:8088"`
	KeycloakRealm  string `env:"KEYCLOAK_REALM" envDefault:"gym"`
	ClientID       string `env:"CLIENT_ID" envDefault:"ms-scheduling"`
	ClientSecret   string `env:"CLIENT_SECRET"`
	StaffRole      string `env:"STAFF_ROLE" envDefault:"gym-staff"`
}

func (a AuthConfig) IssuerURL() string {
	return fmt.Sprintf("%s/realms/%s", a.KeycloakURL, a.KeycloakRealm)
}

type BillingConfig struct {
	ServiceURL string        `env:"SERVICE_URL" envDefault:"http://localhost:8090"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"3s"`
	CacheTTL   time.Duration `env:"CACHE_TTL" envDefault:"1m"`
	// Disabled lets every member through; meant for local development only.
	Disabled bool `env:"DISABLED" envDefault:"false"`
}

type SchedulingConfig struct {
	HorizonDays                   int           `env:"HORIZON_DAYS" envDefault:"90"`
	DefaultTimezone               string        `env:"DEFAULT_TIMEZONE" envDefault:"UTC"`
	ExpanderInterval              time.Duration `env:"EXPANDER_INTERVAL" envDefault:"1h"`
	SessionLockEnabled            bool          `env:"SESSION_LOCK_ENABLED" envDefault:"false"`
	SessionLockTTL                time.Duration `env:"SESSION_LOCK_TTL" envDefault:"5s"`
	CheckInSecret                 string        `env:"CHECKIN_SECRET"`
	PromotionRecheckEntitlement   bool          `env:"PROMOTION_RECHECK_ENTITLEMENT" envDefault:"false"`
	PromotionRespectBookingWindow bool          `env:"PROMOTION_RESPECT_BOOKING_WINDOW" envDefault:"false"`
}

func (s SchedulingConfig) Horizon() time.Duration {
	return time.Duration(s.HorizonDays) * 24 * time.Hour
}

type TelemetryConfig struct {
	ServiceName      string `env:"OTEL_SERVICE_NAME" envDefault:"ms-scheduling"`
	ExporterEndpoint string `env:"OTEL_EXPORTER_ENDPOINT"`
}

type LogConfig struct {
	Level string `env:"LEVEL" envDefault:"info"`
	Dir   string `env:"DIR" envDefault:"logs"`
}

type MigrationConfig struct {
	Path string `env:"PATH" envDefault:"file://migrations"`
	// Auto applies pending migrations when the API starts.
	Auto bool `env:"AUTO" envDefault:"false"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Scheduling.HorizonDays < 1 {
		errs = append(errs, errors.New("SCHEDULING_HORIZON_DAYS must be at least 1"))
	}
	if _, err := time.LoadLocation(c.Scheduling.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("SCHEDULING_DEFAULT_TIMEZONE: %w", err))
	}
	if c.Scheduling.ExpanderInterval <= 0 {
		errs = append(errs, errors.New("SCHEDULING_EXPANDER_INTERVAL must be positive"))
	}
	if n := len(c.Scheduling.CheckInSecret); n != 0 && n != 16 && n != 24 && n != 32 {
		errs = append(errs, errors.New("SCHEDULING_CHECKIN_SECRET must be 16, 24 or 32 bytes"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when Kafka is enabled"))
	}
	return errors.Join(errs...)
}
