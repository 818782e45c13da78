// Package config centralises configuration parsing for the exercisemate services.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Event delivery modes.
const (
	DeliveryOutbox = "outbox"
	DeliveryDirect = "direct"
)

// Config captures runtime configuration values shared by the binaries.
type Config struct {
	HTTPAddress    string
	MetricsAddress string
	CORSOrigins    []string
	// PostgresURL selects the pgx store. Empty runs on the in-memory store.
	PostgresURL string

	KafkaBrokers       []string
	KafkaTopic         string
	ConsumerGroupID    string
	SchemaRegistryURL  string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	DLQPollInterval    time.Duration // Interval between DLQ polling iterations.
	DLQMaxRetries      int           // Maximum number of DLQ retry attempts before quarantine.
	DLQBaseDelay       time.Duration // Base delay used for exponential backoff.
	EventDelivery      string

	JWTSecret string
	JWTIssuer string

	Timezone                string
	FirebaseProjectID       string
	FirebaseCredentialsFile string
	NotificationLink        string

	JobTickInterval     time.Duration
	DailyReminderWindow time.Duration
	PenaltyWarningHour  int
	TokenMaxAge         time.Duration
	LocalScheduleFile   string
}

// Load reads an optional .env file (DOTENV_PATH, default ".env") and then the
// environment into Config, applying defaults for local dev. Variables already
// set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(getEnv("DOTENV_PATH", ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load dotenv: %w", err)
	}

	cfg := Config{
		HTTPAddress:             getEnv("HTTP_ADDRESS", ":8080"),
		MetricsAddress:          getEnv("METRICS_ADDRESS", ":9102"),
		CORSOrigins:             splitAndTrim(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		PostgresURL:             os.Getenv("POSTGRES_URL"),
		KafkaBrokers:            splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:              getEnv("KAFKA_TOPIC", "exercise_events"),
		ConsumerGroupID:         getEnv("CONSUMER_GROUP_ID", "exercisemate-notifier"),
		SchemaRegistryURL:       getEnv("SCHEMA_REGISTRY_URL", "http://schema-registry:8081"),
		OutboxPollInterval:      getDurationEnv("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:         getIntEnv("OUTBOX_BATCH_SIZE", 25),
		DLQPollInterval:         getDurationEnv("DLQ_POLL_INTERVAL", 30*time.Second),
		DLQMaxRetries:           getIntEnv("DLQ_MAX_RETRIES", 5),
		DLQBaseDelay:            getDurationEnv("DLQ_BASE_DELAY", time.Minute),
		JWTSecret:               getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:               getEnv("JWT_ISSUER", "exercisemate.identity"),
		Timezone:                getEnv("TIMEZONE", "Asia/Seoul"),
		FirebaseProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		FirebaseCredentialsFile: os.Getenv("FIREBASE_CREDENTIALS_FILE"),
		NotificationLink:        getEnv("NOTIFICATION_LINK", "/dashboard"),
		JobTickInterval:         getDurationEnv("JOB_TICK_INTERVAL", 10*time.Minute),
		DailyReminderWindow:     getDurationEnv("DAILY_REMINDER_WINDOW", 30*time.Minute),
		PenaltyWarningHour:      getIntEnv("PENALTY_WARNING_HOUR", 18),
		TokenMaxAge:             getDurationEnv("TOKEN_MAX_AGE", 30*24*time.Hour),
		LocalScheduleFile:       getEnv("LOCAL_SCHEDULE_FILE", "pending-notifications.json"),
	}

	delivery := strings.ToLower(getEnv("EVENT_DELIVERY", DeliveryOutbox))
	if cfg.PostgresURL == "" {
		delivery = DeliveryDirect
	}
	cfg.EventDelivery = delivery

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the services cannot run with.
func (c Config) Validate() error {
	if c.EventDelivery != DeliveryOutbox && c.EventDelivery != DeliveryDirect {
		return fmt.Errorf("EVENT_DELIVERY must be %q or %q, got %q", DeliveryOutbox, DeliveryDirect, c.EventDelivery)
	}
	if c.PenaltyWarningHour < 0 || c.PenaltyWarningHour > 23 {
		return fmt.Errorf("PENALTY_WARNING_HOUR must be 0-23, got %d", c.PenaltyWarningHour)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// UsePush reports whether Firebase credentials are configured.
func (c Config) UsePush() bool {
	return c.FirebaseCredentialsFile != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
