package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Sink kinds accepted by HUBSYNC_SINK.
const (
	SinkSQLite = "sqlite"
	SinkHTTP   = "http"
	SinkKafka  = "kafka"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	DBPath       string `validate:"required"`                            // HUBSYNC_DB, default "hubsync.db"
	ClientID     string `validate:"required"`                            // HUBSPOT_CID
	ClientSecret string `validate:"required"`                            // HUBSPOT_CS
	APIURL       string `validate:"required,url"`                        // HUBSPOT_API_URL
	TokenURL     string `validate:"required,url"`                        // HUBSPOT_TOKEN_URL
	Sink         string `validate:"oneof=sqlite http kafka"`             // HUBSYNC_SINK, default "sqlite"
	SinkURL      string `validate:"required_if=Sink http,omitempty,url"` // HUBSYNC_SINK_URL

	KafkaBrokers []string `validate:"required_if=Sink kafka"` // HUBSYNC_KAFKA_BROKERS, comma separated
	KafkaTopic   string   `validate:"required_if=Sink kafka"` // HUBSYNC_KAFKA_TOPIC

	FlushThreshold int           `validate:"min=1"`        // HUBSYNC_FLUSH_THRESHOLD, default 2000
	MaxInFlight    int           `validate:"min=1"`        // HUBSYNC_MAX_IN_FLIGHT, default 4
	MaxRetries     int           `validate:"min=1,max=10"` // HUBSYNC_MAX_RETRIES, default 4
	RetryBackoff   time.Duration `validate:"gte=0"`        // HUBSYNC_RETRY_BACKOFF, default 5s
	RateLimit      float64       `validate:"gte=0"`        // HUBSYNC_RATE_LIMIT, requests per second, 0 disables
	HTTPTimeout    time.Duration `validate:"gt=0"`         // HUBSYNC_HTTP_TIMEOUT, default 30s

	LogLevel  string `validate:"oneof=debug info warn error"` // HUBSYNC_LOG_LEVEL, default "info"
	LogFormat string `validate:"oneof=text json"`             // HUBSYNC_LOG_FORMAT, default "text"
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from environment variables, after loading a .env
// file from the working directory when one exists. Variables already set in
// the environment win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var errs []error
	cfg := Config{
		DBPath:       envOr("HUBSYNC_DB", "hubsync.db"),
		ClientID:     os.Getenv("HUBSPOT_CID"),
		ClientSecret: os.Getenv("HUBSPOT_CS"),
		APIURL:       envOr("HUBSPOT_API_URL", "https://api.hubapi.com"),
		TokenURL:     envOr("HUBSPOT_TOKEN_URL", "https://api.hubapi.com/oauth/v1/token"),
		Sink:         strings.ToLower(envOr("HUBSYNC_SINK", SinkSQLite)),
		SinkURL:      os.Getenv("HUBSYNC_SINK_URL"),
		KafkaBrokers: splitList(os.Getenv("HUBSYNC_KAFKA_BROKERS")),
		KafkaTopic:   os.Getenv("HUBSYNC_KAFKA_TOPIC"),

		FlushThreshold: envInt("HUBSYNC_FLUSH_THRESHOLD", 2000, &errs),
		MaxInFlight:    envInt("HUBSYNC_MAX_IN_FLIGHT", 4, &errs),
		MaxRetries:     envInt("HUBSYNC_MAX_RETRIES", 4, &errs),
		RetryBackoff:   envDuration("HUBSYNC_RETRY_BACKOFF", 5*time.Second, &errs),
		RateLimit:      envFloat("HUBSYNC_RATE_LIMIT", 10, &errs),
		HTTPTimeout:    envDuration("HUBSYNC_HTTP_TIMEOUT", 30*time.Second, &errs),

		LogLevel:  strings.ToLower(envOr("HUBSYNC_LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(envOr("HUBSYNC_LOG_FORMAT", "text")),
	}
	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the sync settings. The account management commands only
// need the database path and skip it.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// SlogLevel maps LogLevel to a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
