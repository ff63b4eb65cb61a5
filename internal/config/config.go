package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr       string
	RedisPassword   string
	JobsGeoKey      string
	ProvidersGeoKey string

	KafkaBrokers   []string
	EventsTopic    string
	LocationsTopic string

	PGDSN string

	RoutingURL     string
	RoutingTimeout time.Duration

	NotifyURL string
	NotifyKey string

	QueryTimeout       time.Duration
	PageSize           int
	AutoAcceptRadiusKm float64
	DebounceWindow     time.Duration

	BreakerFailures int
	BreakerCooldown time.Duration

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		JobsGeoKey:         "jobs_geo",
		ProvidersGeoKey:    "providers_geo",
		EventsTopic:        "dispatch-events",
		LocationsTopic:     "provider-locations",
		RoutingTimeout:     3 * time.Second,
		QueryTimeout:       10 * time.Second,
		PageSize:           10,
		AutoAcceptRadiusKm: 10,
		DebounceWindow:     300 * time.Millisecond,
		BreakerFailures:    5,
		BreakerCooldown:    30 * time.Second,
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.JobsGeoKey, "REDIS_JOBS_GEO_KEY")
	setStringFromEnv(&cfg.ProvidersGeoKey, "REDIS_PROVIDERS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.EventsTopic, "KAFKA_EVENTS_TOPIC")
	setStringFromEnv(&cfg.LocationsTopic, "KAFKA_LOCATIONS_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.RoutingURL = strings.TrimSpace(os.Getenv("ROUTING_URL"))
	setDurationFromEnv(&cfg.RoutingTimeout, "ROUTING_TIMEOUT", &errs)

	cfg.NotifyURL = strings.TrimSpace(os.Getenv("NOTIFY_URL"))
	cfg.NotifyKey = os.Getenv("NOTIFY_KEY")

	setDurationFromEnv(&cfg.QueryTimeout, "MATCHER_QUERY_TIMEOUT", &errs)
	setIntFromEnv(&cfg.PageSize, "MATCHER_PAGE_SIZE", &errs)
	setFloatFromEnv(&cfg.AutoAcceptRadiusKm, "AUTO_ACCEPT_RADIUS_KM", &errs)
	setDurationFromEnv(&cfg.DebounceWindow, "SYNC_DEBOUNCE_WINDOW", &errs)

	setIntFromEnv(&cfg.BreakerFailures, "BREAKER_FAILURE_THRESHOLD", &errs)
	setDurationFromEnv(&cfg.BreakerCooldown, "BREAKER_COOLDOWN", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("MATCHER_PAGE_SIZE must be > 0"))
	}
	if cfg.AutoAcceptRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("AUTO_ACCEPT_RADIUS_KM must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
