// The consumer drains the provider-locations topic and keeps the Redis geo
// index current, so the API process never blocks a request on index writes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/job-dispatch/internal/config"
	"github.com/example/job-dispatch/internal/geo"
	"github.com/example/job-dispatch/internal/logging"
	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/retry"
)

var (
	msgsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "job_dispatch",
		Name:      "consumer_messages_consumed_total",
		Help:      "Total location messages consumed",
	})
	msgsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "job_dispatch",
		Name:      "consumer_messages_invalid_total",
		Help:      "Total invalid messages received",
	})
	indexUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "job_dispatch",
		Name:      "consumer_index_updates_total",
		Help:      "Total successful geo index updates",
	})
	indexErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "job_dispatch",
		Name:      "consumer_index_errors_total",
		Help:      "Total geo index update failures",
	})
)

// LocationApplier is the small write surface the consumer needs; the fake in
// tests implements it without a Redis server.
type LocationApplier interface {
	Apply(ctx context.Context, u models.LocationUpdate) error
}

type indexApplier struct {
	idx *geo.RedisProviderIndex
}

func (a *indexApplier) Apply(ctx context.Context, u models.LocationUpdate) error {
	return a.idx.Upsert(ctx, models.Provider{
		ID:       u.ProviderID,
		Location: u.Location,
		Online:   u.Online,
	})
}

func applyWithRetry(ctx context.Context, applier LocationApplier, u models.LocationUpdate) error {
	return retry.DoWith(ctx, retry.Options{Attempts: 3, InitialInterval: 200 * time.Millisecond}, func() error {
		return applier.Apply(ctx, u)
	})
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	logger := logging.New("job-dispatch-consumer", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "job-dispatch-consumer"
	}
	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: cfg.RedisPassword})
	applier := &indexApplier{idx: geo.NewRedisProviderIndex(rc, cfg.ProvidersGeoKey)}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   cfg.LocationsTopic,
		GroupID: group,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.LocationsTopic, "brokers", brokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Error("kafka read", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var u models.LocationUpdate
		if err := json.Unmarshal(m.Value, &u); err != nil || u.ProviderID == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid location message", "error", err)
			continue
		}

		if err := applyWithRetry(ctx, applier, u); err != nil {
			indexErrors.Inc()
			logger.Error("index update failed", "provider_id", u.ProviderID, "error", err)
			continue
		}
		indexUpdates.Inc()
	}
}
