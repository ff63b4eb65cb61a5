package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/example/job-dispatch/internal/autoaccept"
	"github.com/example/job-dispatch/internal/breaker"
	"github.com/example/job-dispatch/internal/config"
	"github.com/example/job-dispatch/internal/coordinator"
	"github.com/example/job-dispatch/internal/dispatch"
	"github.com/example/job-dispatch/internal/eta"
	"github.com/example/job-dispatch/internal/events"
	"github.com/example/job-dispatch/internal/geo"
	httpapi "github.com/example/job-dispatch/internal/http"
	"github.com/example/job-dispatch/internal/ingest"
	"github.com/example/job-dispatch/internal/logging"
	"github.com/example/job-dispatch/internal/matcher"
	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/observability"
	"github.com/example/job-dispatch/internal/realtime"
	"github.com/example/job-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.New("job-dispatch", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailures,
		Timeout:          cfg.BreakerCooldown,
	}, func(name string, from, to breaker.State) {
		observability.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
		logger.Warn("breaker transition", "name", name, "from", from.String(), "to", to.String())
	})

	var store storage.Store
	var rules autoaccept.RuleStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect", "error", err)
			os.Exit(1)
		}
		if cfg.RunMigrations {
			runMigrations(ps.DB(), logger)
		}
		store = ps
		rules = ps
	} else {
		logger.Warn("PG_DSN not set; using in-memory store")
		store = storage.NewMemoryStore()
		rules = autoaccept.NewMemoryRuleStore()
	}

	var (
		jobQuerier  geo.JobQuerier
		jobWriter   geo.JobIndexWriter
		provQuerier geo.ProviderQuerier
		provWriter  geo.ProviderIndexWriter
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		rj := geo.NewRedisJobIndex(redisClient, cfg.JobsGeoKey)
		rp := geo.NewRedisProviderIndex(redisClient, cfg.ProvidersGeoKey)
		jobQuerier, jobWriter = rj, rj
		provQuerier, provWriter = rp, rp
	} else {
		logger.Warn("REDIS_ADDR not set; using in-memory geo indexes")
		mj := geo.NewMemoryJobIndex()
		mp := geo.NewMemoryProviderIndex()
		jobQuerier, jobWriter = mj, mj
		provQuerier, provWriter = mp, mp
	}

	wsReg := dispatch.NewWSRegistry()
	var notifier coordinator.Notifier
	wsFirst := &dispatch.WSFirstNotifier{WS: wsReg}
	if cfg.NotifyURL != "" {
		wsFirst.Fallback = dispatch.NewHTTPNotifier(cfg.NotifyURL, cfg.NotifyKey)
	}
	notifier = wsFirst

	var queue realtime.QueueStore
	if redisClient != nil {
		queue = realtime.NewRedisQueue(redisClient, "dispatch:offline_queue")
	} else {
		queue = realtime.NewMemoryQueue()
	}
	sender := func(ctx context.Context, e realtime.Entry) error {
		var n models.Notification
		if err := json.Unmarshal(e.Payload, &n); err != nil {
			return err
		}
		return notifier.Notify(ctx, n)
	}
	syncMgr := realtime.NewManager(&realtime.StoreReconciler{Store: store}, logger,
		realtime.WithDebounce(cfg.DebounceWindow),
		realtime.WithQueue(queue, sender))

	bus := events.NewBus()
	fanout := events.Fanout{bus, syncMgr}
	var kafkaPub *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.EventsTopic)
		fanout = append(fanout, kafkaPub)
	}

	coord := coordinator.New(store, fanout, notifier, logger)

	var routing eta.RoutingClient
	if cfg.RoutingURL != "" {
		routing = eta.NewHTTPRoutingClient(cfg.RoutingURL)
	}
	estimator := eta.NewEstimator(routing, breakers.Get(eta.BreakerName), eta.NewCache(time.Minute))
	estimator.Timeout = cfg.RoutingTimeout

	match := matcher.New(store, jobQuerier, estimator, breakers.Get(matcher.QueryBreakerName))
	match.QueryTimeout = cfg.QueryTimeout
	match.PageSize = cfg.PageSize

	autoAccept := autoaccept.NewService(provQuerier, rules, coord, logger)
	autoAccept.RadiusKm = cfg.AutoAcceptRadiusKm

	var locations *ingest.LocationProducer
	if len(cfg.KafkaBrokers) > 0 {
		locations = ingest.NewLocationProducer(cfg.KafkaBrokers, cfg.LocationsTopic)
	}

	handler := httpapi.NewServer(httpapi.Deps{
		Store:         store,
		Coordinator:   coord,
		Matcher:       match,
		AutoAccept:    autoAccept,
		Rules:         rules,
		JobIndex:      jobWriter,
		ProviderIndex: provWriter,
		Estimator:     estimator,
		Locations:     locations,
		WSReg:         wsReg,
		Sync:          syncMgr,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	if kafkaPub != nil {
		_ = kafkaPub.Close()
	}
	if locations != nil {
		_ = locations.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}

func runMigrations(db *sql.DB, logger *slog.Logger) {
	b, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
	if err != nil {
		logger.Error("read migration", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("apply migration", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_init.sql")
}
