package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobSearchesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "job_dispatch", Name: "job_searches_total", Help: "Total nearby-job searches served"})
	MatchLatency     = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "job_dispatch", Name: "match_latency_seconds", Help: "Job search latency seconds"})
	ProvidersOnline  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "job_dispatch", Name: "providers_online", Help: "Number of online providers"})

	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "job_dispatch", Name: "claims_total", Help: "Claim attempts by outcome"},
		[]string{"outcome"},
	)
	AutoAcceptsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "job_dispatch", Name: "auto_accepts_total", Help: "Jobs claimed by the auto-accept engine"})

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "job_dispatch", Name: "events_published_total", Help: "Realtime events published by entity type"},
		[]string{"entity_type"},
	)
	EventsReplayed  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "job_dispatch", Name: "events_replayed_total", Help: "Synthetic events replayed after reconnect"})
	QueueDropsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "job_dispatch", Name: "offline_queue_drops_total", Help: "Offline queue entries dropped after exhausting retries"})

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "job_dispatch", Name: "notifications_total", Help: "Notification requests emitted by type"},
		[]string{"type"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "job_dispatch", Name: "breaker_transitions_total", Help: "Circuit breaker state transitions"},
		[]string{"name", "to"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "job_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "job_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
