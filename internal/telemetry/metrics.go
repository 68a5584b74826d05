package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP API metrics.
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skald_api_requests_total",
		Help: "Total HTTP API requests by method, endpoint, and status code.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skald_api_request_duration_seconds",
		Help:    "HTTP API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skald_api_active_connections",
		Help: "HTTP requests currently in flight.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skald_api_websocket_connections",
		Help: "Open WebSocket event subscriptions.",
	})
)

// Database metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skald_database_query_duration_seconds",
		Help:    "Database query latency by operation and table.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skald_database_errors_total",
		Help: "Total database errors by operation and error type.",
	}, []string{"operation", "error_type"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skald_database_connections_active",
		Help: "Open database connections.",
	})
)

// Leader election metrics.
var (
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "skald_leader_election_status",
		Help: "1 when this instance holds the leader lease, 0 otherwise.",
	}, []string{"instance"})

	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skald_leader_election_changes_total",
		Help: "Leadership transitions by instance and direction.",
	}, []string{"instance", "transition"})
)

// Transcode pipeline metrics.
var (
	TranscodeJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skald_transcode_jobs_total",
		Help: "Transcode jobs finished by terminal status.",
	}, []string{"status"})

	TranscodeJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "skald_transcode_job_duration_seconds",
		Help:    "Wall time to download and transcode one track.",
		Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
	})

	TranscodeQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skald_transcode_queue_depth",
		Help: "Jobs currently queued for transcoding.",
	})
)

// Event fan-out metrics.
var (
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skald_events_published_total",
		Help: "Events published to session subscribers by type.",
	}, []string{"event_type"})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skald_events_dropped_total",
		Help: "Events evicted from full subscriber queues by type.",
	}, []string{"event_type"})
)

// Cache metrics.
var (
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skald_cache_hits_total",
		Help: "Cache hits by tier.",
	}, []string{"tier"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skald_cache_misses_total",
		Help: "Cache misses by tier.",
	}, []string{"tier"})
)

// Playback metrics.
var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skald_sessions_active",
		Help: "Live jukebox sessions across all communities.",
	})

	ControllersPlaying = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skald_controllers_playing",
		Help: "Delivery controllers with an active transcode process.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
