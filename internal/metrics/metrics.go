// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Detection pipeline
	SignalsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxguard_signals_processed_total",
			Help: "Signals processed by outcome",
		},
		[]string{"outcome"}, // "observed", "alerted", "suppressed", "ignored", "error"
	)

	ParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxguard_parse_errors_total",
			Help: "Signaling messages that could not be used",
		},
		[]string{"reason"}, // "not_recognized", "malformed"
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxguard_alerts_created_total",
			Help: "Fraud alerts created by fraud type",
		},
		[]string{"fraud_type"},
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voxguard_alerts_suppressed_total",
			Help: "Masking verdicts absorbed by an alert still in cooldown",
		},
	)

	DetectionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voxguard_detection_duration_seconds",
			Help:    "Time to process one signal end to end",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	WindowKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxguard_window_destinations",
			Help: "Destinations currently held by the in-memory window",
		},
	)

	WindowCompacted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voxguard_window_compacted_total",
			Help: "Cold destinations dropped by the window compactor",
		},
	)

	// Event bus
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxguard_events_published_total",
			Help: "Domain events published by kind",
		},
		[]string{"kind"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxguard_events_dropped_total",
			Help: "Domain events dropped because the bus buffer was full",
		},
		[]string{"kind"},
	)

	HandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxguard_event_handler_errors_total",
			Help: "Subscriber failures by event kind",
		},
		[]string{"kind"},
	)

	// Backends
	BackendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxguard_backend_failures_total",
			Help: "Failed or timed out calls into external stores",
		},
		[]string{"backend"}, // "repository", "cache", "timeseries", "model"
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voxguard_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BlacklistCleaned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voxguard_blacklist_expired_removed_total",
			Help: "Expired blacklist entries removed by cleanup",
		},
	)

	// Ingest
	IngestDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxguard_ingest_dropped_total",
			Help: "Raw signaling messages dropped before parsing",
		},
		[]string{"source"}, // "udp", "nats", "http"
	)

	IngestQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxguard_ingest_queue_depth",
			Help: "Raw signaling messages waiting for a worker",
		},
	)

	// HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxguard_http_requests_total",
			Help: "Admin API requests by route and status",
		},
		[]string{"method", "route", "status"},
	)
)
