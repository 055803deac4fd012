// Package telemetry provides application-level observability for the alert engine.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<PHS_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Rule evaluation counters and duration histograms
//   - Alert dispatch counters per channel and outcome
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /v1/alerts) rather than
// the raw request URL to prevent unbounded label cardinality.  Rule metrics use
// the rule ID, which is a small closed set defined by the rule catalog.
//
// # Usage
//
// Import the package for side effects so metrics are registered before the HTTP server
// starts listening:
//
//	import _ "github.com/phi-sentinel/phi-sentinel/internal/telemetry"
//
// Or import it directly and use an exported var:
//
//	telemetry.AlertsTriggeredTotal.WithLabelValues(ruleID, severity).Inc()
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /v1/alerts), NOT the raw
// URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Rule evaluation metrics — recorded by the engine on every tick.
//
// RuleChecksTotal is a plain Counter incremented once per completed tick
// (a single pass over all enabled rules).
//
// AlertsTriggeredTotal is a CounterVec with labels {rule, severity}, incremented
// whenever a rule fires.  The rule label holds the catalog rule ID (e.g.
// "failed-logins"), a small closed set.
//
// Example PromQL queries:
//   - Alert rate by rule:      sum by (rule) (rate(alerts_triggered_total[1h]))
//   - Critical alerts (24 h):  increase(alerts_triggered_total{severity="CRITICAL"}[24h])
//
// RuleEvaluationErrorsTotal is a CounterVec with label {rule}, incremented when
// a single rule's evaluation fails (query error, bad definition).  One rule
// failing never aborts the tick, so a nonzero rate here is the only signal that
// coverage has silently degraded.
//
// TickDuration is a Histogram of complete-tick durations using the default
// Prometheus buckets (5 ms–10 s).
var (
	RuleChecksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rule_checks_total",
			Help: "Total number of completed rule evaluation ticks.",
		},
	)

	AlertsTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_triggered_total",
			Help: "Total number of alerts triggered, by rule ID and severity.",
		},
		[]string{"rule", "severity"},
	)

	RuleEvaluationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_evaluation_errors_total",
			Help: "Total number of failed single-rule evaluations, by rule ID.",
		},
		[]string{"rule"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rule_tick_duration_seconds",
			Help:    "Duration of a complete rule evaluation tick.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Dispatch metrics — recorded by the channel dispatcher.
//
// DispatchesTotal is a CounterVec with labels {channel, outcome} where channel
// is one of slack/pagerduty/email/webhook and outcome is "sent", "failed", or
// "skipped" (channel named by the rule but not configured).
//
// Example PromQL queries:
//   - Delivery failure rate:  sum by (channel) (rate(alert_dispatches_total{outcome="failed"}[1h]))
//   - Alert expression:       increase(alert_dispatches_total{outcome="failed"}[30m]) > 3
//
// DispatchDuration is a HistogramVec with label {channel} observing the wall
// time of each individual send attempt (skips are not observed).
var (
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_dispatches_total",
			Help: "Total number of per-channel alert dispatch attempts, by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alert_dispatch_duration_seconds",
			Help:    "Duration of a single channel send attempt, by channel.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <PHS_DATABASE_MAX_CONNECTIONS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
