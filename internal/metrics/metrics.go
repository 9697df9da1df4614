// Package metrics declares the Prometheus collectors shared by the tracking
// server and the worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leadtrack"

// Beacon ingestion
var (
	// BeaconRequests counts pixel/click hits by kind and outcome.
	BeaconRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "beacon_requests_total",
		Help:      "Beacon hits by kind (opened, clicked) and outcome",
	}, []string{"kind", "outcome"})

	// AppendDuration measures EventStore append latency.
	AppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "event_append_duration_seconds",
		Help:      "Event store append latency in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .15, .25, .5, 1, 2.5},
	})

	// AppendFailures counts failed appends by reason.
	AppendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_append_failures_total",
		Help:      "Failed event appends by reason",
	}, []string{"reason"})

	// UnknownTokens counts beacons that referenced a token we never issued.
	UnknownTokens = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unknown_token_total",
		Help:      "Beacons carrying an unknown or malformed token id",
	})

	// InvalidRedirects counts clicks whose destination failed the allow-list.
	InvalidRedirects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invalid_redirect_total",
		Help:      "Clicks redirected to the fallback page",
	})

	// DeadlineExceeded counts beacons answered before the append finished.
	DeadlineExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "beacon_deadline_exceeded_total",
		Help:      "Beacons answered before their append completed",
	})
)

// Retry queue and breaker
var (
	RetryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "retry_queue_depth",
		Help:      "Events waiting for a background re-append",
	})

	RetryDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retry_dropped_total",
		Help:      "Events dropped by the retrier by reason: queue_full, exhausted or shutdown",
	}, []string{"reason"})

	RetrySucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retry_succeeded_total",
		Help:      "Events persisted by a background retry",
	})

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})
)

// Aggregation
var (
	Recomputes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recompute_total",
		Help:      "Lead recomputes by trigger and outcome",
	}, []string{"trigger", "outcome"})

	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "recompute_duration_seconds",
		Help:      "Time to replay and persist one lead",
		Buckets:   prometheus.DefBuckets,
	})

	// AggregationDrift counts cached fields found to disagree with the log.
	AggregationDrift = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "aggregation_drift_total",
		Help:      "Cached lead fields that disagreed with a replay of the event log",
	}, []string{"field"})

	RecomputeQueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recompute_queue_dropped_total",
		Help:      "Recompute requests dropped because the local queue was full",
	})

	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_runs_total",
		Help:      "Reconciliation runs by outcome (ok, skipped, failed)",
	}, []string{"outcome"})

	ReconcileLeads = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reconcile_last_leads",
		Help:      "Leads seen by the last reconciliation run, by result",
	}, []string{"result"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
