package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ErlanBelekov/daybrief/internal/health"
)

var (
	// Engine metrics

	EngineStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "daybrief",
		Name:      "engine_start_time_seconds",
		Help:      "Unix timestamp when the digest engine started.",
	})

	CheckPassesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daybrief",
		Name:      "check_passes_total",
		Help:      "Total scheduler ticks, by outcome.",
	}, []string{"outcome"})

	CheckPassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "daybrief",
		Name:      "check_pass_duration_seconds",
		Help:      "Time taken for one full check pass.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	LeaseAcquireTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daybrief",
		Name:      "lease_acquire_total",
		Help:      "Lease acquisition attempts, by result.",
	}, []string{"result"})

	DigestsFiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daybrief",
		Name:      "digests_fired_total",
		Help:      "Digest executions reaching a terminal state, by outcome.",
	}, []string{"outcome"})

	ClaimsAbandonedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daybrief",
		Name:      "claims_abandoned_total",
		Help:      "Due digests not executed this tick, by reason.",
	}, []string{"reason"})

	SaveConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "daybrief",
		Name:      "save_conflicts_total",
		Help:      "Version conflicts observed while saving user records.",
	})

	// Execution queue metrics

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "daybrief",
		Name:      "queue_depth",
		Help:      "Digest executions waiting in the queue.",
	})

	QueueJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daybrief",
		Name:      "queue_jobs_total",
		Help:      "Queue job attempts, by outcome.",
	}, []string{"outcome"})

	// Circuit breaker metrics

	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "daybrief",
		Name:      "circuit_breaker_state",
		Help:      "Breaker state. 0 = closed, 1 = open, 2 = half-open.",
	}, []string{"breaker"})

	BreakerOpensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daybrief",
		Name:      "circuit_breaker_opens_total",
		Help:      "Times a breaker tripped open.",
	}, []string{"breaker"})

	// Digest build metrics

	DigestBuildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "daybrief",
		Name:      "digest_build_duration_seconds",
		Help:      "Duration of one digest build and delivery.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"outcome"})

	// Sweeper metrics

	SweptTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daybrief",
		Name:      "sweeper_removed_total",
		Help:      "Rows removed by the sweeper, by kind.",
	}, []string{"kind"})

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "daybrief",
		Name:      "sweep_duration_seconds",
		Help:      "Time taken for one sweeper cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "daybrief",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daybrief",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		EngineStartTime,
		CheckPassesTotal,
		CheckPassDuration,
		LeaseAcquireTotal,
		DigestsFiredTotal,
		ClaimsAbandonedTotal,
		SaveConflictsTotal,
		QueueDepth,
		QueueJobsTotal,
		BreakerState,
		BreakerOpensTotal,
		DigestBuildDuration,
		SweptTotal,
		SweepDuration,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer serves the operational surface: Prometheus scrapes plus the
// liveness and readiness probes.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if result.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(result)
}
