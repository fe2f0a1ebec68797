// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Run metrics
	RunsStarted  *prometheus.CounterVec
	RunsFinished *prometheus.CounterVec
	RunsActive   prometheus.Gauge
	StaleRuns    prometheus.Counter
	ChunksTotal  *prometheus.CounterVec

	// Acquisition metrics
	DatasetsFetched     *prometheus.CounterVec
	FetchLatency        *prometheus.HistogramVec
	DiscoveryFallbacks  *prometheus.CounterVec
	ManifestCacheLookup *prometheus.CounterVec
	CoverageGateFailed  *prometheus.CounterVec

	// Simulation metrics
	TradesSimulated    prometheus.Counter
	AggregatesComputed prometheus.Counter
	ReportsGenerated   prometheus.Counter
	PhaseDuration      *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "solana_backtest_lab"
	}

	return &Metrics{
		// Run metrics
		RunsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "started_total",
			Help:      "Total number of backtest runs started by mode",
		}, []string{"mode"}),
		RunsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "finished_total",
			Help:      "Total number of backtest runs reaching a terminal state",
		}, []string{"state"}),
		RunsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "active",
			Help:      "Number of runs currently in the running state",
		}),
		StaleRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "stale_total",
			Help:      "Total number of runs failed by the staleness watchdog",
		}),
		ChunksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "chunks_total",
			Help:      "Total number of strategy chunks by final state",
		}, []string{"state"}),

		// Acquisition metrics
		DatasetsFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "datasets_total",
			Help:      "Dataset fetch attempts by tier and outcome",
		}, []string{"tier", "outcome"}),
		FetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "fetch_latency_seconds",
			Help:      "Per-candidate fetch latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		DiscoveryFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "discovery_tier_total",
			Help:      "Discovery attempts by tier",
		}, []string{"tier"}),
		ManifestCacheLookup: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "manifest_cache_total",
			Help:      "Manifest cache lookups by result",
		}, []string{"result"}),
		CoverageGateFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "coverage_gate_failed_total",
			Help:      "Families failed by the coverage gate",
		}, []string{"family"}),

		// Simulation metrics
		TradesSimulated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "trades_simulated_total",
			Help:      "Total number of trades simulated",
		}),
		AggregatesComputed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "aggregates_computed_total",
			Help:      "Total number of strategy aggregates computed",
		}),
		ReportsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "reports_generated_total",
			Help:      "Total number of reports generated",
		}),
		PhaseDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "phase_duration_seconds",
			Help:      "Run phase duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"phase"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last completed run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRunStarted counts a new run and marks it active.
func RecordRunStarted(mode string) {
	DefaultMetrics.RunsStarted.WithLabelValues(mode).Inc()
	DefaultMetrics.RunsActive.Inc()
}

// RecordRunFinished counts a terminal transition.
func RecordRunFinished(state string, unixSeconds float64) {
	DefaultMetrics.RunsFinished.WithLabelValues(state).Inc()
	DefaultMetrics.RunsActive.Dec()
	if state == "completed" {
		DefaultMetrics.LastSuccessfulRun.Set(unixSeconds)
	}
}

// RecordStaleRun counts a watchdog failure.
func RecordStaleRun() {
	DefaultMetrics.StaleRuns.Inc()
}

// RecordChunk counts a chunk reaching a final state.
func RecordChunk(state string) {
	DefaultMetrics.ChunksTotal.WithLabelValues(state).Inc()
}

// RecordDatasetFetch records one candidate fetch.
func RecordDatasetFetch(source, tier, outcome string, seconds float64) {
	DefaultMetrics.DatasetsFetched.WithLabelValues(tier, outcome).Inc()
	DefaultMetrics.FetchLatency.WithLabelValues(source).Observe(seconds)
}

// RecordDiscovery records a discovery attempt at a tier.
func RecordDiscovery(tier string) {
	DefaultMetrics.DiscoveryFallbacks.WithLabelValues(tier).Inc()
}

// RecordManifestLookup records a manifest cache lookup.
func RecordManifestLookup(result string) {
	DefaultMetrics.ManifestCacheLookup.WithLabelValues(result).Inc()
}

// RecordCoverageGateFailed records a family failed by the coverage gate.
func RecordCoverageGateFailed(family string) {
	DefaultMetrics.CoverageGateFailed.WithLabelValues(family).Inc()
}

// RecordTradesSimulated adds n simulated trades.
func RecordTradesSimulated(n int) {
	DefaultMetrics.TradesSimulated.Add(float64(n))
}

// RecordAggregateComputed counts a pooled strategy aggregate.
func RecordAggregateComputed() {
	DefaultMetrics.AggregatesComputed.Inc()
}

// RecordReportGenerated counts a rendered report.
func RecordReportGenerated() {
	DefaultMetrics.ReportsGenerated.Inc()
}

// RecordPhase records how long a run phase took.
func RecordPhase(phase string, seconds float64) {
	DefaultMetrics.PhaseDuration.WithLabelValues(phase).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
