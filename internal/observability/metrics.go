// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the sequencer.
type Metrics struct {
	// Intake metrics
	SubmissionsTotal     *prometheus.CounterVec
	ClassificationsTotal *prometheus.CounterVec
	PatternsDetected     *prometheus.CounterVec
	CommitRevealTotal    *prometheus.CounterVec
	PoolPending          *prometheus.GaugeVec
	PoolsActive          prometheus.Gauge

	// Batch metrics
	BatchesTotal      *prometheus.CounterVec
	BatchSize         *prometheus.HistogramVec
	BatchDuration     *prometheus.HistogramVec
	FairnessScore     *prometheus.HistogramVec
	TicksSkipped      *prometheus.CounterVec
	ExpiredTotal      *prometheus.CounterVec
	HeldBatches       prometheus.Gauge
	ProofSignFailures prometheus.Counter
	InvariantFailures *prometheus.CounterVec

	// Submission metrics
	SubmitAttempts  *prometheus.CounterVec
	SubmitLatency   *prometheus.HistogramVec
	TxOutcomes      *prometheus.CounterVec
	CircuitState    *prometheus.GaugeVec
	CircuitRejected *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulBatch prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "fair_sequencer"
	}

	return &Metrics{
		// Intake metrics
		SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "submissions_total",
			Help:      "Total number of transaction submissions by result",
		}, []string{"result"}),
		ClassificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "classifications_total",
			Help:      "Total number of classified transactions by risk level",
		}, []string{"level"}),
		PatternsDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "patterns_detected_total",
			Help:      "Total number of detected extraction patterns",
		}, []string{"pattern"}),
		CommitRevealTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit_reveal",
			Name:      "transitions_total",
			Help:      "Total number of commit-reveal transitions by target state",
		}, []string{"state"}),
		PoolPending: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "pending",
			Help:      "Number of pending transactions per pool",
		}, []string{"pool"}),
		PoolsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "active",
			Help:      "Number of pools in the registry",
		}),

		// Batch metrics
		BatchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "batches_total",
			Help:      "Total number of batches by status",
		}, []string{"status"}),
		BatchSize: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "size",
			Help:      "Number of transactions per batch",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"algorithm"}),
		BatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Duration of a full batch cycle",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		FairnessScore: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "fairness_score",
			Help:      "Fairness score of ordered batches",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
		}, []string{"algorithm"}),
		TicksSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_skipped_total",
			Help:      "Timer fires skipped because the previous cycle was still running",
		}, []string{"pool"}),
		ExpiredTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit_reveal",
			Name:      "expired_total",
			Help:      "Transactions expired by the sweep",
		}, []string{"pool"}),
		HeldBatches: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "held",
			Help:      "Number of batches held for operator intervention",
		}),
		ProofSignFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proof",
			Name:      "sign_failures_total",
			Help:      "Total number of failed signing attempts",
		}),
		InvariantFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "invariant_failures_total",
			Help:      "Batches discarded after an internal invariant violation",
		}, []string{"pool"}),

		// Submission metrics
		SubmitAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "attempts_total",
			Help:      "Chain submission attempts by endpoint and result",
		}, []string{"endpoint", "result"}),
		SubmitLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "latency_seconds",
			Help:      "Chain submission call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		TxOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "tx_outcomes_total",
			Help:      "Per-transaction outcomes by status",
		}, []string{"status"}),
		CircuitState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per endpoint (0=closed, 1=half-open, 2=open)",
		}, []string{"endpoint"}),
		CircuitRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "circuit_rejected_total",
			Help:      "Calls rejected by an open circuit",
		}, []string{"endpoint"}),

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
		LastSuccessfulBatch: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_batch_timestamp",
			Help:      "Unix timestamp of last successfully submitted batch",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordSubmission records the result of a SubmitTransaction call.
func RecordSubmission(result string) {
	DefaultMetrics.SubmissionsTotal.WithLabelValues(result).Inc()
}

// RecordClassification records a classifier decision.
func RecordClassification(level string, patterns []string) {
	DefaultMetrics.ClassificationsTotal.WithLabelValues(level).Inc()
	for _, p := range patterns {
		DefaultMetrics.PatternsDetected.WithLabelValues(p).Inc()
	}
}

// RecordCommitReveal records a protection state transition.
func RecordCommitReveal(state string) {
	DefaultMetrics.CommitRevealTotal.WithLabelValues(state).Inc()
}

// UpdatePoolPending sets the pending gauge for a pool.
func UpdatePoolPending(poolID string, pending int) {
	DefaultMetrics.PoolPending.WithLabelValues(poolID).Set(float64(pending))
}

// ForgetPool drops per-pool series of a retired pool.
func ForgetPool(poolID string) {
	DefaultMetrics.PoolPending.DeleteLabelValues(poolID)
	DefaultMetrics.TicksSkipped.DeleteLabelValues(poolID)
	DefaultMetrics.ExpiredTotal.DeleteLabelValues(poolID)
	DefaultMetrics.InvariantFailures.DeleteLabelValues(poolID)
}

// UpdatePoolsActive sets the number of registered pools.
func UpdatePoolsActive(n int) {
	DefaultMetrics.PoolsActive.Set(float64(n))
}

// RecordBatch records a finished batch cycle.
func RecordBatch(algorithm, status string, size int, fairness float64, durationSeconds float64) {
	DefaultMetrics.BatchesTotal.WithLabelValues(status).Inc()
	DefaultMetrics.BatchDuration.WithLabelValues(status).Observe(durationSeconds)
	if size > 0 {
		DefaultMetrics.BatchSize.WithLabelValues(algorithm).Observe(float64(size))
		DefaultMetrics.FairnessScore.WithLabelValues(algorithm).Observe(fairness)
	}
}

// RecordTickSkipped records a timer fire skipped by the overlap guard.
func RecordTickSkipped(poolID string) {
	DefaultMetrics.TicksSkipped.WithLabelValues(poolID).Inc()
}

// RecordExpired records transactions expired by the sweep.
func RecordExpired(poolID string, n int) {
	DefaultMetrics.ExpiredTotal.WithLabelValues(poolID).Add(float64(n))
}

// SetHeldBatches sets the held batches gauge.
func SetHeldBatches(n int) {
	DefaultMetrics.HeldBatches.Set(float64(n))
}

// RecordSignFailure records one failed signing attempt.
func RecordSignFailure() {
	DefaultMetrics.ProofSignFailures.Inc()
}

// RecordInvariantFailure records a discarded batch.
func RecordInvariantFailure(poolID string) {
	DefaultMetrics.InvariantFailures.WithLabelValues(poolID).Inc()
}

// RecordSubmitAttempt records one chain submission call.
func RecordSubmitAttempt(endpoint string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	DefaultMetrics.SubmitAttempts.WithLabelValues(endpoint, result).Inc()
	DefaultMetrics.SubmitLatency.WithLabelValues(endpoint).Observe(seconds)
}

// RecordTxOutcome records a per-transaction outcome.
func RecordTxOutcome(status string) {
	DefaultMetrics.TxOutcomes.WithLabelValues(status).Inc()
}

// SetCircuitState records the breaker state of an endpoint.
func SetCircuitState(endpoint string, state int) {
	DefaultMetrics.CircuitState.WithLabelValues(endpoint).Set(float64(state))
}

// RecordCircuitRejected records a call rejected by an open breaker.
func RecordCircuitRejected(endpoint string) {
	DefaultMetrics.CircuitRejected.WithLabelValues(endpoint).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// MarkBatchSucceeded sets the last successful batch timestamp.
func MarkBatchSucceeded(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulBatch.Set(float64(unixSeconds))
}
