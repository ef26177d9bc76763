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
	// Admission metrics
	SignalsReceived *prometheus.CounterVec
	SignalsRejected *prometheus.CounterVec
	SignalsAdmitted *prometheus.CounterVec

	// Queue metrics
	QueueDepth  *prometheus.GaugeVec
	QueuePushed *prometheus.CounterVec
	QueuePopped *prometheus.CounterVec
	QueueShed   *prometheus.CounterVec

	// Executor metrics
	TradesExecuted      *prometheus.CounterVec
	SubmitAttempts      *prometheus.CounterVec
	ExecutionLatency    *prometheus.HistogramVec
	TipLamports         prometheus.Histogram
	RPCMode             prometheus.Gauge
	ConsecutiveFailures prometheus.Gauge

	// Breaker metrics
	BreakerState       prometheus.Gauge
	BreakerTrips       *prometheus.CounterVec
	BreakerEvaluations prometheus.Counter

	// Recovery metrics
	TradesRecovered *prometheus.CounterVec
	StuckTrades     prometheus.Gauge

	// Watcher metrics
	SourceEventsSeen *prometheus.CounterVec
	WSMessageLatency prometheus.Histogram
	RPCCallLatency   *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulExecution prometheus.Gauge
	UptimeSeconds           prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mirror_engine"
	}

	return &Metrics{
		// Admission metrics
		SignalsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "signals_received_total",
			Help:      "Total number of signals received by action and strategy",
		}, []string{"action", "strategy"}),
		SignalsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "signals_rejected_total",
			Help:      "Total number of signals rejected by reason",
		}, []string{"reason"}),
		SignalsAdmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "signals_admitted_total",
			Help:      "Total number of signals admitted into the queue",
		}, []string{"lane"}),

		// Queue metrics
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of queued signals per lane",
		}, []string{"lane"}),
		QueuePushed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pushed_total",
			Help:      "Total number of signals pushed per lane",
		}, []string{"lane"}),
		QueuePopped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "popped_total",
			Help:      "Total number of signals popped per lane",
		}, []string{"lane"}),
		QueueShed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "shed_total",
			Help:      "Total number of signals shed under pressure per lane",
		}, []string{"lane"}),

		// Executor metrics
		TradesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "trades_executed_total",
			Help:      "Total number of trade executions by action, mode and result",
		}, []string{"action", "mode", "result"}),
		SubmitAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "submit_attempts_total",
			Help:      "Total number of transaction submission attempts by path and status",
		}, []string{"path", "status"}),
		ExecutionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "execution_latency_seconds",
			Help:      "End-to-end execution latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"action"}),
		TipLamports: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "tip_lamports",
			Help:      "Clamped tip amount attached to bundles in lamports",
			Buckets:   []float64{10_000, 50_000, 100_000, 500_000, 1_000_000, 5_000_000, 10_000_000},
		}),
		RPCMode: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "rpc_mode",
			Help:      "Current submission mode (0 = primary bundle, 1 = fallback direct)",
		}),
		ConsecutiveFailures: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "consecutive_failures",
			Help:      "Current consecutive execution failure count",
		}),

		// Breaker metrics
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0 = active, 1 = tripped, 2 = cooldown)",
		}),
		BreakerTrips: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "trips_total",
			Help:      "Total number of circuit breaker trips by cause",
		}, []string{"cause"}),
		BreakerEvaluations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "evaluations_total",
			Help:      "Total number of circuit breaker threshold evaluations",
		}),

		// Recovery metrics
		TradesRecovered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "trades_recovered_total",
			Help:      "Total number of stuck trades resolved by resolution",
		}, []string{"resolution"}),
		StuckTrades: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "stuck_trades",
			Help:      "Number of stuck exiting trades seen on the last sweep",
		}),

		// Watcher metrics
		SourceEventsSeen: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "source_events_total",
			Help:      "Total number of source wallet transactions observed",
		}, []string{"wallet"}),
		WSMessageLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "ws_message_latency_seconds",
			Help:      "WebSocket message processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

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
		LastSuccessfulExecution: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_execution_timestamp",
			Help:      "Unix timestamp of last successfully confirmed trade",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordSignalReceived increments the signals received counter.
func RecordSignalReceived(action, strategy string) {
	DefaultMetrics.SignalsReceived.WithLabelValues(action, strategy).Inc()
}

// RecordSignalRejected records a rejected signal by reason.
func RecordSignalRejected(reason string) {
	DefaultMetrics.SignalsRejected.WithLabelValues(reason).Inc()
}

// RecordSignalAdmitted records a signal accepted into a queue lane.
func RecordSignalAdmitted(lane string) {
	DefaultMetrics.SignalsAdmitted.WithLabelValues(lane).Inc()
}

// RecordQueuePush records a push and updates the lane depth gauge.
func RecordQueuePush(lane string, depth int) {
	DefaultMetrics.QueuePushed.WithLabelValues(lane).Inc()
	DefaultMetrics.QueueDepth.WithLabelValues(lane).Set(float64(depth))
}

// RecordQueuePop records a pop and updates the lane depth gauge.
func RecordQueuePop(lane string, depth int) {
	DefaultMetrics.QueuePopped.WithLabelValues(lane).Inc()
	DefaultMetrics.QueueDepth.WithLabelValues(lane).Set(float64(depth))
}

// RecordQueueShed records a signal dropped by load shedding.
func RecordQueueShed(lane string) {
	DefaultMetrics.QueueShed.WithLabelValues(lane).Inc()
}

// RecordTradeExecuted records a completed execution attempt.
func RecordTradeExecuted(action, mode, result string) {
	DefaultMetrics.TradesExecuted.WithLabelValues(action, mode, result).Inc()
}

// RecordSubmitAttempt records a single submission attempt on one path.
func RecordSubmitAttempt(path, status string) {
	DefaultMetrics.SubmitAttempts.WithLabelValues(path, status).Inc()
}

// RecordExecutionLatency records end-to-end execution latency.
func RecordExecutionLatency(action string, seconds float64) {
	DefaultMetrics.ExecutionLatency.WithLabelValues(action).Observe(seconds)
}

// RecordTip records a clamped tip amount.
func RecordTip(lamports uint64) {
	DefaultMetrics.TipLamports.Observe(float64(lamports))
}

// UpdateRPCMode updates the submission mode gauge.
func UpdateRPCMode(fallback bool) {
	if fallback {
		DefaultMetrics.RPCMode.Set(1)
	} else {
		DefaultMetrics.RPCMode.Set(0)
	}
}

// UpdateConsecutiveFailures updates the failure streak gauge.
func UpdateConsecutiveFailures(n int) {
	DefaultMetrics.ConsecutiveFailures.Set(float64(n))
}

// RecordBreakerTrip records a trip by cause and moves the state gauge.
func RecordBreakerTrip(cause string) {
	DefaultMetrics.BreakerTrips.WithLabelValues(cause).Inc()
	DefaultMetrics.BreakerState.Set(1)
}

// UpdateBreakerState updates the breaker state gauge.
func UpdateBreakerState(state float64) {
	DefaultMetrics.BreakerState.Set(state)
}

// RecordBreakerEvaluation increments the evaluation counter.
func RecordBreakerEvaluation() {
	DefaultMetrics.BreakerEvaluations.Inc()
}

// RecordTradeRecovered records a stuck trade resolution.
func RecordTradeRecovered(resolution string) {
	DefaultMetrics.TradesRecovered.WithLabelValues(resolution).Inc()
}

// UpdateStuckTrades updates the stuck trade gauge after a sweep.
func UpdateStuckTrades(n int) {
	DefaultMetrics.StuckTrades.Set(float64(n))
}

// RecordSourceEvent records an observed source wallet transaction.
func RecordSourceEvent(wallet string) {
	DefaultMetrics.SourceEventsSeen.WithLabelValues(wallet).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordSuccessfulExecution stamps the last successful execution gauge.
func RecordSuccessfulExecution(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulExecution.Set(float64(unixSeconds))
}
