package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for the core's operations
// and pooled connections. Generalized from the teacher's FaaS collector
// set: VM/autoscaling/admission-control/snapshot/vsock gauges have no
// analogue here and are dropped (see DESIGN.md); the connection-pool
// occupancy gauge and the circuit-breaker gauge/counter survive,
// relabeled from "function" to "connection_id" since
// internal/circuitbreaker.Registry is keyed by connection ID, not
// function ID, in this domain.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	invocationsTotal      *prometheus.CounterVec
	sandboxOOMTotal       prometheus.Counter
	sandboxTimeoutsTotal  prometheus.Counter
	sandboxCrashesTotal   prometheus.Counter
	maskedValuesTotal     prometheus.Counter
	policyViolationsTotal *prometheus.CounterVec

	// Histograms
	invocationDuration *prometheus.HistogramVec

	// Gauges
	uptime         prometheus.GaugeFunc
	connectionPool *prometheus.GaugeVec
	activeRequests prometheus.Gauge

	// Circuit breaker
	circuitBreakerState      *prometheus.GaugeVec
	circuitBreakerTripsTotal *prometheus.CounterVec
}

// defaultBuckets are the histogram buckets for invocation duration, in
// milliseconds.
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem under
// namespace, registering every collector against a fresh registry.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of core operation invocations",
			},
			[]string{"operation", "status"},
		),

		sandboxOOMTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_oom_total",
			Help:      "Total number of sandbox executions killed for exceeding their memory limit",
		}),
		sandboxTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_timeouts_total",
			Help:      "Total number of sandbox executions killed for exceeding their time limit",
		}),
		sandboxCrashesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_crashes_total",
			Help:      "Total number of sandbox worker processes that exited without a response",
		}),
		maskedValuesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "masked_values_total",
			Help:      "Total number of result values replaced by the sensitive-data masker",
		}),
		policyViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of statements or code bodies rejected by a policy validator",
			},
			[]string{"validator"},
		),

		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_ms",
				Help:      "Invocation duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		connectionPool: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_pool_size",
				Help:      "Pooled connections by state",
			},
			[]string{"connection_id", "state"}, // state: idle|busy|waiters
		),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of requests currently being handled",
		}),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state per connection (0=closed, 1=open, 2=half-open)",
			},
			[]string{"connection_id"},
		),
		circuitBreakerTripsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"connection_id", "to_state"},
		),
	}

	start := time.Now()
	pm.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Process uptime in seconds",
	}, func() float64 { return time.Since(start).Seconds() })

	registry.MustRegister(
		pm.invocationsTotal,
		pm.sandboxOOMTotal,
		pm.sandboxTimeoutsTotal,
		pm.sandboxCrashesTotal,
		pm.maskedValuesTotal,
		pm.policyViolationsTotal,
		pm.invocationDuration,
		pm.connectionPool,
		pm.activeRequests,
		pm.circuitBreakerState,
		pm.circuitBreakerTripsTotal,
		pm.uptime,
	)

	promMetrics = pm
}

// RecordPrometheusInvocation records one completed operation invocation.
func RecordPrometheusInvocation(operation string, durationMs int64, status Status) {
	if promMetrics == nil {
		return
	}
	promMetrics.invocationsTotal.WithLabelValues(operation, string(status)).Inc()
	promMetrics.invocationDuration.WithLabelValues(operation).Observe(float64(durationMs))
}

// RecordPrometheusSandboxOOM increments the sandbox-OOM counter.
func RecordPrometheusSandboxOOM() {
	if promMetrics == nil {
		return
	}
	promMetrics.sandboxOOMTotal.Inc()
}

// RecordPrometheusSandboxTimeout increments the sandbox-timeout counter.
func RecordPrometheusSandboxTimeout() {
	if promMetrics == nil {
		return
	}
	promMetrics.sandboxTimeoutsTotal.Inc()
}

// RecordPrometheusSandboxCrash increments the sandbox-crash counter.
func RecordPrometheusSandboxCrash() {
	if promMetrics == nil {
		return
	}
	promMetrics.sandboxCrashesTotal.Inc()
}

// RecordPrometheusMasking adds n to the masked-values counter.
func RecordPrometheusMasking(n int) {
	if promMetrics == nil || n <= 0 {
		return
	}
	promMetrics.maskedValuesTotal.Add(float64(n))
}

// RecordPrometheusPolicyViolation increments the policy-violations
// counter for the named validator ("sqlpolicy" or "codepolicy").
func RecordPrometheusPolicyViolation(validator string) {
	if promMetrics == nil {
		return
	}
	promMetrics.policyViolationsTotal.WithLabelValues(validator).Inc()
}

// SetConnectionPoolStats sets the idle/busy/waiters gauges for one
// connection, the shape emitted by pool.Pool.Stats.
func SetConnectionPoolStats(connectionID string, idle, busy, waiters int) {
	if promMetrics == nil {
		return
	}
	promMetrics.connectionPool.WithLabelValues(connectionID, "idle").Set(float64(idle))
	promMetrics.connectionPool.WithLabelValues(connectionID, "busy").Set(float64(busy))
	promMetrics.connectionPool.WithLabelValues(connectionID, "waiters").Set(float64(waiters))
}

// IncActiveRequests increments the in-flight request gauge.
func IncActiveRequests() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeRequests.Inc()
}

// DecActiveRequests decrements the in-flight request gauge.
func DecActiveRequests() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeRequests.Dec()
}

// SetCircuitBreakerState sets the per-connection breaker-state gauge (0
// closed, 1 open, 2 half-open), matching circuitbreaker.State's
// iota ordering.
func SetCircuitBreakerState(connectionID string, state int) {
	if promMetrics == nil {
		return
	}
	promMetrics.circuitBreakerState.WithLabelValues(connectionID).Set(float64(state))
}

// RecordCircuitBreakerTrip increments the breaker-transition counter for
// connectionID transitioning to toState.
func RecordCircuitBreakerTrip(connectionID, toState string) {
	if promMetrics == nil {
		return
	}
	promMetrics.circuitBreakerTripsTotal.WithLabelValues(connectionID, toState).Inc()
}

// PrometheusHandler returns an http.Handler serving the registry in the
// Prometheus exposition format.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the underlying registry, for callers that
// need to register additional collectors.
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
