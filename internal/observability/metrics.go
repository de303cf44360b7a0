// Package observability provides Prometheus metrics for the result store and its read API.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for store operations.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// StoreMetrics tracks store operations.
type StoreMetrics struct {
	operations            *prometheus.CounterVec
	operationDuration     *prometheus.HistogramVec
	duplicatePlans        prometheus.Counter
	fingerprintMismatches prometheus.Counter
	measurements          prometheus.Counter
}

// NewStoreMetrics registers store metrics with r. A nil registerer yields
// working but unregistered metrics.
func NewStoreMetrics(r prometheus.Registerer) *StoreMetrics {
	return &StoreMetrics{
		operations: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "autosteer_store_operations_total",
			Help: "Total number of store operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		operationDuration: promauto.With(r).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autosteer_store_operation_duration_seconds",
			Help:    "Time taken by store operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		duplicatePlans: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "autosteer_store_duplicate_plans_total",
			Help: "Total number of registered configurations whose plan duplicates another configuration.",
		}),
		fingerprintMismatches: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "autosteer_store_fingerprint_mismatches_total",
			Help: "Total number of result fingerprints that did not match the stored fingerprint.",
		}),
		measurements: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "autosteer_store_measurements_total",
			Help: "Total number of measurements appended.",
		}),
	}
}

// Observe records one finished operation. Call it as
// defer m.Observe("register_benchmark", time.Now(), &err).
func (m *StoreMetrics) Observe(operation string, start time.Time, err *error) {
	outcome := OutcomeOK
	if err != nil && *err != nil {
		outcome = OutcomeError
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// DuplicatePlan counts a configuration flagged as a duplicate plan.
func (m *StoreMetrics) DuplicatePlan() { m.duplicatePlans.Inc() }

// FingerprintMismatch counts a rejected fingerprint.
func (m *StoreMetrics) FingerprintMismatch() { m.fingerprintMismatches.Inc() }

// Measurement counts an appended measurement.
func (m *StoreMetrics) Measurement() { m.measurements.Inc() }

// HTTPMetrics tracks read API requests.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics registers HTTP metrics with r.
func NewHTTPMetrics(r prometheus.Registerer) *HTTPMetrics {
	return &HTTPMetrics{
		requests: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "autosteer_http_requests_total",
			Help: "Total number of read API requests by route and status code.",
		}, []string{"route", "code"}),
		duration: promauto.With(r).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autosteer_http_request_duration_seconds",
			Help:    "Time taken to serve read API requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Middleware instruments next under the given route label.
func (m *HTTPMetrics) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
