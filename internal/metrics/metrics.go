// internal/metrics/metrics.go
// Package metrics holds the Prometheus collectors shared across the service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Storage transaction metrics
	StorageTransactionTotal   *prometheus.CounterVec
	StorageTransactionRetries *prometheus.CounterVec

	// Case lifecycle metrics
	CasesCreatedTotal   *prometheus.CounterVec
	CaseIDProbesTotal   prometheus.Counter
	UploadLockRejected  prometheus.Counter
	StatusChangesTotal  *prometheus.CounterVec
	CounterAdjustErrors *prometheus.CounterVec

	// Event publishing metrics
	EventPublishTotal    *prometheus.CounterVec
	EventPublishDuration *prometheus.HistogramVec

	// Schema validation metrics
	SchemaValidationTotal *prometheus.CounterVec

	// Upstream calls (geocoder, object storage, push)
	UpstreamRequestTotal    *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics returns the process-wide Metrics instance, creating and
// registering it on first use.
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		StorageTransactionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_transactions_total",
			Help: "Optimistic transactions by namespace and outcome",
		}, []string{"namespace", "outcome"}),

		StorageTransactionRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_transaction_retries_total",
			Help: "Transaction attempts lost to a concurrent writer",
		}, []string{"namespace"}),

		CasesCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cases_created_total",
			Help: "Cases created by category prefix",
		}, []string{"prefix"}),

		CaseIDProbesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "case_id_probes_total",
			Help: "Case id candidates skipped because they were already taken",
		}),

		UploadLockRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "case_upload_lock_rejected_total",
			Help: "Photo uploads rejected because another upload held the case lock",
		}),

		StatusChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "case_status_changes_total",
			Help: "Case status writes by target status",
		}, []string{"status"}),

		CounterAdjustErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counter_adjust_errors_total",
			Help: "Best-effort counter adjustments that failed",
		}, []string{"counter"}),

		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"}),

		EventPublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "event_publish_duration_seconds",
			Help:    "Event publish duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type"}),

		SchemaValidationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schema_validation_total",
			Help: "Total number of schema validation operations",
		}, []string{"schema", "status"}),

		UpstreamRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Calls to external services",
		}, []string{"service", "status"}),

		UpstreamRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "External call duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
	}

	registerMetrics(m)
	globalMetrics = m
	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	for _, c := range []prometheus.Collector{
		m.HTTPRequestTotal,
		m.HTTPRequestDuration,
		m.StorageTransactionTotal,
		m.StorageTransactionRetries,
		m.CasesCreatedTotal,
		m.CaseIDProbesTotal,
		m.UploadLockRejected,
		m.StatusChangesTotal,
		m.CounterAdjustErrors,
		m.EventPublishTotal,
		m.EventPublishDuration,
		m.SchemaValidationTotal,
		m.UpstreamRequestTotal,
		m.UpstreamRequestDuration,
	} {
		registerOrGet(c)
	}
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
