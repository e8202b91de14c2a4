package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StoreMetrics instruments the object/file store operations.
type StoreMetrics struct {
	operations      *prometheus.CounterVec
	operationErrors *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	publishFailures prometheus.Counter
	viewFullScans   prometheus.Counter
}

// NewStoreMetrics creates a Prometheus-backed StoreMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStoreMetrics() *StoreMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &StoreMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "objectdb_operations_total",
				Help: "Total number of store operations by name",
			},
			[]string{"op"},
		),
		operationErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "objectdb_operation_errors_total",
				Help: "Total number of failed store operations by name and error code",
			},
			[]string{"op", "code"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "objectdb_operation_duration_seconds",
				Help:    "Store operation latency by name",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		publishFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "objectdb_publish_failures_total",
				Help: "Total number of change notifications that could not be published",
			},
		),
		viewFullScans: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "objectdb_view_full_scans_total",
				Help: "Total number of view evaluations that fell back to a full scan",
			},
		),
	}
}

// RecordOperation records one completed operation with its latency.
func (m *StoreMetrics) RecordOperation(op string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordError records one failed operation by error code.
func (m *StoreMetrics) RecordError(op, code string) {
	if m == nil {
		return
	}
	m.operationErrors.WithLabelValues(op, code).Inc()
}

// RecordPublishFailure records a change notification that was dropped.
func (m *StoreMetrics) RecordPublishFailure() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

// RecordViewFullScan records a view evaluated without a server-side
// script.
func (m *StoreMetrics) RecordViewFullScan() {
	if m == nil {
		return
	}
	m.viewFullScans.Inc()
}
