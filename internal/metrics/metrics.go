// Package metrics registers the Prometheus collectors for the pipeline and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "outreach"

var (
	// recordsTotal counts per-record outcomes by operation (validate, adjust, promote).
	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "records_total",
		Help:      "Records processed by operation, entity kind and outcome",
	}, []string{"operation", "kind", "outcome"})

	batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "batch_duration_seconds",
		Help:      "Duration of validation, promotion and import batches",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
	}, []string{"operation", "kind"})

	auditAppendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "append_failures_total",
		Help:      "Audit entries that could not be written",
	}, []string{"kind", "action"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// ObserveRecord counts one record outcome.
func ObserveRecord(operation, kind, outcome string) {
	recordsTotal.WithLabelValues(operation, kind, outcome).Inc()
}

// ObserveBatch records how long a batch took.
func ObserveBatch(operation, kind string, started time.Time) {
	batchDuration.WithLabelValues(operation, kind).Observe(time.Since(started).Seconds())
}

// ObserveAuditFailure counts an audit entry that was lost.
func ObserveAuditFailure(kind, action string) {
	auditAppendFailures.WithLabelValues(kind, action).Inc()
}

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, statusLabel(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
