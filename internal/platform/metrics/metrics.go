// Package metrics provides Prometheus metrics for the occupational health API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ImportsTotal tracks bulk uploads by outcome.
	ImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "occuhealth",
			Subsystem: "import",
			Name:      "uploads_total",
			Help:      "Total number of bulk uploads by entity and status",
		},
		[]string{"tenant_id", "entity", "status"},
	)

	// ImportRowsTotal tracks parsed rows by outcome (mapped, skipped).
	ImportRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "occuhealth",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Total number of uploaded rows by outcome",
		},
		[]string{"entity", "outcome"},
	)

	// ImportWritesTotal tracks committed writes (created, updated, failed).
	ImportWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "occuhealth",
			Subsystem: "import",
			Name:      "writes_total",
			Help:      "Total number of bulk commit writes by operation",
		},
		[]string{"entity", "operation"},
	)

	// ImportDuration tracks the duration of pipeline phases.
	ImportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "occuhealth",
			Subsystem: "import",
			Name:      "phase_duration_seconds",
			Help:      "Duration of bulk upload phases in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"entity", "phase"},
	)

	// PendingImports tracks uploads waiting for a duplicate decision.
	PendingImports = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "occuhealth",
			Subsystem: "import",
			Name:      "pending",
			Help:      "Number of uploads awaiting a duplicate decision",
		},
	)

	// HTTPRequestsTotal tracks inbound HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "occuhealth",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks inbound HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "occuhealth",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// EventsPublished tracks domain events sent to the broker.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "occuhealth",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of domain events published",
		},
		[]string{"type", "status"},
	)

	// NotificationsSent tracks outbound email notifications.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "occuhealth",
			Subsystem: "notification",
			Name:      "emails_total",
			Help:      "Total number of notification emails by template and status",
		},
		[]string{"template", "status"},
	)
)

// RecordImport records the outcome of one upload or decision.
func RecordImport(tenantID, entity, status string) {
	ImportsTotal.WithLabelValues(tenantID, entity, status).Inc()
}

// RecordRows records mapped and skipped row counts.
func RecordRows(entity string, mapped, skipped int) {
	ImportRowsTotal.WithLabelValues(entity, "mapped").Add(float64(mapped))
	ImportRowsTotal.WithLabelValues(entity, "skipped").Add(float64(skipped))
}

// RecordWrites records a bulk commit; failed writes are counted separately.
func RecordWrites(entity string, created, updated, failed int) {
	ImportWritesTotal.WithLabelValues(entity, "created").Add(float64(created))
	ImportWritesTotal.WithLabelValues(entity, "updated").Add(float64(updated))
	ImportWritesTotal.WithLabelValues(entity, "failed").Add(float64(failed))
}

// ObservePhase records the duration of a pipeline phase.
func ObservePhase(entity, phase string, seconds float64) {
	ImportDuration.WithLabelValues(entity, phase).Observe(seconds)
}

// RecordHTTPRequest records an inbound HTTP request.
func RecordHTTPRequest(method, route, statusCode string, seconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
