// Package telemetry provides application-level observability for the QMS backend.
//
// All metrics are registered against the default Prometheus registry and served
// on the side-channel HTTP server started by cmd/server (default port 9090,
// configure with QMS_TELEMETRY_METRICS_PROMETHEUS_PORT). The endpoint is NOT
// served by the Gin router so the scrape path stays off the public ingress and
// outside the rate-limiting middleware.
//
// HTTP metrics use c.FullPath() (the route template, e.g. /api/v1/documents/:id)
// rather than the raw URL so user-supplied path segments cannot inflate label
// cardinality.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jinkaiteo/qms-backend/internal/safego"
)

// HTTP metrics — labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Audit trail metrics.
//
// AuditRecordsWrittenTotal counts records appended to the audit trail, by
// module tag and action. A flat-lined counter during business hours is a
// strong signal that handlers have stopped auditing.
//
// Example PromQL queries:
//   - Write rate by module:  sum by (module) (rate(audit_records_written_total[5m]))
//   - Action mix:            sum by (action) (increase(audit_records_written_total[24h]))
//
// AuditIntegrityFailuresTotal counts records that failed hash verification.
// Any increase at all warrants an alert: increase(audit_integrity_failures_total[1h]) > 0.
var (
	AuditRecordsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_written_total",
			Help: "Total number of audit records appended, by module and action.",
		},
		[]string{"module", "action"},
	)

	AuditIntegrityFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_integrity_failures_total",
			Help: "Total number of audit records that failed integrity verification.",
		},
	)

	AuditRecordsExportedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_records_exported_total",
			Help: "Total number of audit records shipped to external destinations.",
		},
	)

	AuditExportErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_export_errors_total",
			Help: "Total number of failed audit export attempts (read or delivery).",
		},
	)
)

// Compliance reporting metrics.
//
// ComplianceReportsGeneratedTotal is labelled by the report's final status
// (COMPLIANT / NON_COMPLIANT / ERROR). ComplianceReportDuration measures one
// full report generation pass including the integrity sweep.
var (
	ComplianceReportsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_reports_generated_total",
			Help: "Total number of compliance reports generated, by resulting status.",
		},
		[]string{"status"},
	)

	ComplianceReportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compliance_report_duration_seconds",
			Help:    "Duration of a single compliance report generation pass.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// DocumentDownloadsTotal counts document content downloads served from the
// storage backend, by module-level status of the document.
var DocumentDownloadsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "document_downloads_total",
		Help: "Total number of controlled-document downloads, by document status.",
	},
	[]string{"status"},
)

// DBOpenConnections tracks the open connections in the sql.DB pool, sampled
// every 30 seconds by StartDBStatsCollector rather than per-request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates DBOpenConnections.
// The goroutine exits when the database becomes unreachable, which happens
// naturally at shutdown once db.Close() runs.
//
// Call this once, immediately after db.Connect() succeeds in cmd/server.
func StartDBStatsCollector(db *sql.DB) {
	safego.Go("db-stats-collector", func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	})
}
