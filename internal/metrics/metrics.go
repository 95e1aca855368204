// Package metrics declares the Prometheus collectors used across the service.
//
// Collectors are package-level so any component can record without plumbing.
// Init registers them exactly once; recording before Init is harmless but the
// values are not exported until registration.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var once sync.Once

// Issuance
var (
	// CodesGenerated counts accepted codes by the strategy that produced them.
	CodesGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlinks_codes_generated_total",
			Help: "Short codes accepted, by generation strategy.",
		},
		[]string{"strategy"},
	)

	// CodeCollisions counts candidates rejected because the code existed.
	CodeCollisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlinks_code_collisions_total",
			Help: "Generated short codes that already existed, by strategy.",
		},
		[]string{"strategy"},
	)

	// CreateConflicts counts creates aborted by the final safety check or a
	// unique violation.
	CreateConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shortlinks_create_conflicts_total",
			Help: "Creates aborted because the code was claimed concurrently.",
		},
	)
)

// Bulk exchange
var (
	ImportRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlinks_import_records_total",
			Help: "Imported records by outcome (imported, skipped, error).",
		},
		[]string{"outcome"},
	)

	ImportBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlinks_import_batches_total",
			Help: "Import calls by result and detected format.",
		},
		[]string{"result", "format"},
	)

	ImportDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shortlinks_import_duration_seconds",
			Help:    "Wall time of import calls.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ImportsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shortlinks_imports_inflight",
			Help: "Imports currently holding an import slot.",
		},
	)

	ExportRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shortlinks_export_records_total",
			Help: "Records written to export reports.",
		},
	)

	Exports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlinks_exports_total",
			Help: "Export calls by result and whether the output was encrypted.",
		},
		[]string{"result", "encrypted"},
	)

	ExportDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shortlinks_export_duration_seconds",
			Help:    "Wall time of export calls.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Caching and key resolution
var (
	// CacheOperations counts lookup cache results by layer (l1, bloom) and
	// result (hit, hit_negative, miss, skip, reject).
	CacheOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlinks_cache_operations_total",
			Help: "Lookup cache operations by layer and result.",
		},
		[]string{"layer", "result"},
	)

	KeyRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortlinks_key_refreshes_total",
			Help: "AES key cache refreshes by resolved source (settings, static, none).",
		},
		[]string{"source"},
	)
)

// HTTP
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)

	// route is the chi pattern, never the raw path, to keep cardinality bounded
	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency distributions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPInflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		},
	)
)

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			CodesGenerated,
			CodeCollisions,
			CreateConflicts,
			ImportRecords,
			ImportBatches,
			ImportDurationSeconds,
			ImportsInflight,
			ExportRecords,
			Exports,
			ExportDurationSeconds,
			CacheOperations,
			KeyRefreshes,
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			HTTPInflightRequests,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
