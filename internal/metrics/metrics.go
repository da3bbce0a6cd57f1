// Package metrics provides Prometheus metrics for gallerysync.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallerysync_runs_total",
			Help: "Total number of sync passes",
		},
		[]string{"result"},
	)

	syncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gallerysync_run_duration_seconds",
			Help:    "Duration of a full sync pass",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	lastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallerysync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful sync pass",
		},
	)

	// Item metrics
	itemDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallerysync_item_decisions_total",
			Help: "Per-item sync decisions",
		},
		[]string{"decision"},
	)

	fetchBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallerysync_fetch_bytes_total",
			Help: "Total bytes written by fetches",
		},
	)

	fetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gallerysync_fetch_duration_seconds",
			Help:    "Duration of individual item fetches",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	listingErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallerysync_listing_errors_total",
			Help: "Remote listing failures by level",
		},
		[]string{"level"},
	)

	// Reconciliation metrics
	orphansRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallerysync_orphans_removed_total",
			Help: "Local files removed because they are no longer remote",
		},
	)

	dirsPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallerysync_dirs_pruned_total",
			Help: "Empty directories removed from the mirror",
		},
	)

	reconcileFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallerysync_reconcile_failures_total",
			Help: "Deletions that failed during reconciliation",
		},
	)

	// Manifest metrics
	manifestProjects = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallerysync_manifest_projects",
			Help: "Projects in the last written manifest",
		},
	)

	manifestImages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallerysync_manifest_images",
			Help: "Images in the last written manifest",
		},
	)

	// Remote transport metrics
	remoteOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gallerysync_remote_operation_duration_seconds",
			Help:    "Remote source operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	remoteOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallerysync_remote_operations_total",
			Help: "Total remote source operations",
		},
		[]string{"backend", "operation", "status"},
	)

	previewsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallerysync_previews_total",
			Help: "Preview generation attempts",
		},
		[]string{"status"},
	)
)

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// WriteTextfile dumps the default registry in the node-exporter textfile
// format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// RecordRun records a completed sync pass.
func RecordRun(duration time.Duration, success bool) {
	syncRunsTotal.WithLabelValues(status(success)).Inc()
	syncRunDuration.Observe(duration.Seconds())
	if success {
		lastSuccess.SetToCurrentTime()
	}
}

// RecordDecision counts one per-item decision.
func RecordDecision(decision string) {
	itemDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordFetch records a single item fetch.
func RecordFetch(bytes int64, duration time.Duration, success bool) {
	if success {
		fetchBytesTotal.Add(float64(bytes))
	}
	fetchDuration.WithLabelValues(status(success)).Observe(duration.Seconds())
}

// RecordListingError counts a failed remote listing at the given level
// ("root", "category", "project").
func RecordListingError(level string) {
	listingErrorsTotal.WithLabelValues(level).Inc()
}

// RecordReconcile records the outcome of a reconciliation pass.
func RecordReconcile(orphans, dirs, failures int) {
	orphansRemovedTotal.Add(float64(orphans))
	dirsPrunedTotal.Add(float64(dirs))
	reconcileFailuresTotal.Add(float64(failures))
}

// SetManifestSize records the size of the written manifest.
func SetManifestSize(projects, images int) {
	manifestProjects.Set(float64(projects))
	manifestImages.Set(float64(images))
}

// RecordRemoteOperation records a remote source call.
func RecordRemoteOperation(backend, operation string, duration time.Duration, success bool) {
	remoteOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	remoteOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordPreview counts a preview generation attempt.
func RecordPreview(success bool) {
	previewsGeneratedTotal.WithLabelValues(status(success)).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

var httpRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gallerysync_http_requests_total",
		Help: "Status server requests",
	},
	[]string{"path", "status"},
)

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		httpRequestsTotal.WithLabelValues(r.URL.Path, http.StatusText(rw.statusCode)).Inc()
	})
}
