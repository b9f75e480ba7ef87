// Package metrics provides Prometheus metrics for the snapbin server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapbin_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapbin_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Content transfer metrics
	contentBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snapbin_content_bytes_downloaded_total",
			Help: "Total bytes served from the uploads endpoint",
		},
	)

	contentBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snapbin_content_bytes_uploaded_total",
			Help: "Total bytes accepted by the upload endpoint",
		},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapbin_uploads_total",
			Help: "Total number of file uploads",
		},
		[]string{"status"},
	)

	// Index metrics
	indexFolders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapbin_index_folders",
			Help: "Number of folders in the metadata index",
		},
	)

	indexFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapbin_index_files",
			Help: "Number of files in the metadata index",
		},
	)

	indexLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapbin_index_load_duration_seconds",
			Help:    "Time to rebuild the metadata index from disk",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Derivative pipeline metrics
	derivativeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapbin_derivative_duration_seconds",
			Help:    "Time to produce one image derivative",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	derivativesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapbin_derivatives_total",
			Help: "Total derivative generation outcomes",
		},
		[]string{"kind", "status"},
	)

	processorQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapbin_processor_queue_depth",
			Help: "Images waiting in the derivative queue",
		},
	)

	// Archive metrics
	archiveOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapbin_archive_operation_duration_seconds",
			Help:    "Export/import operation duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"operation"},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapbin_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapbin_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordUpload records an upload attempt and its accepted byte count.
func RecordUpload(bytes int64, success bool) {
	contentBytesUploaded.Add(float64(bytes))
	status := "success"
	if !success {
		status = "error"
	}
	uploadsTotal.WithLabelValues(status).Inc()
}

// RecordDownloadBytes records bytes served from the uploads endpoint.
func RecordDownloadBytes(bytes int64) {
	contentBytesDownloaded.Add(float64(bytes))
}

// SetIndexSize sets the current index gauges.
func SetIndexSize(folders, files int) {
	indexFolders.Set(float64(folders))
	indexFiles.Set(float64(files))
}

// RecordIndexLoad records the time taken to rebuild the index.
func RecordIndexLoad(duration time.Duration) {
	indexLoadDuration.Observe(duration.Seconds())
}

// RecordDerivative records one derivative outcome. Kind is "thumbnail" or
// "lossless".
func RecordDerivative(kind string, duration time.Duration, success bool) {
	derivativeDuration.WithLabelValues(kind).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	derivativesTotal.WithLabelValues(kind, status).Inc()
}

// SetProcessorQueueDepth sets the derivative queue depth.
func SetProcessorQueueDepth(n int) {
	processorQueueDepth.Set(float64(n))
}

// RecordArchiveOperation records an export or import duration.
func RecordArchiveOperation(operation string, duration time.Duration) {
	archiveOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
