package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DownloadsTotal tracks finished downloads by status
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "levelmind_downloads_total",
			Help: "Total number of finished downloads",
		},
		[]string{"status"},
	)

	// DownloadDuration tracks download duration in seconds
	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "levelmind_download_duration_seconds",
			Help:    "Download duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		},
	)

	// ActiveDownloads tracks number of active downloads
	ActiveDownloads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "levelmind_active_downloads",
			Help: "Number of active downloads",
		},
	)

	// DownloadBytesTotal tracks total bytes written to media storage
	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "levelmind_download_bytes_total",
			Help: "Total bytes downloaded",
		},
	)

	// PendingJobs tracks jobs waiting for a worker
	PendingJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "levelmind_pending_jobs",
			Help: "Download jobs waiting for a worker",
		},
	)

	// RegistrySize tracks the number of downloaded tracks
	RegistrySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "levelmind_registry_tracks",
			Help: "Number of tracks available offline",
		},
	)

	// APIRequestsTotal tracks catalog requests by endpoint and status
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "levelmind_api_requests_total",
			Help: "Total number of catalog API requests",
		},
		[]string{"endpoint", "status"},
	)

	// APIRequestDuration tracks catalog request duration
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "levelmind_api_request_duration_seconds",
			Help:    "Catalog API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// HTTPRequestsTotal tracks requests served by the local API
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "levelmind_http_requests_total",
			Help: "Total number of requests served by the HTTP API",
		},
		[]string{"route", "method", "code"},
	)

	// HTTPRequestDuration tracks local API latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "levelmind_http_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// ErrorsTotal tracks errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "levelmind_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

// RecordDownloadStart records the start of a download
func RecordDownloadStart() {
	ActiveDownloads.Inc()
}

// RecordDownloadComplete records a completed download
func RecordDownloadComplete(duration time.Duration, bytes int64) {
	DownloadsTotal.WithLabelValues("completed").Inc()
	DownloadDuration.Observe(duration.Seconds())
	DownloadBytesTotal.Add(float64(bytes))
	ActiveDownloads.Dec()
}

// RecordDownloadFailed records a failed download
func RecordDownloadFailed(errorType string) {
	DownloadsTotal.WithLabelValues("failed").Inc()
	ErrorsTotal.WithLabelValues(errorType).Inc()
	ActiveDownloads.Dec()
}

// UpdatePendingJobs updates the pending jobs metric
func UpdatePendingJobs(count int) {
	PendingJobs.Set(float64(count))
}

// UpdateRegistrySize updates the downloaded tracks metric
func UpdateRegistrySize(count int) {
	RegistrySize.Set(float64(count))
}

// RecordAPIRequest records a catalog request
func RecordAPIRequest(endpoint string, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordHTTPRequest records a request served by the HTTP API
func RecordHTTPRequest(route, method string, code int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordError records an error
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}
