package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safe_uploads_total",
			Help: "Total number of file uploads",
		},
		[]string{"intake", "status"},
	)

	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "safe_upload_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "safe_upload_duration_seconds",
			Help:    "Duration of file ingestion in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	DuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safe_upload_duplicates_total",
			Help: "Uploads deduplicated against an existing file",
		},
	)

	ChunkSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safe_chunk_sessions_active",
			Help: "Number of in-progress chunked upload sessions",
		},
	)

	ChunksWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safe_chunks_written_total",
			Help: "Total number of accepted upload chunks",
		},
	)

	ScanVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safe_scan_verdicts_total",
			Help: "Virus scanner verdicts",
		},
		[]string{"verdict"},
	)

	DeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safe_deletions_total",
			Help: "Total number of file deletions",
		},
		[]string{"status"},
	)

	SweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safe_retention_sweeps_total",
			Help: "Retention sweeper runs",
		},
	)

	SweptFilesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safe_retention_swept_files_total",
			Help: "Files removed by the retention sweeper",
		},
	)

	ZipBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safe_album_zip_builds_total",
			Help: "Album ZIP generations",
		},
		[]string{"status"},
	)

	ZipBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "safe_album_zip_build_seconds",
			Help:    "Album ZIP build duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
		},
	)

	CDNPurgesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safe_cdn_purges_total",
			Help: "CDN cache purge calls",
		},
		[]string{"status"},
	)

	ThumbnailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safe_thumbnails_total",
			Help: "Thumbnail generation attempts",
		},
		[]string{"status"},
	)

	AuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safe_auth_failures_total",
			Help: "Failed authentication attempts",
		},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "safe_app_info",
			Help: "Application build information",
		},
		[]string{"version", "environment"},
	)
)

func SetAppInfo(version, environment string) {
	AppInfo.WithLabelValues(version, environment).Set(1)
}

func RecordUpload(intake, status string, size int64, seconds float64) {
	UploadsTotal.WithLabelValues(intake, status).Inc()
	if status == "success" {
		UploadBytes.Observe(float64(size))
		UploadDuration.Observe(seconds)
	}
}

func RecordScanVerdict(verdict string) {
	ScanVerdictsTotal.WithLabelValues(verdict).Inc()
}

func RecordDeletion(status string) {
	DeletionsTotal.WithLabelValues(status).Inc()
}

func RecordZipBuild(status string, seconds float64) {
	ZipBuildsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		ZipBuildDuration.Observe(seconds)
	}
}
