package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Worker metrics
var (
	// JobsProcessed counts segmentation jobs by outcome.
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "segmenter",
			Name:      "jobs_processed_total",
			Help:      "Total number of segmentation jobs processed",
		},
		[]string{"status"},
	)

	// ActiveJobs tracks the number of currently processing jobs.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "segmenter",
			Name:      "active_jobs",
			Help:      "Number of currently processing jobs",
		},
	)

	// SegmentsUploaded counts individual frame uploads.
	SegmentsUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "segmenter",
			Name:      "segments_uploaded_total",
			Help:      "Total number of frame segments uploaded",
		},
	)

	// FetchDuration tracks the time taken to download source videos.
	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "segmenter",
			Name:      "fetch_duration_seconds",
			Help:      "Time taken to fetch source videos",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
	)

	// ExtractDuration tracks the time taken for ffmpeg frame extraction.
	ExtractDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "segmenter",
			Name:      "extract_duration_seconds",
			Help:      "Time taken for frame extraction",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	// UploadDuration tracks the time taken to upload all segments of a job.
	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "segmenter",
			Name:      "upload_duration_seconds",
			Help:      "Time taken to upload frame segments",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
	)

	// ProcessingDuration tracks end-to-end job duration.
	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "segmenter",
			Name:      "job_processing_duration_seconds",
			Help:      "End-to-end time taken to process jobs",
			Buckets:   []float64{10, 30, 60, 120, 300, 600},
		},
	)

	// EventPublishFailures counts best-effort event publishes that failed.
	EventPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "segmenter",
			Name:      "event_publish_failures_total",
			Help:      "Total number of segment event publish failures",
		},
	)
)

// RecordSuccess records a successfully processed job.
func RecordSuccess() {
	JobsProcessed.WithLabelValues("success").Inc()
}

// RecordFailure records a failed job by classification.
func RecordFailure(fatal bool) {
	if fatal {
		JobsProcessed.WithLabelValues("fatal").Inc()
		return
	}
	JobsProcessed.WithLabelValues("transient").Inc()
}
