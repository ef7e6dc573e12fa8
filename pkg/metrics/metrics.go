// Package metrics defines the Prometheus metric collectors used across the
// document pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	UploadsTotal         prometheus.Counter
	DuplicateUploads     prometheus.Counter
	UploadBytes          prometheus.Histogram
	StageTransitions     *prometheus.CounterVec
	EventsPublished      *prometheus.CounterVec
	EventsConsumed       *prometheus.CounterVec
	DuplicateEvents      *prometheus.CounterVec
	UndeliverableEvents  *prometheus.CounterVec
	BlobOperationSeconds *prometheus.HistogramVec
	DeletesTotal         prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		UploadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "uploads_total",
				Help: "Total file uploads accepted (new records created).",
			},
		),
		DuplicateUploads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "duplicate_uploads_total",
				Help: "Uploads resolved to an existing record by content checksum.",
			},
		),
		UploadBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "upload_bytes",
				Help:    "Size distribution of uploaded files in bytes.",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),
		StageTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stage_transitions_total",
				Help: "Pipeline stage transitions by stage and resulting status.",
			},
			[]string{"stage", "status"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Events published to the message bus by topic.",
			},
			[]string{"topic"},
		),
		EventsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_consumed_total",
				Help: "Events consumed from the message bus by topic.",
			},
			[]string{"topic"},
		),
		DuplicateEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duplicate_events_total",
				Help: "Completion events dropped because the stage was already terminal.",
			},
			[]string{"topic"},
		),
		UndeliverableEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "undeliverable_events_total",
				Help: "Completion events referencing a file record that no longer exists.",
			},
			[]string{"topic"},
		),
		BlobOperationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blob_operation_duration_seconds",
				Help:    "Blob store operation latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),
		DeletesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deletes_total",
				Help: "Total file records deleted.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.UploadsTotal,
		m.DuplicateUploads,
		m.UploadBytes,
		m.StageTransitions,
		m.EventsPublished,
		m.EventsConsumed,
		m.DuplicateEvents,
		m.UndeliverableEvents,
		m.BlobOperationSeconds,
		m.DeletesTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
