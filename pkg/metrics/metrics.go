// Package metrics defines the Prometheus metric collectors used across the
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HTTPRequestsInFlight   prometheus.Gauge
	UploadsTotal           *prometheus.CounterVec
	UploadBytes            *prometheus.HistogramVec
	TriggersTotal          *prometheus.CounterVec
	StatusTransitionsTotal *prometheus.CounterVec
	OCRRequestDuration     *prometheus.HistogramVec
	OCRFailuresTotal       *prometheus.CounterVec
	NotificationsTotal     *prometheus.CounterVec
	FieldsExtractedTotal   prometheus.Counter
	FieldsSkippedTotal     prometheus.Counter
	MatchProposalsTotal    *prometheus.CounterVec
	VariablesCreatedTotal  prometheus.Counter
	ApprovalsTotal         *prometheus.CounterVec
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates Metrics registered with the default Prometheus registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates and registers all collectors with reg. Tests pass a
// fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
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
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_uploads_total",
				Help: "Uploads by entity kind and outcome (accepted, rejected, error).",
			},
			[]string{"kind", "outcome"},
		),
		UploadBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_upload_bytes",
				Help:    "Size of accepted uploads in bytes.",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
			[]string{"kind"},
		),
		TriggersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_triggers_total",
				Help: "Processing triggers by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		StatusTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_status_transitions_total",
				Help: "Entity status transitions by kind, target status and whether the conditional write applied.",
			},
			[]string{"kind", "to", "applied"},
		),
		OCRRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_ocr_request_duration_seconds",
				Help:    "OCR engine call latency by engine and mode.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"engine", "mode"},
		),
		OCRFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_ocr_failures_total",
				Help: "OCR engine failures by engine and mode.",
			},
			[]string{"engine", "mode"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_notifications_total",
				Help: "Webhook deliveries by message type and result.",
			},
			[]string{"type", "result"},
		),
		FieldsExtractedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_fields_extracted_total",
				Help: "Field candidates produced by the extractor.",
			},
		),
		FieldsSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_fields_skipped_total",
				Help: "Malformed or duplicate OCR entries skipped by the extractor.",
			},
		),
		MatchProposalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_match_proposals_total",
				Help: "Match proposals by variant (existing, proposed).",
			},
			[]string{"variant"},
		),
		VariablesCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_variables_created_total",
				Help: "Catalog variables created by approvals.",
			},
		),
		ApprovalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_approvals_total",
				Help: "Approval requests by outcome.",
			},
			[]string{"outcome"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.UploadsTotal,
		m.UploadBytes,
		m.TriggersTotal,
		m.StatusTransitionsTotal,
		m.OCRRequestDuration,
		m.OCRFailuresTotal,
		m.NotificationsTotal,
		m.FieldsExtractedTotal,
		m.FieldsSkippedTotal,
		m.MatchProposalsTotal,
		m.VariablesCreatedTotal,
		m.ApprovalsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Transition records a status transition attempt.
func (m *Metrics) Transition(kind, to string, applied bool) {
	if m == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	m.StatusTransitionsTotal.WithLabelValues(kind, to, label).Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
