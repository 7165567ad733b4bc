// Package metrics provides Prometheus metrics for session lifecycle and
// model calls.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heimdex/heimdex-intel/internal/analysis"
	"github.com/heimdex/heimdex-intel/internal/detection"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics contains Prometheus metrics for analyses, chats and sessions.
// It satisfies session.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	analysesTotal       *prometheus.CounterVec
	analysisDuration    prometheus.Histogram
	detectionsParsed    prometheus.Counter
	fragmentsDropped    prometheus.Counter
	modelErrorsTotal    *prometheus.CounterVec
	chatsTotal          *prometheus.CounterVec
	chatDuration        prometheus.Histogram
	sessionsActiveGauge prometheus.Gauge
}

// New creates a registry with process and Go collectors plus the intel
// metrics.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetrics(registry)
}

// NewMetrics creates and registers the intel metrics on registry.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intel_analyses_total",
			Help: "Total number of video analyses applied to a session",
		},
		[]string{"status"}, // status: success, error
	)

	m.analysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "intel_analysis_duration_seconds",
			Help: "Time taken by the model to analyze an uploaded video",
			// 0.5s .. ~256s
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	m.detectionsParsed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intel_detections_parsed_total",
			Help: "Total number of detections accepted from model responses",
		},
	)

	m.fragmentsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intel_fragments_dropped_total",
			Help: "Total number of malformed detection fragments ignored",
		},
	)

	m.modelErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intel_model_errors_total",
			Help: "Total number of failed model calls by kind",
		},
		[]string{"operation", "kind"}, // kind: api_retryable, api_fatal, transport
	)

	m.chatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intel_chats_total",
			Help: "Total number of chat questions answered",
		},
		[]string{"status"},
	)

	m.chatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "intel_chat_duration_seconds",
			Help: "Time taken by the model to answer a chat question",
			// 0.25s .. ~64s
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9),
		},
	)

	m.sessionsActiveGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "intel_sessions_active",
			Help: "Number of sessions currently held by the server",
		},
	)
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.analysesTotal.Describe(ch)
	m.analysisDuration.Describe(ch)
	m.detectionsParsed.Describe(ch)
	m.fragmentsDropped.Describe(ch)
	m.modelErrorsTotal.Describe(ch)
	m.chatsTotal.Describe(ch)
	m.chatDuration.Describe(ch)
	m.sessionsActiveGauge.Describe(ch)
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.analysesTotal.Collect(ch)
	m.analysisDuration.Collect(ch)
	m.detectionsParsed.Collect(ch)
	m.fragmentsDropped.Collect(ch)
	m.modelErrorsTotal.Collect(ch)
	m.chatsTotal.Collect(ch)
	m.chatDuration.Collect(ch)
	m.sessionsActiveGauge.Collect(ch)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// AnalysisCompleted records one applied analysis outcome.
func (m *Metrics) AnalysisCompleted(elapsed time.Duration, stats detection.ParseStats, err error) {
	m.analysisDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.analysesTotal.WithLabelValues(statusError).Inc()
		m.modelErrorsTotal.WithLabelValues("analyze", errorKind(err)).Inc()
		return
	}
	m.analysesTotal.WithLabelValues(statusSuccess).Inc()
	m.detectionsParsed.Add(float64(stats.Accepted))
	m.fragmentsDropped.Add(float64(stats.Dropped))
}

// ChatCompleted records one applied chat outcome.
func (m *Metrics) ChatCompleted(elapsed time.Duration, err error) {
	m.chatDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.chatsTotal.WithLabelValues(statusError).Inc()
		m.modelErrorsTotal.WithLabelValues("chat", errorKind(err)).Inc()
		return
	}
	m.chatsTotal.WithLabelValues(statusSuccess).Inc()
}

// SessionsActive sets the live session gauge.
func (m *Metrics) SessionsActive(n int) {
	m.sessionsActiveGauge.Set(float64(n))
}

func errorKind(err error) string {
	var apiErr *analysis.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsRetryable() {
			return "api_retryable"
		}
		return "api_fatal"
	}
	return "transport"
}
