package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the audio service.
// Each Metrics value carries its own registry so that independent
// instances (one per process, one per test) never collide.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsRemoved  prometheus.Counter
	SessionDuration  prometheus.Histogram
	SessionsEvicted  prometheus.Counter

	// Audio ingestion metrics
	AudioFramesReceived prometheus.Counter
	AudioBytesReceived  prometheus.Counter
	FrameErrors         prometheus.Counter

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionSkipped   prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	SegmentsProduced       prometheus.Counter

	// Gateway metrics
	WSConnections       prometheus.Gauge
	WSConnectionsTotal  prometheus.Counter
	WSProtocolErrors    prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audio_active_sessions",
			Help: "Current number of active recording sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_sessions_removed_total",
			Help: "Total number of sessions removed",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "audio_session_duration_seconds",
			Help:    "Lifetime of removed sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_sessions_evicted_total",
			Help: "Total number of sessions evicted for idleness",
		}),

		AudioFramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_frames_received_total",
			Help: "Total number of audio frames ingested",
		}),
		AudioBytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_bytes_received_total",
			Help: "Total bytes of PCM audio ingested",
		}),
		FrameErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_frame_errors_total",
			Help: "Total number of malformed or rejected audio frames",
		}),

		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_transcription_skipped_total",
			Help: "Total number of windows skipped by the voice gate",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "audio_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		SegmentsProduced: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_segments_produced_total",
			Help: "Total number of transcript segments appended",
		}),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audio_ws_connections",
			Help: "Current number of open WebSocket connections",
		}),
		WSConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_ws_connections_total",
			Help: "Total number of WebSocket connections accepted",
		}),
		WSProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_ws_protocol_errors_total",
			Help: "Total number of malformed inbound WebSocket frames",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audio_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audio_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audio_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler returns an HTTP handler serving this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionCreated increments session creation counters
func (m *Metrics) RecordSessionCreated(active int) {
	m.SessionsCreated.Inc()
	m.ActiveSessions.Set(float64(active))
}

// RecordSessionRemoved records a removed session and its lifetime
func (m *Metrics) RecordSessionRemoved(active int, durationSeconds float64, evicted bool) {
	m.SessionsRemoved.Inc()
	m.SessionDuration.Observe(durationSeconds)
	m.ActiveSessions.Set(float64(active))
	if evicted {
		m.SessionsEvicted.Inc()
	}
}

// RecordAudioFrame records an ingested audio frame
func (m *Metrics) RecordAudioFrame(bytes int) {
	m.AudioFramesReceived.Inc()
	m.AudioBytesReceived.Add(float64(bytes))
}

// RecordFrameError increments the malformed frame counter
func (m *Metrics) RecordFrameError() {
	m.FrameErrors.Inc()
}

// RecordTranscriptionRequest increments the transcription request counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription call
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription call
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionSkipped increments the voice gate skip counter
func (m *Metrics) RecordTranscriptionSkipped() {
	m.TranscriptionSkipped.Inc()
}

// RecordSegment increments the produced segment counter
func (m *Metrics) RecordSegment() {
	m.SegmentsProduced.Inc()
}

// RecordWSConnect records an accepted WebSocket connection
func (m *Metrics) RecordWSConnect() {
	m.WSConnectionsTotal.Inc()
	m.WSConnections.Inc()
}

// RecordWSDisconnect records a closed WebSocket connection
func (m *Metrics) RecordWSDisconnect() {
	m.WSConnections.Dec()
}

// RecordWSProtocolError increments the malformed frame counter
func (m *Metrics) RecordWSProtocolError() {
	m.WSProtocolErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
