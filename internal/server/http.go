package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/metrics"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/protocol"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/session"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/transcription"
)

const (
	serviceName    = "audio-transcription-service"
	serviceVersion = "1.0.0"
)

// transcriptionStats is implemented by the production transcription
// client; tests and stub transcribers may leave it nil.
type transcriptionStats interface {
	GetStats() transcription.ClientStats
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port    int
	Address string
}

// HTTPServer provides the session lifecycle API, the WebSocket
// endpoint, and monitoring endpoints.
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	registry  *session.Registry
	gateway   *Gateway
	metrics   *metrics.Metrics
	stats     transcriptionStats
	startTime time.Time
}

// NewHTTPServer creates the HTTP API server with all routes wired.
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger, registry *session.Registry,
	m *metrics.Metrics, stats transcriptionStats) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		registry:  registry,
		gateway:   NewGateway(logger, registry, m),
		metrics:   m,
		stats:     stats,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the route mux, used by tests to serve via httptest.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Session lifecycle
	mux.HandleFunc("POST /audio/session", h.withMetrics("/audio/session", h.handleCreateSession))
	mux.HandleFunc("POST /audio/session/{id}/start", h.withMetrics("/audio/session/{id}/start", h.handleStart))
	mux.HandleFunc("POST /audio/session/{id}/stop", h.withMetrics("/audio/session/{id}/stop", h.handleStop))
	mux.HandleFunc("GET /audio/session/{id}/status", h.withMetrics("/audio/session/{id}/status", h.handleStatus))
	mux.HandleFunc("GET /audio/session/{id}/transcription", h.withMetrics("/audio/session/{id}/transcription", h.handleTranscription))
	mux.HandleFunc("DELETE /audio/session/{id}", h.withMetrics("/audio/session/{id}", h.handleCleanup))

	// Streaming gateway
	mux.HandleFunc("GET /ws/audio/{id}", h.gateway.HandleConnection)

	// Monitoring
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))
	mux.Handle("GET /metrics", h.metrics.Handler())
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, time.Since(startTime).Seconds())

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

// handleCreateSession implements POST /audio/session
func (h *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s := h.registry.Create()

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": s.ID(),
		"status":     "session_created",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStart implements POST /audio/session/{id}/start
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := s.Start(); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("Recording started", slog.String("session_id", s.ID()))

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "recording_started",
		"session_id": s.ID(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStop implements POST /audio/session/{id}/stop
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	final, err := h.registry.Worker().Stop(s)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "recording_stopped",
		"session_id":          s.ID(),
		"final_transcription": final,
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus implements GET /audio/session/{id}/status
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.Status())
}

// handleTranscription implements GET /audio/session/{id}/transcription.
// Each call drains the delivery queue: segments are delivered to the
// poller exactly once.
func (h *HTTPServer) handleTranscription(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	update := s.Drain()
	if update.NewSegments == nil {
		update.NewSegments = []session.Segment{}
	}
	writeJSON(w, http.StatusOK, update)
}

// handleCleanup implements DELETE /audio/session/{id}
func (h *HTTPServer) handleCleanup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	status := "not_found"
	if h.registry.Remove(id) {
		status = "cleaned_up"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// handleHealth implements GET /health
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]any{
			"session_registry": map[string]any{
				"status":          "running",
				"active_sessions": h.registry.Len(),
			},
		},
	}

	if h.stats != nil {
		stats := h.stats.GetStats()
		health["components"].(map[string]any)["transcription"] = map[string]any{
			"status":         "running",
			"total_requests": stats.TotalRequests,
			"success_rate":   stats.SuccessRate,
		}
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStats implements GET /stats
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"timestamp":       time.Now().UTC(),
		"active_sessions": h.registry.Len(),
		"session_ids":     h.registry.List(),
	}

	if h.stats != nil {
		stats["transcription"] = h.stats.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// writeError maps taxonomy errors to HTTP status codes.
func (h *HTTPServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, protocol.ErrProtocol):
		status = http.StatusBadRequest
	}

	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
