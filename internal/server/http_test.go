package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/audio"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/metrics"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/session"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/transcription"
)

type fixture struct {
	srv      *httptest.Server
	registry *session.Registry
}

// newFixture builds a full API server around a stub transcriber that
// always returns the given text.
func newFixture(t *testing.T, text string) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewMetrics()

	stub := transcription.Func(func(ctx context.Context, wavData []byte, sampleRate int) (transcription.Result, error) {
		return transcription.Result{Text: text, Confidence: 0.9}, nil
	})

	// The interval is deliberately out of reach: these tests exercise
	// the API surface, so only the stop-flush should transcribe.
	worker := session.NewWorker(logger, stub, nil, m, session.WorkerConfig{
		ChunkInterval:    time.Hour,
		MinChunkDuration: 10 * time.Millisecond,
		CallTimeout:      time.Second,
		SampleRate:       1000,
	})

	registry := session.NewRegistry(logger, worker, m, session.RegistryConfig{
		SampleRate:     1000,
		BufferDuration: time.Second,
	})
	t.Cleanup(registry.Shutdown)

	h := NewHTTPServer(HTTPServerConfig{Port: 8080, Address: "127.0.0.1"}, logger, registry, m, nil)
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, registry: registry}
}

func (f *fixture) do(t *testing.T, method, path string) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
	return resp.StatusCode, body
}

// pcmFrame returns n constant little-endian PCM-16 samples.
func pcmFrame(value int16, n int) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return audio.SamplesToBytes(samples)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, "hello world")

	// Create
	code, body := f.do(t, http.MethodPost, "/audio/session")
	if code != http.StatusOK {
		t.Fatalf("Create: expected 200, got %d", code)
	}
	if body["status"] != "session_created" {
		t.Errorf("Expected status session_created, got %v", body["status"])
	}
	id, _ := body["session_id"].(string)
	if id == "" {
		t.Fatal("Expected non-empty session_id")
	}

	// Status before start
	code, body = f.do(t, http.MethodGet, "/audio/session/"+id+"/status")
	if code != http.StatusOK {
		t.Fatalf("Status: expected 200, got %d", code)
	}
	if body["is_recording"] != false {
		t.Errorf("Expected is_recording false, got %v", body["is_recording"])
	}

	// Start
	code, body = f.do(t, http.MethodPost, "/audio/session/"+id+"/start")
	if code != http.StatusOK {
		t.Fatalf("Start: expected 200, got %d", code)
	}
	if body["status"] != "recording_started" {
		t.Errorf("Expected status recording_started, got %v", body["status"])
	}

	// Double start conflicts
	code, _ = f.do(t, http.MethodPost, "/audio/session/"+id+"/start")
	if code != http.StatusConflict {
		t.Errorf("Double start: expected 409, got %d", code)
	}

	// Feed audio directly; ingestion itself only flows over WebSocket.
	s, err := f.registry.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := s.AppendAudio(pcmFrame(1000, 50)); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}

	// Stop returns the final transcript
	code, body = f.do(t, http.MethodPost, "/audio/session/"+id+"/stop")
	if code != http.StatusOK {
		t.Fatalf("Stop: expected 200, got %d", code)
	}
	if body["status"] != "recording_stopped" {
		t.Errorf("Expected status recording_stopped, got %v", body["status"])
	}
	if body["final_transcription"] != "hello world" {
		t.Errorf("Expected final transcription, got %v", body["final_transcription"])
	}

	// Double stop conflicts
	code, _ = f.do(t, http.MethodPost, "/audio/session/"+id+"/stop")
	if code != http.StatusConflict {
		t.Errorf("Double stop: expected 409, got %d", code)
	}

	// Transcription drain
	code, body = f.do(t, http.MethodGet, "/audio/session/"+id+"/transcription")
	if code != http.StatusOK {
		t.Fatalf("Transcription: expected 200, got %d", code)
	}
	segments, ok := body["new_segments"].([]any)
	if !ok || len(segments) != 1 {
		t.Fatalf("Expected 1 new segment, got %v", body["new_segments"])
	}
	if body["full_transcription"] != "hello world" {
		t.Errorf("Expected full transcription, got %v", body["full_transcription"])
	}

	// Second drain is empty but well-formed
	_, body = f.do(t, http.MethodGet, "/audio/session/"+id+"/transcription")
	segments, ok = body["new_segments"].([]any)
	if !ok || len(segments) != 0 {
		t.Errorf("Expected empty new_segments array, got %v", body["new_segments"])
	}

	// Cleanup
	code, body = f.do(t, http.MethodDelete, "/audio/session/"+id)
	if code != http.StatusOK {
		t.Fatalf("Delete: expected 200, got %d", code)
	}
	if body["status"] != "cleaned_up" {
		t.Errorf("Expected status cleaned_up, got %v", body["status"])
	}

	// Idempotent cleanup
	_, body = f.do(t, http.MethodDelete, "/audio/session/"+id)
	if body["status"] != "not_found" {
		t.Errorf("Expected status not_found, got %v", body["status"])
	}
}

func TestUnknownSessionReturns404(t *testing.T) {
	f := newFixture(t, "x")

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/audio/session/ghost/start"},
		{http.MethodPost, "/audio/session/ghost/stop"},
		{http.MethodGet, "/audio/session/ghost/status"},
		{http.MethodGet, "/audio/session/ghost/transcription"},
	} {
		code, body := f.do(t, tc.method, tc.path)
		if code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tc.method, tc.path, code)
		}
		if _, ok := body["error"]; !ok {
			t.Errorf("%s %s: expected error body", tc.method, tc.path)
		}
	}
}

func TestStopBeforeStartConflicts(t *testing.T) {
	f := newFixture(t, "x")

	_, body := f.do(t, http.MethodPost, "/audio/session")
	id := body["session_id"].(string)

	code, _ := f.do(t, http.MethodPost, "/audio/session/"+id+"/stop")
	if code != http.StatusConflict {
		t.Errorf("Stop before start: expected 409, got %d", code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, "x")

	code, body := f.do(t, http.MethodGet, "/health")
	if code != http.StatusOK {
		t.Fatalf("Health: expected 200, got %d", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", body["status"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t, "x")
	f.do(t, http.MethodPost, "/audio/session")

	code, body := f.do(t, http.MethodGet, "/stats")
	if code != http.StatusOK {
		t.Fatalf("Stats: expected 200, got %d", code)
	}
	if body["active_sessions"] != float64(1) {
		t.Errorf("Expected 1 active session, got %v", body["active_sessions"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "x")
	f.do(t, http.MethodPost, "/audio/session")

	resp, err := f.srv.Client().Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("Metrics request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Metrics: expected 200, got %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read metrics body: %v", err)
	}
	if !strings.Contains(string(data), "audio_sessions_created_total") {
		t.Error("Expected session counter in metrics exposition")
	}
}
