package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/audio"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/metrics"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/transcription"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/vad"
)

// placeholderConfidence is recorded when the engine supplies no
// confidence estimate of its own.
const placeholderConfidence = 0.9

// WorkerConfig contains transcription flush policy parameters.
type WorkerConfig struct {
	ChunkInterval    time.Duration // cadence between flushes
	MinChunkDuration time.Duration // floor below which a flush is skipped
	CallTimeout      time.Duration // bound on one collaborator call
	SampleRate       int
}

// Worker drives the external transcription collaborator. It decides
// when a session has accumulated enough audio, extracts a window,
// invokes the collaborator, and merges the result back into the
// session. At most one call is in flight per session, which preserves
// segment order; audio ingestion is never blocked by a call.
type Worker struct {
	transcriber transcription.Transcriber
	gate        *vad.Gate // nil disables the voice gate
	logger      *slog.Logger
	metrics     *metrics.Metrics // nil disables instrumentation
	cfg         WorkerConfig
}

// NewWorker creates a worker. Zero config fields fall back to the
// service defaults: 3s interval, 0.5s floor, 10s call timeout, 16kHz.
func NewWorker(logger *slog.Logger, t transcription.Transcriber, gate *vad.Gate, m *metrics.Metrics, cfg WorkerConfig) *Worker {
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = 3 * time.Second
	}
	if cfg.MinChunkDuration <= 0 {
		cfg.MinChunkDuration = 500 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}

	return &Worker{
		transcriber: t,
		gate:        gate,
		logger:      logger,
		metrics:     m,
		cfg:         cfg,
	}
}

// Config returns the effective flush policy.
func (w *Worker) Config() WorkerConfig {
	return w.cfg
}

// MaybeFlush checks the flush policy for a session and, when due,
// launches an asynchronous transcription of the last chunk-interval
// window. It returns immediately; results arrive via the session's
// segment log and listeners.
func (w *Worker) MaybeFlush(s *Session) {
	s.mu.Lock()

	if s.state != StateRecording || s.inFlight {
		s.mu.Unlock()
		return
	}

	now := time.Now()
	if now.Sub(s.lastFlush) < w.cfg.ChunkInterval {
		s.mu.Unlock()
		return
	}

	minSamples := w.minSamples()
	unflushed := s.ring.TotalWritten() - s.flushedWatermark
	if unflushed < uint64(minSamples) {
		s.mu.Unlock()
		return
	}

	window := s.ring.ReadLastSeconds(w.cfg.ChunkInterval)
	s.lastFlush = now
	s.flushedWatermark = s.ring.TotalWritten()
	s.inFlight = true
	s.flushWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.inFlight = false
			s.mu.Unlock()
			s.flushWG.Done()
		}()
		w.flushWindow(s, window, now)
	}()
}

// Stop transitions a recording session to stopped, awaits any
// in-flight call, runs one final synchronous transcription over the
// remaining untranscribed audio, and freezes the final transcript.
// The returned string is the frozen final transcript.
func (w *Worker) Stop(s *Session) (string, error) {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return "", ErrInvalidState
	}

	now := time.Now()
	s.state = StateStopped
	s.recordingEnd = now
	s.lastActivity = now
	s.mu.Unlock()

	// No new flush can launch once the state left Recording; await the
	// one that may already be in flight so its segment lands before
	// the final transcript freezes.
	s.flushWG.Wait()

	s.mu.Lock()
	unflushed := s.ring.TotalWritten() - s.flushedWatermark
	n := int(unflushed)
	if buffered := s.ring.Len(); n > buffered {
		n = buffered
	}
	window := s.ring.ReadLastSamples(n)
	s.flushedWatermark = s.ring.TotalWritten()
	s.mu.Unlock()

	if len(window) >= w.minSamples() {
		w.flushWindow(s, window, now)
	}

	s.mu.Lock()
	s.finalTranscript = s.fullTranscript
	s.finalSet = true
	final := s.finalTranscript
	s.mu.Unlock()

	w.logger.Info("Recording stopped",
		slog.String("session_id", s.ID()),
		slog.Int("segments", s.SegmentCount()),
		slog.Int("final_transcript_len", len(final)),
	)

	return final, nil
}

// flushWindow encodes one window and drives a single collaborator
// call. Failures are logged and absorbed; audio capture is never
// interrupted by a transcription error.
func (w *Worker) flushWindow(s *Session, window []int16, capturedAt time.Time) {
	if len(window) == 0 {
		return
	}

	if w.gate != nil && !w.gate.HasVoice(window) {
		if w.metrics != nil {
			w.metrics.RecordTranscriptionSkipped()
		}
		w.logger.Debug("Window below voice threshold, skipping",
			slog.String("session_id", s.ID()),
			slog.Int("samples", len(window)),
		)
		return
	}

	wavData, err := audio.EncodeWAV(window, w.cfg.SampleRate)
	if err != nil {
		w.logger.Error("Failed to encode audio window",
			slog.String("session_id", s.ID()),
			slog.String("error", err.Error()),
		)
		return
	}

	if w.metrics != nil {
		w.metrics.RecordTranscriptionRequest()
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	result, err := w.transcriber.Transcribe(ctx, wavData, w.cfg.SampleRate)
	elapsed := time.Since(start)

	if err != nil {
		if w.metrics != nil {
			w.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		}
		w.logger.Warn("Transcription failed, skipping window",
			slog.String("session_id", s.ID()),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed),
		)
		return
	}

	if w.metrics != nil {
		w.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		// Silence, not an error.
		return
	}

	confidence := result.Confidence
	if confidence == 0 {
		confidence = placeholderConfidence
	}

	if s.addSegment(text, confidence, capturedAt) {
		if w.metrics != nil {
			w.metrics.RecordSegment()
		}
		w.logger.Debug("Segment appended",
			slog.String("session_id", s.ID()),
			slog.Int("text_len", len(text)),
			slog.Float64("confidence", float64(confidence)),
		)
	}
}

func (w *Worker) minSamples() int {
	return int(w.cfg.MinChunkDuration.Seconds() * float64(w.cfg.SampleRate))
}
