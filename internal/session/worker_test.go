package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/transcription"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/vad"
)

// fastConfig keeps flush-policy tests quick: 50ms cadence, 10ms floor,
// 1000 samples per second.
func fastConfig() WorkerConfig {
	return WorkerConfig{
		ChunkInterval:    50 * time.Millisecond,
		MinChunkDuration: 10 * time.Millisecond,
		CallTimeout:      time.Second,
		SampleRate:       1000,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestWorkerDefaults(t *testing.T) {
	w := NewWorker(testLogger(), nil, nil, nil, WorkerConfig{})

	cfg := w.Config()
	if cfg.ChunkInterval != 3*time.Second {
		t.Errorf("Expected default chunk interval 3s, got %v", cfg.ChunkInterval)
	}
	if cfg.MinChunkDuration != 500*time.Millisecond {
		t.Errorf("Expected default floor 500ms, got %v", cfg.MinChunkDuration)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("Expected default sample rate 16000, got %d", cfg.SampleRate)
	}
}

func TestMaybeFlushProducesSegment(t *testing.T) {
	var calls atomic.Int32
	stub := transcription.Func(func(ctx context.Context, wavData []byte, sampleRate int) (transcription.Result, error) {
		calls.Add(1)
		return transcription.Result{Text: "hello", Confidence: 0.95}, nil
	})

	w := NewWorker(testLogger(), stub, nil, nil, fastConfig())
	s := newSession("test-id", 1000, time.Second)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// 100ms of audio, past the 50ms cadence.
	if _, err := s.AppendAudio(pcmFrame(1000, 100)); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	w.MaybeFlush(s)

	waitFor(t, time.Second, func() bool { return s.SegmentCount() == 1 })

	if calls.Load() != 1 {
		t.Errorf("Expected 1 transcription call, got %d", calls.Load())
	}
	if got := s.FullTranscript(); got != "hello" {
		t.Errorf("Expected transcript %q, got %q", "hello", got)
	}
}

func TestMaybeFlushRespectsCadence(t *testing.T) {
	var calls atomic.Int32
	stub := transcription.Func(func(ctx context.Context, wavData []byte, sampleRate int) (transcription.Result, error) {
		calls.Add(1)
		return transcription.Result{Text: "x"}, nil
	})

	w := NewWorker(testLogger(), stub, nil, nil, fastConfig())
	s := newSession("test-id", 1000, time.Second)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Plenty of audio, but the interval has not elapsed since Start.
	if _, err := s.AppendAudio(pcmFrame(1000, 100)); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}
	w.MaybeFlush(s)

	time.Sleep(30 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("Expected no call before the interval elapsed, got %d", calls.Load())
	}
}

func TestMaybeFlushSkipsBelowFloor(t *testing.T) {
	var calls atomic.Int32
	stub := transcription.Func(func(ctx context.Context, wavData []byte, sampleRate int) (transcription.Result, error) {
		calls.Add(1)
		return transcription.Result{Text: "x"}, nil
	})

	w := NewWorker(testLogger(), stub, nil, nil, fastConfig())
	s := newSession("test-id", 1000, time.Second)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Only 5ms of audio against a 10ms floor.
	if _, err := s.AppendAudio(pcmFrame(1000, 5)); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	w.MaybeFlush(s)

	time.Sleep(30 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("Expected no call below the floor, got %d", calls.Load())
	}
}

func TestMaybeFlushSingleInFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	stub := transcription.Func(func(ctx context.Context, wavData []byte, sampleRate int) (transcription.Result, error) {
		calls.Add(1)
		<-release
		return transcription.Result{Text: "slow"}, nil
	})

	w := NewWorker(testLogger(), stub, nil, nil, fastConfig())
	s := newSession("test-id", 1000, time.Second)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := s.AppendAudio(pcmFrame(1000, 100)); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	w.MaybeFlush(s)
	waitFor(t, time.Second, func() bool { return calls.Load() == 1 })

	// More audio, interval elapsed again, but the first call is still
	// in flight: no second call launches.
	if _, err := s.AppendAudio(pcmFrame(1000, 100)); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	w.MaybeFlush(s)

	time.Sleep(30 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("Expected single in-flight call, got %d", calls.Load())
	}

	close(release)
	waitFor(t, time.Second, func() bool { return s.SegmentCount() == 1 })
}

func TestStopFlushesRemainder(t *testing.T) {
	stub := transcription.Func(func(ctx context.Context, wavData []byte, sampleRate int) (transcription.Result, error) {
		return transcription.Result{Text: "tail", Confidence: 0.9}, nil
	})

	w := NewWorker(testLogger(), stub, nil, nil, fastConfig())
	s := newSession("test-id", 1000, time.Second)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// 20ms of audio, above the floor but stopped before the cadence.
	if _, err := s.AppendAudio(pcmFrame(1000, 20)); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}

	final, err := w.Stop(s)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if final != "tail" {
		t.Errorf("Expected final transcript %q, got %q", "tail", final)
	}

	frozen, ok := s.FinalTranscript()
	if !ok {
		t.Fatal("Expected final transcript to be frozen")
	}
	if frozen != "tail" {
		t.Errorf("Expected frozen transcript %q, got %q", "tail", frozen)
	}
	if s.State() != StateStopped {
		t.Errorf("Expected stopped state, got %v", s.State())
	}
}

func TestStopSkipsTinyRemainder(t *testing.T) {
	var calls atomic.Int32
	stub := transcription.Func(func(ctx context.Context, wavData []byte, sampleRate int) (transcription.Result, error) {
		calls.Add(1)
		return transcription.Result{Text: "x"}, nil
	})

	w := NewWorker(testLogger(), stub, nil, nil, fastConfig())
	s := newSession("test-id", 1000, time.Second)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// 5ms of audio against a 10ms floor: too short for a final flush.
	if _, err := s.AppendAudio(pcmFrame(1000, 5)); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}

	final, err := w.Stop(s)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if final != "" {
		t.Errorf("Expected empty final transcript, got %q", final)
	}
	if calls.Load() != 0 {
		t.Errorf("Expected no transcription call, got %d", calls.Load())
	}
}

func TestStopAwaitsInFlightCall(t *testing.T) {
	release := make(chan struct{})
	var seq atomic.Int32
	stub := transcription.Func(func(ctx context.Context, wavData []byte, sampleRate int) (transcription.Result, error) {
		n := seq.Add(1)
		if n == 1 {
			<-release
		}
		return transcription.Result{Text: fmt.Sprintf("part%d", n)}, nil
	})

	w := NewWorker(testLogger(), stub, nil, nil, fastConfig())
	s := newSession("test-id", 1000, time.Second)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := s.AppendAudio(pcmFrame(1000, 100)); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	w.MaybeFlush(s)
	waitFor(t, time.Second, func() bool { return seq.Load() == 1 })

	// Audio arriving after the flush was extracted.
	if _, err := s.AppendAudio(pcmFrame(1000, 50)); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()

	final, err := w.Stop(s)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// The in-flight segment lands before the final flush: order holds.
	if final != "part1 part2" {
		t.Errorf("Expected final transcript %q, got %q", "part1 part2", final)
	}
}

func TestStopRequiresRecording(t *testing.T) {
	w := NewWorker(testLogger(), nil, nil, nil, fastConfig())
	s := newSession("test-id", 1000, time.Second)

	if _, err := w.Stop(s); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState for idle session, got %v", err)
	}
}

func TestWorkerAbsorbsTranscriberFailure(t *testing.T) {
	stub := transcription.Func(func(ctx context.Context, wavData []byte, sampleRate int) (transcription.Result, error) {
		return transcription.Result{}, errors.New("engine down")
	})

	w := NewWorker(testLogger(), stub, nil, nil, fastConfig())
	s := newSession("test-id", 1000, time.Second)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := s.AppendAudio(pcmFrame(1000, 20)); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}

	final, err := w.Stop(s)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if final != "" {
		t.Errorf("Expected empty transcript after failure, got %q", final)
	}
	if s.SegmentCount() != 0 {
		t.Errorf("Expected no segments after failure, got %d", s.SegmentCount())
	}
}

func TestWorkerIgnoresEmptyText(t *testing.T) {
	stub := transcription.Func(func(ctx context.Context, wavData []byte, sampleRate int) (transcription.Result, error) {
		return transcription.Result{Text: "   "}, nil
	})

	w := NewWorker(testLogger(), stub, nil, nil, fastConfig())
	s := newSession("test-id", 1000, time.Second)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := s.AppendAudio(pcmFrame(1000, 20)); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}

	if _, err := w.Stop(s); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s.SegmentCount() != 0 {
		t.Errorf("Expected silence to produce no segment, got %d", s.SegmentCount())
	}
}

func TestWorkerAppliesPlaceholderConfidence(t *testing.T) {
	stub := transcription.Func(func(ctx context.Context, wavData []byte, sampleRate int) (transcription.Result, error) {
		return transcription.Result{Text: "no confidence"}, nil
	})

	w := NewWorker(testLogger(), stub, nil, nil, fastConfig())
	s := newSession("test-id", 1000, time.Second)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := s.AppendAudio(pcmFrame(1000, 20)); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}
	if _, err := w.Stop(s); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	update := s.Drain()
	if len(update.NewSegments) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(update.NewSegments))
	}
	if update.NewSegments[0].Confidence != placeholderConfidence {
		t.Errorf("Expected placeholder confidence %v, got %v",
			placeholderConfidence, update.NewSegments[0].Confidence)
	}
}

func TestWorkerVoiceGateSkipsSilence(t *testing.T) {
	var calls atomic.Int32
	stub := transcription.Func(func(ctx context.Context, wavData []byte, sampleRate int) (transcription.Result, error) {
		calls.Add(1)
		return transcription.Result{Text: "x"}, nil
	})

	gate, err := vad.NewGate(0.01)
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}

	w := NewWorker(testLogger(), stub, gate, nil, fastConfig())
	s := newSession("test-id", 1000, time.Second)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Digital silence: the gate filters it out.
	if _, err := s.AppendAudio(pcmFrame(0, 20)); err != nil {
		t.Fatalf("AppendAudio failed: %v", err)
	}
	if _, err := w.Stop(s); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if calls.Load() != 0 {
		t.Errorf("Expected gate to skip silent window, got %d calls", calls.Load())
	}
}
