package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/audio"
)

// State is the lifecycle state of a recording session.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Segment is one immutable unit of transcribed text produced from one
// transcription call. Ordering within a session is append order.
type Segment struct {
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float32   `json:"confidence"`
	SessionID  string    `json:"session_id"`
}

// Status is a point-in-time snapshot of a session for status queries.
type Status struct {
	SessionID         string    `json:"session_id"`
	IsRecording       bool      `json:"is_recording"`
	CreatedAt         time.Time `json:"created_at"`
	RecordingDuration float64   `json:"recording_duration"`
	SegmentCount      int       `json:"segment_count"`
	FullTranscription string    `json:"full_transcription"`
	BufferLevel       float64   `json:"buffer_level"`
}

// Update carries segments not yet delivered to the polling client.
// Draining is destructive: each segment is delivered exactly once.
type Update struct {
	SessionID         string    `json:"session_id"`
	IsRecording       bool      `json:"is_recording"`
	NewSegments       []Segment `json:"new_segments"`
	FullTranscription string    `json:"full_transcription"`
	SegmentCount      int       `json:"segment_count"`
	BufferLevel       float64   `json:"buffer_level"`
}

// Session is one client's recording-and-transcription lifecycle. All
// mutable state is guarded by mu; the ring buffer is only touched with
// mu held, which serializes the single ingestion path against the
// transcription worker.
type Session struct {
	id        string
	createdAt time.Time

	mu               sync.Mutex
	state            State
	ring             *audio.RingBuffer
	segments         []Segment
	fullTranscript   string
	pending          []Segment
	listener         chan Segment
	recordingStart   time.Time
	recordingEnd     time.Time
	finalTranscript  string
	finalSet         bool
	lastActivity     time.Time
	lastFlush        time.Time
	flushedWatermark uint64
	inFlight         bool
	flushWG          sync.WaitGroup
}

func newSession(id string, sampleRate int, retain time.Duration) *Session {
	now := time.Now()
	return &Session{
		id:           id,
		createdAt:    now,
		state:        StateIdle,
		ring:         audio.NewRingBuffer(sampleRate, retain),
		lastActivity: now,
	}
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start transitions the session from idle to recording. Restart after
// a stop is not supported; callers must create a new session.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("%w: cannot start recording while %s", ErrInvalidState, s.state)
	}

	now := time.Now()
	s.state = StateRecording
	s.recordingStart = now
	s.lastFlush = now
	s.lastActivity = now
	return nil
}

// AppendAudio writes a PCM-16 frame into the ring buffer and returns
// the buffer fill level. Valid only while recording.
func (s *Session) AppendAudio(frame []byte) (float64, error) {
	samples, err := audio.BytesToSamples(frame)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return 0, fmt.Errorf("%w: cannot append audio while %s", ErrInvalidState, s.state)
	}

	s.ring.Write(samples)
	s.lastActivity = time.Now()
	return s.ring.FillLevel(), nil
}

// addSegment appends a transcript segment and updates the derived full
// transcript. It reports false when the final transcript has already
// been frozen; a late worker callback after stop is a no-op.
func (s *Session) addSegment(text string, confidence float32, capturedAt time.Time) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalSet {
		return false
	}

	seg := Segment{
		Text:       text,
		Timestamp:  capturedAt,
		Confidence: confidence,
		SessionID:  s.id,
	}

	s.segments = append(s.segments, seg)
	if s.fullTranscript == "" {
		s.fullTranscript = text
	} else {
		s.fullTranscript += " " + text
	}
	s.pending = append(s.pending, seg)

	if s.listener != nil {
		select {
		case s.listener <- seg:
		default:
			// Listener is saturated; the segment still reaches the
			// client via the polling queue.
		}
	}

	return true
}

// Drain returns segments not yet delivered to the poller and clears
// the delivery queue.
func (s *Session) Drain() Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	segments := s.pending
	s.pending = nil

	return Update{
		SessionID:         s.id,
		IsRecording:       s.state == StateRecording,
		NewSegments:       segments,
		FullTranscription: s.fullTranscript,
		SegmentCount:      len(s.segments),
		BufferLevel:       s.ring.FillLevel(),
	}
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		SessionID:         s.id,
		IsRecording:       s.state == StateRecording,
		CreatedAt:         s.createdAt,
		RecordingDuration: s.recordingDurationLocked(),
		SegmentCount:      len(s.segments),
		FullTranscription: s.fullTranscript,
		BufferLevel:       s.ring.FillLevel(),
	}
}

func (s *Session) recordingDurationLocked() float64 {
	switch s.state {
	case StateRecording:
		return time.Since(s.recordingStart).Seconds()
	case StateStopped:
		return s.recordingEnd.Sub(s.recordingStart).Seconds()
	default:
		return 0
	}
}

// Subscribe registers a push listener receiving each new segment. Only
// one listener is supported; a second Subscribe replaces the first.
func (s *Session) Subscribe() <-chan Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listener = make(chan Segment, 64)
	return s.listener
}

// Unsubscribe detaches the push listener.
func (s *Session) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = nil
}

// FinalTranscript returns the frozen final transcript, if set.
func (s *Session) FinalTranscript() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalTranscript, s.finalSet
}

// SegmentCount returns the number of segments appended so far.
func (s *Session) SegmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

// FullTranscript returns the derived transcript, the join of all
// segment texts with single spaces.
func (s *Session) FullTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullTranscript
}

// LastActivity returns the time of the last lifecycle call or audio
// frame, used by the registry's idle sweep.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// close tears the session down on removal. Any recording in progress
// is abandoned and late transcription callbacks become no-ops.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRecording {
		s.state = StateStopped
		s.recordingEnd = time.Now()
	}
	s.finalSet = true
	s.listener = nil
}
