package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrProtocol marks malformed inbound frames: invalid JSON, unknown
// actions, or undecodable audio payloads. Callers report it to the
// offending client and keep the connection open.
var ErrProtocol = errors.New("protocol error")

// Action identifies an inbound control message variant. The set is
// closed; anything else is rejected as a protocol error.
type Action string

const (
	ActionStartRecording Action = "start_recording"
	ActionStopRecording  Action = "stop_recording"
	ActionGetStatus      Action = "get_status"
	ActionAudioChunk     Action = "audio_chunk"
)

// ControlMessage is an inbound text frame. Clients identify the
// variant via "action"; "type" is accepted as a legacy alias.
type ControlMessage struct {
	Action    Action `json:"action"`
	Type      Action `json:"type,omitempty"`
	AudioData string `json:"audio_data,omitempty"` // base64 PCM, audio_chunk only
}

// ParseControl parses and validates an inbound control frame.
func ParseControl(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON in control message", ErrProtocol)
	}

	if msg.Action == "" {
		msg.Action = msg.Type
	}

	switch msg.Action {
	case ActionStartRecording, ActionStopRecording, ActionGetStatus:
	case ActionAudioChunk:
		if msg.AudioData == "" {
			return nil, fmt.Errorf("%w: audio_chunk without audio_data", ErrProtocol)
		}
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrProtocol, msg.Action)
	}

	return &msg, nil
}

// DecodeAudio decodes the base64 audio payload of an audio_chunk message.
func (m *ControlMessage) DecodeAudio() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(m.AudioData)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 audio data", ErrProtocol)
	}
	return raw, nil
}

// EventType identifies an outbound message variant.
type EventType string

const (
	EventConnectionEstablished EventType = "connection_established"
	EventRecordingStarted      EventType = "recording_started"
	EventRecordingStopped      EventType = "recording_stopped"
	EventTranscriptionUpdate   EventType = "transcription_update"
	EventAudioProcessed        EventType = "audio_processed"
	EventSessionStatus         EventType = "session_status"
	EventError                 EventType = "error"
)

// Event is an outbound frame pushed to the client. Only the fields
// relevant to the event type are populated.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Message   string    `json:"message,omitempty"`

	// transcription_update
	Segment *SegmentPayload `json:"segment,omitempty"`

	// audio_processed
	BufferLevel *float64 `json:"buffer_level,omitempty"`

	// recording_stopped
	FinalTranscription *string `json:"final_transcription,omitempty"`

	// session_status
	Status any `json:"status,omitempty"`
}

// SegmentPayload carries one transcript segment to the client.
type SegmentPayload struct {
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float32   `json:"confidence"`
}

// NewErrorEvent builds an error event with the given message.
func NewErrorEvent(sessionID, message string) Event {
	return Event{
		Type:      EventError,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Message:   message,
	}
}
