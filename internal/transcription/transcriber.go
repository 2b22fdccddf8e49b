package transcription

import "context"

// Result is the outcome of one transcription call. Confidence is in
// [0,1]; a zero value means the engine supplied no estimate.
type Result struct {
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
}

// Transcriber converts a WAV-framed audio chunk to text. The call may
// be slow (seconds) and may fail; callers must bound it with the
// context and treat errors as recoverable.
type Transcriber interface {
	Transcribe(ctx context.Context, wavData []byte, sampleRate int) (Result, error)
}

// Func adapts a plain function to the Transcriber interface.
type Func func(ctx context.Context, wavData []byte, sampleRate int) (Result, error)

// Transcribe calls f.
func (f Func) Transcribe(ctx context.Context, wavData []byte, sampleRate int) (Result, error) {
	return f(ctx, wavData, sampleRate)
}
