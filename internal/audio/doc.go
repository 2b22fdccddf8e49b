// Package audio handles PCM audio buffering and format conversion.
// It provides the fixed-capacity ring buffer that retains the most
// recent seconds of session audio, PCM-16 byte/sample conversion for
// inbound frames, and encoding to the canonical WAV container handed
// to the transcription engine.
package audio
