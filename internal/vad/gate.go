package vad

import (
	"fmt"
	"math"
	"sync"
)

// Gate decides whether a window of audio contains voice, using RMS
// energy against a normalized threshold. Windows below the threshold
// are treated as silence and skipped by the transcription worker,
// saving calls to the external engine.
type Gate struct {
	threshold float64

	mu            sync.Mutex
	totalWindows  uint64
	voicedWindows uint64
}

// Stats reports how many windows the gate has seen and passed.
type Stats struct {
	TotalWindows    uint64  `json:"total_windows"`
	VoicedWindows   uint64  `json:"voiced_windows"`
	VoicePercentage float64 `json:"voice_percentage"`
}

// NewGate creates a gate with the given normalized RMS threshold.
// The threshold is relative to PCM-16 full scale, so 0.01 corresponds
// to roughly -40 dBFS.
func NewGate(threshold float64) (*Gate, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	return &Gate{threshold: threshold}, nil
}

// HasVoice reports whether the window's RMS energy clears the
// threshold. Empty windows never have voice.
func (g *Gate) HasVoice(samples []int16) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalWindows++

	if len(samples) == 0 {
		return false
	}

	var energy float64
	for _, s := range samples {
		f := float64(s) / 32768.0
		energy += f * f
	}
	rms := math.Sqrt(energy / float64(len(samples)))

	voiced := rms > g.threshold
	if voiced {
		g.voicedWindows++
	}
	return voiced
}

// GetStats returns a snapshot of gate statistics.
func (g *Gate) GetStats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	pct := float64(0)
	if g.totalWindows > 0 {
		pct = float64(g.voicedWindows) / float64(g.totalWindows) * 100
	}
	return Stats{
		TotalWindows:    g.totalWindows,
		VoicedWindows:   g.voicedWindows,
		VoicePercentage: pct,
	}
}
