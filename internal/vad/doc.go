// Package vad provides a lightweight energy-based voice gate.
// It computes RMS energy over transcription windows with a
// configurable threshold so that near-silent audio can be skipped
// before reaching the external transcription engine.
package vad
