// Package config provides configuration loading and validation for the
// real-time audio transcription service. It handles YAML-based
// configuration with per-section validation and duration helpers for
// all timing parameters.
package config
