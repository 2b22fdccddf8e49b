package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains HTTP/WebSocket server configuration
type ServerConfig struct {
	Port           int    `yaml:"port"`
	Address        string `yaml:"address"`
	SessionTimeout int    `yaml:"session_timeout"` // seconds of idleness before eviction
}

// AudioConfig contains audio processing parameters
type AudioConfig struct {
	SampleRate       int     `yaml:"sample_rate"`
	Channels         int     `yaml:"channels"`
	BitDepth         int     `yaml:"bit_depth"`
	ChunkInterval    float64 `yaml:"chunk_interval"`     // seconds between transcription flushes
	MinChunkDuration float64 `yaml:"min_chunk_duration"` // seconds; floor below which a flush is skipped
	BufferDuration   float64 `yaml:"buffer_duration"`    // seconds of audio the ring buffer retains
}

// VADConfig contains voice gate configuration
type VADConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"` // normalized RMS, 0..1
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	Language      string `yaml:"language"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", s.SessionTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.ChunkInterval <= 0 {
		return fmt.Errorf("chunk_interval must be positive, got %f", a.ChunkInterval)
	}

	if a.MinChunkDuration <= 0 || a.MinChunkDuration > a.ChunkInterval {
		return fmt.Errorf("min_chunk_duration (%f) must be positive and no greater than chunk_interval (%f)",
			a.MinChunkDuration, a.ChunkInterval)
	}

	if a.BufferDuration < a.ChunkInterval {
		return fmt.Errorf("buffer_duration (%f) must be at least chunk_interval (%f)",
			a.BufferDuration, a.ChunkInterval)
	}

	return nil
}

// Validate validates voice gate configuration
func (v *VADConfig) Validate() error {
	if v.Enabled && (v.Threshold <= 0 || v.Threshold > 1) {
		return fmt.Errorf("threshold must be between 0 and 1 when the gate is enabled, got %f", v.Threshold)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	switch l.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", l.Format)
	}

	return nil
}

// GetChunkInterval returns the transcription flush cadence as a duration
func (a *AudioConfig) GetChunkInterval() time.Duration {
	return time.Duration(a.ChunkInterval * float64(time.Second))
}

// GetMinChunkDuration returns the flush floor as a duration
func (a *AudioConfig) GetMinChunkDuration() time.Duration {
	return time.Duration(a.MinChunkDuration * float64(time.Second))
}

// GetBufferDuration returns the ring buffer retention as a duration
func (a *AudioConfig) GetBufferDuration() time.Duration {
	return time.Duration(a.BufferDuration * float64(time.Second))
}

// GetSessionTimeout returns the idle eviction timeout as a duration
func (s *ServerConfig) GetSessionTimeout() time.Duration {
	return time.Duration(s.SessionTimeout) * time.Second
}

// GetTimeoutDuration returns the transcription call timeout as a duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
