package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/config"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/metrics"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/server"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/session"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/transcription"
	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "audio-transcription-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("address", cfg.Server.Address),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("chunk_interval", cfg.Audio.ChunkInterval),
		slog.Float64("min_chunk_duration", cfg.Audio.MinChunkDuration),
		slog.Float64("buffer_duration", cfg.Audio.BufferDuration),
		slog.Bool("vad_enabled", cfg.VAD.Enabled),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize transcription client
	client, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
		Language:      cfg.Transcription.Language,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Optional voice gate
	var gate *vad.Gate
	if cfg.VAD.Enabled {
		gate, err = vad.NewGate(cfg.VAD.Threshold)
		if err != nil {
			logger.Error("Failed to create voice gate", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Voice gate enabled", slog.Float64("threshold", cfg.VAD.Threshold))
	}

	// Initialize transcription worker
	worker := session.NewWorker(logger, client, gate, appMetrics, session.WorkerConfig{
		ChunkInterval:    cfg.Audio.GetChunkInterval(),
		MinChunkDuration: cfg.Audio.GetMinChunkDuration(),
		CallTimeout:      cfg.Transcription.GetTimeoutDuration(),
		SampleRate:       cfg.Audio.SampleRate,
	})

	// Initialize session registry
	registry := session.NewRegistry(logger, worker, appMetrics, session.RegistryConfig{
		SampleRate:     cfg.Audio.SampleRate,
		BufferDuration: cfg.Audio.GetBufferDuration(),
		SessionTimeout: cfg.Server.GetSessionTimeout(),
	})
	logger.Info("Session registry initialized",
		slog.Duration("session_timeout", cfg.Server.GetSessionTimeout()),
	)

	// Initialize and start the HTTP API server
	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:    cfg.Server.Port,
		Address: cfg.Server.Address,
	}, logger, registry, appMetrics, client)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Stop the registry (cleanup sessions and stop background routines)
	registry.Shutdown()

	// Get final statistics
	stats := client.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Float64("success_rate", stats.SuccessRate),
	)

	client.Close()
	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
