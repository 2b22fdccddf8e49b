package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chinedunewbirth/nhs-paperwork-agent/internal/metrics"
)

const cleanupInterval = 30 * time.Second

// RegistryConfig contains session registry configuration.
type RegistryConfig struct {
	SampleRate     int
	BufferDuration time.Duration // ring buffer retention per session
	SessionTimeout time.Duration // idle eviction; 0 disables the sweep
}

// Registry is the concurrency-safe table of session id to session.
// Entries are exclusively owned by the registry; a session never
// outlives its entry.
type Registry struct {
	logger  *slog.Logger
	worker  *Worker
	metrics *metrics.Metrics
	cfg     RegistryConfig

	mu       sync.RWMutex
	sessions map[string]*Session

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewRegistry creates a registry and starts its idle-eviction sweep
// when a session timeout is configured.
func NewRegistry(logger *slog.Logger, worker *Worker, m *metrics.Metrics, cfg RegistryConfig) *Registry {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.BufferDuration <= 0 {
		cfg.BufferDuration = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		logger:   logger,
		worker:   worker,
		metrics:  m,
		cfg:      cfg,
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	if cfg.SessionTimeout > 0 {
		go r.runCleanup()
	} else {
		close(r.cleanup)
	}

	return r
}

// Worker returns the transcription worker shared by all sessions.
func (r *Registry) Worker() *Worker {
	return r.worker
}

// Create allocates a new idle session with a fresh unpredictable id.
func (r *Registry) Create() *Session {
	id := uuid.NewString()
	s := newSession(id, r.cfg.SampleRate, r.cfg.BufferDuration)

	r.mu.Lock()
	r.sessions[id] = s
	active := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordSessionCreated(active)
	}

	r.logger.Info("Created audio session",
		slog.String("session_id", id),
		slog.Int("active_sessions", active),
	)

	return s
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove tears down and deletes a session. It is idempotent: removing
// an unknown id returns false.
func (r *Registry) Remove(id string) bool {
	return r.remove(id, false)
}

func (r *Registry) remove(id string, evicted bool) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	active := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return false
	}

	s.close()

	if r.metrics != nil {
		r.metrics.RecordSessionRemoved(active, time.Since(s.CreatedAt()).Seconds(), evicted)
	}

	r.logger.Info("Removed audio session",
		slog.String("session_id", id),
		slog.Bool("evicted", evicted),
		slog.Duration("lifetime", time.Since(s.CreatedAt())),
		slog.Int("active_sessions", active),
	)

	return true
}

// List returns the ids of all active sessions.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown stops the eviction sweep and tears down every session.
func (r *Registry) Shutdown() {
	r.cancel()
	<-r.cleanup

	for _, id := range r.List() {
		r.Remove(id)
	}

	r.logger.Info("Session registry shut down")
}

// runCleanup periodically evicts sessions idle past the timeout.
func (r *Registry) runCleanup() {
	defer close(r.cleanup)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	r.logger.Info("Session cleanup routine started",
		slog.Duration("timeout", r.cfg.SessionTimeout),
		slog.Duration("check_interval", cleanupInterval),
	)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Info("Session cleanup routine stopping")
			return
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

func (r *Registry) evictExpired() {
	now := time.Now()

	r.mu.RLock()
	var expired []string
	for id, s := range r.sessions {
		if now.Sub(s.LastActivity()) > r.cfg.SessionTimeout {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	r.logger.Info("Evicting idle sessions", slog.Int("count", len(expired)))
	for _, id := range expired {
		r.remove(id, true)
	}
}
