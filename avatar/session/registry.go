package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/avatarflow/types"
)

// Observer receives registry metrics. internal/metrics.Collector implements it.
type Observer interface {
	RecordSessionOpened()
	RecordSessionClosed(lifetime time.Duration)
}

type noopObserver struct{}

func (noopObserver) RecordSessionOpened() {}
func (noopObserver) RecordSessionClosed(time.Duration) {}

// RegistryOptions 注册表配置
type RegistryOptions struct {
	HistoryLimit int
	Observer     Observer
}

// Registry is the process-wide table of live sessions.
type Registry struct {
	opts     RegistryOptions
	observer Observer
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	obs := opts.Observer
	if obs == nil {
		obs = noopObserver{}
	}
	return &Registry{
		opts:     opts,
		observer: obs,
		logger:   logger.With(zap.String("component", "session_registry")),
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session bound to sink. The session context derives
// from parent and is cancelled on Remove.
func (r *Registry) Create(parent context.Context, sink Sink) *Session {
	id := "session_" + uuid.NewString()
	s := newSession(parent, id, sink, r.opts.HistoryLimit, r.logger)

	r.mu.Lock()
	r.sessions[id] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.observer.RecordSessionOpened()
	r.logger.Info("session created",
		zap.String("session_id", id),
		zap.Int("active_sessions", count),
	)
	return s
}

// Lookup returns the live session with the given id.
func (r *Registry) Lookup(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewNotFoundError("session not found: " + id)
	}
	return s, nil
}

// Remove deletes and closes the session. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return false
	}

	s.Close()
	r.observer.RecordSessionClosed(time.Since(s.createdAt))
	r.logger.Info("session removed",
		zap.String("session_id", id),
		zap.Int("active_sessions", count),
	)
	return true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns summaries ordered by creation time.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CloseAll removes every session. Used on shutdown.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if r.Remove(id) {
			n++
		}
	}
	return n
}
