// Package worker keeps the live chat widgets, one per visitor session, and
// retires them when they go idle.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"folioassist/internal/chat"
	"folioassist/internal/metrics"
	"folioassist/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrRegistryFull    = errors.New("too many active sessions")
)

// Close reasons recorded for retired sessions.
const (
	ReasonClosed  = "closed"
	ReasonExpired = "expired"
)

// WidgetFactory builds the widget for a new session id.
type WidgetFactory func(sessionID string) *chat.Widget

type Config struct {
	MaxSessions int           // 0 means unlimited
	IdleTTL     time.Duration // 0 disables sweeping
}

type Registry struct {
	newWidget WidgetFactory
	cfg       Config
	retired   *RetiredCache
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type RegistryOption func(*Registry)

func WithRetiredCache(c *RetiredCache) RegistryOption {
	return func(r *Registry) { r.retired = c }
}

func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

func WithLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

func NewRegistry(factory WidgetFactory, cfg Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		newWidget: factory,
		cfg:       cfg,
		log:       zerolog.Nop(),
		now:       time.Now,
		sessions:  make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create starts a new session with a fresh widget.
func (r *Registry) Create() (models.Session, *chat.Widget, error) {
	r.mu.Lock()
	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return models.Session{}, nil, ErrRegistryFull
	}
	id := uuid.NewString()
	state := newSessionState(id, r.newWidget(id), r.now())
	r.sessions[id] = state
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetActiveSessions(count)
	r.log.Debug().Str("session_id", id).Int("active", count).Msg("session created")
	return state.snapshot(), state.widget, nil
}

// Get returns the widget for id and marks the session active. Sessions that
// were retired report ErrSessionExpired when the retired cache remembers them.
func (r *Registry) Get(ctx context.Context, id string) (*chat.Widget, error) {
	r.mu.Lock()
	state, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		if reason, found := r.retired.lookup(ctx, id); found && reason == ReasonExpired {
			return nil, ErrSessionExpired
		}
		return nil, ErrSessionNotFound
	}
	state.touch(r.now())
	return state.widget, nil
}

// Session returns the bookkeeping record for id.
func (r *Registry) Session(id string) (models.Session, bool) {
	r.mu.Lock()
	state, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return models.Session{}, false
	}
	return state.snapshot(), true
}

// Remove disposes the session's widget. It reports whether the session existed.
func (r *Registry) Remove(ctx context.Context, id string) bool {
	r.mu.Lock()
	state, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return false
	}
	state.widget.Close()
	r.retired.remember(ctx, id, ReasonClosed)
	r.metrics.SetActiveSessions(count)
	return true
}

// Sweep disposes sessions idle for longer than the configured TTL and returns
// how many were removed. Sessions with a pending reply are left alone.
func (r *Registry) Sweep(ctx context.Context) int {
	if r.cfg.IdleTTL <= 0 {
		return 0
	}
	now := r.now()

	r.mu.Lock()
	var expired []string
	var states []*sessionState
	for id, state := range r.sessions {
		if state.idle(now, r.cfg.IdleTTL) {
			expired = append(expired, id)
			states = append(states, state)
			delete(r.sessions, id)
		}
	}
	count := len(r.sessions)
	r.mu.Unlock()

	for i, state := range states {
		state.widget.Close()
		r.retired.remember(ctx, expired[i], ReasonExpired)
	}
	r.metrics.SetActiveSessions(count)
	if len(expired) > 0 {
		r.log.Info().Int("expired", len(expired)).Int("active", count).Msg("idle sessions swept")
	}
	return len(expired)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll disposes every session, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	states := make([]*sessionState, 0, len(r.sessions))
	for id, state := range r.sessions {
		states = append(states, state)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	for _, state := range states {
		state.widget.Close()
	}
	r.metrics.SetActiveSessions(0)
}
