package worker

import (
	"sync"
	"time"

	"folioassist/internal/chat"
	"folioassist/internal/models"
)

// sessionState pairs a widget with its bookkeeping.
type sessionState struct {
	widget *chat.Widget

	mu      sync.Mutex
	session models.Session
}

func newSessionState(id string, widget *chat.Widget, now time.Time) *sessionState {
	return &sessionState{
		widget: widget,
		session: models.Session{
			ID:         id,
			CreatedAt:  now,
			LastActive: now,
		},
	}
}

func (s *sessionState) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.session.LastActive) {
		s.session.LastActive = now
	}
	s.mu.Unlock()
}

func (s *sessionState) snapshot() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// idle reports whether the session has been inactive for at least ttl and has
// no reply pending.
func (s *sessionState) idle(now time.Time, ttl time.Duration) bool {
	if s.widget.Busy() {
		return false
	}
	s.mu.Lock()
	last := s.session.LastActive
	s.mu.Unlock()
	return now.Sub(last) >= ttl
}
