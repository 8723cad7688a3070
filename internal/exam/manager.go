package exam

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/mockexam/internal/model"
)

// ErrNoSession is returned when a key has no current session.
var ErrNoSession = errors.New("no exam session")

// Manager keeps the current session of every user, keyed by an opaque
// token. Starting a session for a key discards the previous one.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opts     []Option
	retain   time.Duration
	now      func() time.Time
}

// NewManager creates a Manager. Sessions that ended more than retain ago
// are dropped the next time any session starts; zero keeps them forever.
func NewManager(retain time.Duration, opts ...Option) *Manager {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		sessions: make(map[string]*Session),
		opts:     opts,
		retain:   retain,
		now:      o.now,
	}
}

// NewKey returns a fresh session owner token.
func NewKey() string {
	return uuid.NewString()
}

// Start replaces the session for key with a new one drawn from bank.
// On error the previous session, if any, is left untouched.
func (m *Manager) Start(key string, bank []model.Question, bp model.Blueprint) (*Session, error) {
	s, err := Start(bank, bp, m.opts...)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[key]; ok {
		slog.Debug("discarding previous session", "key", key)
	}
	m.sessions[key] = s
	m.pruneLocked()
	return s, nil
}

// With runs fn with the session for key while holding the manager lock.
func (m *Manager) With(key string, fn func(*Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return ErrNoSession
	}
	return fn(s)
}

// State reports the state of key's session; NotStarted if there is none.
func (m *Manager) State(key string) model.SessionState {
	state := model.StateNotStarted
	_ = m.With(key, func(s *Session) error {
		state = s.State()
		return nil
	})
	return state
}

// Discard forgets the session for key.
func (m *Manager) Discard(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
}

// Len is the number of sessions held.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) pruneLocked() {
	if m.retain <= 0 {
		return
	}
	cutoff := m.now().Add(-m.retain)
	for key, s := range m.sessions {
		if s.State() == model.StateSubmitted && s.SubmittedAt().Before(cutoff) {
			delete(m.sessions, key)
		}
	}
}
