package session

import (
	"sync"

	"github.com/sirupsen/logrus"

	"voice-agent-server/pkg/errors"
)

// Manager is the registry of live sessions, keyed by call ID. The
// gateway creates sessions; the command API looks them up.
type Manager struct {
	mu       sync.RWMutex
	logger   *logrus.Logger
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Add registers a session. One live session per call ID.
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.opts.CallID]; exists {
		return errors.Wrap(errors.ErrSessionAlreadyExist, "session already registered").
			WithField("call_id", s.opts.CallID)
	}
	m.sessions[s.opts.CallID] = s
	m.logger.WithFields(logrus.Fields{
		"call_id": s.opts.CallID,
		"active":  len(m.sessions),
	}).Info("Session registered")
	return nil
}

// Get returns the live session for a call ID.
func (m *Manager) Get(callID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callID]
	if !ok {
		return nil, errors.NewSessionNotFound(callID)
	}
	return s, nil
}

// Remove drops a session from the registry. The session itself is torn
// down by End.
func (m *Manager) Remove(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[callID]; ok {
		delete(m.sessions, callID)
		m.logger.WithFields(logrus.Fields{
			"call_id": callID,
			"active":  len(m.sessions),
		}).Info("Session removed")
	}
}

// List returns snapshots of all live sessions.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EndAll ends every live session. Used during shutdown.
func (m *Manager) EndAll(reason string) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.End(reason)
	}
}
