package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/media-toolkit/internal/tools"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

// Manager keeps live sessions and disposes the ones left idle past the TTL.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	factory  *tools.Factory
	ttl      time.Duration
	logger   logger.Logger
}

func NewManager(factory *tools.Factory, ttl time.Duration, log logger.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		factory:  factory,
		ttl:      ttl,
		logger:   log.Named("sessions"),
	}
}

// Create opens an empty session for the named tool.
func (m *Manager) Create(toolName, owner string) (*Session, error) {
	tool, err := m.factory.Get(toolName)
	if err != nil {
		return nil, err
	}

	s := New(uuid.New().String(), owner, tool)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("Session created",
		logger.String("session_id", s.ID),
		logger.String("tool", string(tool.Spec().Name)),
	)
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return s, nil
}

// Delete disposes the session and forgets it.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: session %s", ErrNotFound, id)
	}

	revoked := s.Dispose()
	m.logger.Info("Session disposed",
		logger.String("session_id", id),
		logger.Int("revoked", revoked),
	)
	return nil
}

// Specs lists the tools sessions can be opened for.
func (m *Manager) Specs() []tools.Spec {
	return m.factory.Specs()
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep disposes every session idle since before now minus the TTL.
func (m *Manager) Sweep(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	threshold := now.Add(-m.ttl)

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince().Before(threshold) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Dispose()
	}
	if len(expired) > 0 {
		m.logger.Info("Expired sessions disposed",
			logger.Int("count", len(expired)),
			logger.Time("threshold", threshold),
		)
	}
	return len(expired)
}

// Run sweeps on every tick until ctx is done, then disposes what is left.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Close()
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Close disposes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Dispose()
	}
}
