package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var ErrManagerClosed = errors.New("poll manager closed")

// Manager keeps at most one active session per submission. Starting a new
// session for a submission stops the previous one first and waits for it.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	closed   bool

	source Source
	cfg    Config
	logger *slog.Logger
}

func NewManager(source Source, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		sessions: map[uuid.UUID]*Session{},
		source:   source,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start begins polling submissionID. The session ends with ctx.
func (m *Manager) Start(ctx context.Context, submissionID uuid.UUID) (*Session, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrManagerClosed
		}

		prev, ok := m.sessions[submissionID]
		if !ok {
			s, sessionCtx := newSession(ctx, submissionID, m.cfg, m.source, m.logger)
			m.sessions[submissionID] = s
			m.mu.Unlock()

			go s.run(sessionCtx, func() { m.release(s) })
			return s, nil
		}
		m.mu.Unlock()

		prev.cancel(ErrSessionReplaced)
		select {
		case <-prev.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Active returns the running session for submissionID, if any.
func (m *Manager) Active(submissionID uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[submissionID]
	return s, ok
}

// Close cancels every session and waits for them to stop.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
		<-s.Done()
	}
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[s.submissionID] == s {
		delete(m.sessions, s.submissionID)
	}
}
