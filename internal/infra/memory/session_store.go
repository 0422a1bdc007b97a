package memory

import (
	"sync"

	"experiment-test-service/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) GetOrCreate(attemptID string, build func() (*app.Session, error)) (*app.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[attemptID]; ok {
		return session, nil
	}
	session, err := build()
	if err != nil {
		return nil, err
	}
	s.sessions[attemptID] = session
	return session, nil
}

func (s *SessionStore) Get(attemptID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[attemptID]
	return session, ok
}

func (s *SessionStore) DeleteIfFinished(attemptID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[attemptID]
	if !ok || !session.Finished() {
		return false
	}
	delete(s.sessions, attemptID)
	return true
}

func (s *SessionStore) Delete(attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, attemptID)
}

// Len reports the number of held sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
