package redis

import (
	"context"
	"sync"
	"time"

	"experiment-test-service/internal/app"
	"github.com/redis/go-redis/v9"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Live sessions stay in a local map; the event log in the attempt store is
//     what another instance replays to take an attempt over.
//   - Redis marks which attempts are live here. Every hit refreshes the marker,
//     and Owned lets another instance notice it before taking an attempt over.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) GetOrCreate(attemptID string, build func() (*app.Session, error)) (*app.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[attemptID]; ok {
		s.touch(attemptID)
		return session, nil
	}
	session, err := build()
	if err != nil {
		return nil, err
	}
	s.sessions[attemptID] = session
	s.touch(attemptID)
	return session, nil
}

func (s *SessionStore) Get(attemptID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[attemptID]
	if ok {
		s.touch(attemptID)
	}
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
	_ = s.client.Del(context.Background(), s.key(attemptID)).Err()
	return true
}

func (s *SessionStore) Delete(attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, attemptID)
	_ = s.client.Del(context.Background(), s.key(attemptID)).Err()
}

// Owned reports whether any instance holds a live marker for the attempt.
func (s *SessionStore) Owned(ctx context.Context, attemptID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(attemptID)).Result()
	return n > 0, err
}

// best-effort liveness marker, refreshed on every hit
func (s *SessionStore) touch(attemptID string) {
	_ = s.client.Set(context.Background(), s.key(attemptID), "1", s.ttl).Err()
}

func (s *SessionStore) key(attemptID string) string {
	return "attempt:session:" + attemptID
}
