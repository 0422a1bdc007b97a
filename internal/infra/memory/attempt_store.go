package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"experiment-test-service/internal/domain"
)

// AttemptStore keeps attempts, their event logs and form submissions in process memory.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]domain.Attempt
	events   map[string][]domain.SessionEvent
	forms    map[string][]domain.FormSubmission
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]domain.Attempt),
		events:   make(map[string][]domain.SessionEvent),
		forms:    make(map[string][]domain.FormSubmission),
	}
}

func (s *AttemptStore) CreateAttempt(_ context.Context, a domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[a.ID]; ok {
		return fmt.Errorf("attempt %s already exists", a.ID)
	}
	for _, other := range s.attempts {
		if other.UserID == a.UserID && other.ConfigVersion == a.ConfigVersion && other.Status == domain.AttemptInProgress {
			return domain.ErrAttemptInProgress
		}
	}
	s.attempts[a.ID] = a
	return nil
}

func (s *AttemptStore) UpdateAttempt(_ context.Context, a domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[a.ID]; !ok {
		return domain.ErrAttemptNotFound
	}
	s.attempts[a.ID] = a
	return nil
}

func (s *AttemptStore) GetAttempt(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return a, nil
}

func (s *AttemptStore) FindInProgress(_ context.Context, userID string, version int) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.attempts {
		if a.UserID == userID && a.ConfigVersion == version && a.Status == domain.AttemptInProgress {
			return a, nil
		}
	}
	return domain.Attempt{}, domain.ErrAttemptNotFound
}

// ListAttempts returns matching attempts ordered by start time.
func (s *AttemptStore) ListAttempts(_ context.Context, filter domain.AttemptFilter) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Attempt
	for _, a := range s.attempts {
		if filter.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AppendEvent rejects sequence numbers that do not extend the log.
func (s *AttemptStore) AppendEvent(_ context.Context, ev domain.SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[ev.AttemptID]; !ok {
		return domain.ErrAttemptNotFound
	}
	log := s.events[ev.AttemptID]
	if n := len(log); n > 0 && log[n-1].Seq >= ev.Seq {
		return fmt.Errorf("attempt %s: seq %d does not follow %d", ev.AttemptID, ev.Seq, log[n-1].Seq)
	}
	s.events[ev.AttemptID] = append(log, ev)
	return nil
}

func (s *AttemptStore) Events(_ context.Context, attemptID string) ([]domain.SessionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SessionEvent(nil), s.events[attemptID]...), nil
}

func (s *AttemptStore) SaveForm(_ context.Context, sub domain.FormSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.forms[sub.AttemptID] {
		if existing.FormType == sub.FormType {
			return domain.ErrFormSubmitted
		}
	}
	s.forms[sub.AttemptID] = append(s.forms[sub.AttemptID], sub)
	return nil
}

func (s *AttemptStore) Forms(_ context.Context, attemptID string) ([]domain.FormSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.FormSubmission(nil), s.forms[attemptID]...), nil
}
