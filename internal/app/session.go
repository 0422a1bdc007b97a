package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"experiment-test-service/internal/domain"
	"experiment-test-service/internal/events"
	"experiment-test-service/internal/navigator"
)

// Outcome is the state of an attempt after an accepted operation.
type Outcome struct {
	Seq      int64
	Status   domain.AttemptStatus
	Position domain.Position
	// Question is the question now shown; nil unless the operation moved the attempt.
	Question *navigator.AssignedQuestion
	Skipped  string
}

// AttemptView is what a participant sees of an attempt: no correctness data.
type AttemptView struct {
	Attempt    domain.Attempt
	GroupLabel string
	Greeting   string
	Protocol   navigator.AssignedProtocol
	Current    navigator.AssignedQuestion
}

// Session is the single writer of one attempt. Every operation runs under its
// lock, is applied to the navigator and recorder, and only once accepted is
// appended to the store and published.
type Session struct {
	mu      sync.Mutex
	attempt domain.Attempt
	group   domain.Group
	nav     *navigator.Navigator
	rec     *events.Recorder
	options map[string]map[string]bool
	seq     int64
	failed  error

	now       func() time.Time
	store     AttemptStore
	publisher EventPublisher
	logger    *slog.Logger
}

// SessionDeps are the collaborators of a Session. Now and Logger default to
// time.Now and slog.Default.
type SessionDeps struct {
	Store     AttemptStore
	Publisher EventPublisher
	Now       func() time.Time
	Logger    *slog.Logger
}

// NewSession opens a session at the first question of the attempt's assigned protocol.
func NewSession(a domain.Attempt, group domain.Group, deps SessionDeps) (*Session, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	nav, err := navigator.New(group.Protocol, a.Order)
	if err != nil {
		return nil, fmt.Errorf("attempt %s: %w", a.ID, err)
	}
	options := make(map[string]map[string]bool)
	for _, ph := range nav.Assigned().Phases {
		for _, q := range ph.Questions {
			set := make(map[string]bool, len(q.Options))
			for _, o := range q.Options {
				set[o.ID] = true
			}
			options[q.ID] = set
		}
	}
	a.Status = domain.AttemptInProgress
	a.Position = domain.Position{}
	a.EndedAt = nil
	return &Session{
		attempt:   a,
		group:     group,
		nav:       nav,
		rec:       events.NewRecorder(),
		options:   options,
		now:       deps.Now,
		store:     deps.Store,
		publisher: deps.Publisher,
		logger:    deps.Logger,
	}, nil
}

// replay re-applies persisted events in seq order without persisting them again.
func (s *Session) replay(evs []domain.SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range evs {
		ev := evs[i]
		if _, err := s.apply(&ev); err != nil {
			return fmt.Errorf("replay attempt %s seq %d: %w", s.attempt.ID, ev.Seq, err)
		}
		s.seq = ev.Seq
	}
	return nil
}

// ID returns the attempt id.
func (s *Session) ID() string { return s.attempt.ID }

// Finished reports whether the attempt reached a terminal state.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt.Status.Terminal()
}

func (s *Session) broken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed != nil
}

// View returns the participant-facing state of the attempt.
func (s *Session) View() AttemptView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AttemptView{
		Attempt:    s.attempt,
		GroupLabel: s.group.Label,
		Greeting:   s.group.Greeting,
		Protocol:   s.nav.Assigned(),
		Current:    s.nav.Current(),
	}
}

// QuestionEvents returns a copy of everything recorded so far.
func (s *Session) QuestionEvents() []domain.QuestionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Snapshot()
}

// handle applies one operation. Rejected operations leave the attempt unchanged
// and are not persisted.
func (s *Session) handle(ctx context.Context, ev domain.SessionEvent) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed != nil {
		return Outcome{}, fmt.Errorf("attempt %s needs reload: %w", s.attempt.ID, s.failed)
	}

	ev.AttemptID = s.attempt.ID
	ev.UserID = s.attempt.UserID
	ev.ConfigVersion = s.attempt.ConfigVersion
	ev.Seq = s.seq + 1
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	out, err := s.apply(&ev)
	if err != nil {
		return Outcome{}, err
	}
	s.seq = ev.Seq

	if err := s.store.AppendEvent(ctx, ev); err != nil {
		s.failed = err
		return Outcome{}, fmt.Errorf("append event: %w", err)
	}
	if moved(ev.Type) {
		if err := s.store.UpdateAttempt(ctx, s.attempt); err != nil {
			s.failed = err
			return Outcome{}, fmt.Errorf("update attempt: %w", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.Warn("publish session event failed", "attempt", ev.AttemptID, "seq", ev.Seq, "err", err)
		}
	}
	return out, nil
}

func moved(t domain.SessionEventType) bool {
	switch t {
	case domain.EventNext, domain.EventPrevious, domain.EventSkip, domain.EventAbandon:
		return true
	}
	return false
}

// apply validates ev against the navigator and recorder and mutates both only
// when it is accepted. Skip events get the skipped question id filled in.
func (s *Session) apply(ev *domain.SessionEvent) (Outcome, error) {
	out := Outcome{}
	switch ev.Type {
	case domain.EventEnter, domain.EventOption:
		if s.attempt.Status.Terminal() {
			return out, fmt.Errorf("attempt %s: %w", s.attempt.ID, domain.ErrAttemptFinished)
		}
		options, ok := s.options[ev.QuestionID]
		if !ok {
			return out, fmt.Errorf("question %s: %w", ev.QuestionID, domain.ErrQuestionNotFound)
		}
		if ev.Type == domain.EventOption && !options[ev.OptionID] {
			return out, fmt.Errorf("option %s of question %s: %w", ev.OptionID, ev.QuestionID, domain.ErrOptionNotFound)
		}
		if err := record(s.rec, *ev); err != nil {
			return out, err
		}

	case domain.EventExit:
		if err := record(s.rec, *ev); err != nil {
			return out, err
		}

	case domain.EventNext, domain.EventPrevious, domain.EventSkip, domain.EventAbandon:
		if err := s.navigate(ev, &out); err != nil {
			return out, err
		}

	default:
		return out, fmt.Errorf("event type %q: %w", ev.Type, domain.ErrInvalidEvent)
	}

	out.Seq = ev.Seq
	out.Status = s.attempt.Status
	out.Position = s.attempt.Position
	return out, nil
}

func (s *Session) navigate(ev *domain.SessionEvent, out *Outcome) error {
	var (
		move navigator.Move
		err  error
	)
	switch ev.Type {
	case domain.EventNext:
		move, err = s.nav.Next()
	case domain.EventPrevious:
		move, err = s.nav.Previous()
	case domain.EventSkip:
		move, err = s.nav.Skip()
	case domain.EventAbandon:
		err = s.nav.Abandon()
	}
	if err != nil {
		return err
	}

	if ev.Type == domain.EventSkip {
		ev.QuestionID = move.Skipped
		out.Skipped = move.Skipped
	}
	if err := record(s.rec, *ev); err != nil {
		// the navigator already moved, so this session no longer matches its log
		s.failed = err
		return fmt.Errorf("record %s: %w", ev.Type, err)
	}

	s.attempt.Position = s.nav.Position()
	s.attempt.Status = s.nav.Status()
	if s.attempt.Status.Terminal() {
		ended := ev.Timestamp
		s.attempt.EndedAt = &ended
	}
	if move.Question != "" {
		q := s.nav.Current()
		out.Question = &q
	}
	return nil
}

// record feeds one session event into a recorder. It is shared by live sessions
// and by result aggregation, which rebuilds recorders from the event log alone.
func record(rec *events.Recorder, ev domain.SessionEvent) error {
	switch ev.Type {
	case domain.EventEnter:
		return rec.QuestionEnter(ev.QuestionID, ev.Timestamp)
	case domain.EventExit:
		return rec.QuestionExit(ev.QuestionID, ev.Timestamp)
	case domain.EventOption:
		return rec.OptionEvent(ev.QuestionID, ev.OptionID, ev.Kind, ev.Timestamp)
	case domain.EventSkip:
		if !rec.Visited(ev.QuestionID) {
			// skipped without ever being shown: a zero-length visit carries the skip
			if err := rec.QuestionEnter(ev.QuestionID, ev.Timestamp); err != nil {
				return err
			}
			if err := rec.QuestionExit(ev.QuestionID, ev.Timestamp); err != nil {
				return err
			}
		}
		return rec.QuestionSkipped(ev.QuestionID)
	case domain.EventAbandon:
		rec.CloseOpen(ev.Timestamp)
	}
	return nil
}

// replayRecorder rebuilds the question events of an attempt from its log.
func replayRecorder(evs []domain.SessionEvent) (*events.Recorder, error) {
	rec := events.NewRecorder()
	for _, ev := range evs {
		if err := record(rec, ev); err != nil {
			return nil, fmt.Errorf("replay seq %d: %w", ev.Seq, err)
		}
	}
	return rec, nil
}
