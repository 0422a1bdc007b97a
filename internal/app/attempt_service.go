package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"experiment-test-service/internal/assign"
	"experiment-test-service/internal/domain"
	"experiment-test-service/internal/metrics"
	"experiment-test-service/internal/navigator"
	"github.com/google/uuid"
)

// AttemptDeps are the collaborators of an AttemptService.
type AttemptDeps struct {
	Snapshots SnapshotRepository
	Attempts  AttemptStore
	Sessions  SessionRepository
	Publisher EventPublisher
	Results   *ResultsService
	Random    assign.RandomSource
	Logger    *slog.Logger
}

// AttemptService contains the attempt lifecycle use cases.
type AttemptService struct {
	snapshots SnapshotRepository
	attempts  AttemptStore
	sessions  SessionRepository
	publisher EventPublisher
	results   *ResultsService
	logger    *slog.Logger

	randMu   sync.Mutex
	random   assign.RandomSource
	assigner *assign.Assigner

	now   func() time.Time
	newID func() string
}

func NewAttemptService(deps AttemptDeps) *AttemptService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	random := deps.Random
	if random == nil {
		random = assign.NewSeeded(0)
	}
	return &AttemptService{
		snapshots: deps.Snapshots,
		attempts:  deps.Attempts,
		sessions:  deps.Sessions,
		publisher: deps.Publisher,
		results:   deps.Results,
		logger:    logger,
		random:    random,
		assigner:  assign.NewAssigner(random),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithClock is test-only for deterministic timestamps.
func (s *AttemptService) WithClock(now func() time.Time) *AttemptService {
	s.now = now
	return s
}

// Begin assigns the user to a group of the latest snapshot and starts an attempt.
func (s *AttemptService) Begin(ctx context.Context, userID string) (AttemptView, error) {
	if userID == "" {
		return AttemptView{}, fmt.Errorf("begin without user: %w", domain.ErrInvalidEvent)
	}
	snap, err := s.snapshots.Latest(ctx)
	if err != nil {
		return AttemptView{}, err
	}

	if _, err := s.attempts.FindInProgress(ctx, userID, snap.Version); err == nil {
		return AttemptView{}, domain.ErrAttemptInProgress
	} else if !errors.Is(err, domain.ErrAttemptNotFound) {
		return AttemptView{}, err
	}

	groupID, order, err := s.draw(snap)
	if err != nil {
		return AttemptView{}, err
	}
	group, _ := snap.Group(groupID)

	attempt := domain.Attempt{
		ID:            s.newID(),
		UserID:        userID,
		GroupID:       groupID,
		ConfigVersion: snap.Version,
		StartedAt:     s.now(),
		Status:        domain.AttemptInProgress,
		Order:         order,
	}
	sess, err := NewSession(attempt, group, s.sessionDeps())
	if err != nil {
		return AttemptView{}, err
	}
	if err := s.attempts.CreateAttempt(ctx, attempt); err != nil {
		return AttemptView{}, err
	}

	sess, err = s.sessions.GetOrCreate(attempt.ID, func() (*Session, error) { return sess, nil })
	if err != nil {
		return AttemptView{}, err
	}
	metrics.ActiveSessions.Inc()
	metrics.Assignments.WithLabelValues(fmt.Sprint(snap.Version), groupID).Inc()
	s.logger.Info("attempt started", "attempt", attempt.ID, "user", userID, "group", groupID, "version", snap.Version)
	return sess.View(), nil
}

// draw picks a group and generates the attempt's permutations under one lock,
// since the random source is shared.
func (s *AttemptService) draw(snap domain.ConfigSnapshot) (string, domain.AttemptOrder, error) {
	s.randMu.Lock()
	defer s.randMu.Unlock()

	groupID, err := s.assigner.Assign(assign.WeightsOf(snap))
	if err != nil {
		return "", domain.AttemptOrder{}, err
	}
	group, ok := snap.Group(groupID)
	if !ok {
		return "", domain.AttemptOrder{}, fmt.Errorf("group %s: %w", groupID, domain.ErrGroupNotFound)
	}
	return groupID, navigator.NewOrder(group.Protocol, s.random), nil
}

// Resume reopens the user's unfinished attempt of the latest snapshot.
func (s *AttemptService) Resume(ctx context.Context, userID string) (AttemptView, error) {
	snap, err := s.snapshots.Latest(ctx)
	if err != nil {
		return AttemptView{}, err
	}
	attempt, err := s.attempts.FindInProgress(ctx, userID, snap.Version)
	if err != nil {
		return AttemptView{}, err
	}
	sess, err := s.session(ctx, attempt.ID)
	if err != nil {
		return AttemptView{}, err
	}
	return sess.View(), nil
}

// Next moves to the next question; past the last one the attempt completes.
func (s *AttemptService) Next(ctx context.Context, attemptID string, ts time.Time) (Outcome, error) {
	return s.navigate(ctx, attemptID, domain.SessionEvent{Type: domain.EventNext, Timestamp: ts})
}

// Previous returns to the previously shown question when the protocol allows it.
func (s *AttemptService) Previous(ctx context.Context, attemptID string, ts time.Time) (Outcome, error) {
	return s.navigate(ctx, attemptID, domain.SessionEvent{Type: domain.EventPrevious, Timestamp: ts})
}

// Skip leaves the current question unanswered and moves on.
func (s *AttemptService) Skip(ctx context.Context, attemptID string, ts time.Time) (Outcome, error) {
	return s.navigate(ctx, attemptID, domain.SessionEvent{Type: domain.EventSkip, Timestamp: ts})
}

// Abandon ends the attempt without completing it.
func (s *AttemptService) Abandon(ctx context.Context, attemptID string, ts time.Time) (Outcome, error) {
	return s.navigate(ctx, attemptID, domain.SessionEvent{Type: domain.EventAbandon, Timestamp: ts})
}

func (s *AttemptService) navigate(ctx context.Context, attemptID string, ev domain.SessionEvent) (Outcome, error) {
	out, err := s.apply(ctx, attemptID, ev)
	metrics.ObserveNavigation(string(ev.Type), err)
	return out, err
}

// EnterQuestion opens a visit on a question.
func (s *AttemptService) EnterQuestion(ctx context.Context, attemptID, questionID string, ts time.Time) (Outcome, error) {
	return s.apply(ctx, attemptID, domain.SessionEvent{Type: domain.EventEnter, QuestionID: questionID, Timestamp: ts})
}

// ExitQuestion closes the open visit on a question.
func (s *AttemptService) ExitQuestion(ctx context.Context, attemptID, questionID string, ts time.Time) (Outcome, error) {
	return s.apply(ctx, attemptID, domain.SessionEvent{Type: domain.EventExit, QuestionID: questionID, Timestamp: ts})
}

// OptionEvent records a hover, change, select or deselect on an option.
func (s *AttemptService) OptionEvent(ctx context.Context, attemptID, questionID, optionID string, kind domain.OptionEventKind, ts time.Time) (Outcome, error) {
	if !kind.Valid() {
		return Outcome{}, fmt.Errorf("option event kind %q: %w", kind, domain.ErrInvalidEvent)
	}
	return s.apply(ctx, attemptID, domain.SessionEvent{Type: domain.EventOption, QuestionID: questionID, OptionID: optionID, Kind: kind, Timestamp: ts})
}

func (s *AttemptService) apply(ctx context.Context, attemptID string, ev domain.SessionEvent) (Outcome, error) {
	sess, err := s.session(ctx, attemptID)
	if err != nil {
		return Outcome{}, err
	}

	out, err := sess.handle(ctx, ev)
	if sess.broken() {
		// the next operation reloads the attempt from the store
		s.sessions.Delete(attemptID)
		metrics.ActiveSessions.Dec()
		s.logger.Error("attempt session dropped", "attempt", attemptID, "err", err)
	}
	if err != nil {
		return Outcome{}, err
	}

	metrics.RecordedEvents.WithLabelValues(string(ev.Type)).Inc()
	if out.Status.Terminal() {
		if s.sessions.DeleteIfFinished(attemptID) {
			metrics.ActiveSessions.Dec()
		}
		s.logger.Info("attempt finished", "attempt", attemptID, "status", out.Status)
	}
	return out, nil
}

func (s *AttemptService) sessionDeps() SessionDeps {
	return SessionDeps{Store: s.attempts, Publisher: s.publisher, Now: s.now, Logger: s.logger}
}

// session returns the live session of an attempt, rebuilding it from the event log when needed.
func (s *AttemptService) session(ctx context.Context, attemptID string) (*Session, error) {
	if sess, ok := s.sessions.Get(attemptID); ok {
		return sess, nil
	}
	if shared, ok := s.sessions.(SessionOwnership); ok {
		// a marker left by a crashed instance only expires with its TTL, so take over anyway
		owned, err := shared.Owned(ctx, attemptID)
		if err != nil {
			s.logger.Warn("session ownership check failed", "attempt", attemptID, "err", err)
		} else if owned {
			s.logger.Warn("attempt held by another instance, taking over from the event log", "attempt", attemptID)
		}
	}
	return s.sessions.GetOrCreate(attemptID, func() (*Session, error) {
		sess, err := s.restore(ctx, attemptID)
		if err != nil {
			return nil, err
		}
		metrics.ActiveSessions.Inc()
		return sess, nil
	})
}

func (s *AttemptService) restore(ctx context.Context, attemptID string) (*Session, error) {
	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshots.Get(ctx, attempt.ConfigVersion)
	if err != nil {
		return nil, err
	}
	group, ok := snap.Group(attempt.GroupID)
	if !ok {
		return nil, fmt.Errorf("attempt %s group %s: %w", attempt.ID, attempt.GroupID, domain.ErrGroupNotFound)
	}

	sess, err := NewSession(attempt, group, s.sessionDeps())
	if err != nil {
		return nil, err
	}
	evs, err := s.attempts.Events(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if err := sess.replay(evs); err != nil {
		return nil, err
	}
	s.logger.Debug("attempt session restored", "attempt", attemptID, "events", len(evs))
	return sess, nil
}

// SubmitForm stores a pre or post form after validating every answer against its question variant.
func (s *AttemptService) SubmitForm(ctx context.Context, attemptID string, formType domain.FormType, answers []domain.FormAnswer) error {
	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	snap, err := s.snapshots.Get(ctx, attempt.ConfigVersion)
	if err != nil {
		return err
	}
	form, ok := snap.Form(formType)
	if !ok {
		return fmt.Errorf("%s form: %w", formType, domain.ErrFormNotFound)
	}
	if err := form.ValidateSubmission(answers); err != nil {
		return err
	}
	return s.attempts.SaveForm(ctx, domain.FormSubmission{
		AttemptID:     attempt.ID,
		UserID:        attempt.UserID,
		ConfigVersion: attempt.ConfigVersion,
		FormType:      formType,
		SubmittedAt:   s.now(),
		Answers:       answers,
	})
}

// Results aggregates one attempt.
func (s *AttemptService) Results(ctx context.Context, attemptID string) (AttemptResults, error) {
	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return AttemptResults{}, err
	}
	return s.results.Attempt(ctx, attempt)
}
