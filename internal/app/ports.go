package app

import (
	"context"

	"experiment-test-service/internal/domain"
)

// SnapshotRepository loads published config snapshots (from cache/backing store).
type SnapshotRepository interface {
	Latest(ctx context.Context) (domain.ConfigSnapshot, error)
	Get(ctx context.Context, version int) (domain.ConfigSnapshot, error)
}

// AnswerKeySource provides the answer key of a config version.
type AnswerKeySource interface {
	AnswerKey(ctx context.Context, version int) (domain.AnswerKey, error)
}

// AttemptStore persists attempts, their append-only session events and form submissions.
type AttemptStore interface {
	// CreateAttempt fails with domain.ErrAttemptInProgress when the user already
	// has an in-progress attempt for the same config version.
	CreateAttempt(ctx context.Context, a domain.Attempt) error
	UpdateAttempt(ctx context.Context, a domain.Attempt) error
	GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error)
	// FindInProgress returns domain.ErrAttemptNotFound when the user has no unfinished attempt.
	FindInProgress(ctx context.Context, userID string, version int) (domain.Attempt, error)
	ListAttempts(ctx context.Context, filter domain.AttemptFilter) ([]domain.Attempt, error)

	AppendEvent(ctx context.Context, ev domain.SessionEvent) error
	// Events returns the events of an attempt in seq order.
	Events(ctx context.Context, attemptID string) ([]domain.SessionEvent, error)

	// SaveForm fails with domain.ErrFormSubmitted on a second submission of the same form type.
	SaveForm(ctx context.Context, sub domain.FormSubmission) error
	Forms(ctx context.Context, attemptID string) ([]domain.FormSubmission, error)
}

// SessionRepository holds the live sessions of this process (in-memory, Redis-marked, etc).
type SessionRepository interface {
	// GetOrCreate returns the session of attemptID, calling build when none is held.
	GetOrCreate(attemptID string, build func() (*Session, error)) (*Session, error)
	Get(attemptID string) (*Session, bool)
	// DeleteIfFinished drops a terminal session and reports whether it did.
	DeleteIfFinished(attemptID string) bool
	// Delete drops a session regardless of its state.
	Delete(attemptID string)
}

// SessionOwnership is implemented by session repositories that mark live
// sessions where other instances can see them.
type SessionOwnership interface {
	Owned(ctx context.Context, attemptID string) (bool, error)
}

// EventPublisher streams accepted session events to live-monitoring collaborators.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.SessionEvent) error
}

// EventSubscriber receives the live stream of one config version.
// The caller must invoke the returned cancel function to avoid leaks.
type EventSubscriber interface {
	Subscribe(ctx context.Context, version int) (<-chan domain.SessionEvent, func(), error)
}
