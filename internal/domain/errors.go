package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("configuration error")
	// ErrNavigation matches every *NavigationError.
	ErrNavigation = errors.New("navigation error")
	// ErrAggregation matches every *AggregationError.
	ErrAggregation = errors.New("aggregation error")

	// ErrSnapshotNotFound indicates no published config snapshot exists for the requested version.
	ErrSnapshotNotFound = errors.New("config snapshot not found")
	// ErrAttemptNotFound is returned when an attempt id or unfinished attempt is unknown.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAttemptInProgress is returned when a user already has an unfinished attempt.
	ErrAttemptInProgress = errors.New("user has already started an attempt")
	// ErrAttemptFinished is returned when recording against a terminal attempt.
	ErrAttemptFinished = errors.New("attempt already finished")
	// ErrGroupNotFound indicates an attempt references a group missing from its snapshot.
	ErrGroupNotFound = errors.New("group not found")
	// ErrQuestionNotFound indicates a question id is not part of the attempt's protocol.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates an option id is not part of the question.
	ErrOptionNotFound = errors.New("option not found")
	// ErrVisitNotOpen is returned when exiting a question that has no open visit.
	ErrVisitNotOpen = errors.New("question visit not open")
	// ErrInvalidEvent is returned for malformed interaction events.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrFormNotFound indicates the snapshot has no form of the requested type.
	ErrFormNotFound = errors.New("form not found")
	// ErrFormSubmitted is returned when a form of the same type was already submitted for the attempt.
	ErrFormSubmitted = errors.New("form already submitted")
	// ErrInvalidFormAnswer indicates a form answer does not fit its question variant.
	ErrInvalidFormAnswer = errors.New("invalid form answer")
)

// ConfigurationError reports a malformed snapshot. Path locates the offending node.
type ConfigurationError struct {
	Path   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s: %s", e.Path, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NavigationError reports a rejected transition; the attempt state is unchanged.
type NavigationError struct {
	Op     string
	Reason string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation: %s: %s", e.Op, e.Reason)
}

func (e *NavigationError) Is(target error) bool { return target == ErrNavigation }

// AggregationError marks a partial result: events referenced ids that the answer key does not know.
type AggregationError struct {
	AttemptID        string
	UnknownQuestions []string
	UnknownOptions   []string
}

func (e *AggregationError) Error() string {
	var parts []string
	if len(e.UnknownQuestions) > 0 {
		parts = append(parts, "unknown questions "+strings.Join(e.UnknownQuestions, ","))
	}
	if len(e.UnknownOptions) > 0 {
		parts = append(parts, "unknown options "+strings.Join(e.UnknownOptions, ","))
	}
	return fmt.Sprintf("aggregation: attempt %s: %s", e.AttemptID, strings.Join(parts, "; "))
}

func (e *AggregationError) Is(target error) bool { return target == ErrAggregation }
