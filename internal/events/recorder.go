// Package events accumulates the timing and option interactions of one attempt.
package events

import (
	"fmt"
	"time"

	"experiment-test-service/internal/domain"
)

// Recorder owns the question events of a single attempt. Records are only ever
// appended or incremented. It is not safe for concurrent use.
type Recorder struct {
	questions map[string]*domain.QuestionEvent
	order     []string
	open      string
}

func NewRecorder() *Recorder {
	return &Recorder{questions: make(map[string]*domain.QuestionEvent)}
}

// QuestionEnter opens a visit. A visit still open on any question is closed at ts first.
func (r *Recorder) QuestionEnter(questionID string, ts time.Time) error {
	if questionID == "" || ts.IsZero() {
		return fmt.Errorf("enter without question or timestamp: %w", domain.ErrInvalidEvent)
	}
	if r.open != "" {
		r.close(ts)
	}

	q, ok := r.questions[questionID]
	if !ok {
		q = &domain.QuestionEvent{QuestionID: questionID}
		r.questions[questionID] = q
		r.order = append(r.order, questionID)
	}
	q.Visits = append(q.Visits, domain.Visit{Start: ts})
	r.open = questionID
	return nil
}

// QuestionExit closes the open visit of questionID.
func (r *Recorder) QuestionExit(questionID string, ts time.Time) error {
	if r.open == "" || r.open != questionID {
		return fmt.Errorf("exit %s: %w", questionID, domain.ErrVisitNotOpen)
	}
	q := r.questions[questionID]
	if ts.Before(q.Visits[len(q.Visits)-1].Start) {
		return fmt.Errorf("exit %s before its start: %w", questionID, domain.ErrInvalidEvent)
	}
	r.close(ts)
	return nil
}

// OptionEvent appends an interaction to the open visit of questionID.
func (r *Recorder) OptionEvent(questionID, optionID string, kind domain.OptionEventKind, ts time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("option event kind %q: %w", kind, domain.ErrInvalidEvent)
	}
	if optionID == "" || ts.IsZero() {
		return fmt.Errorf("option event without option or timestamp: %w", domain.ErrInvalidEvent)
	}
	if r.open != questionID {
		return fmt.Errorf("option event on %s: %w", questionID, domain.ErrVisitNotOpen)
	}

	q := r.questions[questionID]
	q.OptionEvents = append(q.OptionEvents, domain.OptionEvent{
		OptionID:  optionID,
		Kind:      kind,
		Timestamp: ts,
		Visit:     len(q.Visits) - 1,
	})
	switch kind {
	case domain.OptionChange:
		q.TotalOptionChanges++
	case domain.OptionHover:
		q.TotalOptionHovers++
	}
	return nil
}

// QuestionSkipped marks the latest visit of questionID as skipped.
func (r *Recorder) QuestionSkipped(questionID string) error {
	q, ok := r.questions[questionID]
	if !ok || len(q.Visits) == 0 {
		return fmt.Errorf("skip %s: %w", questionID, domain.ErrVisitNotOpen)
	}
	visit := len(q.Visits) - 1
	if n := len(q.Skips); n > 0 && q.Skips[n-1] == visit {
		return nil
	}
	q.Skips = append(q.Skips, visit)
	return nil
}

// CloseOpen ends the open visit, if any, at ts.
func (r *Recorder) CloseOpen(ts time.Time) {
	if r.open != "" {
		r.close(ts)
	}
}

// Visited reports whether questionID has at least one visit.
func (r *Recorder) Visited(questionID string) bool {
	q, ok := r.questions[questionID]
	return ok && len(q.Visits) > 0
}

// Open returns the question with an open visit, or "".
func (r *Recorder) Open() string { return r.open }

func (r *Recorder) close(ts time.Time) {
	q := r.questions[r.open]
	last := &q.Visits[len(q.Visits)-1]
	if ts.Before(last.Start) {
		ts = last.Start
	}
	last.End = ts
	r.open = ""
}

// Snapshot returns deep copies of the recorded question events in first-visit order.
func (r *Recorder) Snapshot() []domain.QuestionEvent {
	out := make([]domain.QuestionEvent, 0, len(r.order))
	for _, id := range r.order {
		q := r.questions[id]
		cp := *q
		cp.Visits = append([]domain.Visit(nil), q.Visits...)
		cp.Skips = append([]int(nil), q.Skips...)
		cp.OptionEvents = append([]domain.OptionEvent(nil), q.OptionEvents...)
		out = append(out, cp)
	}
	return out
}
