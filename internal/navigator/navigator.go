// Package navigator walks one attempt through its assigned protocol.
package navigator

import (
	"experiment-test-service/internal/domain"
)

// Move describes an accepted transition. Question is empty when the move completed the attempt.
type Move struct {
	From      domain.Position
	To        domain.Position
	Question  string
	Skipped   string
	Completed bool
}

// Navigator is the (phase, question) state machine of one attempt. It is not safe
// for concurrent use; the owning session serializes calls.
type Navigator struct {
	view    AssignedProtocol
	pos     domain.Position
	history []domain.Position
	status  domain.AttemptStatus
}

// New positions a fresh attempt on its first question. The order must have been
// generated by NewOrder for the same protocol.
func New(p domain.Protocol, order domain.AttemptOrder) (*Navigator, error) {
	view, err := arrange(p, order)
	if err != nil {
		return nil, err
	}
	return &Navigator{view: view, status: domain.AttemptInProgress}, nil
}

func (n *Navigator) Status() domain.AttemptStatus { return n.status }

func (n *Navigator) Position() domain.Position { return n.pos }

// History returns a copy of the positions that Previous can return to, oldest first.
func (n *Navigator) History() []domain.Position {
	return append([]domain.Position(nil), n.history...)
}

// Assigned returns the protocol in this attempt's presentation order.
func (n *Navigator) Assigned() AssignedProtocol { return n.view }

// Current returns the question at the current position. After completion it
// still reports the last question.
func (n *Navigator) Current() AssignedQuestion {
	return n.view.Phases[n.pos.Phase].Questions[n.pos.Question]
}

// Next advances one question, crossing phase boundaries. Moving past the last
// question of the last phase completes the attempt.
func (n *Navigator) Next() (Move, error) {
	if err := n.transitionAllowed("next"); err != nil {
		return Move{}, err
	}
	return n.advance(), nil
}

// Previous returns to the position on top of the history stack when the
// protocol's policy allows it. The very first question has no predecessor.
func (n *Navigator) Previous() (Move, error) {
	if err := n.transitionAllowed("previous"); err != nil {
		return Move{}, err
	}
	if (n.pos == domain.Position{}) || len(n.history) == 0 {
		return Move{}, &domain.NavigationError{Op: "previous", Reason: "already at the first question"}
	}

	target := n.history[len(n.history)-1]
	if target.Phase == n.pos.Phase && !n.view.AllowPreviousQuestion {
		return Move{}, &domain.NavigationError{Op: "previous", Reason: "going back to a previous question is not allowed"}
	}
	if target.Phase != n.pos.Phase && !n.view.AllowPreviousPhase {
		return Move{}, &domain.NavigationError{Op: "previous", Reason: "going back to a previous phase is not allowed"}
	}

	move := Move{From: n.pos, To: target}
	n.history = n.history[:len(n.history)-1]
	n.pos = target
	move.Question = n.Current().ID
	return move, nil
}

// Skip leaves the current question unanswered and behaves like Next.
func (n *Navigator) Skip() (Move, error) {
	if err := n.transitionAllowed("skip"); err != nil {
		return Move{}, err
	}
	if !n.view.AllowSkipQuestion {
		return Move{}, &domain.NavigationError{Op: "skip", Reason: "skipping questions is not allowed"}
	}
	skipped := n.Current().ID
	move := n.advance()
	move.Skipped = skipped
	return move, nil
}

// Abandon ends an in-progress attempt without completing it.
func (n *Navigator) Abandon() error {
	if err := n.transitionAllowed("abandon"); err != nil {
		return err
	}
	n.status = domain.AttemptAbandoned
	return nil
}

func (n *Navigator) transitionAllowed(op string) error {
	switch n.status {
	case domain.AttemptCompleted:
		return &domain.NavigationError{Op: op, Reason: "attempt already completed"}
	case domain.AttemptAbandoned:
		return &domain.NavigationError{Op: op, Reason: "attempt abandoned"}
	}
	return nil
}

func (n *Navigator) advance() Move {
	move := Move{From: n.pos}
	n.history = append(n.history, n.pos)

	switch {
	case n.pos.Question+1 < len(n.view.Phases[n.pos.Phase].Questions):
		n.pos.Question++
	case n.pos.Phase+1 < len(n.view.Phases):
		n.pos = domain.Position{Phase: n.pos.Phase + 1}
	default:
		// position stays on the last question
		n.status = domain.AttemptCompleted
		move.To = n.pos
		move.Completed = true
		return move
	}
	move.To = n.pos
	move.Question = n.Current().ID
	return move
}
