package domain

import "time"

// OptionEventKind is the interaction recorded against an option.
type OptionEventKind string

const (
	OptionHover    OptionEventKind = "hover"
	OptionChange   OptionEventKind = "change"
	OptionSelect   OptionEventKind = "select"
	OptionDeselect OptionEventKind = "deselect"
)

// Valid reports whether k is a known kind.
func (k OptionEventKind) Valid() bool {
	switch k {
	case OptionHover, OptionChange, OptionSelect, OptionDeselect:
		return true
	}
	return false
}

// OptionEvent is one interaction with an option. Visit is the index of the
// question visit during which it happened.
type OptionEvent struct {
	OptionID  string          `json:"optionId"`
	Kind      OptionEventKind `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Visit     int             `json:"visit"`
}

// Visit is one (start, end) span on a question. End is zero while the visit is open.
type Visit struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// QuestionEvent accumulates everything recorded for one question of one attempt.
// Skips holds the indices of the visits that ended in a skip.
type QuestionEvent struct {
	QuestionID         string        `json:"questionId"`
	Visits             []Visit       `json:"visits"`
	Skips              []int         `json:"skips,omitempty"`
	TotalOptionChanges int           `json:"totalOptionChanges"`
	TotalOptionHovers  int           `json:"totalOptionHovers"`
	OptionEvents       []OptionEvent `json:"optionEvents"`
}

// SessionEventType names an accepted session operation.
type SessionEventType string

const (
	EventEnter    SessionEventType = "enter"
	EventExit     SessionEventType = "exit"
	EventOption   SessionEventType = "option"
	EventNext     SessionEventType = "next"
	EventPrevious SessionEventType = "previous"
	EventSkip     SessionEventType = "skip"
	EventAbandon  SessionEventType = "abandon"
)

// SessionEvent is the append-only record of one accepted operation on an attempt.
// Replaying an attempt's events in Seq order rebuilds its navigator and recorder.
type SessionEvent struct {
	AttemptID     string           `json:"attemptId"`
	UserID        string           `json:"userId"`
	ConfigVersion int              `json:"configVersion"`
	Seq           int64            `json:"seq"`
	Type          SessionEventType `json:"type"`
	QuestionID    string           `json:"questionId,omitempty"`
	OptionID      string           `json:"optionId,omitempty"`
	Kind          OptionEventKind  `json:"kind,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}
