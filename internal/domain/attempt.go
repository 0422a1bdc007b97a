package domain

import "time"

// AttemptStatus is the lifecycle state of an attempt.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in-progress"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptAbandoned  AttemptStatus = "abandoned"
)

// Terminal reports whether no further transition is possible.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptCompleted || s == AttemptAbandoned
}

// Position indexes the presentation order of an attempt, not the protocol's declared order.
type Position struct {
	Phase    int `json:"phase"`
	Question int `json:"question"`
}

// AttemptOrder holds the permutations generated once at assignment time.
// Phases lists phase ids in presentation order, Questions maps a phase id to its
// question ids and Options maps a question id to its option ids.
type AttemptOrder struct {
	Phases    []string            `json:"phases"`
	Questions map[string][]string `json:"questions"`
	Options   map[string][]string `json:"options"`
}

// Attempt is one participant's pass through an assigned protocol.
type Attempt struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	GroupID       string        `json:"groupId"`
	ConfigVersion int           `json:"configVersion"`
	StartedAt     time.Time     `json:"startedAt"`
	EndedAt       *time.Time    `json:"endedAt,omitempty"`
	Position      Position      `json:"position"`
	Status        AttemptStatus `json:"status"`
	Order         AttemptOrder  `json:"order"`
}

// AttemptFilter narrows attempt listings. Zero values match everything.
type AttemptFilter struct {
	ConfigVersion int
	GroupID       string
	UserID        string
}

// Matches reports whether the attempt satisfies the filter.
func (f AttemptFilter) Matches(a Attempt) bool {
	if f.ConfigVersion != 0 && a.ConfigVersion != f.ConfigVersion {
		return false
	}
	if f.GroupID != "" && a.GroupID != f.GroupID {
		return false
	}
	if f.UserID != "" && a.UserID != f.UserID {
		return false
	}
	return true
}
