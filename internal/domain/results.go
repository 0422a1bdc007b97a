package domain

import "time"

// QuestionResult is the aggregated outcome of one question of one attempt.
type QuestionResult struct {
	QuestionID         string    `json:"questionId"`
	PhaseID            string    `json:"phaseId"`
	Start              time.Time `json:"start"`
	End                time.Time `json:"end"`
	Correct            bool      `json:"correct"`
	Skipped            bool      `json:"skipped"`
	TotalOptionChanges int       `json:"totalOptionChanges"`
	TotalOptionHovers  int       `json:"totalOptionHovers"`
}

// Summary condenses the question results of one attempt. Times are milliseconds.
type Summary struct {
	TimeTakenMs       int64   `json:"timeTaken"`
	CorrectQuestions  int     `json:"correctQuestions"`
	QuestionsAnswered int     `json:"questionsAnswered"`
	Accuracy          float64 `json:"accuracy"`
}

// UserSummary is the summary of one user's attempt. Partial is set when
// aggregation found events that the answer key does not know.
type UserSummary struct {
	UserID        string        `json:"userId"`
	AttemptID     string        `json:"attemptId"`
	GroupID       string        `json:"groupId"`
	ConfigVersion int           `json:"configVersion"`
	Status        AttemptStatus `json:"status"`
	Summary
	Partial bool `json:"partial"`
}

// GroupSummary rolls up user summaries. GroupID is empty for a whole-config roll-up.
type GroupSummary struct {
	GroupID                string        `json:"groupId,omitempty"`
	Users                  int           `json:"users"`
	AverageAccuracy        float64       `json:"averageAccuracy"`
	AverageTimeTakenMs     float64       `json:"averageTimeTaken"`
	TotalQuestionsAnswered int           `json:"totalQuestionsAnswered"`
	PartialUsers           int           `json:"partialUsers"`
	Entries                []UserSummary `json:"entries,omitempty"`
}
