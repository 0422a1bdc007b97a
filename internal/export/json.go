package export

import (
	"encoding/json"
	"io"

	"experiment-test-service/internal/domain"
)

type questionDocument struct {
	domain.QuestionResult
	Visits       []domain.Visit       `json:"visits"`
	OptionEvents []domain.OptionEvent `json:"optionEvents"`
}

type attemptDocument struct {
	Attempt   domain.Attempt     `json:"attempt"`
	Summary   domain.UserSummary `json:"summary"`
	Questions []questionDocument `json:"questions"`
}

// Document is the JSON export of one participant.
type Document struct {
	FormatVersion int                     `json:"formatVersion"`
	UserID        string                  `json:"user"`
	Attempts      []attemptDocument       `json:"attempts"`
	Forms         []domain.FormSubmission `json:"forms"`
}

// NewDocument pairs every question result with the raw events it was aggregated from.
func NewDocument(u User) Document {
	doc := Document{
		FormatVersion: FormatVersion,
		UserID:        u.UserID,
		Attempts:      make([]attemptDocument, 0, len(u.Attempts)),
		Forms:         u.Forms,
	}
	if doc.Forms == nil {
		doc.Forms = []domain.FormSubmission{}
	}
	for _, a := range u.Attempts {
		raw := make(map[string]domain.QuestionEvent, len(a.Events))
		for _, ev := range a.Events {
			raw[ev.QuestionID] = ev
		}
		ad := attemptDocument{Attempt: a.Attempt, Summary: a.Summary, Questions: make([]questionDocument, 0, len(a.Results))}
		for _, r := range a.Results {
			ev := raw[r.QuestionID]
			ad.Questions = append(ad.Questions, questionDocument{
				QuestionResult: r,
				Visits:         ev.Visits,
				OptionEvents:   ev.OptionEvents,
			})
		}
		doc.Attempts = append(doc.Attempts, ad)
	}
	return doc
}

// WriteJSON encodes the document of one user.
func WriteJSON(w io.Writer, u User) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewDocument(u))
}
