package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"experiment-test-service/internal/domain"
)

// Delimiter separates CSV fields.
const Delimiter = ';'

// TestHeader is the column order of the test CSV, format version 1.
var TestHeader = []string{
	"user_id", "config_version", "attempt_id", "attempt_status", "group", "timestamp",
	"time_taken", "correct_questions", "questions_answered", "accuracy",
	"question_id", "phase_id", "question_start", "question_end", "question_correct", "question_skipped",
	"total_option_changes", "total_option_hovers",
	"event_option_id", "event_type", "event_timestamp",
}

// FormHeader is the column order of the form CSV, format version 1.
var FormHeader = []string{
	"user_id", "config_version", "attempt_id", "form_type", "timestamp",
	"question_id", "option_id", "value", "answer",
}

// TestRows flattens a user's attempts into rows: one per option event, one for
// a question without option events and one for an attempt without questions.
func TestRows(u User) [][]string {
	var rows [][]string
	for _, a := range u.Attempts {
		prefix := []string{
			u.UserID,
			itoa(a.Attempt.ConfigVersion),
			a.Attempt.ID,
			string(a.Attempt.Status),
			a.Attempt.GroupID,
			millis(a.Attempt.StartedAt),
			fmt.Sprint(a.Summary.TimeTakenMs),
			itoa(a.Summary.CorrectQuestions),
			itoa(a.Summary.QuestionsAnswered),
			ftoa(a.Summary.Accuracy),
		}
		if len(a.Results) == 0 {
			rows = append(rows, join(prefix, make([]string, 11)))
			continue
		}

		optionEvents := make(map[string][]domain.OptionEvent, len(a.Events))
		for _, ev := range a.Events {
			optionEvents[ev.QuestionID] = ev.OptionEvents
		}
		for _, r := range a.Results {
			question := []string{
				r.QuestionID,
				r.PhaseID,
				millis(r.Start),
				millis(r.End),
				btoa(r.Correct),
				btoa(r.Skipped),
				itoa(r.TotalOptionChanges),
				itoa(r.TotalOptionHovers),
			}
			evs := optionEvents[r.QuestionID]
			if len(evs) == 0 {
				rows = append(rows, join(prefix, question, []string{"", "", ""}))
				continue
			}
			for _, oe := range evs {
				rows = append(rows, join(prefix, question, []string{oe.OptionID, string(oe.Kind), millis(oe.Timestamp)}))
			}
		}
	}
	return rows
}

// FormRows flattens a user's form submissions into one row per answer.
func FormRows(u User) [][]string {
	var rows [][]string
	for _, s := range u.Forms {
		for _, a := range s.Answers {
			rows = append(rows, []string{
				u.UserID,
				itoa(s.ConfigVersion),
				s.AttemptID,
				string(s.FormType),
				millis(s.SubmittedAt),
				a.QuestionID,
				optional(a.OptionID, func(v string) string { return v }),
				optional(a.Value, itoa),
				optional(a.Answer, func(v string) string { return v }),
			})
		}
	}
	return rows
}

// WriteTestCSV writes the header and the test rows of every user.
func WriteTestCSV(w io.Writer, users ...User) error {
	var rows [][]string
	for _, u := range users {
		rows = append(rows, TestRows(u)...)
	}
	return writeCSV(w, TestHeader, rows)
}

// WriteFormCSV writes the header and the form rows of every user.
func WriteFormCSV(w io.Writer, users ...User) error {
	var rows [][]string
	for _, u := range users {
		rows = append(rows, FormRows(u)...)
	}
	return writeCSV(w, FormHeader, rows)
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	writer := csv.NewWriter(w)
	writer.Comma = Delimiter
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

func join(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
