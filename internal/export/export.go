// Package export renders aggregated results into the tabular and document
// formats handed to researchers.
package export

import (
	"strconv"
	"time"

	"experiment-test-service/internal/domain"
)

// FormatVersion identifies the column layout of the CSV exports. Reordering or
// removing a column requires a new version.
const FormatVersion = 1

// Attempt bundles one attempt with its aggregated and raw data.
type Attempt struct {
	Attempt domain.Attempt
	Summary domain.UserSummary
	Results []domain.QuestionResult
	Events  []domain.QuestionEvent
}

// User is everything exported for one participant.
type User struct {
	UserID   string
	Attempts []Attempt
	Forms    []domain.FormSubmission
}

func millis(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func itoa(n int) string { return strconv.Itoa(n) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func btoa(b bool) string { return strconv.FormatBool(b) }

func optional[T any](v *T, format func(T) string) string {
	if v == nil {
		return ""
	}
	return format(*v)
}
