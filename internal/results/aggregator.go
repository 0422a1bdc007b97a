// Package results reduces recorded question events into correctness and summary metrics.
package results

import (
	"sort"
	"time"

	"experiment-test-service/internal/domain"
)

// Aggregate produces one result per recorded question. Events referencing ids
// the answer key does not know are left out and reported through a
// *domain.AggregationError alongside the results that could be computed.
func Aggregate(attemptID string, events []domain.QuestionEvent, key domain.AnswerKey) ([]domain.QuestionResult, error) {
	results := make([]domain.QuestionResult, 0, len(events))
	unknownQuestions := map[string]struct{}{}
	unknownOptions := map[string]struct{}{}

	for _, ev := range events {
		qk, ok := key.Question(ev.QuestionID)
		if !ok {
			unknownQuestions[ev.QuestionID] = struct{}{}
			continue
		}

		res := domain.QuestionResult{
			QuestionID:         ev.QuestionID,
			PhaseID:            qk.PhaseID,
			TotalOptionChanges: ev.TotalOptionChanges,
			TotalOptionHovers:  ev.TotalOptionHovers,
		}
		res.Start, res.End = span(ev.Visits)

		lastSelectVisit := -1
		var lastSelected string
		selected := map[string]bool{}
		for _, oe := range ev.OptionEvents {
			opt, known := key.Option(oe.OptionID)
			if !known || opt.QuestionID != ev.QuestionID {
				unknownOptions[oe.OptionID] = struct{}{}
				continue
			}
			switch oe.Kind {
			case domain.OptionSelect:
				lastSelectVisit = oe.Visit
				lastSelected = oe.OptionID
				selected[oe.OptionID] = true
			case domain.OptionDeselect:
				delete(selected, oe.OptionID)
			}
		}

		for _, v := range ev.Skips {
			if v >= lastSelectVisit {
				res.Skipped = true
			}
		}
		if !res.Skipped && lastSelectVisit >= 0 {
			if qk.Kind == domain.QuestionSelectMultiple {
				res.Correct = sameSet(selected, qk.CorrectOptions)
			} else {
				o, _ := key.Option(lastSelected)
				res.Correct = o.Correct
			}
		}
		results = append(results, res)
	}

	if len(unknownQuestions) > 0 || len(unknownOptions) > 0 {
		return results, &domain.AggregationError{
			AttemptID:        attemptID,
			UnknownQuestions: sortedKeys(unknownQuestions),
			UnknownOptions:   sortedKeys(unknownOptions),
		}
	}
	return results, nil
}

// span returns the earliest start and latest end of the visits. An open visit
// counts as ending where it started.
func span(visits []domain.Visit) (time.Time, time.Time) {
	var start, end time.Time
	for i, v := range visits {
		e := v.End
		if e.IsZero() {
			e = v.Start
		}
		if i == 0 || v.Start.Before(start) {
			start = v.Start
		}
		if i == 0 || e.After(end) {
			end = e
		}
	}
	return start, end
}

func sameSet(selected map[string]bool, correct []string) bool {
	if len(selected) != len(correct) {
		return false
	}
	for _, id := range correct {
		if !selected[id] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Summarize condenses question results. Accuracy is 0 when nothing was answered.
func Summarize(results []domain.QuestionResult) domain.Summary {
	var s domain.Summary
	for _, r := range results {
		s.TimeTakenMs += r.End.Sub(r.Start).Milliseconds()
		if r.Correct {
			s.CorrectQuestions++
		}
		if !r.Skipped {
			s.QuestionsAnswered++
		}
	}
	if s.QuestionsAnswered > 0 {
		s.Accuracy = float64(s.CorrectQuestions) / float64(s.QuestionsAnswered)
	}
	return s
}

// ForAttempt aggregates and summarizes one attempt. The summary is partial when
// the attempt has not completed or aggregation hit unknown ids; the
// *domain.AggregationError, if any, is returned as well.
func ForAttempt(a domain.Attempt, events []domain.QuestionEvent, key domain.AnswerKey) (domain.UserSummary, []domain.QuestionResult, error) {
	res, err := Aggregate(a.ID, events, key)
	return domain.UserSummary{
		UserID:        a.UserID,
		AttemptID:     a.ID,
		GroupID:       a.GroupID,
		ConfigVersion: a.ConfigVersion,
		Status:        a.Status,
		Summary:       Summarize(res),
		Partial:       err != nil || a.Status != domain.AttemptCompleted,
	}, res, err
}

// RollUp averages user summaries. An empty input yields zero averages.
func RollUp(users []domain.UserSummary) domain.GroupSummary {
	g := domain.GroupSummary{Users: len(users), Entries: append([]domain.UserSummary(nil), users...)}
	if len(users) == 0 {
		return g
	}
	var accuracy float64
	var timeTaken int64
	for _, u := range users {
		accuracy += u.Accuracy
		timeTaken += u.TimeTakenMs
		g.TotalQuestionsAnswered += u.QuestionsAnswered
		if u.Partial {
			g.PartialUsers++
		}
	}
	g.AverageAccuracy = accuracy / float64(len(users))
	g.AverageTimeTakenMs = float64(timeTaken) / float64(len(users))
	return g
}

// RollUpByGroup rolls up users per group, ordered by group id.
func RollUpByGroup(users []domain.UserSummary) []domain.GroupSummary {
	byGroup := map[string][]domain.UserSummary{}
	for _, u := range users {
		byGroup[u.GroupID] = append(byGroup[u.GroupID], u)
	}
	ids := make([]string, 0, len(byGroup))
	for id := range byGroup {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]domain.GroupSummary, 0, len(ids))
	for _, id := range ids {
		g := RollUp(byGroup[id])
		g.GroupID = id
		out = append(out, g)
	}
	return out
}
