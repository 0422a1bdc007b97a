package results

import (
	"errors"
	"testing"
	"time"

	"experiment-test-service/internal/domain"
	"experiment-test-service/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func testKey() domain.AnswerKey {
	return domain.NewAnswerKey(domain.ConfigSnapshot{
		Version: 1,
		Groups: []domain.Group{{
			ID: "g", Weight: 100,
			Protocol: domain.Protocol{ID: "proto", Phases: []domain.Phase{
				{ID: "p1", Questions: []domain.Question{
					{ID: "q1", Options: []domain.Option{{ID: "q1-a", Correct: true}, {ID: "q1-b", Order: 1}}},
					{ID: "q2", Order: 1, Options: []domain.Option{{ID: "q2-a", Correct: true}, {ID: "q2-b", Order: 1}}},
				}},
				{ID: "p2", Order: 1, Questions: []domain.Question{
					{ID: "q3", Options: []domain.Option{{ID: "q3-a", Correct: true}}},
					{ID: "q4", Order: 1, Kind: domain.QuestionSelectMultiple, Options: []domain.Option{
						{ID: "q4-a", Correct: true}, {ID: "q4-b", Order: 1, Correct: true}, {ID: "q4-c", Order: 2},
					}},
				}},
			}},
		}},
	})
}

func answer(t *testing.T, r *events.Recorder, q, option string, ts time.Time) {
	t.Helper()
	require.NoError(t, r.OptionEvent(q, option, domain.OptionChange, ts))
	require.NoError(t, r.OptionEvent(q, option, domain.OptionSelect, ts))
}

func byID(results []domain.QuestionResult) map[string]domain.QuestionResult {
	out := map[string]domain.QuestionResult{}
	for _, r := range results {
		out[r.QuestionID] = r
	}
	return out
}

// Answer q1 correctly, skip q2, go back to q1, answer it wrongly and move on.
func TestSkipAndReanswerScenario(t *testing.T) {
	r := events.NewRecorder()
	require.NoError(t, r.QuestionEnter("q1", at(0)))
	require.NoError(t, r.OptionEvent("q1", "q1-b", domain.OptionHover, at(1)))
	answer(t, r, "q1", "q1-a", at(2))
	require.NoError(t, r.QuestionExit("q1", at(3)))

	require.NoError(t, r.QuestionEnter("q2", at(3)))
	require.NoError(t, r.QuestionSkipped("q2"))
	require.NoError(t, r.QuestionExit("q2", at(4)))

	require.NoError(t, r.QuestionEnter("q3", at(4)))
	require.NoError(t, r.QuestionExit("q3", at(5)))
	require.NoError(t, r.QuestionEnter("q2", at(5)))
	require.NoError(t, r.QuestionExit("q2", at(6)))

	require.NoError(t, r.QuestionEnter("q1", at(6)))
	answer(t, r, "q1", "q1-b", at(7))
	require.NoError(t, r.QuestionExit("q1", at(8)))
	require.NoError(t, r.QuestionEnter("q2", at(8)))
	require.NoError(t, r.QuestionExit("q2", at(9)))

	results, err := Aggregate("attempt-1", r.Snapshot(), testKey())
	require.NoError(t, err)
	got := byID(results)

	q1 := got["q1"]
	assert.Equal(t, at(0), q1.Start)
	assert.Equal(t, at(8), q1.End)
	assert.False(t, q1.Correct)
	assert.False(t, q1.Skipped)
	assert.Equal(t, 2, q1.TotalOptionChanges)
	assert.Equal(t, 1, q1.TotalOptionHovers)
	assert.Equal(t, "p1", q1.PhaseID)

	assert.True(t, got["q2"].Skipped)
	assert.False(t, got["q2"].Correct)
	assert.False(t, got["q3"].Correct)

	s := Summarize(results)
	assert.Equal(t, int64(8000+6000+1000), s.TimeTakenMs)
	assert.Equal(t, 0, s.CorrectQuestions)
	assert.Equal(t, 2, s.QuestionsAnswered)
	assert.Zero(t, s.Accuracy)
}

func TestLastSelectWins(t *testing.T) {
	r := events.NewRecorder()
	require.NoError(t, r.QuestionEnter("q1", at(0)))
	answer(t, r, "q1", "q1-b", at(1))
	answer(t, r, "q1", "q1-a", at(2))
	require.NoError(t, r.OptionEvent("q1", "q1-b", domain.OptionHover, at(3)))
	require.NoError(t, r.QuestionExit("q1", at(4)))

	results, err := Aggregate("a", r.Snapshot(), testKey())
	require.NoError(t, err)
	assert.True(t, results[0].Correct)
	assert.Equal(t, 2, results[0].TotalOptionChanges)
}

func TestNoSelectIsIncorrectButAnswered(t *testing.T) {
	r := events.NewRecorder()
	require.NoError(t, r.QuestionEnter("q1", at(0)))
	require.NoError(t, r.OptionEvent("q1", "q1-a", domain.OptionHover, at(1)))
	require.NoError(t, r.QuestionExit("q1", at(2)))

	results, err := Aggregate("a", r.Snapshot(), testKey())
	require.NoError(t, err)
	assert.False(t, results[0].Correct)
	assert.False(t, results[0].Skipped)
	assert.Equal(t, 1, Summarize(results).QuestionsAnswered)
}

func TestSkipAfterSelectOverridesCorrectness(t *testing.T) {
	r := events.NewRecorder()
	require.NoError(t, r.QuestionEnter("q1", at(0)))
	answer(t, r, "q1", "q1-a", at(1))
	require.NoError(t, r.QuestionSkipped("q1"))
	require.NoError(t, r.QuestionExit("q1", at(2)))

	results, err := Aggregate("a", r.Snapshot(), testKey())
	require.NoError(t, err)
	assert.True(t, results[0].Skipped)
	assert.False(t, results[0].Correct)
}

func TestSelectAfterSkipClearsSkip(t *testing.T) {
	r := events.NewRecorder()
	require.NoError(t, r.QuestionEnter("q1", at(0)))
	require.NoError(t, r.QuestionSkipped("q1"))
	require.NoError(t, r.QuestionExit("q1", at(1)))
	require.NoError(t, r.QuestionEnter("q1", at(2)))
	answer(t, r, "q1", "q1-a", at(3))
	require.NoError(t, r.QuestionExit("q1", at(4)))

	results, err := Aggregate("a", r.Snapshot(), testKey())
	require.NoError(t, err)
	assert.False(t, results[0].Skipped)
	assert.True(t, results[0].Correct)
}

func TestMultipleSelectUsesSetEquality(t *testing.T) {
	cases := []struct {
		name string
		ops  [][2]string
		want bool
	}{
		{"exact set", [][2]string{{"select", "q4-a"}, {"select", "q4-b"}}, true},
		{"missing one", [][2]string{{"select", "q4-a"}}, false},
		{"extra option", [][2]string{{"select", "q4-a"}, {"select", "q4-b"}, {"select", "q4-c"}}, false},
		{"deselected extra", [][2]string{{"select", "q4-a"}, {"select", "q4-c"}, {"deselect", "q4-c"}, {"select", "q4-b"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := events.NewRecorder()
			require.NoError(t, r.QuestionEnter("q4", at(0)))
			for i, op := range tc.ops {
				require.NoError(t, r.OptionEvent("q4", op[1], domain.OptionEventKind(op[0]), at(i+1)))
			}
			results, err := Aggregate("a", r.Snapshot(), testKey())
			require.NoError(t, err)
			assert.Equal(t, tc.want, results[0].Correct)
		})
	}
}

func TestUnknownIdsYieldPartialResult(t *testing.T) {
	r := events.NewRecorder()
	require.NoError(t, r.QuestionEnter("q1", at(0)))
	answer(t, r, "q1", "q1-a", at(1))
	require.NoError(t, r.OptionEvent("q1", "q2-a", domain.OptionSelect, at(1)))
	require.NoError(t, r.QuestionExit("q1", at(2)))
	require.NoError(t, r.QuestionEnter("q-retired", at(2)))
	require.NoError(t, r.QuestionExit("q-retired", at(3)))

	a := domain.Attempt{ID: "a1", UserID: "u1", GroupID: "g", Status: domain.AttemptCompleted}
	summary, results, err := ForAttempt(a, r.Snapshot(), testKey())

	var aggErr *domain.AggregationError
	require.True(t, errors.As(err, &aggErr))
	assert.ErrorIs(t, err, domain.ErrAggregation)
	assert.Equal(t, []string{"q-retired"}, aggErr.UnknownQuestions)
	assert.Equal(t, []string{"q2-a"}, aggErr.UnknownOptions)

	require.Len(t, results, 1)
	assert.True(t, results[0].Correct)
	assert.True(t, summary.Partial)
	assert.Equal(t, 1, summary.CorrectQuestions)
}

func TestSummarizeNeverDividesByZero(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.Accuracy)
	assert.Zero(t, s.QuestionsAnswered)

	s = Summarize([]domain.QuestionResult{{QuestionID: "q1", Skipped: true, Start: at(0), End: at(2)}})
	assert.Zero(t, s.Accuracy)
	assert.Equal(t, int64(2000), s.TimeTakenMs)
}

func TestRollUps(t *testing.T) {
	users := []domain.UserSummary{
		{UserID: "u1", GroupID: "b", Summary: domain.Summary{Accuracy: 1, TimeTakenMs: 1000, QuestionsAnswered: 4}},
		{UserID: "u2", GroupID: "a", Summary: domain.Summary{Accuracy: 0.5, TimeTakenMs: 3000, QuestionsAnswered: 2}},
		{UserID: "u3", GroupID: "a", Partial: true},
	}

	all := RollUp(users)
	assert.Equal(t, 3, all.Users)
	assert.InDelta(t, 0.5, all.AverageAccuracy, 1e-9)
	assert.InDelta(t, 4000.0/3, all.AverageTimeTakenMs, 1e-9)
	assert.Equal(t, 6, all.TotalQuestionsAnswered)
	assert.Equal(t, 1, all.PartialUsers)

	groups := RollUpByGroup(users)
	require.Len(t, groups, 2)
	assert.Equal(t, "a", groups[0].GroupID)
	assert.Equal(t, 2, groups[0].Users)
	assert.InDelta(t, 0.25, groups[0].AverageAccuracy, 1e-9)
	assert.Equal(t, "b", groups[1].GroupID)

	empty := RollUp(nil)
	assert.Zero(t, empty.Users)
	assert.Zero(t, empty.AverageAccuracy)
	assert.Zero(t, empty.AverageTimeTakenMs)
}
