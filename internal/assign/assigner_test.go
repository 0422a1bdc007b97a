package assign

import (
	"errors"
	"math"
	"testing"

	"experiment-test-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource struct{ value float64 }

func (f fixedSource) Float64() float64 { return f.value }
func (f fixedSource) Shuffle(int, func(i, j int)) {}

func TestAssignWalksCumulativeDistribution(t *testing.T) {
	weights := []Weight{{GroupID: "A", Weight: 70}, {GroupID: "B", Weight: 30}}

	cases := []struct {
		draw float64
		want string
	}{
		{0, "A"},
		{0.5, "A"},
		{0.699, "A"},
		{0.70, "B"},
		{0.999, "B"},
	}
	for _, tc := range cases {
		got, err := NewAssigner(fixedSource{tc.draw}).Assign(weights)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "draw %v", tc.draw)
	}
}

func TestAssignRejectsMalformedWeights(t *testing.T) {
	a := NewAssigner(fixedSource{0.1})

	_, err := a.Assign(nil)
	require.True(t, errors.Is(err, domain.ErrConfiguration))

	_, err = a.Assign([]Weight{{GroupID: "A", Weight: 60}, {GroupID: "B", Weight: 30}})
	require.True(t, errors.Is(err, domain.ErrConfiguration))
	assert.Contains(t, err.Error(), "weights sum to 90")

	_, err = a.Assign([]Weight{{GroupID: "A", Weight: 110}, {GroupID: "B", Weight: -10}})
	require.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestSeededAssignmentConvergesToWeights(t *testing.T) {
	weights := []Weight{{GroupID: "A", Weight: 50}, {GroupID: "B", Weight: 30}, {GroupID: "C", Weight: 20}}
	a := NewAssigner(NewSeeded(42))

	const draws = 20000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		g, err := a.Assign(weights)
		require.NoError(t, err)
		counts[g]++
	}
	for _, w := range weights {
		got := float64(counts[w.GroupID]) / draws
		assert.LessOrEqual(t, math.Abs(got-float64(w.Weight)/100), 0.02, "group %s share %.3f", w.GroupID, got)
	}
}

func TestSeededAssignmentIsDeterministic(t *testing.T) {
	weights := []Weight{{GroupID: "A", Weight: 50}, {GroupID: "B", Weight: 50}}
	first, second := NewAssigner(NewSeeded(7)), NewAssigner(NewSeeded(7))
	for i := 0; i < 100; i++ {
		g1, _ := first.Assign(weights)
		g2, _ := second.Assign(weights)
		require.Equal(t, g1, g2)
	}
}
