// Package assign picks the experimental group of a new participant.
package assign

import (
	"fmt"
	"math/rand"
	"time"

	"experiment-test-service/internal/domain"
)

// RandomSource is the randomness the core consumes. *rand.Rand satisfies it.
type RandomSource interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// Shuffle pseudo-randomizes the order of n elements.
	Shuffle(n int, swap func(i, j int))
}

// NewSeeded returns a deterministic source. A zero seed is replaced by the current time.
func NewSeeded(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Weight is one entry of the distribution, in declared order.
type Weight struct {
	GroupID string
	Weight  int
}

// WeightsOf lists the group weights of a snapshot in declared order.
func WeightsOf(s domain.ConfigSnapshot) []Weight {
	weights := make([]Weight, 0, len(s.Groups))
	for _, g := range s.Groups {
		weights = append(weights, Weight{GroupID: g.ID, Weight: g.Weight})
	}
	return weights
}

// Assigner draws groups from a weighted distribution. It is not safe for
// concurrent use unless its source is.
type Assigner struct {
	src RandomSource
}

func NewAssigner(src RandomSource) *Assigner {
	return &Assigner{src: src}
}

// Assign draws r uniformly from [0,100) and returns the first group whose
// cumulative upper bound exceeds r.
func (a *Assigner) Assign(weights []Weight) (string, error) {
	if err := check(weights); err != nil {
		return "", err
	}

	r := int(a.src.Float64() * domain.WeightTotal)
	cumulative := 0
	for _, w := range weights {
		cumulative += w.Weight
		if r < cumulative {
			return w.GroupID, nil
		}
	}
	// unreachable while Float64 stays below 1
	return weights[len(weights)-1].GroupID, nil
}

func check(weights []Weight) error {
	if len(weights) == 0 {
		return &domain.ConfigurationError{Path: "groups", Reason: "no groups to assign from"}
	}
	total := 0
	for i, w := range weights {
		if w.Weight < 0 {
			return &domain.ConfigurationError{Path: fmt.Sprintf("groups[%d].weight", i), Reason: "negative weight"}
		}
		total += w.Weight
	}
	if total != domain.WeightTotal {
		return &domain.ConfigurationError{Path: "groups", Reason: fmt.Sprintf("weights sum to %d, want %d", total, domain.WeightTotal)}
	}
	return nil
}
