package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

// Softmax is a categorical policy over a finite action set. Distribution
// parameters are the per-action preferences, which are converted to
// probabilities with a numerically stable softmax.
type Softmax struct {
	numActions int
}

// NewSoftmax returns a categorical distribution over numActions
// actions.
func NewSoftmax(numActions int) (*Softmax, error) {
	if numActions < 2 {
		return nil, fmt.Errorf("newSoftmax: need at least two actions "+
			"\n\thave(%v)", numActions)
	}
	return &Softmax{numActions: numActions}, nil
}

// ParameterCount returns one preference per action.
func (s *Softmax) ParameterCount() int {
	return s.numActions
}

// probabilities converts preferences to categorical probabilities.
func (s *Softmax) probabilities(params []float64) []float64 {
	max := floats.Max(params)
	probs := make([]float64, len(params))
	total := 0.0
	for i, p := range params {
		probs[i] = math.Exp(p - max)
		total += probs[i]
	}
	floats.Scale(1/total, probs)
	return probs
}

// SampleAction draws an action index from the categorical distribution
// and records the index and probabilities in the returned record.
func (s *Softmax) SampleAction(rng *rand.Rand, rec Record) ([]float64,
	Record) {
	probs := s.probabilities(rec.DistributionParams)

	u := rng.Float64()
	idx := len(probs) - 1
	cdf := 0.0
	for i, p := range probs {
		cdf += p
		if u < cdf {
			idx = i
			break
		}
	}

	out := rec.Clone()
	out.ActionIndex = idx
	out.ActionProbabilities = probs
	return []float64{float64(idx)}, out
}

// MeanAction returns the most probable action.
func (s *Softmax) MeanAction(rec Record) []float64 {
	probs := s.probabilities(rec.DistributionParams)
	return []float64{float64(floats.MaxIdx(probs))}
}

// ImportanceWeight computes the probability ratio of the stored action
// index under the two records. A zero experience probability yields
// +Inf.
func (s *Softmax) ImportanceWeight(action []float64, cur,
	exp Record) float64 {
	idx := exp.ActionIndex
	pExp := exp.ActionProbabilities[idx]
	if pExp <= 0 {
		return math.Inf(1)
	}
	pCur := s.probabilities(cur.DistributionParams)[idx]
	return pCur / pExp
}
