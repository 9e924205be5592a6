package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distuv"
)

const logSqrt2Pi = 0.9189385332046727

// SquashedGaussian is a diagonal Gaussian policy whose samples are
// squashed through tanh and affinely mapped into per-dimension action
// bounds. Distribution parameters are laid out as the d means followed
// by the d standard deviations, with the standard deviations already
// transformed to be strictly positive.
type SquashedGaussian struct {
	bounds []r1.Interval
}

// NewSquashedGaussian returns a squashed Gaussian distribution over the
// given per-dimension action bounds.
func NewSquashedGaussian(bounds []r1.Interval) (*SquashedGaussian, error) {
	if len(bounds) == 0 {
		return nil, fmt.Errorf("newSquashedGaussian: no action bounds")
	}
	for i, b := range bounds {
		if b.Max <= b.Min {
			return nil, fmt.Errorf("newSquashedGaussian: dimension %v has "+
				"empty bounds \n\twant(min < max) \n\thave([%v, %v])", i,
				b.Min, b.Max)
		}
	}
	return &SquashedGaussian{bounds: bounds}, nil
}

// Dims returns the dimensionality of the action space.
func (s *SquashedGaussian) Dims() int {
	return len(s.bounds)
}

// ParameterCount returns 2d parameters per state, the means followed by
// the standard deviations.
func (s *SquashedGaussian) ParameterCount() int {
	return 2 * len(s.bounds)
}

// squash maps an unbounded sample into the action bounds of dimension
// d through tanh.
func (s *SquashedGaussian) squash(u float64, d int) float64 {
	b := s.bounds[d]
	return b.Min + (b.Max-b.Min)*(math.Tanh(u)+1)/2
}

// SampleAction draws u ~ N(mu, sigma) per dimension, records u in the
// returned record, and returns the squashed action.
func (s *SquashedGaussian) SampleAction(rng *rand.Rand,
	rec Record) ([]float64, Record) {
	dims := len(s.bounds)
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}

	out := rec.Clone()
	out.UnboundedAction = make([]float64, dims)
	action := make([]float64, dims)
	for d := 0; d < dims; d++ {
		mu := rec.DistributionParams[d]
		sigma := rec.DistributionParams[dims+d]
		u := mu + sigma*norm.Rand()
		out.UnboundedAction[d] = u
		action[d] = s.squash(u, d)
	}
	return action, out
}

// MeanAction returns the squashed mean of the distribution.
func (s *SquashedGaussian) MeanAction(rec Record) []float64 {
	dims := len(s.bounds)
	action := make([]float64, dims)
	for d := 0; d < dims; d++ {
		action[d] = s.squash(rec.DistributionParams[d], d)
	}
	return action
}

// logDensity computes the log density of the stored unbounded action
// under the Gaussian described by rec. The tanh squashing Jacobian is
// identical under any two records for the same stored action, so it
// cancels in importance ratios and is omitted here.
func (s *SquashedGaussian) logDensity(rec Record) float64 {
	dims := len(s.bounds)
	total := 0.0
	for d := 0; d < dims; d++ {
		mu := rec.DistributionParams[d]
		sigma := rec.DistributionParams[dims+d]
		z := (rec.UnboundedAction[d] - mu) / sigma
		total += -0.5*z*z - math.Log(sigma) - logSqrt2Pi
	}
	return total
}

// ImportanceWeight computes the ratio of current to experience policy
// densities for the stored unbounded action. A numerically zero
// experience density yields +Inf so that callers can cap the ratio.
func (s *SquashedGaussian) ImportanceWeight(action []float64, cur,
	exp Record) float64 {
	logExp := s.logDensity(exp)
	if math.IsInf(logExp, -1) {
		return math.Inf(1)
	}
	logCur := s.logDensity(cur)
	ratio := math.Exp(logCur - logExp)
	if math.IsNaN(ratio) {
		return math.Inf(1)
	}
	return ratio
}

// KLDivergence computes the closed form KL divergence KL(exp || cur)
// between the unbounded Gaussians of two records.
func (s *SquashedGaussian) KLDivergence(exp, cur Record) float64 {
	dims := len(s.bounds)
	total := 0.0
	for d := 0; d < dims; d++ {
		muE, sigE := exp.DistributionParams[d], exp.DistributionParams[dims+d]
		muC, sigC := cur.DistributionParams[d], cur.DistributionParams[dims+d]
		diff := muE - muC
		total += math.Log(sigC/sigE) +
			(sigE*sigE+diff*diff)/(2*sigC*sigC) - 0.5
	}
	return total
}
