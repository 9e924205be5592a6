// Package rescale implements the statistical rescaling applied to
// states and rewards before they reach the learner: one-shot state
// whitening, a running per-environment reward sigma, and the penalty
// applied to rewards of out-of-bound actions.
package rescale

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat"
)

// StateScaler whitens state observations with per-component means and
// standard deviations. The statistics are computed exactly once, from
// the buffer contents at the time Fit is called, and are fixed
// afterwards so that repeated application is stable.
type StateScaler struct {
	means   []float64
	stdDevs []float64
}

// NewStateScaler returns an unfitted state scaler. Until Fit is
// called, Apply is the identity.
func NewStateScaler() *StateScaler {
	return &StateScaler{}
}

// Fitted returns whether the scaler's statistics have been computed.
func (s *StateScaler) Fitted() bool {
	return s.means != nil
}

// Fit computes per-component means and standard deviations from the
// given states. Calling Fit on a fitted scaler is an error, since the
// statistics are fixed after the warmup.
func (s *StateScaler) Fit(states [][]float64) error {
	if s.Fitted() {
		return fmt.Errorf("fit: state scaler is already fitted")
	}
	if len(states) == 0 {
		return fmt.Errorf("fit: no states to fit")
	}

	dims := len(states[0])
	s.means = make([]float64, dims)
	s.stdDevs = make([]float64, dims)

	column := make([]float64, len(states))
	for d := 0; d < dims; d++ {
		for i, state := range states {
			if len(state) != dims {
				s.means, s.stdDevs = nil, nil
				return fmt.Errorf("fit: state %v has wrong number of "+
					"features \n\twant(%v) \n\thave(%v)", i, dims, len(state))
			}
			column[i] = state[d]
		}
		mean, stdDev := stat.MeanStdDev(column, nil)
		if math.IsNaN(mean) || math.IsInf(mean, 0) {
			s.means, s.stdDevs = nil, nil
			return fmt.Errorf("fit: non-finite mean for feature %v", d)
		}
		if stdDev == 0 || math.IsNaN(stdDev) {
			stdDev = 1
		}
		s.means[d] = mean
		s.stdDevs[d] = stdDev
	}
	return nil
}

// Apply returns the whitened copy of a state. An unfitted scaler
// returns an unmodified copy.
func (s *StateScaler) Apply(state []float64) []float64 {
	out := append([]float64(nil), state...)
	if !s.Fitted() {
		return out
	}
	for d := range out {
		out[d] = (out[d] - s.means[d]) / s.stdDevs[d]
	}
	return out
}

// Means returns the fitted per-component means, or nil if unfitted.
func (s *StateScaler) Means() []float64 {
	return append([]float64(nil), s.means...)
}

// StdDevs returns the fitted per-component standard deviations, or nil
// if unfitted.
func (s *StateScaler) StdDevs() []float64 {
	return append([]float64(nil), s.stdDevs...)
}

// Restore sets the scaler's statistics directly, used when resuming
// from a checkpoint.
func (s *StateScaler) Restore(means, stdDevs []float64) error {
	if len(means) != len(stdDevs) {
		return fmt.Errorf("restore: mismatched statistics \n\twant(%v "+
			"standard deviations) \n\thave(%v)", len(means), len(stdDevs))
	}
	if len(means) == 0 {
		s.means, s.stdDevs = nil, nil
		return nil
	}
	s.means = append([]float64(nil), means...)
	s.stdDevs = append([]float64(nil), stdDevs...)
	return nil
}

// RewardScaler maintains a running reward sigma per environment. The
// sigma of environment e is sqrt(sumSquared[e] / count[e]) over the
// rewards currently held in the replay memory, so rewards must be
// removed as their experiences are evicted.
type RewardScaler struct {
	sumSquared []float64
	counts     []int
}

// NewRewardScaler returns a reward scaler tracking numEnvs
// environments.
func NewRewardScaler(numEnvs int) (*RewardScaler, error) {
	if numEnvs <= 0 {
		return nil, fmt.Errorf("newRewardScaler: number of environments "+
			"must be positive \n\thave(%v)", numEnvs)
	}
	return &RewardScaler{
		sumSquared: make([]float64, numEnvs),
		counts:     make([]int, numEnvs),
	}, nil
}

// NumEnvs returns the number of tracked environments.
func (r *RewardScaler) NumEnvs() int {
	return len(r.counts)
}

func (r *RewardScaler) checkEnv(op string, envID int) error {
	if envID < 0 || envID >= len(r.counts) {
		return fmt.Errorf("%v: invalid environment id \n\twant([0, %v)) "+
			"\n\thave(%v)", op, len(r.counts), envID)
	}
	return nil
}

// Add registers a reward entering the replay memory.
func (r *RewardScaler) Add(envID int, reward float64) error {
	if err := r.checkEnv("add", envID); err != nil {
		return err
	}
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		return fmt.Errorf("add: non-finite reward for environment %v", envID)
	}
	r.sumSquared[envID] += reward * reward
	r.counts[envID]++
	return nil
}

// Remove deregisters the reward of an evicted experience.
func (r *RewardScaler) Remove(envID int, reward float64) error {
	if err := r.checkEnv("remove", envID); err != nil {
		return err
	}
	if r.counts[envID] == 0 {
		return fmt.Errorf("remove: environment %v has no registered rewards",
			envID)
	}
	r.sumSquared[envID] -= reward * reward
	r.counts[envID]--
	if r.counts[envID] == 0 || r.sumSquared[envID] < 0 {
		r.sumSquared[envID] = math.Max(r.sumSquared[envID], 0)
	}
	return nil
}

// Sigma returns the running reward sigma of an environment, or 1 when
// the sigma is zero so that scaling never divides by zero.
func (r *RewardScaler) Sigma(envID int) float64 {
	if envID < 0 || envID >= len(r.counts) || r.counts[envID] == 0 {
		return 1
	}
	sigma := math.Sqrt(r.sumSquared[envID] / float64(r.counts[envID]))
	if sigma == 0 {
		return 1
	}
	return sigma
}

// Scale returns the reward divided by the environment's running sigma.
func (r *RewardScaler) Scale(envID int, reward float64) float64 {
	return reward / r.Sigma(envID)
}

// SumSquared returns the per-environment running sums of squared
// rewards, used for checkpointing.
func (r *RewardScaler) SumSquared() []float64 {
	return append([]float64(nil), r.sumSquared...)
}

// Counts returns the per-environment reward counts, used for
// checkpointing.
func (r *RewardScaler) Counts() []int {
	return append([]int(nil), r.counts...)
}

// Restore sets the scaler's running sums directly, used when resuming
// from a checkpoint.
func (r *RewardScaler) Restore(sumSquared []float64, counts []int) error {
	if len(sumSquared) != len(r.sumSquared) || len(counts) != len(r.counts) {
		return fmt.Errorf("restore: wrong number of environments "+
			"\n\twant(%v) \n\thave(%v, %v)", len(r.counts), len(sumSquared),
			len(counts))
	}
	copy(r.sumSquared, sumSquared)
	copy(r.counts, counts)
	return nil
}

// OutboundPenalty scales the reward of any action with a component
// outside its bounds. The penalty is applied before reward rescaling
// so that the running sigma reflects the penalized distribution.
type OutboundPenalty struct {
	bounds []r1.Interval
	factor float64
}

// NewOutboundPenalty returns a penalty over the given action bounds.
func NewOutboundPenalty(bounds []r1.Interval,
	factor float64) (*OutboundPenalty, error) {
	if len(bounds) == 0 {
		return nil, fmt.Errorf("newOutboundPenalty: no action bounds")
	}
	if math.IsNaN(factor) || math.IsInf(factor, 0) {
		return nil, fmt.Errorf("newOutboundPenalty: non-finite factor")
	}
	return &OutboundPenalty{bounds: bounds, factor: factor}, nil
}

// Apply returns the possibly penalized reward and whether any action
// component was out of bounds.
func (o *OutboundPenalty) Apply(action []float64,
	reward float64) (float64, bool) {
	for d, a := range action {
		if d >= len(o.bounds) {
			break
		}
		if a < o.bounds[d].Min || a > o.bounds[d].Max {
			return reward * o.factor, true
		}
	}
	return reward, false
}
