// Package policy implements the policy records stored in the replay
// memory and the action distributions that interpret them.
//
// A Record freezes everything needed to recompute the probability of a
// stored action exactly: the critic's state value and the distribution
// parameters, plus the pre-squash action sample for continuous
// policies or the action index and probabilities for discrete ones.
package policy

import "golang.org/x/exp/rand"

// Record stores the policy information for a single state. For
// experiences, two records exist: the one frozen at collection time and
// the one re-evaluated under the latest network parameters.
type Record struct {
	// StateValue is the critic's V estimate for the state.
	StateValue float64

	// DistributionParams are the parameters defining the action
	// distribution. Their layout depends on the Distribution in use.
	DistributionParams []float64

	// ActionIndex is the index of the selected action for discrete
	// policies.
	ActionIndex int

	// ActionProbabilities are the categorical probabilities for
	// discrete policies.
	ActionProbabilities []float64

	// UnboundedAction stores the pre-tanh sample of a squashed normal
	// policy so that log probabilities can be recomputed exactly.
	UnboundedAction []float64
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.DistributionParams = append([]float64(nil), r.DistributionParams...)
	out.ActionProbabilities = append([]float64(nil), r.ActionProbabilities...)
	out.UnboundedAction = append([]float64(nil), r.UnboundedAction...)
	return out
}

// Distribution interprets distribution parameters as a concrete action
// distribution. Continuous and discrete action spaces are two concrete
// implementations.
type Distribution interface {
	// ParameterCount returns the number of distribution parameters the
	// network must produce per state.
	ParameterCount() int

	// SampleAction draws an action from the distribution described by
	// rec.DistributionParams and returns the action along with a copy
	// of rec completed with sampling metadata (the unbounded action or
	// the action index and probabilities).
	SampleAction(rng *rand.Rand, rec Record) ([]float64, Record)

	// MeanAction returns the deterministic action of the distribution
	// described by rec, used in testing mode.
	MeanAction(rec Record) []float64

	// ImportanceWeight computes ρ = π_cur(a|s) / π_exp(a|s) for the
	// stored action under both policy records. It returns +Inf when
	// the experience-policy density is numerically zero.
	ImportanceWeight(action []float64, cur, exp Record) float64
}
