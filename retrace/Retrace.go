// Package retrace implements the importance and retrace engine: the
// component that mutates the policy, importance, and value-target
// columns of the replay memory (the rank sampler writes the priority
// and probability columns). Given a minibatch of row indices it re-evaluates the current
// policy on their states, recomputes importance weights, and sweeps
// the value targets backward through every touched episode.
package retrace

import (
	"fmt"
	"math"
	"sort"

	"github.com/samuelfneumann/goracer/policy"
	"github.com/samuelfneumann/goracer/replay"
	"github.com/samuelfneumann/goracer/timestep"
)

// PolicyRunner evaluates the current network on a batch of states,
// returning one policy record per state. It is satisfied by
// policy.Evaluator.
type PolicyRunner interface {
	RunPolicy(states [][]float64) ([]policy.Record, error)
}

// RewardScaler scales a raw reward by the running sigma of its
// environment. It is satisfied by rescale.RewardScaler.
type RewardScaler interface {
	Scale(envID int, reward float64) float64
}

// StateScaler whitens a state before it reaches the policy runner. It
// is satisfied by rescale.StateScaler.
type StateScaler interface {
	Apply(state []float64) []float64
}

// Engine refreshes replay metadata for minibatches.
type Engine struct {
	runner  PolicyRunner
	dist    policy.Distribution
	rewards RewardScaler
	states  StateScaler

	discount   float64
	truncation float64
}

// NewEngine returns an engine over the given policy runner and action
// distribution. truncation is the level C at which importance weights
// are truncated.
func NewEngine(runner PolicyRunner, dist policy.Distribution,
	rewards RewardScaler, states StateScaler, discount,
	truncation float64) (*Engine, error) {
	if runner == nil || dist == nil || rewards == nil || states == nil {
		return nil, fmt.Errorf("newEngine: nil dependency")
	}
	if discount < 0 || discount > 1 {
		return nil, fmt.Errorf("newEngine: discount must be in [0, 1] "+
			"\n\thave(%v)", discount)
	}
	if truncation < 1 {
		return nil, fmt.Errorf("newEngine: truncation level must be at "+
			"least 1 \n\thave(%v)", truncation)
	}
	return &Engine{
		runner:     runner,
		dist:       dist,
		rewards:    rewards,
		states:     states,
		discount:   discount,
		truncation: truncation,
	}, nil
}

// TruncationLevel returns the importance weight truncation level C.
func (e *Engine) TruncationLevel() float64 {
	return e.truncation
}

// Refresh re-evaluates the current policy on the rows named by
// indices, updates their importance weights and on-policy
// classification under the given cutoff, and recomputes the retrace
// targets of every episode owning a refreshed row. Stale indices are
// skipped. The returned count is the number of rows refreshed.
func (e *Engine) Refresh(m *replay.Memory, indices []int,
	cutoff float64) (int, error) {
	live := dedupeLive(m, indices)
	if len(live) == 0 {
		return 0, nil
	}

	// One concatenated forward pass covers the minibatch states and
	// the truncated states of every touched episode.
	episodeEnds, err := e.episodeEnds(m, live)
	if err != nil {
		return 0, err
	}
	truncatedEnds := make([]int, 0, len(episodeEnds))
	for _, end := range episodeEnds {
		row, err := m.Row(end)
		if err != nil {
			return 0, fmt.Errorf("refresh: %v", err)
		}
		if row.Termination == timestep.Truncated {
			truncatedEnds = append(truncatedEnds, end)
		}
	}

	batch := make([][]float64, 0, len(live)+len(truncatedEnds))
	for _, i := range live {
		row, err := m.Row(i)
		if err != nil {
			return 0, fmt.Errorf("refresh: %v", err)
		}
		batch = append(batch, e.states.Apply(row.State))
	}
	for _, end := range truncatedEnds {
		row, err := m.Row(end)
		if err != nil {
			return 0, fmt.Errorf("refresh: %v", err)
		}
		batch = append(batch, e.states.Apply(row.TruncatedState))
	}

	records, err := e.runner.RunPolicy(batch)
	if err != nil {
		return 0, fmt.Errorf("refresh: policy evaluation failed: %v", err)
	}
	if len(records) != len(batch) {
		return 0, fmt.Errorf("refresh: wrong number of policy records "+
			"\n\twant(%v) \n\thave(%v)", len(batch), len(records))
	}

	for k, i := range live {
		if err := e.writeBack(m, i, records[k], cutoff); err != nil {
			return 0, err
		}
	}
	for k, end := range truncatedEnds {
		rec := records[len(live)+k]
		if !isFinite(rec.StateValue) {
			return 0, &EngineError{Op: "refresh", Err: errNumericFailure}
		}
		row, err := m.Row(end)
		if err != nil {
			return 0, fmt.Errorf("refresh: %v", err)
		}
		meta := row.Meta
		meta.TruncatedStateValue = rec.StateValue
		if err := m.Update(end, meta); err != nil {
			return 0, fmt.Errorf("refresh: %v", err)
		}
	}

	for _, end := range episodeEnds {
		if err := e.sweep(m, end); err != nil {
			return 0, err
		}
	}
	return len(live), nil
}

// writeBack stores the freshly evaluated policy record and the derived
// importance metadata of row i.
func (e *Engine) writeBack(m *replay.Memory, i int, rec policy.Record,
	cutoff float64) error {
	row, err := m.Row(i)
	if err != nil {
		return fmt.Errorf("refresh: %v", err)
	}

	if !isFinite(rec.StateValue) {
		return &EngineError{Op: "refresh", Err: errNumericFailure}
	}
	for _, p := range rec.DistributionParams {
		if !isFinite(p) {
			return &EngineError{Op: "refresh", Err: errNumericFailure}
		}
	}

	// The stored action is fixed, so the current record reuses the
	// sampling metadata frozen at collection time.
	cur := rec.Clone()
	cur.UnboundedAction = append([]float64(nil),
		row.ExpPolicy.UnboundedAction...)
	cur.ActionIndex = row.ExpPolicy.ActionIndex

	rho := e.dist.ImportanceWeight(row.Action, cur, row.ExpPolicy)
	if math.IsNaN(rho) {
		return &EngineError{Op: "refresh", Err: errNumericFailure}
	}
	if math.IsInf(rho, 1) {
		rho = e.truncation
	}

	meta := row.Meta
	meta.CurPolicy = cur
	meta.ImportanceWeight = rho
	meta.TruncImportanceWeight = math.Min(rho, e.truncation)
	meta.IsOnPolicy = rho >= 1/cutoff && rho <= cutoff
	return m.Update(i, meta)
}

// episodeEnds returns the sorted, deduplicated logical indices of the
// last live row of every episode owning an index in live.
func (e *Engine) episodeEnds(m *replay.Memory, live []int) ([]int, error) {
	seen := make(map[int]bool)
	ends := make([]int, 0)
	for _, i := range live {
		_, end, err := m.EpisodeExtent(i)
		if err != nil {
			return nil, fmt.Errorf("refresh: %v", err)
		}
		if !seen[end] {
			seen[end] = true
			ends = append(ends, end)
		}
	}
	sort.Ints(ends)
	return ends, nil
}

// sweep recomputes the retrace targets of the episode ending at the
// given logical index, walking backward to the episode's first live
// row.
func (e *Engine) sweep(m *replay.Memory, end int) error {
	start, _, err := m.EpisodeExtent(end)
	if err != nil {
		return fmt.Errorf("sweep: %v", err)
	}

	endRow, err := m.Row(end)
	if err != nil {
		return fmt.Errorf("sweep: %v", err)
	}

	// Value of the state following the episode's final action.
	var vNext float64
	switch endRow.Termination {
	case timestep.Terminal:
		vNext = 0
	case timestep.Truncated:
		vNext = endRow.Meta.TruncatedStateValue
	default:
		// The final live row of an episode is terminal whenever whole
		// episodes are ingested; bootstrap from its own value if not.
		vNext = endRow.Meta.CurPolicy.StateValue
	}
	vRetNext := vNext

	for i := end; i >= start; i-- {
		row, err := m.Row(i)
		if err != nil {
			return fmt.Errorf("sweep: %v", err)
		}

		v := row.Meta.CurPolicy.StateValue
		scaled := e.rewards.Scale(row.EnvironmentID, row.Reward)
		delta := scaled + e.discount*vNext - v
		vRet := v + row.Meta.TruncImportanceWeight*
			(delta+e.discount*(vRetNext-vNext))
		if !isFinite(vRet) {
			return &EngineError{Op: "sweep", Err: errNumericFailure}
		}

		meta := row.Meta
		meta.RetraceValue = vRet
		if err := m.Update(i, meta); err != nil {
			return fmt.Errorf("sweep: %v", err)
		}

		vNext = v
		vRetNext = vRet
	}
	return nil
}

// dedupeLive returns the distinct live indices among the given ones,
// preserving first-seen order. Stale indices are dropped, recovering
// from rows evicted between sampling and refresh.
func dedupeLive(m *replay.Memory, indices []int) []int {
	seen := make(map[int]bool, len(indices))
	live := make([]int, 0, len(indices))
	for _, i := range indices {
		if seen[i] || !m.Contains(i) {
			continue
		}
		seen[i] = true
		live = append(live, i)
	}
	return live
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
