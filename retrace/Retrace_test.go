package retrace

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/goracer/policy"
	"github.com/samuelfneumann/goracer/replay"
	"github.com/samuelfneumann/goracer/timestep"
)

// stubRunner maps every state to a fixed policy record, standing in
// for the network-backed evaluator.
type stubRunner struct {
	record func(state []float64) policy.Record
}

func (s stubRunner) RunPolicy(states [][]float64) ([]policy.Record,
	error) {
	recs := make([]policy.Record, len(states))
	for i, st := range states {
		recs[i] = s.record(st)
	}
	return recs, nil
}

type rawRewards struct{}

func (rawRewards) Scale(_ int, r float64) float64 { return r }

type identityStates struct{}

func (identityStates) Apply(s []float64) []float64 {
	return append([]float64(nil), s...)
}

func newTestEngine(t *testing.T, record func([]float64) policy.Record,
	discount, truncation float64) *Engine {
	t.Helper()
	dist, err := policy.NewSquashedGaussian([]r1.Interval{{Min: -1, Max: 1}})
	if err != nil {
		t.Fatal(err)
	}
	e, err := NewEngine(stubRunner{record: record}, dist, rawRewards{},
		identityStates{}, discount, truncation)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// onPolicyRecord matches the experience policy used by the test
// episodes, so refreshed importance weights are exactly one.
func onPolicyRecord(value float64) func([]float64) policy.Record {
	return func([]float64) policy.Record {
		return policy.Record{
			StateValue:         value,
			DistributionParams: []float64{0, 1},
		}
	}
}

func testExperience(id, pos int, reward float64) timestep.Experience {
	return timestep.Experience{
		State:      []float64{float64(id), float64(pos)},
		Action:     []float64{0.2},
		Reward:     reward,
		EpisodeID:  id,
		EpisodePos: pos,
		ExpPolicy: policy.Record{
			StateValue:         0,
			DistributionParams: []float64{0, 1},
			UnboundedAction:    []float64{0.1},
		},
	}
}

func TestRefreshTerminalEpisode(t *testing.T) {
	m, _ := replay.New(10, 1, 1)
	rewards := []float64{1, 2, 3}
	for pos, r := range rewards {
		exp := testExperience(0, pos, r)
		if pos == len(rewards)-1 {
			exp.Termination = timestep.Terminal
		}
		if _, _, err := m.Append(exp); err != nil {
			t.Fatal(err)
		}
	}

	e := newTestEngine(t, onPolicyRecord(0.5), 0.9, 4)
	n, err := e.Refresh(m, []int{0, 1, 2}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 refreshed rows \n\thave(%v)", n)
	}

	// Backward recursion with V = 0.5 everywhere and unit truncated
	// importance weights.
	want := []float64{5.23, 4.7, 3.0}
	for i, w := range want {
		row, err := m.Row(i)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(row.Meta.RetraceValue-w) > 1e-9 {
			t.Errorf("retrace value of row %v \n\twant(%v) \n\thave(%v)", i,
				w, row.Meta.RetraceValue)
		}
		if math.Abs(row.Meta.ImportanceWeight-1) > 1e-9 {
			t.Errorf("importance weight of row %v \n\twant(1) \n\thave(%v)",
				i, row.Meta.ImportanceWeight)
		}
		if !row.Meta.IsOnPolicy {
			t.Errorf("row %v should be on-policy", i)
		}
	}
}

func TestRefreshTruncatedEpisodeBootstraps(t *testing.T) {
	m, _ := replay.New(10, 1, 1)
	exp := testExperience(0, 0, 2)
	exp.Termination = timestep.Truncated
	exp.TruncatedState = []float64{42, 42}
	if _, _, err := m.Append(exp); err != nil {
		t.Fatal(err)
	}

	// The truncated state is recognizable, so the stub can assign it a
	// distinct value.
	record := func(state []float64) policy.Record {
		value := 0.5
		if state[0] == 42 {
			value = 1.5
		}
		return policy.Record{
			StateValue:         value,
			DistributionParams: []float64{0, 1},
		}
	}

	e := newTestEngine(t, record, 0.9, 4)
	if _, err := e.Refresh(m, []int{0}, 4); err != nil {
		t.Fatal(err)
	}

	row, err := m.Row(0)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(row.Meta.TruncatedStateValue-1.5) > 1e-9 {
		t.Errorf("truncated state value \n\twant(1.5) \n\thave(%v)",
			row.Meta.TruncatedStateValue)
	}

	// With a unit importance weight the single-row target reduces to
	// r + gamma * V(truncated state).
	want := 2 + 0.9*1.5
	if math.Abs(row.Meta.RetraceValue-want) > 1e-6 {
		t.Errorf("retrace value \n\twant(%v) \n\thave(%v)", want,
			row.Meta.RetraceValue)
	}
}

func TestRefreshCapsVanishingExperienceDensity(t *testing.T) {
	m, _ := replay.New(10, 1, 1)
	exp := testExperience(0, 0, 1)
	exp.Termination = timestep.Terminal
	// The stored sample is hundreds of standard deviations from the
	// experience mean, so the experience density underflows.
	exp.ExpPolicy.DistributionParams = []float64{100, 0.1}
	exp.ExpPolicy.UnboundedAction = []float64{0}
	if _, _, err := m.Append(exp); err != nil {
		t.Fatal(err)
	}

	record := func([]float64) policy.Record {
		return policy.Record{
			StateValue:         0,
			DistributionParams: []float64{0, 0.1},
		}
	}

	e := newTestEngine(t, record, 0.9, 4)
	if _, err := e.Refresh(m, []int{0}, 2); err != nil {
		t.Fatal(err)
	}

	row, _ := m.Row(0)
	if row.Meta.ImportanceWeight != 4 {
		t.Errorf("vanishing density must cap at the truncation level "+
			"\n\twant(4) \n\thave(%v)", row.Meta.ImportanceWeight)
	}
	if row.Meta.TruncImportanceWeight != 4 {
		t.Errorf("truncated weight \n\twant(4) \n\thave(%v)",
			row.Meta.TruncImportanceWeight)
	}
	if row.Meta.IsOnPolicy {
		t.Error("capped weight above the cutoff must be off-policy")
	}
	if m.OffPolicyCount() != 1 {
		t.Errorf("off-policy count \n\twant(1) \n\thave(%v)",
			m.OffPolicyCount())
	}
}

func TestRefreshSkipsStaleIndices(t *testing.T) {
	m, _ := replay.New(2, 1, 1)
	for pos := 0; pos < 2; pos++ {
		exp := testExperience(0, pos, 1)
		if pos == 1 {
			exp.Termination = timestep.Terminal
		}
		if _, _, err := m.Append(exp); err != nil {
			t.Fatal(err)
		}
	}
	exp := testExperience(1, 0, 1)
	exp.Termination = timestep.Terminal
	if _, _, err := m.Append(exp); err != nil {
		t.Fatal(err)
	}

	// Row 0 was evicted by the wrap; refreshing it must be a no-op
	// rather than an error.
	e := newTestEngine(t, onPolicyRecord(0.5), 0.9, 4)
	n, err := e.Refresh(m, []int{0, 1, 2, 2}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected stale and duplicate indices to be dropped "+
			"\n\twant(2) \n\thave(%v)", n)
	}
}

func TestRefreshIdempotent(t *testing.T) {
	m, _ := replay.New(10, 1, 1)
	for pos := 0; pos < 3; pos++ {
		exp := testExperience(0, pos, float64(pos))
		if pos == 2 {
			exp.Termination = timestep.Terminal
		}
		if _, _, err := m.Append(exp); err != nil {
			t.Fatal(err)
		}
	}

	e := newTestEngine(t, onPolicyRecord(0.3), 0.95, 4)
	if _, err := e.Refresh(m, []int{0, 1, 2}, 4); err != nil {
		t.Fatal(err)
	}
	first := make([]replay.Derived, 3)
	for i := 0; i < 3; i++ {
		row, _ := m.Row(i)
		first[i] = row.Meta
	}

	if _, err := e.Refresh(m, []int{0, 1, 2}, 4); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		row, _ := m.Row(i)
		if row.Meta.RetraceValue != first[i].RetraceValue ||
			row.Meta.ImportanceWeight != first[i].ImportanceWeight {
			t.Errorf("row %v changed under identical parameters", i)
		}
	}
}

func TestRefreshNumericFailure(t *testing.T) {
	m, _ := replay.New(10, 1, 1)
	exp := testExperience(0, 0, 1)
	exp.Termination = timestep.Terminal
	if _, _, err := m.Append(exp); err != nil {
		t.Fatal(err)
	}

	record := func([]float64) policy.Record {
		return policy.Record{
			StateValue:         math.NaN(),
			DistributionParams: []float64{0, 1},
		}
	}
	e := newTestEngine(t, record, 0.9, 4)
	if _, err := e.Refresh(m, []int{0}, 4); !IsNumericFailure(err) {
		t.Errorf("expected a numeric failure \n\thave(%v)", err)
	}
}

func TestNewEngineValidation(t *testing.T) {
	dist, _ := policy.NewSquashedGaussian([]r1.Interval{{Min: -1, Max: 1}})
	runner := stubRunner{record: onPolicyRecord(0)}

	if _, err := NewEngine(nil, dist, rawRewards{}, identityStates{}, 0.9,
		4); err == nil {
		t.Error("expected an error with a nil runner")
	}
	if _, err := NewEngine(runner, dist, rawRewards{}, identityStates{},
		1.5, 4); err == nil {
		t.Error("expected an error with an invalid discount")
	}
	if _, err := NewEngine(runner, dist, rawRewards{}, identityStates{},
		0.9, 0.5); err == nil {
		t.Error("expected an error with a truncation level below one")
	}
}
