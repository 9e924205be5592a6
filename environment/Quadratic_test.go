package environment

import (
	"math"
	"testing"

	"github.com/samuelfneumann/goracer/timestep"
)

// TestQuadraticReset ensures starting states are drawn within the
// legal observation bounds.
func TestQuadraticReset(t *testing.T) {
	env := NewQuadratic(17)

	for i := 0; i < 100; i++ {
		obs, err := env.Reset()
		if err != nil {
			t.Fatalf("reset: %v", err)
		}
		if len(obs) != 1 {
			t.Fatalf("reset: observation should be 1-dimensional "+
				"\n\twant(1) \n\thave(%v)", len(obs))
		}
		if obs[0] < -1.0 || obs[0] > 1.0 {
			t.Errorf("reset: starting state out of bounds \n\thave(%v)",
				obs[0])
		}
	}
}

// TestQuadraticStep checks the transition dynamics and reward.
func TestQuadraticStep(t *testing.T) {
	env := NewQuadratic(17)
	if _, err := env.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	env.state = 0.0

	obs, reward, termination, err := env.Step([]float64{1.0})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if math.Abs(obs[0]-0.1) > 1e-10 {
		t.Errorf("step: unexpected next state \n\twant(%v) \n\thave(%v)",
			0.1, obs[0])
	}
	wantReward := -(0.1 - quadraticGoal) * (0.1 - quadraticGoal)
	if math.Abs(reward-wantReward) > 1e-10 {
		t.Errorf("step: unexpected reward \n\twant(%v) \n\thave(%v)",
			wantReward, reward)
	}
	if termination != timestep.NonTerminal {
		t.Errorf("step: episode should not have ended")
	}
}

// TestQuadraticTerminal checks that reaching the goal ends the
// episode.
func TestQuadraticTerminal(t *testing.T) {
	env := NewQuadratic(17)
	if _, err := env.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	env.state = quadraticGoal - 0.01

	_, _, termination, err := env.Step([]float64{0.0})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if termination != timestep.Terminal {
		t.Errorf("step: episode should have ended at the goal")
	}
}

// TestQuadraticClipsActions ensures out-of-bounds actions are clipped
// before being applied.
func TestQuadraticClipsActions(t *testing.T) {
	env := NewQuadratic(17)
	if _, err := env.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	env.state = 0.0

	obs, _, _, err := env.Step([]float64{100.0})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if math.Abs(obs[0]-quadraticGain) > 1e-10 {
		t.Errorf("step: action should have been clipped \n\twant(%v) "+
			"\n\thave(%v)", quadraticGain, obs[0])
	}
}

// TestQuadraticInvalidAction ensures malformed actions are rejected.
func TestQuadraticInvalidAction(t *testing.T) {
	env := NewQuadratic(17)
	if _, err := env.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if _, _, _, err := env.Step([]float64{1.0, 2.0}); err == nil {
		t.Error("step: expected an error for a 2-dimensional action")
	}
}

// TestQuadraticSpecs checks the observation and action specifications.
func TestQuadraticSpecs(t *testing.T) {
	env := NewQuadratic(17)

	obsSpec := env.ObservationSpec()
	if obsSpec.Type != Observation {
		t.Error("observationSpec: spec should have type Observation")
	}
	if obsSpec.Dims() != 1 {
		t.Errorf("observationSpec: unexpected dimensionality \n\twant(1) "+
			"\n\thave(%v)", obsSpec.Dims())
	}

	actionSpec := env.ActionSpec()
	if actionSpec.Type != Action {
		t.Error("actionSpec: spec should have type Action")
	}
	intervals := actionSpec.Intervals()
	if intervals[0].Min != -1.0 || intervals[0].Max != 1.0 {
		t.Errorf("actionSpec: unexpected bounds \n\twant([-1, 1]) "+
			"\n\thave([%v, %v])", intervals[0].Min, intervals[0].Max)
	}
}
