package environment

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/goracer/timestep"
	"github.com/samuelfneumann/goracer/utils/floatutils"
)

const (
	quadraticGoal      float64 = 0.5
	quadraticTolerance float64 = 0.05
	quadraticGain      float64 = 0.1
)

// Quadratic implements a one-dimensional continuous-action environment
// with a quadratic cost surface. The state lives in [-1, 1], actions
// live in [-1, 1], and each step nudges the state by a fraction of the
// action. The reward is the negative squared distance to a fixed goal,
// and episodes end when the state comes within a small tolerance of
// the goal.
type Quadratic struct {
	starter UniformStarter
	state   float64
}

// NewQuadratic returns a new Quadratic environment with starting
// states drawn uniformly from [-1, 1].
func NewQuadratic(seed uint64) *Quadratic {
	bounds := []r1.Interval{{Min: -1.0, Max: 1.0}}
	return &Quadratic{starter: NewUniformStarter(bounds, seed)}
}

// Reset starts a new episode and returns its first observation.
func (q *Quadratic) Reset() ([]float64, error) {
	start := q.starter.Start()
	q.state = start[0]
	return []float64{q.state}, nil
}

// Step applies an action to the environment.
func (q *Quadratic) Step(action []float64) ([]float64, float64,
	timestep.Termination, error) {
	if len(action) != 1 {
		return nil, 0, timestep.NonTerminal, fmt.Errorf("step: actions "+
			"should be 1-dimensional \n\twant(1) \n\thave(%v)", len(action))
	}

	a := floatutils.Clip(action[0], -1.0, 1.0)
	q.state = floatutils.Clip(q.state+quadraticGain*a, -1.0, 1.0)

	dist := q.state - quadraticGoal
	reward := -(dist * dist)

	termination := timestep.NonTerminal
	if math.Abs(dist) < quadraticTolerance {
		termination = timestep.Terminal
	}

	return []float64{q.state}, reward, termination, nil
}

// ObservationSpec returns the observation specification of the
// environment.
func (q *Quadratic) ObservationSpec() Spec {
	shape := mat.NewVecDense(1, []float64{1})
	lower := mat.NewVecDense(1, []float64{-1.0})
	upper := mat.NewVecDense(1, []float64{1.0})
	return NewSpec(shape, Observation, lower, upper, Continuous)
}

// ActionSpec returns the action specification of the environment.
func (q *Quadratic) ActionSpec() Spec {
	shape := mat.NewVecDense(1, []float64{1})
	lower := mat.NewVecDense(1, []float64{-1.0})
	upper := mat.NewVecDense(1, []float64{1.0})
	return NewSpec(shape, Action, lower, upper, Continuous)
}
