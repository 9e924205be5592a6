package solver

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// RMSPropConfig holds the hyperparameters of an RMSProp solver. A
// non-positive Clip disables gradient clipping.
type RMSPropConfig struct {
	StepSize float64
	Epsilon  float64
	Rho      float64
	Batch    int
	Clip     float64
}

// NewDefaultRMSProp returns an RMSProp solver with the conventional
// smoothing and stability constants and no gradient clipping.
func NewDefaultRMSProp(stepSize float64, batchSize int) (*Solver, error) {
	return NewRMSProp(stepSize, 1e-8, 0.999, batchSize, -1.0)
}

// NewRMSProp returns an RMSProp solver with the given hyperparameters.
func NewRMSProp(stepSize, epsilon, rho float64, batchSize int,
	clip float64) (*Solver, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("newRMSProp: step size must be positive "+
			"\n\thave(%v)", stepSize)
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("newRMSProp: batch size must be positive "+
			"\n\thave(%v)", batchSize)
	}
	return newSolver(&RMSPropConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Rho:      rho,
		Batch:    batchSize,
		Clip:     clip,
	}), nil
}

// Type implements Config.
func (r *RMSPropConfig) Type() Type { return RMSProp }

// Create implements Config.
func (r *RMSPropConfig) Create() G.Solver {
	opts := []G.SolverOpt{
		G.WithLearnRate(r.StepSize),
		G.WithEps(r.Epsilon),
		G.WithRho(r.Rho),
		G.WithBatchSize(float64(r.Batch)),
	}
	if r.Clip > 0 {
		opts = append(opts, G.WithClip(r.Clip))
	}
	return G.NewRMSPropSolver(opts...)
}
