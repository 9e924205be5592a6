package solver

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// VanillaConfig holds the hyperparameters of a vanilla gradient
// descent solver. A non-positive Clip disables gradient clipping.
type VanillaConfig struct {
	StepSize float64
	Batch    int
	Clip     float64
}

// NewVanilla returns a vanilla gradient descent solver.
func NewVanilla(stepSize float64, batchSize int,
	clip float64) (*Solver, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("newVanilla: step size must be positive "+
			"\n\thave(%v)", stepSize)
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("newVanilla: batch size must be positive "+
			"\n\thave(%v)", batchSize)
	}
	return newSolver(&VanillaConfig{
		StepSize: stepSize,
		Batch:    batchSize,
		Clip:     clip,
	}), nil
}

// Type implements Config.
func (v *VanillaConfig) Type() Type { return Vanilla }

// Create implements Config.
func (v *VanillaConfig) Create() G.Solver {
	opts := []G.SolverOpt{
		G.WithLearnRate(v.StepSize),
		G.WithBatchSize(float64(v.Batch)),
	}
	if v.Clip > 0 {
		opts = append(opts, G.WithClip(v.Clip))
	}
	return G.NewVanillaSolver(opts...)
}
