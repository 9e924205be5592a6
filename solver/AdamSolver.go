package solver

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// AdamConfig holds the hyperparameters of an Adam solver.
type AdamConfig struct {
	StepSize float64
	Epsilon  float64
	Beta1    float64
	Beta2    float64
	Batch    int
}

// NewDefaultAdam returns an Adam solver with the conventional
// momentum and stability constants.
func NewDefaultAdam(stepSize float64, batchSize int) (*Solver, error) {
	return NewAdam(stepSize, 1e-8, 0.9, 0.999, batchSize)
}

// NewAdam returns an Adam solver with the given hyperparameters.
func NewAdam(stepSize, epsilon, beta1, beta2 float64,
	batchSize int) (*Solver, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("newAdam: step size must be positive "+
			"\n\thave(%v)", stepSize)
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("newAdam: batch size must be positive "+
			"\n\thave(%v)", batchSize)
	}
	return newSolver(&AdamConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Beta1:    beta1,
		Beta2:    beta2,
		Batch:    batchSize,
	}), nil
}

// Type implements Config.
func (a *AdamConfig) Type() Type { return Adam }

// Create implements Config.
func (a *AdamConfig) Create() G.Solver {
	return G.NewAdamSolver(
		G.WithLearnRate(a.StepSize),
		G.WithEps(a.Epsilon),
		G.WithBeta1(a.Beta1),
		G.WithBeta2(a.Beta2),
		G.WithBatchSize(float64(a.Batch)),
	)
}
