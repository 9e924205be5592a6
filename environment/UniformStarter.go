package environment

import (
	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"
)

// UniformStarter generates starting states drawn uniformly from a
// set of per-component intervals.
type UniformStarter struct {
	sampler *distmv.Uniform
	dims    int
}

// NewUniformStarter returns a new UniformStarter which draws starting
// states uniformly from the intervals given by bounds.
func NewUniformStarter(bounds []r1.Interval, seed uint64) UniformStarter {
	sampler := distmv.NewUniform(bounds, rand.NewSource(seed))
	return UniformStarter{sampler: sampler, dims: len(bounds)}
}

// Start returns a new starting state.
func (u UniformStarter) Start() []float64 {
	state := make([]float64, u.dims)
	u.sampler.Rand(state)
	return state
}
