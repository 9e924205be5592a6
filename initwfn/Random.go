package initwfn

import G "gorgonia.org/gorgonia"

// UniformConfig describes initialization drawn uniformly from
// [Low, High).
type UniformConfig struct {
	Low  float64
	High float64
}

// NewUniform returns a weight initializer drawing uniformly from
// [low, high).
func NewUniform(low, high float64) (*InitWFn, error) {
	return newInitWFn(&UniformConfig{Low: low, High: high}), nil
}

// Type implements Config.
func (u *UniformConfig) Type() Type { return Uniform }

// Create implements Config.
func (u *UniformConfig) Create() G.InitWFn { return G.Uniform(u.Low, u.High) }

// GaussianConfig describes initialization drawn from a Gaussian with
// the given mean and standard deviation.
type GaussianConfig struct {
	Mean   float64
	StdDev float64
}

// NewGaussian returns a weight initializer drawing from a Gaussian.
func NewGaussian(mean, stddev float64) (*InitWFn, error) {
	return newInitWFn(&GaussianConfig{Mean: mean, StdDev: stddev}), nil
}

// Type implements Config.
func (g *GaussianConfig) Type() Type { return Gaussian }

// Create implements Config.
func (g *GaussianConfig) Create() G.InitWFn { return G.Gaussian(g.Mean, g.StdDev) }
