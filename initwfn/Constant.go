package initwfn

import G "gorgonia.org/gorgonia"

// ZeroesConfig describes all-zero initialization.
type ZeroesConfig struct{}

// NewZeroes returns a weight initializer that zeroes all weights.
func NewZeroes() (*InitWFn, error) {
	return newInitWFn(&ZeroesConfig{}), nil
}

// Type implements Config.
func (z *ZeroesConfig) Type() Type { return Zeroes }

// Create implements Config.
func (z *ZeroesConfig) Create() G.InitWFn { return G.Zeroes() }

// OnesConfig describes all-one initialization.
type OnesConfig struct{}

// NewOnes returns a weight initializer that sets all weights to 1.
func NewOnes() (*InitWFn, error) {
	return newInitWFn(&OnesConfig{}), nil
}

// Type implements Config.
func (o *OnesConfig) Type() Type { return Ones }

// Create implements Config.
func (o *OnesConfig) Create() G.InitWFn { return G.Ones() }

// ConstantConfig describes initialization of every weight to a single
// constant value.
type ConstantConfig struct {
	Value float64
}

// NewConstant returns a weight initializer that sets all weights to
// value.
func NewConstant(value float64) (*InitWFn, error) {
	return newInitWFn(&ConstantConfig{Value: value}), nil
}

// Type implements Config.
func (c *ConstantConfig) Type() Type { return Constant }

// Create implements Config.
func (c *ConstantConfig) Create() G.InitWFn { return G.ValuesOf(c.Value) }
