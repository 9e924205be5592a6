package initwfn

import G "gorgonia.org/gorgonia"

// GlorotUConfig describes Glorot uniform initialization.
type GlorotUConfig struct {
	Gain float64
}

// NewGlorotU returns a Glorot uniform weight initializer.
func NewGlorotU(gain float64) (*InitWFn, error) {
	return newInitWFn(&GlorotUConfig{Gain: gain}), nil
}

// Type implements Config.
func (g *GlorotUConfig) Type() Type { return GlorotU }

// Create implements Config.
func (g *GlorotUConfig) Create() G.InitWFn { return G.GlorotU(g.Gain) }

// GlorotNConfig describes Glorot normal initialization.
type GlorotNConfig struct {
	Gain float64
}

// NewGlorotN returns a Glorot normal weight initializer.
func NewGlorotN(gain float64) (*InitWFn, error) {
	return newInitWFn(&GlorotNConfig{Gain: gain}), nil
}

// Type implements Config.
func (g *GlorotNConfig) Type() Type { return GlorotN }

// Create implements Config.
func (g *GlorotNConfig) Create() G.InitWFn { return G.GlorotN(g.Gain) }
