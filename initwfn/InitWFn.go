// Package initwfn wraps gorgonia weight initializers in
// JSON-serializable configurations so that an experiment file fully
// determines how a network's weights are initialized.
package initwfn

import (
	"encoding/json"
	"fmt"

	G "gorgonia.org/gorgonia"
)

// Type names a supported weight initialization scheme.
type Type string

const (
	GlorotU  Type = "GlorotU"
	GlorotN  Type = "GlorotN"
	HeU      Type = "HeU"
	HeN      Type = "HeN"
	Zeroes   Type = "Zeroes"
	Ones     Type = "Ones"
	Constant Type = "Constant"
	Uniform  Type = "Uniform"
	Gaussian Type = "Gaussian"
)

// configs maps each initializer type to a constructor for its empty
// configuration, used when decoding from JSON.
var configs = map[Type]func() Config{
	GlorotU:  func() Config { return &GlorotUConfig{} },
	GlorotN:  func() Config { return &GlorotNConfig{} },
	HeU:      func() Config { return &HeUConfig{} },
	HeN:      func() Config { return &HeNConfig{} },
	Zeroes:   func() Config { return &ZeroesConfig{} },
	Ones:     func() Config { return &OnesConfig{} },
	Constant: func() Config { return &ConstantConfig{} },
	Uniform:  func() Config { return &UniformConfig{} },
	Gaussian: func() Config { return &GaussianConfig{} },
}

// Config holds the parameters of a concrete initialization scheme and
// can materialize the gorgonia InitWFn it describes.
type Config interface {
	Create() G.InitWFn
	Type() Type
}

// InitWFn is a gorgonia weight initializer together with the
// configuration that built it. The wrapped function is reconstructed
// from the configuration on unmarshalling, so an InitWFn survives a
// JSON round trip.
type InitWFn struct {
	initWFn G.InitWFn
	Type    Type
	Config  Config `json:"-"`
}

func newInitWFn(config Config) *InitWFn {
	return &InitWFn{
		initWFn: config.Create(),
		Type:    config.Type(),
		Config:  config,
	}
}

// InitWFn returns the wrapped gorgonia weight initializer.
func (i *InitWFn) InitWFn() G.InitWFn {
	return i.initWFn
}

// String implements fmt.Stringer.
func (i *InitWFn) String() string {
	return fmt.Sprintf("{%v InitWFn: %v}", i.Type, i.Config)
}

// initWFnJSON is the wire form of an InitWFn.
type initWFnJSON struct {
	Type   Type
	Config json.RawMessage
}

// MarshalJSON implements json.Marshaler.
func (i *InitWFn) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(i.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal: %v", err)
	}
	return json.Marshal(initWFnJSON{Type: i.Type, Config: raw})
}

// UnmarshalJSON implements json.Unmarshaler, rebuilding the wrapped
// gorgonia initializer from the stored configuration.
func (i *InitWFn) UnmarshalJSON(data []byte) error {
	var wire initWFnJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("unmarshal: %v", err)
	}

	newConfig, ok := configs[wire.Type]
	if !ok {
		return fmt.Errorf("unmarshal: unknown initializer type %q", wire.Type)
	}
	config := newConfig()
	if err := json.Unmarshal(wire.Config, config); err != nil {
		return fmt.Errorf("unmarshal: %v", err)
	}

	i.Type = wire.Type
	i.Config = config
	i.initWFn = config.Create()
	return nil
}
