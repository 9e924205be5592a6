// Package solver wraps gorgonia solvers in JSON-serializable
// configurations so that an experiment file fully determines the
// optimizer used to train a network.
package solver

import (
	"encoding/json"
	"fmt"

	G "gorgonia.org/gorgonia"
)

// Type names a supported gorgonia solver.
type Type string

const (
	Adam    Type = "Adam"
	RMSProp Type = "RMSProp"
	Vanilla Type = "Vanilla"
)

// configs maps each solver type to a constructor for its empty
// configuration, used when decoding from JSON.
var configs = map[Type]func() Config{
	Adam:    func() Config { return &AdamConfig{} },
	RMSProp: func() Config { return &RMSPropConfig{} },
	Vanilla: func() Config { return &VanillaConfig{} },
}

// Config holds the hyperparameters of a concrete solver and can
// materialize the gorgonia solver they describe.
type Config interface {
	Create() G.Solver
	Type() Type
}

// Solver is a gorgonia solver together with the configuration that
// built it. The wrapped solver is reconstructed from the configuration
// on unmarshalling, so a Solver survives a JSON round trip.
type Solver struct {
	G.Solver `json:"-"`
	Type     Type
	Config   Config `json:"-"`
}

func newSolver(config Config) *Solver {
	return &Solver{
		Solver: config.Create(),
		Type:   config.Type(),
		Config: config,
	}
}

// solverJSON is the wire form of a Solver.
type solverJSON struct {
	Type   Type
	Config json.RawMessage
}

// MarshalJSON implements json.Marshaler.
func (s *Solver) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(s.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal: %v", err)
	}
	return json.Marshal(solverJSON{Type: s.Type, Config: raw})
}

// UnmarshalJSON implements json.Unmarshaler, rebuilding the wrapped
// gorgonia solver from the stored configuration.
func (s *Solver) UnmarshalJSON(data []byte) error {
	var wire solverJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("unmarshal: %v", err)
	}

	newConfig, ok := configs[wire.Type]
	if !ok {
		return fmt.Errorf("unmarshal: unknown solver type %q", wire.Type)
	}
	config := newConfig()
	if err := json.Unmarshal(wire.Config, config); err != nil {
		return fmt.Errorf("unmarshal: %v", err)
	}

	s.Type = wire.Type
	s.Config = config
	s.Solver = config.Create()
	return nil
}
