package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

type activationName string

const (
	reluName     activationName = "relu"
	tanhName     activationName = "tanh"
	identityName activationName = "identity"
	noneName     activationName = "none"
)

// Activation is a layer activation function. The zero value is not
// usable; construct with ReLU, TanH, Identity, or Nil.
type Activation struct {
	name activationName
	f    func(x *G.Node) (*G.Node, error)
}

func (a *Activation) fwd(x *G.Node) (*G.Node, error) { return a.f(x) }

// String implements fmt.Stringer.
func (a *Activation) String() string { return string(a.name) }

// IsIdentity reports whether the activation passes its input through
// unchanged.
func (a *Activation) IsIdentity() bool { return a.name == identityName }

// IsNil reports whether the activation is absent.
func (a *Activation) IsNil() bool { return a.name == noneName }

// byName maps each serializable activation name to its constructor.
// The name of a Nil activation decodes to identity, so a layer without
// an activation round-trips as identity.
var byName = map[activationName]func() *Activation{
	reluName:     ReLU,
	tanhName:     TanH,
	identityName: Identity,
	noneName:     Identity,
}

// GobEncode implements gob.GobEncoder.
func (a *Activation) GobEncode() ([]byte, error) {
	return []byte(a.name), nil
}

// GobDecode implements gob.GobDecoder.
func (a *Activation) GobDecode(encoded []byte) error {
	ctor, ok := byName[activationName(encoded)]
	if !ok {
		return fmt.Errorf("gobDecode: unknown activation %q", encoded)
	}
	*a = *ctor()
	return nil
}

// ReLU returns a rectified linear activation.
func ReLU() *Activation {
	return &Activation{name: reluName, f: G.Rectify}
}

// TanH returns a hyperbolic tangent activation.
func TanH() *Activation {
	return &Activation{name: tanhName, f: G.Tanh}
}

// Identity returns an activation that passes its input through.
func Identity() *Activation {
	return &Activation{
		name: identityName,
		f:    func(x *G.Node) (*G.Node, error) { return x, nil },
	}
}

// Nil returns an absent activation.
func Nil() *Activation {
	return &Activation{name: noneName}
}
