// Package environment outlines the interfaces and structs needed to
// implement concrete environments, along with the simple environments
// used to exercise the learner.
package environment

import (
	"github.com/samuelfneumann/goracer/timestep"
)

// Environment implements a simulated environment. Environments are
// stepped by a single rollout worker at a time and need not be safe
// for concurrent use.
type Environment interface {
	// Reset starts a new episode and returns its first observation.
	Reset() ([]float64, error)

	// Step applies an action and returns the next observation, the
	// reward for the transition, and how the transition relates to the
	// end of the episode. Environments return Terminal when the
	// decision process ends; Truncated endings are imposed by the
	// rollout worker's step cap, not by the environment.
	Step(action []float64) ([]float64, float64, timestep.Termination, error)

	// ObservationSpec returns the specification of observations.
	ObservationSpec() Spec

	// ActionSpec returns the specification of actions.
	ActionSpec() Spec
}
