// Package timestep implements the experiences of the agent-environment
// interaction, which form the rows of the replay memory.
package timestep

import (
	"fmt"

	"github.com/samuelfneumann/goracer/policy"
)

// Termination denotes how an experience relates to the end of its
// episode. A Terminal experience ends the decision process and no
// bootstrapping is performed from it. A Truncated experience ends the
// trajectory for time-budget reasons only, so value backups must
// bootstrap from the saved truncated state.
type Termination int

const (
	NonTerminal Termination = iota
	Terminal
	Truncated
)

func (t Termination) String() string {
	switch t {
	case Terminal:
		return "Terminal"
	case Truncated:
		return "Truncated"
	default:
		return "NonTerminal"
	}
}

// Experience packages together a single interaction with an
// environment along with the policy information frozen at collection
// time.
type Experience struct {
	State  []float64
	Action []float64
	Reward float64

	EpisodeID     int
	EpisodePos    int
	EnvironmentID int

	Termination Termination

	// TruncatedState is present iff Termination == Truncated. It holds
	// the observation that followed the final action of a truncated
	// episode.
	TruncatedState []float64

	// ExpPolicy holds the policy parameters that generated Action. It
	// is set when the experience is collected and never mutated.
	ExpPolicy policy.Record
}

// Validate returns an error describing why an experience is malformed,
// or nil if it is well formed.
func (e Experience) Validate() error {
	if len(e.State) == 0 {
		return fmt.Errorf("validate: experience has no state")
	}
	if len(e.Action) == 0 {
		return fmt.Errorf("validate: experience has no action")
	}
	if e.Termination == Truncated && len(e.TruncatedState) == 0 {
		return fmt.Errorf("validate: truncated experience has no truncated " +
			"state")
	}
	if e.Termination != Truncated && len(e.TruncatedState) != 0 {
		return fmt.Errorf("validate: %v experience carries a truncated state",
			e.Termination)
	}
	return nil
}

func (e Experience) String() string {
	str := "Experience | Episode: %v  |  Pos: %v  |  Reward:  %.2f  |  " +
		"Termination:  %v"
	return fmt.Sprintf(str, e.EpisodeID, e.EpisodePos, e.Reward, e.Termination)
}

// Trajectory is an ordered, contiguous run of experiences from a single
// episode. The last experience of a complete trajectory is Terminal or
// Truncated.
type Trajectory []Experience

// Return computes the undiscounted sum of rewards of the trajectory.
func (tr Trajectory) Return() float64 {
	total := 0.0
	for _, e := range tr {
		total += e.Reward
	}
	return total
}

// Validate returns an error if the trajectory is empty, is not a
// contiguous single-episode run, or does not end in a Terminal or
// Truncated experience.
func (tr Trajectory) Validate() error {
	if len(tr) == 0 {
		return fmt.Errorf("validate: empty trajectory")
	}
	id := tr[0].EpisodeID
	for i, e := range tr {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("validate: experience %v: %v", i, err)
		}
		if e.EpisodeID != id {
			return fmt.Errorf("validate: experience %v changes episode id "+
				"\n\twant(%v) \n\thave(%v)", i, id, e.EpisodeID)
		}
		if e.EpisodePos != tr[0].EpisodePos+i {
			return fmt.Errorf("validate: experience %v is not contiguous "+
				"\n\twant(pos %v) \n\thave(pos %v)", i, tr[0].EpisodePos+i,
				e.EpisodePos)
		}
		if i < len(tr)-1 && e.Termination != NonTerminal {
			return fmt.Errorf("validate: experience %v terminates mid "+
				"trajectory", i)
		}
	}
	if tr[len(tr)-1].Termination == NonTerminal {
		return fmt.Errorf("validate: trajectory does not terminate")
	}
	return nil
}
