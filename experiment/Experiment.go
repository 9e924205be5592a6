// Package experiment implements the generation loop of an experiment,
// tying together concurrent rollouts, a learner, trackers, and
// checkpointing.
package experiment

import (
	"fmt"

	"github.com/samuelfneumann/goracer/agent"
	"github.com/samuelfneumann/goracer/experiment/checkpointer"
	"github.com/samuelfneumann/goracer/experiment/tracker"
	"github.com/samuelfneumann/goracer/rollout"
)

// Experiment runs a learner against concurrently rolled-out
// environments until one of the learner's termination criteria is met.
// Each generation collects a fixed number of episodes under the
// learner's current behaviour snapshot, hands them to the learner, and
// then checkpoints and tracks the results.
type Experiment struct {
	learner     *agent.VRACER
	coordinator *rollout.Coordinator

	episodesPerGeneration int

	trackers      []tracker.Tracker
	checkpointers []checkpointer.Checkpointer
}

// New creates an experiment from a learner and the rollout coordinator
// that queries it.
func New(learner *agent.VRACER, coordinator *rollout.Coordinator,
	episodesPerGeneration int, trackers []tracker.Tracker,
	checkpointers []checkpointer.Checkpointer) (*Experiment, error) {
	if learner == nil {
		return nil, fmt.Errorf("new: no learner given")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("new: no rollout coordinator given")
	}
	if episodesPerGeneration < 1 {
		return nil, fmt.Errorf("new: need at least one episode per "+
			"generation \n\thave(%v)", episodesPerGeneration)
	}

	return &Experiment{
		learner:               learner,
		coordinator:           coordinator,
		episodesPerGeneration: episodesPerGeneration,
		trackers:              trackers,
		checkpointers:         checkpointers,
	}, nil
}

// Register adds a Tracker to the (possibly already running)
// experiment. Useful to start tracking data only after a specified
// event.
func (e *Experiment) Register(t tracker.Tracker) {
	e.trackers = append(e.trackers, t)
}

// RunGeneration collects one generation of episodes and performs the
// learner's owed policy updates on them. It returns whether a
// termination criterion has been reached.
func (e *Experiment) RunGeneration() (bool, error) {
	trajectories, err := e.coordinator.Collect(e.episodesPerGeneration)
	if err != nil {
		return true, fmt.Errorf("runGeneration: %v", err)
	}

	for _, trajectory := range trajectories {
		for _, t := range e.trackers {
			t.Track(trajectory)
		}
	}

	if err := e.learner.Generation(trajectories); err != nil {
		return true, fmt.Errorf("runGeneration: %v", err)
	}

	// Workers detached from the learner's memory pick the fresh
	// behaviour snapshot up from this broadcast.
	snapshot, err := e.learner.PolicySnapshot()
	if err != nil {
		return true, fmt.Errorf("runGeneration: %v", err)
	}
	if err := e.coordinator.Broadcast(snapshot); err != nil {
		return true, fmt.Errorf("runGeneration: %v", err)
	}

	for _, c := range e.checkpointers {
		if err := c.Checkpoint(e.learner.Generations()); err != nil {
			return true, fmt.Errorf("runGeneration: %v", err)
		}
	}

	return e.learner.Done(), nil
}

// Run starts the rollout workers and runs generations until a
// termination criterion is reached, then stops the workers.
func (e *Experiment) Run() error {
	if err := e.coordinator.Start(); err != nil {
		return fmt.Errorf("run: %v", err)
	}
	defer e.coordinator.Stop()

	for {
		done, err := e.RunGeneration()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Save writes the data accumulated by all trackers to disk.
func (e *Experiment) Save() error {
	var first error
	for _, t := range e.trackers {
		if err := t.Save(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
