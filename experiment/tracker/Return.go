package tracker

import "github.com/samuelfneumann/goracer/timestep"

// Return tracks the undiscounted return of each completed episode.
//
// Only completed trajectories are seen by Trackers, so a partial
// episode discarded when an experiment stops is never recorded.
type Return struct {
	returns  []float64
	filename string
}

// NewReturn returns a Tracker that saves episodic returns to filename.
func NewReturn(filename string) *Return {
	return &Return{filename: filename}
}

// Track records the trajectory's return.
func (r *Return) Track(trajectory timestep.Trajectory) {
	r.returns = append(r.returns, trajectory.Return())
}

// Save writes the recorded returns to disk.
func (r *Return) Save() error {
	return save(r.filename, r.returns)
}
