package tracker

import "github.com/samuelfneumann/goracer/timestep"

// EpisodeLength tracks the number of experiences in each completed
// episode.
type EpisodeLength struct {
	lengths  []float64
	filename string
}

// NewEpisodeLength returns a Tracker that saves episode lengths to
// filename.
func NewEpisodeLength(filename string) *EpisodeLength {
	return &EpisodeLength{filename: filename}
}

// Track records the trajectory's length.
func (e *EpisodeLength) Track(trajectory timestep.Trajectory) {
	e.lengths = append(e.lengths, float64(len(trajectory)))
}

// Save writes the recorded lengths to disk.
func (e *EpisodeLength) Save() error {
	return save(e.filename, e.lengths)
}
