// Package checkpointer implements periodic serialization of a
// learner's state during an experiment.
package checkpointer

import (
	"fmt"
	"io"
	"os"
)

// Checkpointable is an object whose complete state can be written to a
// stream.
type Checkpointable interface {
	Checkpoint(w io.Writer) error
}

// Checkpointer saves a Checkpointable based on the experiment's
// generation count.
type Checkpointer interface {
	Checkpoint(generation int) error
}

// nGeneration checkpoints its object every N generations.
type nGeneration struct {
	interval int
	object   Checkpointable

	// filename returns the name of the file to write the next
	// checkpoint to. Use FilenameEnumerator for numbered files or
	// FileTimer for timestamped files.
	filename func() string
}

// NewNGeneration returns a Checkpointer that saves object every n
// generations.
func NewNGeneration(n int, object Checkpointable,
	filename func() string) (Checkpointer, error) {
	if n < 1 {
		return nil, fmt.Errorf("newNGeneration: interval must be positive "+
			"\n\thave(%v)", n)
	}
	if object == nil {
		return nil, fmt.Errorf("newNGeneration: no object to checkpoint")
	}
	return &nGeneration{interval: n, object: object, filename: filename}, nil
}

// Checkpoint writes the object's state to a fresh file when the
// generation count is a multiple of the interval.
func (n *nGeneration) Checkpoint(generation int) error {
	if generation%n.interval != 0 {
		return nil
	}

	file, err := os.Create(n.filename())
	if err != nil {
		return fmt.Errorf("checkpoint: %v", err)
	}
	if err := n.object.Checkpoint(file); err != nil {
		file.Close()
		return fmt.Errorf("checkpoint: %v", err)
	}
	return file.Close()
}
