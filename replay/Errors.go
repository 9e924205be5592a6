package replay

import "errors"

// MemoryError implements errors unique to the replay memory.
type MemoryError struct {
	Op  string
	Err error
}

// Error satisfies the error interface.
func (e *MemoryError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

var errCapacityZero = errors.New("capacity must be positive")

var errStaleIndex = errors.New("index refers to an evicted row")

var errInsufficientSamples = errors.New("fewer rows than requested samples")

// IsCapacityZero returns whether an error reports construction with a
// non-positive capacity.
func IsCapacityZero(err error) bool {
	if memErr, ok := err.(*MemoryError); ok {
		err = memErr.Err
	}
	return err == errCapacityZero
}

// IsStaleIndex returns whether an error reports access through a
// logical index whose row has already been evicted or never written.
func IsStaleIndex(err error) bool {
	if memErr, ok := err.(*MemoryError); ok {
		err = memErr.Err
	}
	return err == errStaleIndex
}

// IsInsufficientSamples returns whether an error reports that the
// memory holds fewer rows than a sampling operation requested.
func IsInsufficientSamples(err error) bool {
	if memErr, ok := err.(*MemoryError); ok {
		err = memErr.Err
	}
	return err == errInsufficientSamples
}
