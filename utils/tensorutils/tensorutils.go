// Package tensorutils provides adapters for slicing gorgonia tensors.
package tensorutils

// Slice selects T[start:end:step] along one axis of a tensor. It
// satisfies the tensor package's slicing interface.
type Slice struct {
	start int
	end   int
	step  int
}

// Column returns a Slice selecting the single index i, used to pull
// one column out of a matrix-shaped tensor.
func Column(i int) Slice {
	return Slice{start: i, end: i + 1, step: 1}
}

// Start returns the first selected index.
func (s Slice) Start() int { return s.start }

// End returns the index one past the last selected index.
func (s Slice) End() int { return s.end }

// Step returns the stride between selected indices.
func (s Slice) Step() int { return s.step }
