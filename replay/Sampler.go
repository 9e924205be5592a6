package replay

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
)

// Sampler draws minibatches of logical indices from a replay memory.
// Alongside each index, a sampler returns the importance-sampling
// correction to apply to that row's loss contribution; uniform
// sampling returns 1 for every row.
type Sampler interface {
	// Sample draws k distinct logical indices.
	Sample(m *Memory, k int) (indices []int, corrections []float64,
		err error)

	// Refresh recomputes any sampling state derived from the memory,
	// such as the sorted priority view of rank-based sampling.
	Refresh(m *Memory) error
}

// uniformSampler draws indices uniformly without replacement.
type uniformSampler struct {
	source *rand.PCGSource
	rng    *rand.Rand
}

// NewUniformSampler returns a sampler drawing uniformly without
// replacement from all live rows.
func NewUniformSampler(seed uint64) Sampler {
	source := &rand.PCGSource{}
	source.Seed(seed)
	return &uniformSampler{source: source, rng: rand.New(source)}
}

// RNGState returns the serialized state of the sampler's random
// stream, so a restored sampler resumes the exact index sequence.
func (u *uniformSampler) RNGState() ([]byte, error) {
	return u.source.MarshalBinary()
}

// SetRNGState restores a random stream serialized by RNGState.
func (u *uniformSampler) SetRNGState(state []byte) error {
	return u.source.UnmarshalBinary(state)
}

// Refresh implements the Sampler interface. Uniform sampling keeps no
// per-generation state.
func (u *uniformSampler) Refresh(*Memory) error {
	return nil
}

// Sample implements the Sampler interface.
func (u *uniformSampler) Sample(m *Memory, k int) ([]int, []float64,
	error) {
	if k <= 0 {
		return nil, nil, fmt.Errorf("sample: batch size must be positive "+
			"\n\thave(%v)", k)
	}
	if k > m.Len() {
		return nil, nil, &MemoryError{Op: "sample", Err: errInsufficientSamples}
	}

	oldest := m.OldestIndex()
	perm := u.rng.Perm(m.Len())

	indices := make([]int, k)
	corrections := make([]float64, k)
	for i := 0; i < k; i++ {
		indices[i] = oldest + perm[i]
		corrections[i] = 1
	}
	return indices, corrections, nil
}

// rankSampler draws indices with probability proportional to the rank
// of their absolute temporal-difference error. Rows with larger errors
// receive higher priority, and the bias introduced by non-uniform
// sampling is compensated by the returned corrections.
type rankSampler struct {
	source *rand.PCGSource
	rng    *rand.Rand

	// alpha is the priority exponent; alpha = 0 recovers uniform
	// sampling.
	alpha float64

	// beta is the importance-sampling correction exponent, annealed
	// toward 1 on every Refresh.
	beta       float64
	annealRate float64

	indices []int
	probs   []float64
}

// NewRankSampler returns a rank-based prioritized sampler. beta is the
// initial importance-sampling exponent and is annealed toward 1 by
// annealRate on every Refresh.
func NewRankSampler(seed uint64, alpha, beta,
	annealRate float64) (Sampler, error) {
	if alpha < 0 {
		return nil, fmt.Errorf("newRankSampler: alpha must be non-negative "+
			"\n\thave(%v)", alpha)
	}
	if beta < 0 || beta > 1 {
		return nil, fmt.Errorf("newRankSampler: beta must be in [0, 1] "+
			"\n\thave(%v)", beta)
	}
	if annealRate < 0 || annealRate > 1 {
		return nil, fmt.Errorf("newRankSampler: annealing rate must be in "+
			"[0, 1] \n\thave(%v)", annealRate)
	}
	source := &rand.PCGSource{}
	source.Seed(seed)
	return &rankSampler{
		source:     source,
		rng:        rand.New(source),
		alpha:      alpha,
		beta:       beta,
		annealRate: annealRate,
	}, nil
}

// RNGState returns the serialized state of the sampler's random
// stream.
func (r *rankSampler) RNGState() ([]byte, error) {
	return r.source.MarshalBinary()
}

// SetRNGState restores a random stream serialized by RNGState.
func (r *rankSampler) SetRNGState(state []byte) error {
	return r.source.UnmarshalBinary(state)
}

// Refresh rebuilds the sorted priority view from the memory's current
// temporal-difference errors and writes the resulting priorities and
// probabilities back into the rows. It also anneals beta toward 1.
func (r *rankSampler) Refresh(m *Memory) error {
	n := m.Len()
	if n == 0 {
		r.indices, r.probs = nil, nil
		return nil
	}

	type scored struct {
		index int
		err   float64
	}
	rows := make([]scored, 0, n)
	for i := m.OldestIndex(); i <= m.NewestIndex(); i++ {
		row, err := m.Row(i)
		if err != nil {
			return fmt.Errorf("refresh: %v", err)
		}
		tdErr := math.Abs(row.Meta.RetraceValue - row.Meta.CurPolicy.StateValue)
		rows = append(rows, scored{index: i, err: tdErr})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].err > rows[j].err
	})

	total := 0.0
	priorities := make([]float64, n)
	for rank := range rows {
		priorities[rank] = math.Pow(1/float64(rank+1), r.alpha)
		total += priorities[rank]
	}

	r.indices = make([]int, n)
	r.probs = make([]float64, n)
	for rank, s := range rows {
		p := priorities[rank] / total
		r.indices[rank] = s.index
		r.probs[rank] = p

		row, err := m.Row(s.index)
		if err != nil {
			return fmt.Errorf("refresh: %v", err)
		}
		meta := row.Meta
		meta.Priority = priorities[rank]
		meta.Probability = p
		if err := m.Update(s.index, meta); err != nil {
			return fmt.Errorf("refresh: %v", err)
		}
	}

	r.beta += (1 - r.beta) * r.annealRate
	return nil
}

// Beta returns the current importance-sampling correction exponent.
func (r *rankSampler) Beta() float64 {
	return r.beta
}

// SetBeta overwrites the importance-sampling correction exponent, for
// restoring a sampler from a checkpoint.
func (r *rankSampler) SetBeta(beta float64) {
	r.beta = beta
}

// Sample implements the Sampler interface. Refresh must have been
// called since the memory last changed.
func (r *rankSampler) Sample(m *Memory, k int) ([]int, []float64, error) {
	if k <= 0 {
		return nil, nil, fmt.Errorf("sample: batch size must be positive "+
			"\n\thave(%v)", k)
	}
	if k > len(r.indices) {
		return nil, nil, &MemoryError{Op: "sample", Err: errInsufficientSamples}
	}

	n := float64(len(r.indices))
	taken := make(map[int]bool, k)
	indices := make([]int, 0, k)
	corrections := make([]float64, 0, k)

	for len(indices) < k {
		u := r.rng.Float64()
		cdf := 0.0
		pick := len(r.indices) - 1
		for i, p := range r.probs {
			cdf += p
			if u < cdf {
				pick = i
				break
			}
		}
		if taken[pick] {
			continue
		}
		taken[pick] = true

		indices = append(indices, r.indices[pick])
		corrections = append(corrections,
			math.Pow(n*r.probs[pick], -r.beta))
	}
	return indices, corrections, nil
}
