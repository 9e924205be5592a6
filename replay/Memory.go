// Package replay implements the bounded replay memory at the centre of
// the learner: a ring of experiences with per-row policy metadata, FIFO
// eviction, and the samplers that draw minibatches from it.
package replay

import (
	"fmt"

	"github.com/samuelfneumann/goracer/cbuffer"
	"github.com/samuelfneumann/goracer/policy"
	"github.com/samuelfneumann/goracer/timestep"
)

// Derived holds the mutable, recomputable metadata of a replay row.
// All fields except Priority and Probability are refreshed by the
// importance engine whenever the row appears in a minibatch; those two
// are written by the rank sampler's Refresh.
type Derived struct {
	// CurPolicy is the policy record re-evaluated under the latest
	// network parameters for the row's state.
	CurPolicy policy.Record

	// TruncatedStateValue is the critic's estimate for the truncated
	// state. It is meaningful only for Truncated rows.
	TruncatedStateValue float64

	// ImportanceWeight is ρ = π_cur(a|s) / π_exp(a|s).
	ImportanceWeight float64

	// TruncImportanceWeight is min(ρ, C) for the configured truncation
	// level C.
	TruncImportanceWeight float64

	// RetraceValue is the value target computed backward through the
	// row's episode.
	RetraceValue float64

	// IsOnPolicy reports whether ρ lies within [1/cutoff, cutoff] for
	// the controller's current cutoff.
	IsOnPolicy bool

	// Priority and Probability support rank-based sampling.
	Priority    float64
	Probability float64
}

// Row is a single replay memory entry: the immutable experience plus
// its derived metadata.
type Row struct {
	timestep.Experience
	Meta Derived
}

// Memory is the bounded replay memory. A single logical index space is
// shared by the experience and all derived metadata, and rows are
// evicted first-in first-out when the ring wraps.
//
// Memory is not safe for concurrent use. The learner owns it.
type Memory struct {
	rows      *cbuffer.CBuffer[Row]
	startSize int

	offPolicyCount int
	envCounts      []int
}

// New returns a replay memory with the given maximum capacity. No
// minibatch may be drawn until the memory holds at least startSize
// rows.
func New(maxSize, startSize, numEnvs int) (*Memory, error) {
	if maxSize <= 0 {
		return nil, &MemoryError{Op: "new", Err: errCapacityZero}
	}
	if startSize <= 0 || startSize > maxSize {
		return nil, fmt.Errorf("new: start size must be in [1, %v] "+
			"\n\thave(%v)", maxSize, startSize)
	}
	if numEnvs <= 0 {
		return nil, fmt.Errorf("new: number of environments must be "+
			"positive \n\thave(%v)", numEnvs)
	}

	rows, err := cbuffer.New[Row](maxSize)
	if err != nil {
		return nil, &MemoryError{Op: "new", Err: errCapacityZero}
	}
	return &Memory{
		rows:      rows,
		startSize: startSize,
		envCounts: make([]int, numEnvs),
	}, nil
}

// Append adds an experience to the memory. Derived metadata is
// initialized to the on-policy state of a freshly collected
// experience. If the ring is full the oldest row is evicted and
// returned along with true so that callers can retire its statistics.
func (m *Memory) Append(exp timestep.Experience) (Row, bool, error) {
	if err := exp.Validate(); err != nil {
		return Row{}, false, fmt.Errorf("append: %v", err)
	}
	if exp.EnvironmentID < 0 || exp.EnvironmentID >= len(m.envCounts) {
		return Row{}, false, fmt.Errorf("append: invalid environment id "+
			"\n\twant([0, %v)) \n\thave(%v)", len(m.envCounts),
			exp.EnvironmentID)
	}

	row := Row{
		Experience: exp,
		Meta: Derived{
			CurPolicy:             exp.ExpPolicy.Clone(),
			ImportanceWeight:      1,
			TruncImportanceWeight: 1,
			RetraceValue:          exp.ExpPolicy.StateValue,
			IsOnPolicy:            true,
		},
	}

	evicted, wasEvicted := m.rows.Append(row)
	m.envCounts[exp.EnvironmentID]++
	if wasEvicted {
		if !evicted.Meta.IsOnPolicy {
			m.offPolicyCount--
		}
		m.envCounts[evicted.EnvironmentID]--
	}
	return evicted, wasEvicted, nil
}

// Row returns a copy of the row at the given logical index.
func (m *Memory) Row(index int) (Row, error) {
	row, ok := m.rows.At(index)
	if !ok {
		return Row{}, &MemoryError{Op: "row", Err: errStaleIndex}
	}
	return row, nil
}

// Update overwrites the derived metadata of the row at the given
// logical index, maintaining the off-policy count.
func (m *Memory) Update(index int, meta Derived) error {
	row, ok := m.rows.At(index)
	if !ok {
		return &MemoryError{Op: "update", Err: errStaleIndex}
	}

	if row.Meta.IsOnPolicy && !meta.IsOnPolicy {
		m.offPolicyCount++
	} else if !row.Meta.IsOnPolicy && meta.IsOnPolicy {
		m.offPolicyCount--
	}

	row.Meta = meta
	m.rows.Set(index, row)
	return nil
}

// Contains returns whether the given logical index refers to a live
// row.
func (m *Memory) Contains(index int) bool {
	return m.rows.Contains(index)
}

// Len returns the number of live rows.
func (m *Memory) Len() int {
	return m.rows.Len()
}

// Cap returns the maximum number of rows.
func (m *Memory) Cap() int {
	return m.rows.Cap()
}

// StartSize returns the number of rows required before training may
// begin.
func (m *Memory) StartSize() int {
	return m.startSize
}

// Ready returns whether enough rows have been collected to train.
func (m *Memory) Ready() bool {
	return m.Len() >= m.startSize
}

// OldestIndex returns the logical index of the oldest live row.
func (m *Memory) OldestIndex() int {
	return m.rows.OldestIndex()
}

// NewestIndex returns the logical index of the newest row, or -1 when
// the memory is empty.
func (m *Memory) NewestIndex() int {
	return m.rows.NewestIndex()
}

// OffPolicyCount returns the number of live rows classified as
// off-policy.
func (m *Memory) OffPolicyCount() int {
	return m.offPolicyCount
}

// OffPolicyRatio returns the fraction of live rows classified as
// off-policy, or 0 for an empty memory.
func (m *Memory) OffPolicyRatio() float64 {
	if m.Len() == 0 {
		return 0
	}
	return float64(m.offPolicyCount) / float64(m.Len())
}

// Occupancy returns size / capacity.
func (m *Memory) Occupancy() float64 {
	return float64(m.Len()) / float64(m.Cap())
}

// EnvCount returns the number of live rows collected from the given
// environment.
func (m *Memory) EnvCount(envID int) int {
	if envID < 0 || envID >= len(m.envCounts) {
		return 0
	}
	return m.envCounts[envID]
}

// NumEnvs returns the number of tracked environments.
func (m *Memory) NumEnvs() int {
	return len(m.envCounts)
}

// EpisodeExtent returns the logical index range [start, end] of the
// rows of the episode owning index i that are live in the memory. The
// range is clamped at the oldest live row for episodes whose head has
// been evicted.
func (m *Memory) EpisodeExtent(index int) (start, end int, err error) {
	row, ok := m.rows.At(index)
	if !ok {
		return 0, 0, &MemoryError{Op: "episodeExtent", Err: errStaleIndex}
	}

	start = index
	for start > m.OldestIndex() {
		prev, ok := m.rows.At(start - 1)
		if !ok || prev.EpisodeID != row.EpisodeID {
			break
		}
		start--
	}

	end = index
	for end < m.NewestIndex() {
		cur, _ := m.rows.At(end)
		if cur.Termination != timestep.NonTerminal {
			break
		}
		next, ok := m.rows.At(end + 1)
		if !ok || next.EpisodeID != row.EpisodeID {
			break
		}
		end++
	}
	return start, end, nil
}

// States returns the states of all live rows in logical order, used
// for the one-shot state rescaling fit.
func (m *Memory) States() [][]float64 {
	rows := m.rows.Slice()
	states := make([][]float64, len(rows))
	for i, r := range rows {
		states[i] = append([]float64(nil), r.State...)
	}
	return states
}

// Rows returns copies of all live rows in logical order, oldest first,
// used for checkpointing.
func (m *Memory) Rows() []Row {
	return m.rows.Slice()
}

// Restore replaces the memory's contents with the given rows, the
// first of which receives the logical index oldest. The off-policy
// count and per-environment counts are recomputed from the rows.
func (m *Memory) Restore(rows []Row, oldest int) error {
	if err := m.rows.Restore(rows, oldest); err != nil {
		return fmt.Errorf("restore: %v", err)
	}

	m.offPolicyCount = 0
	for i := range m.envCounts {
		m.envCounts[i] = 0
	}
	for _, r := range rows {
		if !r.Meta.IsOnPolicy {
			m.offPolicyCount++
		}
		if r.EnvironmentID >= 0 && r.EnvironmentID < len(m.envCounts) {
			m.envCounts[r.EnvironmentID]++
		}
	}
	return nil
}
