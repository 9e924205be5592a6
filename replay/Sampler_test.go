package replay

import (
	"math"
	"testing"
)

func TestUniformSamplerDistinctIndices(t *testing.T) {
	m, _ := New(8, 1, 1)
	appendAll(t, m, makeEpisode(0, 6, 0))

	s := NewUniformSampler(17)
	indices, corrections, err := s.Sample(m, 4)
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[int]bool)
	for i, idx := range indices {
		if !m.Contains(idx) {
			t.Errorf("sampled stale index %v", idx)
		}
		if seen[idx] {
			t.Errorf("index %v sampled twice", idx)
		}
		seen[idx] = true
		if corrections[i] != 1 {
			t.Errorf("uniform corrections must be one \n\thave(%v)",
				corrections[i])
		}
	}
}

func TestUniformSamplerInsufficientSamples(t *testing.T) {
	m, _ := New(8, 1, 1)
	appendAll(t, m, makeEpisode(0, 3, 0))

	s := NewUniformSampler(17)
	if _, _, err := s.Sample(m, 4); !IsInsufficientSamples(err) {
		t.Errorf("expected an insufficient samples error \n\thave(%v)", err)
	}
}

func TestRankSamplerPrefersLargeErrors(t *testing.T) {
	m, _ := New(16, 1, 1)
	appendAll(t, m, makeEpisode(0, 10, 0))

	// Give row 0 a much larger temporal-difference error than the
	// rest.
	for i := 0; i < 10; i++ {
		row, _ := m.Row(i)
		meta := row.Meta
		meta.RetraceValue = row.Meta.CurPolicy.StateValue
		if i == 0 {
			meta.RetraceValue += 100
		}
		if err := m.Update(i, meta); err != nil {
			t.Fatal(err)
		}
	}

	s, err := NewRankSampler(3, 1, 0.5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Refresh(m); err != nil {
		t.Fatal(err)
	}

	row, _ := m.Row(0)
	if row.Meta.Priority != 1 {
		t.Errorf("largest error should have top priority \n\twant(1) "+
			"\n\thave(%v)", row.Meta.Priority)
	}

	hits := 0
	draws := 200
	for i := 0; i < draws; i++ {
		indices, corrections, err := s.Sample(m, 1)
		if err != nil {
			t.Fatal(err)
		}
		if indices[0] == 0 {
			hits++
			row, _ := m.Row(0)
			want := math.Pow(10*row.Meta.Probability, -0.5)
			if math.Abs(corrections[0]-want) > 1e-12 {
				t.Errorf("correction for top row \n\twant(%v) \n\thave(%v)",
					want, corrections[0])
			}
		}
	}
	if hits < draws/4 {
		t.Errorf("top priority row sampled too rarely \n\thave(%v/%v)", hits,
			draws)
	}
}

func TestRankSamplerInsufficientSamples(t *testing.T) {
	m, _ := New(8, 1, 1)
	appendAll(t, m, makeEpisode(0, 2, 0))

	s, _ := NewRankSampler(3, 0.7, 0.5, 0.01)
	if err := s.Refresh(m); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Sample(m, 5); !IsInsufficientSamples(err) {
		t.Errorf("expected an insufficient samples error \n\thave(%v)", err)
	}
}

// TestSamplerRNGRoundTrip checks that a sampler restored from a saved
// random stream reproduces the original's next minibatch exactly.
func TestSamplerRNGRoundTrip(t *testing.T) {
	m, _ := New(16, 1, 1)
	appendAll(t, m, makeEpisode(0, 12, 0))

	source := NewUniformSampler(17)
	if _, _, err := source.Sample(m, 4); err != nil {
		t.Fatal(err)
	}

	state, err := source.(*uniformSampler).RNGState()
	if err != nil {
		t.Fatalf("rngState: %v", err)
	}

	restored := NewUniformSampler(99)
	if err := restored.(*uniformSampler).SetRNGState(state); err != nil {
		t.Fatalf("setRNGState: %v", err)
	}

	want, _, err := source.Sample(m, 4)
	if err != nil {
		t.Fatal(err)
	}
	have, _, err := restored.Sample(m, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if want[i] != have[i] {
			t.Fatalf("restored stream diverged at draw %v \n\twant(%v) "+
				"\n\thave(%v)", i, want, have)
		}
	}
}
