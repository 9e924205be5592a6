package rescale

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distuv"
)

func TestStateScalerWhitens(t *testing.T) {
	s := NewStateScaler()

	states := [][]float64{
		{1, 10},
		{2, 20},
		{3, 30},
	}
	if err := s.Fit(states); err != nil {
		t.Fatal(err)
	}

	out := s.Apply([]float64{2, 20})
	if math.Abs(out[0]) > 1e-12 || math.Abs(out[1]) > 1e-12 {
		t.Errorf("mean state should whiten to zero \n\thave(%v)", out)
	}

	if err := s.Fit(states); err == nil {
		t.Error("expected an error when fitting twice")
	}
}

func TestStateScalerIdentityBeforeFit(t *testing.T) {
	s := NewStateScaler()
	in := []float64{3, -1, 7}
	out := s.Apply(in)
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("unfitted scaler must be the identity \n\twant(%v) "+
				"\n\thave(%v)", in[i], out[i])
		}
	}
}

func TestStateScalerConstantFeature(t *testing.T) {
	s := NewStateScaler()
	if err := s.Fit([][]float64{{5, 1}, {5, 2}, {5, 3}}); err != nil {
		t.Fatal(err)
	}
	out := s.Apply([]float64{5, 2})
	if math.Abs(out[0]) > 1e-12 {
		t.Errorf("constant feature should whiten to zero, not blow up "+
			"\n\thave(%v)", out[0])
	}
}

func TestRewardScalerSigma(t *testing.T) {
	r, err := NewRewardScaler(1)
	if err != nil {
		t.Fatal(err)
	}

	norm := distuv.Normal{Mu: 0, Sigma: 2, Src: rand.NewSource(11)}
	for i := 0; i < 1000; i++ {
		if err := r.Add(0, norm.Rand()); err != nil {
			t.Fatal(err)
		}
	}

	sigma := r.Sigma(0)
	if sigma < 1.9 || sigma > 2.1 {
		t.Errorf("running sigma far from the generating sigma "+
			"\n\twant([1.9, 2.1]) \n\thave(%v)", sigma)
	}
}

func TestRewardScalerEviction(t *testing.T) {
	r, err := NewRewardScaler(2)
	if err != nil {
		t.Fatal(err)
	}

	r.Add(0, 3)
	r.Add(0, 4)
	r.Add(1, 100)

	if err := r.Remove(0, 3); err != nil {
		t.Fatal(err)
	}
	if want := 4.0; math.Abs(r.Sigma(0)-want) > 1e-12 {
		t.Errorf("sigma after eviction \n\twant(%v) \n\thave(%v)", want,
			r.Sigma(0))
	}

	if err := r.Remove(0, 4); err != nil {
		t.Fatal(err)
	}
	if r.Sigma(0) != 1 {
		t.Errorf("empty environment should scale by one \n\thave(%v)",
			r.Sigma(0))
	}

	if err := r.Remove(0, 1); err == nil {
		t.Error("expected an error removing from an empty environment")
	}
}

func TestRewardScalerZeroSigma(t *testing.T) {
	r, _ := NewRewardScaler(1)
	r.Add(0, 0)
	r.Add(0, 0)
	if r.Scale(0, 5) != 5 {
		t.Errorf("zero sigma must not rescale \n\twant(5) \n\thave(%v)",
			r.Scale(0, 5))
	}
}

func TestOutboundPenalty(t *testing.T) {
	p, err := NewOutboundPenalty([]r1.Interval{{Min: 0, Max: 1}}, 0.5)
	if err != nil {
		t.Fatal(err)
	}

	reward, penalized := p.Apply([]float64{1.5}, 10)
	if !penalized {
		t.Fatal("expected out-of-bound action to be penalized")
	}
	if reward != 5 {
		t.Errorf("penalized reward \n\twant(5) \n\thave(%v)", reward)
	}

	reward, penalized = p.Apply([]float64{0.5}, 10)
	if penalized || reward != 10 {
		t.Errorf("in-bound action must not be penalized \n\thave(%v, %v)",
			reward, penalized)
	}
}
