package refer

import (
	"math"
	"testing"
)

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name                                  string
		cutoff, lr, beta, target, anneal, min float64
	}{
		{"cutoff below one", 0.5, 0.001, 0.3, 0.1, 0.05, 0},
		{"zero learning rate", 4, 0, 0.3, 0.1, 0.05, 0},
		{"beta above one", 4, 0.001, 1.5, 0.1, 0.05, 0},
		{"target at one", 4, 0.001, 0.3, 1, 0.05, 0},
		{"zero annealing rate", 4, 0.001, 0.3, 0.1, 0, 0},
		{"minimum above learning rate", 4, 0.001, 0.3, 0.1, 0.05, 0.01},
	}
	for _, c := range cases {
		if _, err := New(c.cutoff, c.lr, c.beta, c.target, c.anneal,
			c.min); err == nil {
			t.Errorf("%v: expected a configuration error", c.name)
		}
	}
}

func TestUpdateTightensWhenTooOffPolicy(t *testing.T) {
	c, err := New(4, 0.001, 0.3, 0.1, 0.05, 1e-6)
	if err != nil {
		t.Fatal(err)
	}

	c.Update(0.5)

	if want := 4 * 0.95; math.Abs(c.Cutoff()-want) > 1e-12 {
		t.Errorf("cutoff \n\twant(%v) \n\thave(%v)", want, c.Cutoff())
	}
	if want := 0.001 * 0.95; math.Abs(c.LearningRate()-want) > 1e-15 {
		t.Errorf("learning rate \n\twant(%v) \n\thave(%v)", want,
			c.LearningRate())
	}
	if want := 0.3 + 0.7*0.05; math.Abs(c.Beta()-want) > 1e-12 {
		t.Errorf("beta \n\twant(%v) \n\thave(%v)", want, c.Beta())
	}
}

func TestUpdateRelaxesWhenOnPolicy(t *testing.T) {
	c, err := New(4, 0.001, 0.3, 0.1, 0.05, 1e-6)
	if err != nil {
		t.Fatal(err)
	}

	c.Update(0.05)

	if want := 4 / 0.95; math.Abs(c.Cutoff()-want) > 1e-12 {
		t.Errorf("cutoff \n\twant(%v) \n\thave(%v)", want, c.Cutoff())
	}
	if want := 0.001 / 0.95; math.Abs(c.LearningRate()-want) > 1e-15 {
		t.Errorf("learning rate \n\twant(%v) \n\thave(%v)", want,
			c.LearningRate())
	}
	if want := 0.3 * 0.95; math.Abs(c.Beta()-want) > 1e-12 {
		t.Errorf("beta \n\twant(%v) \n\thave(%v)", want, c.Beta())
	}
}

func TestUpdateClamps(t *testing.T) {
	c, err := New(1, 0.001, 0.99, 0.1, 0.5, 0.0009)
	if err != nil {
		t.Fatal(err)
	}

	// Repeated tightening must not push the cutoff below one, beta
	// above one, or the learning rate below its floor.
	for i := 0; i < 100; i++ {
		c.Update(0.9)
	}
	if c.Cutoff() < 1 {
		t.Errorf("cutoff fell below one \n\thave(%v)", c.Cutoff())
	}
	if c.Beta() > 1 {
		t.Errorf("beta exceeded one \n\thave(%v)", c.Beta())
	}
	if c.LearningRate() < 0.0009 {
		t.Errorf("learning rate fell below floor \n\thave(%v)",
			c.LearningRate())
	}

	// Repeated relaxing must drive beta to zero, never negative.
	for i := 0; i < 200; i++ {
		c.Update(0)
	}
	if c.Beta() < 0 {
		t.Errorf("beta fell below zero \n\thave(%v)", c.Beta())
	}
}

func TestRestore(t *testing.T) {
	c, _ := New(4, 0.001, 0.3, 0.1, 0.05, 1e-6)
	if err := c.Restore(2, 0.0005, 0.6); err != nil {
		t.Fatal(err)
	}
	if c.Cutoff() != 2 || c.LearningRate() != 0.0005 || c.Beta() != 0.6 {
		t.Errorf("restore did not apply \n\thave(%v, %v, %v)", c.Cutoff(),
			c.LearningRate(), c.Beta())
	}
	if err := c.Restore(0.5, 0.0005, 0.6); err == nil {
		t.Error("expected an error restoring an invalid cutoff")
	}
}
