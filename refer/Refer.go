// Package refer implements the off-policiness controller that steers
// the importance cutoff, the learning rate, and the divergence penalty
// coefficient toward a target fraction of off-policy experiences in the
// replay memory.
package refer

import (
	"fmt"
	"math"
)

// Controller holds the three control scalars adjusted after every
// policy update. When the replay memory holds more off-policy
// experiences than the target fraction, the controller tightens the
// cutoff and the learning rate and raises the divergence penalty;
// otherwise it relaxes them.
type Controller struct {
	cutoff       float64
	learningRate float64
	beta         float64

	target          float64
	annealRate      float64
	minLearningRate float64
}

// New returns a controller with the given initial scalars. target is
// the desired off-policy fraction, annealRate the per-update
// adjustment rate, and minLearningRate the floor below which the
// learning rate is never annealed.
func New(cutoffScale, learningRate, beta, target, annealRate,
	minLearningRate float64) (*Controller, error) {
	if cutoffScale < 1 {
		return nil, fmt.Errorf("new: cutoff scale must be at least 1 "+
			"\n\thave(%v)", cutoffScale)
	}
	if learningRate <= 0 {
		return nil, fmt.Errorf("new: learning rate must be positive "+
			"\n\thave(%v)", learningRate)
	}
	if beta < 0 || beta > 1 {
		return nil, fmt.Errorf("new: beta must be in [0, 1] \n\thave(%v)",
			beta)
	}
	if target <= 0 || target >= 1 {
		return nil, fmt.Errorf("new: off-policy target must be in (0, 1) "+
			"\n\thave(%v)", target)
	}
	if annealRate <= 0 || annealRate >= 1 {
		return nil, fmt.Errorf("new: annealing rate must be in (0, 1) "+
			"\n\thave(%v)", annealRate)
	}
	if minLearningRate < 0 || minLearningRate > learningRate {
		return nil, fmt.Errorf("new: minimum learning rate must be in "+
			"[0, %v] \n\thave(%v)", learningRate, minLearningRate)
	}
	return &Controller{
		cutoff:          cutoffScale,
		learningRate:    learningRate,
		beta:            beta,
		target:          target,
		annealRate:      annealRate,
		minLearningRate: minLearningRate,
	}, nil
}

// Update adjusts the control scalars after a policy update given the
// replay memory's current off-policy ratio.
func (c *Controller) Update(offPolicyRatio float64) {
	a := c.annealRate
	if offPolicyRatio > c.target {
		c.cutoff *= 1 - a
		c.learningRate *= 1 - a
		c.beta += (1 - c.beta) * a
	} else {
		c.cutoff /= 1 - a
		c.learningRate /= 1 - a
		c.beta -= c.beta * a
	}

	c.cutoff = math.Max(c.cutoff, 1)
	c.beta = math.Min(math.Max(c.beta, 0), 1)
	c.learningRate = math.Max(c.learningRate, c.minLearningRate)
}

// Cutoff returns the current on-policy classification cutoff. An
// experience with importance weight in [1/Cutoff, Cutoff] counts as
// on-policy.
func (c *Controller) Cutoff() float64 {
	return c.cutoff
}

// LearningRate returns the current annealed learning rate.
func (c *Controller) LearningRate() float64 {
	return c.learningRate
}

// Beta returns the current divergence penalty coefficient.
func (c *Controller) Beta() float64 {
	return c.beta
}

// Restore sets the control scalars directly, used when resuming from a
// checkpoint.
func (c *Controller) Restore(cutoff, learningRate, beta float64) error {
	if cutoff < 1 || learningRate <= 0 || beta < 0 || beta > 1 {
		return fmt.Errorf("restore: invalid control scalars "+
			"\n\thave(cutoff %v, learning rate %v, beta %v)", cutoff,
			learningRate, beta)
	}
	c.cutoff = cutoff
	c.learningRate = learningRate
	c.beta = beta
	return nil
}
