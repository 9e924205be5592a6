package policy

import (
	"fmt"
	"math"
	"sync"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goracer/network"
)

// StdDevOffset is added to every standard deviation produced by
// TransformStdDevs so that Gaussian densities never degenerate.
const StdDevOffset = 1e-3

// TransformStdDevs maps the raw standard deviation outputs of a network
// to strictly positive values in place. Raw output d becomes
// initStdDev[d] * exp(raw_d) + StdDevOffset, so a zero raw output
// yields the configured initial exploration noise.
func TransformStdDevs(params []float64, initStdDev []float64) {
	dims := len(initStdDev)
	for d := 0; d < dims; d++ {
		params[dims+d] = initStdDev[d]*math.Exp(params[dims+d]) + StdDevOffset
	}
}

// cloneVM pairs a network clone with the virtual machine that runs its
// graph.
type cloneVM struct {
	net network.NeuralNet
	vm  G.VM
}

// Evaluator runs batched forward passes of an actor-critic network and
// assembles the results into policy records. It caches one network
// clone per requested batch size and keeps all clones synchronized to
// the most recently published weights.
//
// An Evaluator is safe for concurrent use.
type Evaluator struct {
	mu     sync.Mutex
	arch   network.NeuralNet
	clones map[int]*cloneVM

	// initStdDev is the per-dimension initial exploration noise of a
	// continuous policy. It is nil for discrete policies, whose
	// distribution parameters are passed through untransformed.
	initStdDev []float64
}

// NewEvaluator returns an evaluator over the given network. The
// network's weights are copied, so the caller may keep training the
// source. For continuous policies initStdDev gives the per-dimension
// initial exploration noise; pass nil for discrete policies.
func NewEvaluator(net network.NeuralNet,
	initStdDev []float64) (*Evaluator, error) {
	arch, err := net.Clone()
	if err != nil {
		return nil, fmt.Errorf("newEvaluator: could not copy network: %v", err)
	}
	return &Evaluator{
		arch:       arch,
		clones:     make(map[int]*cloneVM),
		initStdDev: append([]float64(nil), initStdDev...),
	}, nil
}

// Refresh replaces the evaluator's weights with those of the source
// network. Subsequent evaluations use the new weights.
func (e *Evaluator) Refresh(source network.NeuralNet) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.arch.Set(source); err != nil {
		return fmt.Errorf("refresh: could not copy weights: %v", err)
	}
	for batch, c := range e.clones {
		if err := c.net.Set(e.arch); err != nil {
			return fmt.Errorf("refresh: could not update batch %v clone: %v",
				batch, err)
		}
	}
	return nil
}

// clone returns the cached clone for the given batch size, creating it
// on first use. Callers must hold e.mu.
func (e *Evaluator) clone(batch int) (*cloneVM, error) {
	if c, ok := e.clones[batch]; ok {
		return c, nil
	}
	net, err := e.arch.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("clone: could not clone network with batch "+
			"%v: %v", batch, err)
	}
	c := &cloneVM{
		net: net,
		vm:  G.NewTapeMachine(net.Graph()),
	}
	e.clones[batch] = c
	return c, nil
}

// RunPolicy evaluates the network on a batch of states and returns one
// policy record per state, holding the state value and the transformed
// distribution parameters.
func (e *Evaluator) RunPolicy(states [][]float64) ([]Record, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("runPolicy: no states to evaluate")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.clone(len(states))
	if err != nil {
		return nil, fmt.Errorf("runPolicy: %v", err)
	}

	features := c.net.Features()
	input := make([]float64, 0, len(states)*features)
	for i, s := range states {
		if len(s) != features {
			return nil, fmt.Errorf("runPolicy: state %v has wrong number of "+
				"features \n\twant(%v) \n\thave(%v)", i, features, len(s))
		}
		input = append(input, s...)
	}

	if err := c.net.SetInput(input); err != nil {
		return nil, fmt.Errorf("runPolicy: could not set input: %v", err)
	}
	if err := c.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("runPolicy: could not run forward pass: %v",
			err)
	}
	defer c.vm.Reset()

	out := c.net.Output()
	values := out[0].(*tensor.Dense).Data().([]float64)
	params := out[1].(*tensor.Dense).Data().([]float64)
	numParams := c.net.Outputs() - 1

	records := make([]Record, len(states))
	for i := range states {
		p := append([]float64(nil), params[i*numParams:(i+1)*numParams]...)
		if e.initStdDev != nil {
			TransformStdDevs(p, e.initStdDev)
		}
		records[i] = Record{
			StateValue:         values[i],
			DistributionParams: p,
		}
	}
	return records, nil
}

// RunState evaluates the network on a single state.
func (e *Evaluator) RunState(state []float64) (Record, error) {
	recs, err := e.RunPolicy([][]float64{state})
	if err != nil {
		return Record{}, err
	}
	return recs[0], nil
}

// Close releases the virtual machines held by the evaluator.
func (e *Evaluator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var first error
	for _, c := range e.clones {
		if err := c.vm.Close(); err != nil && first == nil {
			first = err
		}
	}
	e.clones = make(map[int]*cloneVM)
	return first
}
