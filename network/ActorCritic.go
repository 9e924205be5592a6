package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// actorCritic implements a feed forward network with a shared trunk and
// two linear output heads. The first head predicts the state value and
// the second predicts the parameters of the action distribution. Both
// heads read the final trunk layer, so value and policy gradients flow
// through shared weights.
type actorCritic struct {
	g      *G.ExprGraph
	trunk  []Layer
	value  Layer
	policy Layer

	input     *G.Node
	numParams int
	numInputs int
	batchSize int

	// Data needed for gobbing
	hiddenSizes []int
	biases      []bool
	activations []*Activation

	learnables G.Nodes
	model      []G.ValueGrad

	valuePred  *G.Node
	policyPred *G.Node
	valueVal   G.Value
	policyVal  G.Value
}

// NewActorCritic creates and returns a new actor-critic network and
// populates the graph g with it. The trunk has len(hiddenSizes) fully
// connected layers, and two linear heads are appended: a single-output
// value head and a numParams-output policy head. For index i,
// hiddenSizes[i] is the number of units in trunk layer i, biases[i]
// selects a bias unit for it, and activations[i] is its activation.
func NewActorCritic(features, batch, numParams int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	if len(hiddenSizes) == 0 {
		return nil, fmt.Errorf("newactorcritic: need at least one trunk layer")
	}
	if len(hiddenSizes) != len(activations) {
		return nil, fmt.Errorf("newactorcritic: invalid number of "+
			"activations \n\twant(%d) \n\thave(%d)", len(hiddenSizes),
			len(activations))
	}
	if len(hiddenSizes) != len(biases) {
		return nil, fmt.Errorf("newactorcritic: invalid number of biases "+
			"\n\twant(%d) \n\thave(%d)", len(hiddenSizes), len(biases))
	}
	if numParams < 1 {
		return nil, fmt.Errorf("newactorcritic: invalid number of "+
			"distribution parameters \n\twant(>0) \n\thave(%d)", numParams)
	}

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	net := &actorCritic{
		g:           g,
		input:       input,
		numParams:   numParams,
		numInputs:   features,
		batchSize:   batch,
		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
	}

	net.trunk = addFCLayers(g, features, hiddenSizes, biases, activations,
		init, "", "")
	trunkOut := hiddenSizes[len(hiddenSizes)-1]
	net.value = newFCLayer(g, trunkOut, 1, true, Identity(), init,
		"Value", "")
	net.policy = newFCLayer(g, trunkOut, numParams, true, Identity(), init,
		"Policy", "")

	if err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("newactorcritic: could not compute forward "+
			"pass: %v", err)
	}

	return net, nil
}

// fwd adds the forward pass of the network to the computational graph.
func (a *actorCritic) fwd(input *G.Node) error {
	pred := input
	var err error
	for i, l := range a.trunk {
		if pred, err = l.fwd(pred); err != nil {
			return fmt.Errorf("fwd: could not compute forward pass of trunk "+
				"layer %v: %v", i, err)
		}
	}

	if a.valuePred, err = a.value.fwd(pred); err != nil {
		return fmt.Errorf("fwd: could not compute value head: %v", err)
	}
	if a.policyPred, err = a.policy.fwd(pred); err != nil {
		return fmt.Errorf("fwd: could not compute policy head: %v", err)
	}

	G.Read(a.valuePred, &a.valueVal)
	G.Read(a.policyPred, &a.policyVal)
	return nil
}

// Graph returns the computational graph of the network.
func (a *actorCritic) Graph() *G.ExprGraph {
	return a.g
}

// Clone clones the network to a fresh graph with the same batch size.
func (a *actorCritic) Clone() (NeuralNet, error) {
	return a.CloneWithBatch(a.batchSize)
}

// CloneWithBatch clones the network to a fresh graph with a new input
// batch size.
func (a *actorCritic) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()
	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, a.numInputs),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	trunk := make([]Layer, len(a.trunk))
	for i := range a.trunk {
		trunk[i] = a.trunk[i].CloneTo(graph)
	}

	net := &actorCritic{
		g:           graph,
		trunk:       trunk,
		value:       a.value.CloneTo(graph),
		policy:      a.policy.CloneTo(graph),
		input:       input,
		numParams:   a.numParams,
		numInputs:   a.numInputs,
		batchSize:   batchSize,
		hiddenSizes: a.hiddenSizes,
		biases:      a.biases,
		activations: a.activations,
	}
	if err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("clonewithbatch: could not clone: %v", err)
	}

	return net, nil
}

// BatchSize returns the batch size of inputs to the network.
func (a *actorCritic) BatchSize() int {
	return a.batchSize
}

// Features returns the number of features in a single observation
// vector that the network takes as input.
func (a *actorCritic) Features() int {
	return a.numInputs
}

// Outputs returns the number of predictions per input row over both
// heads.
func (a *actorCritic) Outputs() int {
	return 1 + a.numParams
}

// SetInput sets the value of the input node before running the forward
// pass.
func (a *actorCritic) SetInput(input []float64) error {
	if len(input) != a.numInputs*a.batchSize {
		return fmt.Errorf("setinput: invalid number of inputs \n\twant(%v) "+
			"\n\thave(%v)", a.numInputs*a.batchSize, len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(a.input.Shape()...),
	)
	return G.Let(a.input, inputTensor)
}

// Set sets the weights of the network to be equal to the weights of
// another network of identical architecture.
func (dest *actorCritic) Set(source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(sourceNodes) != len(nodes) {
		return fmt.Errorf("set: architecture mismatch \n\twant(%v learnables)"+
			" \n\thave(%v)", len(nodes), len(sourceNodes))
	}
	for i, destLearnable := range nodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return err
		}
	}
	return nil
}

// Polyak sets the weights of the network to a polyak average between
// its existing weights and the weights of another network.
func (dest *actorCritic) Polyak(source NeuralNet, tau float64) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		var newWeights *tensor.Dense
		newWeights, err = weights.Add(sourceWeights)
		if err != nil {
			return err
		}

		if err := G.Let(nodes[i], newWeights); err != nil {
			return err
		}
	}
	return nil
}

// Learnables returns the learnable nodes of the network.
func (a *actorCritic) Learnables() G.Nodes {
	// Lazy instantiation
	if a.learnables == nil {
		a.learnables = a.computeLearnables()
	}
	return a.learnables
}

func (a *actorCritic) computeLearnables() G.Nodes {
	layers := append([]Layer{}, a.trunk...)
	layers = append(layers, a.value, a.policy)

	learnables := make([]*G.Node, 0, 2*len(layers))
	for _, l := range layers {
		learnables = append(learnables, l.Weights())
		if bias := l.Bias(); bias != nil {
			learnables = append(learnables, bias)
		}
	}
	return G.Nodes(learnables)
}

// Model returns the learnable nodes with their gradients.
func (a *actorCritic) Model() []G.ValueGrad {
	// Lazy instantiation
	if a.model == nil {
		model := make([]G.ValueGrad, 0, len(a.Learnables()))
		for _, node := range a.Learnables() {
			model = append(model, node)
		}
		a.model = model
	}
	return a.model
}

// Output returns the last computed values of the value and policy
// heads, in that order.
func (a *actorCritic) Output() []G.Value {
	return []G.Value{a.valueVal, a.policyVal}
}

// Prediction returns the value and policy head nodes, in that order.
func (a *actorCritic) Prediction() []*G.Node {
	return []*G.Node{a.valuePred, a.policyPred}
}

// GobEncode implements the gob.GobEncoder interface.
func (a *actorCritic) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(a.numParams); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of " +
			"distribution parameters")
	}
	if err := enc.Encode(a.numInputs); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of inputs")
	}
	if err := enc.Encode(a.batchSize); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode batch size")
	}
	if err := enc.Encode(a.hiddenSizes); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode hidden sizes")
	}
	if err := enc.Encode(a.biases); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode biases")
	}
	if err := enc.Encode(a.activations); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode activations")
	}

	layers := append([]Layer{}, a.trunk...)
	layers = append(layers, a.value, a.policy)
	for i, layer := range layers {
		if err := enc.Encode(layer); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode layer %v: %v",
				i, err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface.
func (a *actorCritic) GobDecode(in []byte) error {
	buf := bytes.NewReader(in)
	dec := gob.NewDecoder(buf)

	var numParams, numInputs, batchSize int
	if err := dec.Decode(&numParams); err != nil {
		return fmt.Errorf("gobdecode: could not decode number of " +
			"distribution parameters")
	}
	if err := dec.Decode(&numInputs); err != nil {
		return fmt.Errorf("gobdecode: could not decode number of inputs")
	}
	if err := dec.Decode(&batchSize); err != nil {
		return fmt.Errorf("gobdecode: could not decode batch size")
	}

	var hiddenSizes []int
	if err := dec.Decode(&hiddenSizes); err != nil {
		return fmt.Errorf("gobdecode: could not decode hidden sizes")
	}
	var biases []bool
	if err := dec.Decode(&biases); err != nil {
		return fmt.Errorf("gobdecode: could not decode biases")
	}
	var activations []*Activation
	if err := dec.Decode(&activations); err != nil {
		return fmt.Errorf("gobdecode: could not decode activations")
	}

	g := G.NewGraph()
	newNet, err := NewActorCritic(numInputs, batchSize, numParams, g,
		hiddenSizes, biases, G.Zeroes(), activations)
	if err != nil {
		return fmt.Errorf("gobdecode: could not construct new network: %v",
			err)
	}
	net := newNet.(*actorCritic)

	layers := append([]Layer{}, net.trunk...)
	layers = append(layers, net.value, net.policy)
	for i := range layers {
		if err := dec.Decode(layers[i]); err != nil {
			return fmt.Errorf("gobdecode: could not decode layer %v: %v", i,
				err)
		}
	}

	*a = *net
	return nil
}

func init() {
	gob.Register(&actorCritic{})
	gob.Register(&fcLayer{})
}
