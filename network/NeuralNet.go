// Package network implements the neural network function approximators
// used by the learner and by rollout-side policy evaluation.
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet is a function approximator built on a gorgonia
// computational graph. Implementations add their forward pass to the
// graph at construction time, and callers drive the graph with a
// virtual machine.
type NeuralNet interface {
	// Graph returns the computational graph holding the network.
	Graph() *G.ExprGraph

	// Clone returns a copy of the network on a fresh graph with the
	// same batch size.
	Clone() (NeuralNet, error)

	// CloneWithBatch returns a copy of the network on a fresh graph
	// with a new input batch size.
	CloneWithBatch(int) (NeuralNet, error)

	// BatchSize returns the number of rows the input node expects.
	BatchSize() int

	// Features returns the number of features per input row.
	Features() int

	// Outputs returns the number of values predicted per input row,
	// summed over all output heads.
	Outputs() int

	// SetInput sets the value of the input node before a forward pass.
	SetInput([]float64) error

	// Set copies the weights of another network of identical
	// architecture into this one.
	Set(NeuralNet) error

	// Polyak moves the weights of this network towards those of
	// another by the interpolation factor tau.
	Polyak(NeuralNet, float64) error

	// Learnables returns the weight nodes of the network.
	Learnables() G.Nodes

	// Model returns the weight nodes paired with their gradients, as
	// consumed by gorgonia solvers.
	Model() []G.ValueGrad

	// Output returns the last computed value of each output head. It
	// is valid only after a virtual machine has run the graph.
	Output() []G.Value

	// Prediction returns the graph node of each output head.
	Prediction() []*G.Node
}
