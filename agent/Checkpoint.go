package agent

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"

	"github.com/samuelfneumann/goracer/network"
	"github.com/samuelfneumann/goracer/replay"
)

// betaCarrier is satisfied by samplers whose importance-sampling
// exponent is annealed across updates and must survive a checkpoint.
type betaCarrier interface {
	Beta() float64
	SetBeta(float64)
}

// rngCarrier is satisfied by samplers whose random stream must resume
// from a checkpoint for training to replay bit-for-bit.
type rngCarrier interface {
	RNGState() ([]byte, error)
	SetRNGState([]byte) error
}

// Checkpoint is the self-describing serialized state of a learner.
// Restoring a checkpoint into a learner built from the same config
// reproduces its state exactly, so training resumes bit-for-bit given
// the same worker seeds.
type Checkpoint struct {
	// Config is the JSON encoding of the configuration the learner was
	// built from.
	Config []byte

	Rows        []replay.Row
	OldestIndex int

	Cutoff       float64
	LearningRate float64
	Beta         float64

	Generation         int
	ExperienceCount    int
	EpisodeCount       int
	PolicyUpdateCount  int
	OutboundActions    int
	AccruedExperiences int
	UpdatesOwed        float64

	RewardSumSquared []float64
	RewardCounts     []int

	StateFitted  bool
	StateMeans   []float64
	StateStdDevs []float64

	RewardHistory     []float64
	ExperienceHistory []int
	BestReward        float64
	BestEpisode       int
	BestPolicy        []byte

	Network []byte

	// RNG is the serialized state of the learner's action-sampling
	// stream; SamplerRNG is the minibatch sampler's.
	RNG        []byte
	SamplerRNG []byte

	HasSamplerBeta bool
	SamplerBeta    float64
}

// Checkpoint writes the learner's complete state to w.
func (v *VRACER) Checkpoint(w io.Writer) error {
	netBytes, err := encodeNetwork(v.trainNet)
	if err != nil {
		return fmt.Errorf("checkpoint: %v", err)
	}
	configBytes, err := json.Marshal(v.config)
	if err != nil {
		return fmt.Errorf("checkpoint: %v", err)
	}
	rngBytes, err := v.rngSource.MarshalBinary()
	if err != nil {
		return fmt.Errorf("checkpoint: %v", err)
	}

	ckpt := Checkpoint{
		Config:      configBytes,
		Rows:        v.memory.Rows(),
		OldestIndex: v.memory.OldestIndex(),

		Cutoff:       v.controller.Cutoff(),
		LearningRate: v.controller.LearningRate(),
		Beta:         v.controller.Beta(),

		Generation:         v.generation,
		ExperienceCount:    v.experienceCount,
		EpisodeCount:       v.episodeCount,
		PolicyUpdateCount:  v.policyUpdateCount,
		OutboundActions:    v.outboundActions,
		AccruedExperiences: v.accruedExperiences,
		UpdatesOwed:        v.updatesOwed,

		RewardSumSquared: v.rewardScaler.SumSquared(),
		RewardCounts:     v.rewardScaler.Counts(),

		StateFitted: v.stateScaler.Fitted(),

		RewardHistory:     append([]float64(nil), v.rewardHistory...),
		ExperienceHistory: append([]int(nil), v.experienceHistory...),
		BestReward:        v.bestReward,
		BestEpisode:       v.bestEpisode,
		BestPolicy:        append([]byte(nil), v.bestPolicy...),

		Network: netBytes,
		RNG:     rngBytes,
	}
	if ckpt.StateFitted {
		ckpt.StateMeans = v.stateScaler.Means()
		ckpt.StateStdDevs = v.stateScaler.StdDevs()
	}
	if carrier, ok := v.sampler.(betaCarrier); ok {
		ckpt.HasSamplerBeta = true
		ckpt.SamplerBeta = carrier.Beta()
	}
	if carrier, ok := v.sampler.(rngCarrier); ok {
		ckpt.SamplerRNG, err = carrier.RNGState()
		if err != nil {
			return fmt.Errorf("checkpoint: %v", err)
		}
	}

	if err := gob.NewEncoder(w).Encode(ckpt); err != nil {
		return fmt.Errorf("checkpoint: %v", err)
	}
	return nil
}

// Restore loads a checkpoint written by Checkpoint into the learner.
// The learner must have been constructed from the same config that
// produced the checkpoint.
func (v *VRACER) Restore(r io.Reader) error {
	var ckpt Checkpoint
	if err := gob.NewDecoder(r).Decode(&ckpt); err != nil {
		return fmt.Errorf("restore: %v", err)
	}

	var saved Config
	if err := json.Unmarshal(ckpt.Config, &saved); err != nil {
		return fmt.Errorf("restore: %v", err)
	}
	if saved.ObservationDims() != v.config.ObservationDims() ||
		len(saved.ActionBounds()) != len(v.config.ActionBounds()) {
		return fmt.Errorf("restore: checkpoint is for a different problem "+
			"\n\twant(%v states, %v actions) \n\thave(%v states, %v actions)",
			v.config.ObservationDims(), len(v.config.ActionBounds()),
			saved.ObservationDims(), len(saved.ActionBounds()))
	}

	if err := v.memory.Restore(ckpt.Rows, ckpt.OldestIndex); err != nil {
		return fmt.Errorf("restore: %v", err)
	}
	if err := v.controller.Restore(ckpt.Cutoff, ckpt.LearningRate,
		ckpt.Beta); err != nil {
		return fmt.Errorf("restore: %v", err)
	}
	if err := v.rewardScaler.Restore(ckpt.RewardSumSquared,
		ckpt.RewardCounts); err != nil {
		return fmt.Errorf("restore: %v", err)
	}
	if ckpt.StateFitted {
		if err := v.stateScaler.Restore(ckpt.StateMeans,
			ckpt.StateStdDevs); err != nil {
			return fmt.Errorf("restore: %v", err)
		}
	}

	source, err := decodeNetwork(ckpt.Network)
	if err != nil {
		return fmt.Errorf("restore: %v", err)
	}
	if err := v.trainNet.Set(source); err != nil {
		return &BackendError{Op: "restore", Err: err}
	}
	if err := v.evaluator.Refresh(v.trainNet); err != nil {
		return &BackendError{Op: "restore", Err: err}
	}
	if err := v.rolloutEvaluator.Refresh(v.trainNet); err != nil {
		return &BackendError{Op: "restore", Err: err}
	}

	if err := v.rngSource.UnmarshalBinary(ckpt.RNG); err != nil {
		return fmt.Errorf("restore: %v", err)
	}

	if carrier, ok := v.sampler.(betaCarrier); ok && ckpt.HasSamplerBeta {
		carrier.SetBeta(ckpt.SamplerBeta)
	}
	if carrier, ok := v.sampler.(rngCarrier); ok && len(ckpt.SamplerRNG) > 0 {
		if err := carrier.SetRNGState(ckpt.SamplerRNG); err != nil {
			return fmt.Errorf("restore: %v", err)
		}
	}

	v.generation = ckpt.Generation
	v.experienceCount = ckpt.ExperienceCount
	v.episodeCount = ckpt.EpisodeCount
	v.policyUpdateCount = ckpt.PolicyUpdateCount
	v.outboundActions = ckpt.OutboundActions
	v.accruedExperiences = ckpt.AccruedExperiences
	v.updatesOwed = ckpt.UpdatesOwed
	v.rewardHistory = append([]float64(nil), ckpt.RewardHistory...)
	v.experienceHistory = append([]int(nil), ckpt.ExperienceHistory...)
	v.bestReward = ckpt.BestReward
	v.bestEpisode = ckpt.BestEpisode
	v.bestPolicy = append([]byte(nil), ckpt.BestPolicy...)

	return nil
}

// decodeNetwork reconstructs a network serialized by encodeNetwork.
func decodeNetwork(data []byte) (network.NeuralNet, error) {
	var net network.NeuralNet
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&net); err != nil {
		return nil, fmt.Errorf("decodeNetwork: %v", err)
	}
	return net, nil
}
