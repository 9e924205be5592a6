// Package agent implements the off-policy actor-critic learner, its
// configuration, and its checkpointing.
package agent

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log"
	"math"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goracer/network"
	"github.com/samuelfneumann/goracer/policy"
	"github.com/samuelfneumann/goracer/refer"
	"github.com/samuelfneumann/goracer/replay"
	"github.com/samuelfneumann/goracer/rescale"
	"github.com/samuelfneumann/goracer/retrace"
	"github.com/samuelfneumann/goracer/timestep"
	"github.com/samuelfneumann/goracer/utils/intutils"
	"github.com/samuelfneumann/goracer/utils/tensorutils"
)

const logSqrt2Pi float64 = 0.9189385332046727

// rawRewards is the reward scaler used when reward rescaling is
// disabled.
type rawRewards struct{}

func (rawRewards) Scale(envID int, reward float64) float64 { return reward }

// VRACER is an off-policy actor-critic learner over a replay memory.
// Experiences are collected under a frozen behaviour snapshot, stored
// with their collection-time policy records, and replayed with
// truncated importance weights against retrace value targets. A
// feedback controller anneals the off-policy cutoff, the learning
// rate, and the trust-region mixing weight to hold the fraction of
// off-policy experiences near a target.
type VRACER struct {
	config Config
	dist   *policy.SquashedGaussian

	// Training network and its loss graph
	trainNet   network.NeuralNet
	trainVM    G.VM
	solver     G.Solver
	actions    *G.Node
	expParams  *G.Node
	advantages *G.Node
	targets    *G.Node
	betaNode   *G.Node
	lrScale    *G.Node

	// evaluator refreshes replay metadata against the live training
	// weights. rolloutEvaluator answers action queries from a
	// snapshot published once per generation, or after every policy
	// update when SnapshotPerUpdate is set.
	evaluator        *policy.Evaluator
	rolloutEvaluator *policy.Evaluator

	memory     *replay.Memory
	sampler    replay.Sampler
	engine     *retrace.Engine
	controller *refer.Controller

	stateScaler  *rescale.StateScaler
	rewardScaler *rescale.RewardScaler
	penalty      *rescale.OutboundPenalty

	// rngSource backs rng and is what checkpoints serialize, so a
	// restored learner resumes the exact action-sampling stream.
	rngSource *rand.PCGSource
	rng       *rand.Rand

	generation        int
	experienceCount   int
	episodeCount      int
	policyUpdateCount int
	outboundActions   int

	// accruedExperiences is how many experiences have already been
	// converted into owed policy updates.
	accruedExperiences int
	updatesOwed        float64

	rewardHistory     []float64
	experienceHistory []int
	bestReward        float64
	bestEpisode       int
	bestPolicy        []byte

	lastAvgRetrace float64
}

// New constructs a VRACER learner from a validated configuration.
func New(config Config) (*VRACER, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	bounds := config.ActionBounds()
	dims := len(bounds)
	numParams := 2 * dims
	features := config.ObservationDims()
	batch := config.MiniBatchSize
	initStdDev := config.InitialStdDev()

	dist, err := policy.NewSquashedGaussian(bounds)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	g := G.NewGraph()
	hidden := config.NeuralNetworkHiddenLayers
	biases := make([]bool, len(hidden))
	activations := make([]*network.Activation, len(hidden))
	for i := range hidden {
		biases[i] = true
		activations[i] = network.TanH()
	}
	trainNet, err := network.NewActorCritic(features, batch, numParams, g,
		hidden, biases, config.InitWFn.InitWFn(), activations)
	if err != nil {
		return nil, fmt.Errorf("new: could not construct network: %v", err)
	}

	rngSource := &rand.PCGSource{}
	rngSource.Seed(config.Seed)

	v := &VRACER{
		config:      config,
		dist:        dist,
		trainNet:    trainNet,
		solver:      config.Solver.Solver,
		rngSource:   rngSource,
		rng:         rand.New(rngSource),
		bestReward:  math.Inf(-1),
		bestEpisode: -1,
	}

	if err := v.buildLoss(g, dims, batch, numParams, initStdDev); err != nil {
		return nil, err
	}

	v.evaluator, err = policy.NewEvaluator(trainNet, initStdDev)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	v.rolloutEvaluator, err = policy.NewEvaluator(trainNet, initStdDev)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	v.memory, err = replay.New(config.ExperienceReplayMaximumSize,
		config.ExperienceReplayStartSize, config.ConcurrentEnvironments)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	switch config.MiniBatchStrategy {
	case Uniform:
		v.sampler = replay.NewUniformSampler(config.Seed + 1)
	case Rank:
		v.sampler, err = replay.NewRankSampler(config.Seed+1,
			config.RankAlpha, config.RankBeta, config.RankAnnealingRate)
		if err != nil {
			return nil, fmt.Errorf("new: %v", err)
		}
	}

	v.stateScaler = rescale.NewStateScaler()
	v.rewardScaler, err = rescale.NewRewardScaler(
		config.ConcurrentEnvironments)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if config.RewardOutboundPenalizationEnabled {
		v.penalty, err = rescale.NewOutboundPenalty(bounds,
			config.RewardOutboundPenalizationFactor)
		if err != nil {
			return nil, fmt.Errorf("new: %v", err)
		}
	}

	var rewards retrace.RewardScaler = rawRewards{}
	if config.RewardRescalingEnabled {
		rewards = v.rewardScaler
	}
	v.engine, err = retrace.NewEngine(v.evaluator, dist, rewards,
		v.stateScaler, config.DiscountFactor,
		config.ImportanceWeightTruncationLevel)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	v.controller, err = refer.New(
		config.ExperienceReplayOffPolicyCutoffScale,
		config.LearningRate,
		config.ExperienceReplayOffPolicyREFERBeta,
		config.ExperienceReplayOffPolicyTarget,
		config.ExperienceReplayOffPolicyAnnealingRate,
		config.MinimumLearningRate,
	)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	return v, nil
}

// buildLoss adds the training loss to the network's graph. The loss
// mixes a truncated-importance-weighted policy gradient term with a
// trust-region KL term toward each experience's behaviour policy,
// plus the retrace-target value loss and optional L2 regularization.
func (v *VRACER) buildLoss(g *G.ExprGraph, dims, batch, numParams int,
	initStdDev []float64) error {
	paramsNode := v.trainNet.Prediction()[1]
	valueNode := v.trainNet.Prediction()[0]

	v.actions = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, dims),
		G.WithName("UnboundedActions"), G.WithInit(G.Zeroes()))
	v.expParams = G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, numParams), G.WithName("BehaviourParams"),
		G.WithInit(G.Zeroes()))
	v.advantages = G.NewVector(g, tensor.Float64, G.WithShape(batch),
		G.WithName("Advantages"), G.WithInit(G.Zeroes()))
	v.targets = G.NewVector(g, tensor.Float64, G.WithShape(batch),
		G.WithName("RetraceTargets"), G.WithInit(G.Zeroes()))
	v.betaNode = G.NewScalar(g, tensor.Float64, G.WithName("Beta"),
		G.WithValue(0.0))
	v.lrScale = G.NewScalar(g, tensor.Float64, G.WithName("StepScale"),
		G.WithValue(1.0))

	half := G.NewConstant(0.5)
	one := G.NewConstant(1.0)
	offset := G.NewConstant(policy.StdDevOffset)
	logNorm := G.NewConstant(logSqrt2Pi)

	var logProb, kl *G.Node
	for j := 0; j < dims; j++ {
		col := func(node *G.Node, i int) *G.Node {
			return G.Must(G.Slice(node, nil, tensorutils.Column(i)))
		}

		mu := col(paramsNode, j)
		raw := col(paramsNode, dims+j)
		scale := G.NewConstant(initStdDev[j])
		sigma := G.Must(G.Add(G.Must(G.Mul(scale, G.Must(G.Exp(raw)))),
			offset))

		u := col(v.actions, j)
		z := G.Must(G.HadamardDiv(G.Must(G.Sub(u, mu)), sigma))
		lp := G.Must(G.Mul(half, G.Must(G.Square(z))))
		lp = G.Must(G.Add(lp, G.Must(G.Log(sigma))))
		lp = G.Must(G.Add(lp, logNorm))
		lp = G.Must(G.Neg(lp))

		expMu := col(v.expParams, j)
		expSigma := col(v.expParams, dims+j)
		diff := G.Must(G.Sub(expMu, mu))
		numer := G.Must(G.Add(G.Must(G.Square(expSigma)),
			G.Must(G.Square(diff))))
		denom := G.Must(G.Mul(G.NewConstant(2.0), G.Must(G.Square(sigma))))
		klj := G.Must(G.Sub(G.Must(G.Log(sigma)), G.Must(G.Log(expSigma))))
		klj = G.Must(G.Add(klj, G.Must(G.HadamardDiv(numer, denom))))
		klj = G.Must(G.Sub(klj, half))

		if logProb == nil {
			logProb, kl = lp, klj
		} else {
			logProb = G.Must(G.Add(logProb, lp))
			kl = G.Must(G.Add(kl, klj))
		}
	}

	policyLoss := G.Must(G.HadamardProd(G.Must(G.Ravel(logProb)),
		v.advantages))
	policyLoss = G.Must(G.Neg(G.Must(G.Mean(policyLoss))))

	klLoss := G.Must(G.Mean(G.Must(G.Ravel(kl))))

	valueErr := G.Must(G.Sub(G.Must(G.Ravel(valueNode)), v.targets))
	valueLoss := G.Must(G.Mul(half,
		G.Must(G.Mean(G.Must(G.Square(valueErr))))))

	mix := G.Must(G.Sub(one, v.betaNode))
	loss := G.Must(G.Add(G.Must(G.Mul(mix, policyLoss)),
		G.Must(G.Mul(v.betaNode, klLoss))))
	loss = G.Must(G.Add(loss, valueLoss))

	if v.config.L2RegularizationEnabled {
		importance := G.NewConstant(v.config.L2RegularizationImportance)
		var l2 *G.Node
		for _, w := range v.trainNet.Learnables() {
			sq := G.Must(G.Sum(G.Must(G.Square(w))))
			if l2 == nil {
				l2 = sq
			} else {
				l2 = G.Must(G.Add(l2, sq))
			}
		}
		loss = G.Must(G.Add(loss, G.Must(G.Mul(importance, l2))))
	}

	// The solver's step size is fixed, so learning rate annealing is
	// applied by scaling the loss.
	loss = G.Must(G.Mul(v.lrScale, loss))

	if _, err := G.Grad(loss, v.trainNet.Learnables()...); err != nil {
		return &BackendError{
			Op:  "new",
			Err: fmt.Errorf("could not compute loss gradient: %v", err),
		}
	}
	v.trainVM = G.NewTapeMachine(g,
		G.BindDualValues(v.trainNet.Learnables()...))
	return nil
}

// SelectAction answers a rollout policy query from the current
// behaviour snapshot. In Testing mode the distribution's mean action
// is returned instead of a sample.
func (v *VRACER) SelectAction(state []float64) ([]float64, policy.Record,
	error) {
	rec, err := v.rolloutEvaluator.RunState(v.stateScaler.Apply(state))
	if err != nil {
		return nil, policy.Record{}, fmt.Errorf("selectAction: %v", err)
	}

	if v.config.Mode == Testing {
		return v.dist.MeanAction(rec), rec, nil
	}
	action, rec := v.dist.SampleAction(v.rng, rec)
	return action, rec, nil
}

// Ingest appends completed trajectories to the replay memory,
// applying the outbound action penalty and maintaining the running
// reward statistics.
func (v *VRACER) Ingest(trajectories []timestep.Trajectory) error {
	for _, trajectory := range trajectories {
		if err := trajectory.Validate(); err != nil {
			return fmt.Errorf("ingest: %v", err)
		}

		// Testing episodes only report returns; the replay and the
		// reward statistics stay untouched.
		if v.config.Mode == Testing {
			v.experienceCount += len(trajectory)
			v.episodeCount++
			v.rewardHistory = append(v.rewardHistory, trajectory.Return())
			v.experienceHistory = append(v.experienceHistory,
				len(trajectory))
			continue
		}

		for _, exp := range trajectory {
			if v.penalty != nil {
				var outside bool
				exp.Reward, outside = v.penalty.Apply(exp.Action, exp.Reward)
				if outside {
					v.outboundActions++
				}
			}
			if v.config.RewardRescalingEnabled {
				if err := v.rewardScaler.Add(exp.EnvironmentID,
					exp.Reward); err != nil {
					return fmt.Errorf("ingest: %v", err)
				}
			}

			evicted, wasFull, err := v.memory.Append(exp)
			if err != nil {
				return fmt.Errorf("ingest: %v", err)
			}
			if wasFull && v.config.RewardRescalingEnabled {
				if err := v.rewardScaler.Remove(evicted.EnvironmentID,
					evicted.Reward); err != nil {
					return fmt.Errorf("ingest: %v", err)
				}
			}
			v.experienceCount++
		}

		v.episodeCount++
		v.rewardHistory = append(v.rewardHistory, trajectory.Return())
		v.experienceHistory = append(v.experienceHistory, len(trajectory))
	}
	return nil
}

// Generation runs one full learner generation: ingest the completed
// trajectories, fit the state scaler once the warmup is over, perform
// the owed policy updates, and publish a fresh behaviour snapshot.
func (v *VRACER) Generation(trajectories []timestep.Trajectory) error {
	if err := v.Ingest(trajectories); err != nil {
		return err
	}

	if v.config.StateRescalingEnabled && !v.stateScaler.Fitted() &&
		v.memory.Ready() {
		if err := v.stateScaler.Fit(v.memory.States()); err != nil {
			return fmt.Errorf("generation: %v", err)
		}
	}

	if v.config.Mode == Training && v.memory.Ready() {
		if err := v.update(); err != nil {
			return err
		}
	}

	// Rollouts collect the next generation under this snapshot.
	if err := v.rolloutEvaluator.Refresh(v.trainNet); err != nil {
		return &BackendError{Op: "generation", Err: err}
	}

	avg := v.AverageReward()
	if len(v.rewardHistory) > 0 && avg > v.bestReward {
		v.bestReward = avg
		v.bestEpisode = v.episodeCount
		snapshot, err := encodeNetwork(v.trainNet)
		if err != nil {
			return &BackendError{Op: "generation", Err: err}
		}
		v.bestPolicy = snapshot
	}

	v.generation++
	return nil
}

// update performs the policy updates owed by the experiences ingested
// since the last generation.
func (v *VRACER) update() error {
	v.updatesOwed += float64(v.experienceCount-v.accruedExperiences) /
		float64(v.config.ExperiencesBetweenPolicyUpdates)
	v.accruedExperiences = v.experienceCount

	for v.updatesOwed >= 1 {
		v.updatesOwed--

		if err := v.sampler.Refresh(v.memory); err != nil {
			return fmt.Errorf("update: %v", err)
		}
		indices, corrections, err := v.sampler.Sample(v.memory,
			v.config.MiniBatchSize)
		if replay.IsInsufficientSamples(err) {
			return nil
		} else if err != nil {
			return fmt.Errorf("update: %v", err)
		}

		if _, err := v.engine.Refresh(v.memory, indices,
			v.controller.Cutoff()); err != nil {
			return fmt.Errorf("update: %v", err)
		}

		if err := v.step(indices, corrections); err != nil {
			// A backend failure aborts this update only.
			if !IsBackendError(err) {
				return err
			}
			log.Printf("update aborted: %v", err)
			continue
		}
		v.policyUpdateCount++

		v.controller.Update(v.memory.OffPolicyRatio())
		log.Printf("update %6d | generation %4d | off-policy %.3f | "+
			"cutoff %.3f | beta %.3f | avg reward %.3f | best %.3f | "+
			"avg retrace %.3f", v.policyUpdateCount, v.generation,
			v.memory.OffPolicyRatio(), v.controller.Cutoff(),
			v.controller.Beta(), v.AverageReward(), v.bestReward,
			v.lastAvgRetrace)

		if err := v.evaluator.Refresh(v.trainNet); err != nil {
			return &BackendError{Op: "update", Err: err}
		}
		if v.config.SnapshotPerUpdate {
			if err := v.rolloutEvaluator.Refresh(v.trainNet); err != nil {
				return &BackendError{Op: "update", Err: err}
			}
		}

		if v.Done() {
			return nil
		}
	}
	return nil
}

// step performs a single gradient step on the minibatch named by
// indices. The minibatch's metadata must already have been refreshed.
func (v *VRACER) step(indices []int, corrections []float64) error {
	batch := v.config.MiniBatchSize
	dims := v.dist.Dims()
	numParams := 2 * dims

	states := make([]float64, 0, batch*v.trainNet.Features())
	actions := make([]float64, 0, batch*dims)
	expParams := make([]float64, 0, batch*numParams)
	advantages := make([]float64, batch)
	targets := make([]float64, batch)

	totalRetrace := 0.0
	for i, index := range indices {
		row, err := v.memory.Row(index)
		if err != nil {
			return fmt.Errorf("step: %v", err)
		}

		states = append(states, v.stateScaler.Apply(row.State)...)
		actions = append(actions, row.ExpPolicy.UnboundedAction...)
		expParams = append(expParams, row.ExpPolicy.DistributionParams...)
		advantages[i] = corrections[i] * row.Meta.TruncImportanceWeight *
			(row.Meta.RetraceValue - row.Meta.CurPolicy.StateValue)
		targets[i] = row.Meta.RetraceValue
		totalRetrace += row.Meta.RetraceValue
	}
	v.lastAvgRetrace = totalRetrace / float64(batch)

	if err := v.trainNet.SetInput(states); err != nil {
		return &BackendError{Op: "step", Err: err}
	}
	inputs := []struct {
		node    *G.Node
		backing []float64
		shape   []int
	}{
		{v.actions, actions, []int{batch, dims}},
		{v.expParams, expParams, []int{batch, numParams}},
		{v.advantages, advantages, []int{batch}},
		{v.targets, targets, []int{batch}},
	}
	for _, in := range inputs {
		t := tensor.NewDense(tensor.Float64, in.shape,
			tensor.WithBacking(in.backing))
		if err := G.Let(in.node, t); err != nil {
			return &BackendError{Op: "step", Err: err}
		}
	}
	if err := G.Let(v.betaNode, v.controller.Beta()); err != nil {
		return &BackendError{Op: "step", Err: err}
	}
	scale := v.controller.LearningRate() / v.config.LearningRate
	if err := G.Let(v.lrScale, scale); err != nil {
		return &BackendError{Op: "step", Err: err}
	}

	if err := v.trainVM.RunAll(); err != nil {
		v.trainVM.Reset()
		return &BackendError{Op: "step", Err: err}
	}
	if err := v.solver.Step(v.trainNet.Model()); err != nil {
		v.trainVM.Reset()
		return &BackendError{Op: "step", Err: err}
	}
	v.trainVM.Reset()
	return nil
}

// encodeNetwork serializes a network's weights.
func encodeNetwork(net network.NeuralNet) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&net); err != nil {
		return nil, fmt.Errorf("encodeNetwork: %v", err)
	}
	return buf.Bytes(), nil
}

// AverageReward returns the mean return of the trailing
// TrainingAverageDepth episodes.
func (v *VRACER) AverageReward() float64 {
	n := len(v.rewardHistory)
	if n == 0 {
		return 0
	}
	depth := intutils.Min(v.config.TrainingAverageDepth, n)
	total := 0.0
	for _, r := range v.rewardHistory[n-depth:] {
		total += r
	}
	return total / float64(depth)
}

// Generations returns the number of completed generations.
func (v *VRACER) Generations() int {
	return v.generation
}

// BestReward returns the best trailing-average reward seen so far.
func (v *VRACER) BestReward() float64 {
	return v.bestReward
}

// Reason identifies the termination criterion that ended training.
type Reason string

const (
	NotDone             Reason = ""
	MaxEpisodesReached  Reason = "MaxEpisodes"
	MaxExperiencesSeen  Reason = "MaxExperiences"
	MaxUpdatesPerformed Reason = "MaxPolicyUpdates"
	TargetRewardReached Reason = "TargetAverageReward"
)

// TerminationReason returns which termination criterion has been met,
// or NotDone if training should continue.
func (v *VRACER) TerminationReason() Reason {
	c := v.config
	if c.MaxEpisodes > 0 && v.episodeCount >= c.MaxEpisodes {
		return MaxEpisodesReached
	}
	if c.MaxExperiences > 0 && v.experienceCount >= c.MaxExperiences {
		return MaxExperiencesSeen
	}
	if c.MaxPolicyUpdates > 0 && v.policyUpdateCount >= c.MaxPolicyUpdates {
		return MaxUpdatesPerformed
	}
	if c.TargetAverageRewardEnabled && len(v.rewardHistory) > 0 &&
		v.AverageReward() >= c.TargetAverageReward {
		return TargetRewardReached
	}
	return NotDone
}

// Done reports whether any termination criterion has been met.
func (v *VRACER) Done() bool {
	return v.TerminationReason() != NotDone
}

// BestPolicy returns the serialized weights of the training-best
// policy, or nil if no generation has completed yet.
func (v *VRACER) BestPolicy() []byte {
	return append([]byte(nil), v.bestPolicy...)
}

// PolicySnapshot returns the serialized weights of the behaviour
// policy that the current generation's rollouts collect under, for
// broadcasting to detached workers.
func (v *VRACER) PolicySnapshot() ([]byte, error) {
	snapshot, err := encodeNetwork(v.trainNet)
	if err != nil {
		return nil, &BackendError{Op: "policySnapshot", Err: err}
	}
	return snapshot, nil
}

// Close releases the learner's virtual machines.
func (v *VRACER) Close() error {
	first := v.trainVM.Close()
	if err := v.evaluator.Close(); err != nil && first == nil {
		first = err
	}
	if err := v.rolloutEvaluator.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
