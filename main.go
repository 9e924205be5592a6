// Trains an off-policy actor-critic on the 1-D quadratic-reward
// environment and saves the episodic returns.
package main

import (
	"log"
	"os"

	"github.com/samuelfneumann/goracer/agent"
	"github.com/samuelfneumann/goracer/dispatcher"
	"github.com/samuelfneumann/goracer/environment"
	"github.com/samuelfneumann/goracer/experiment"
	"github.com/samuelfneumann/goracer/experiment/checkpointer"
	"github.com/samuelfneumann/goracer/experiment/tracker"
	"github.com/samuelfneumann/goracer/initwfn"
	"github.com/samuelfneumann/goracer/rollout"
	"github.com/samuelfneumann/goracer/solver"
)

func main() {
	var seed uint64 = 192382

	adam, err := solver.NewDefaultAdam(1e-3, 32)
	if err != nil {
		log.Fatalf("could not create solver: %v", err)
	}
	glorot, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		log.Fatalf("could not create weight initializer: %v", err)
	}

	config := agent.Config{
		Mode: agent.Training,

		ConcurrentEnvironments: 4,
		EpisodesPerGeneration:  4,
		EpisodeStepCap:         200,

		MiniBatchSize:      32,
		MiniBatchStrategy:  agent.Uniform,
		TimeSequenceLength: 1,

		LearningRate:                    1e-3,
		MinimumLearningRate:             1e-6,
		DiscountFactor:                  0.99,
		ImportanceWeightTruncationLevel: 4.0,

		NeuralNetworkHiddenLayers: []int{64, 64},
		Solver:                    adam,
		InitWFn:                   glorot,

		ExperienceReplayStartSize:              512,
		ExperienceReplayMaximumSize:            16384,
		ExperienceReplayOffPolicyCutoffScale:   4.0,
		ExperienceReplayOffPolicyTarget:        0.1,
		ExperienceReplayOffPolicyAnnealingRate: 5e-7,
		ExperienceReplayOffPolicyREFERBeta:     0.3,
		ExperienceReplaySerialize:              true,

		ExperiencesBetweenPolicyUpdates: 1,

		StateRescalingEnabled:  true,
		RewardRescalingEnabled: true,

		MaxEpisodes:          500,
		TrainingAverageDepth: 100,

		Variables: []agent.Variable{
			{Name: "Position", Type: agent.StateVariable},
			{
				Name:                    "Force",
				Type:                    agent.ActionVariable,
				LowerBound:              -1.0,
				UpperBound:              1.0,
				InitialExplorationNoise: 0.5,
			},
		},

		Seed: seed,
	}

	learner, err := agent.New(config)
	if err != nil {
		log.Fatalf("could not create learner: %v", err)
	}
	defer learner.Close()

	envs := make([]environment.Environment, config.ConcurrentEnvironments)
	for i := range envs {
		envs[i] = environment.NewQuadratic(seed + uint64(i))
	}
	worker, err := rollout.NewWorker(envs, learner, config.EpisodeStepCap)
	if err != nil {
		log.Fatalf("could not create rollout worker: %v", err)
	}
	pool, err := dispatcher.NewPool(worker, config.ConcurrentEnvironments,
		config.ConcurrentEnvironments)
	if err != nil {
		log.Fatalf("could not create sample dispatcher: %v", err)
	}
	coordinator, err := rollout.New(pool, worker)
	if err != nil {
		log.Fatalf("could not create rollout coordinator: %v", err)
	}

	trackers := []tracker.Tracker{
		tracker.NewReturn("quadratic-returns.bin"),
		tracker.NewEpisodeLength("quadratic-lengths.bin"),
	}

	var checkpointers []checkpointer.Checkpointer
	if config.ExperienceReplaySerialize {
		check, err := checkpointer.NewNGeneration(25, learner,
			checkpointer.FilenameEnumerator(0, "quadratic-checkpoint",
				".bin"))
		if err != nil {
			log.Fatalf("could not create checkpointer: %v", err)
		}
		checkpointers = append(checkpointers, check)
	}

	exp, err := experiment.New(learner, coordinator,
		config.EpisodesPerGeneration, trackers, checkpointers)
	if err != nil {
		log.Fatalf("could not create experiment: %v", err)
	}

	if err := exp.Run(); err != nil {
		log.Fatalf("experiment failed: %v", err)
	}
	if err := exp.Save(); err != nil {
		log.Fatalf("could not save tracked data: %v", err)
	}

	bestPath := "quadratic-best-policy.bin"
	if err := os.WriteFile(bestPath, learner.BestPolicy(), 0o644); err != nil {
		log.Fatalf("could not save best policy: %v", err)
	}
	log.Printf("finished (%v): best average reward %.3f, best policy "+
		"saved to %v", learner.TerminationReason(), learner.BestReward(),
		bestPath)
}
