package agent

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/goracer/initwfn"
	"github.com/samuelfneumann/goracer/solver"
)

// Mode determines whether a learner trains its policy or only
// evaluates it.
type Mode string

const (
	Training Mode = "Training"
	Testing  Mode = "Testing"
)

// Strategy determines how minibatch indices are drawn from the replay
// memory.
type Strategy string

const (
	Uniform Strategy = "Uniform"
	Rank    Strategy = "Rank"
)

// VariableType distinguishes state variables from action variables in
// a problem description.
type VariableType string

const (
	StateVariable  VariableType = "State"
	ActionVariable VariableType = "Action"
)

// Variable describes a single state or action variable of the problem.
// Bounds and exploration noise are meaningful for action variables
// only.
type Variable struct {
	Name                    string
	Type                    VariableType
	LowerBound              float64
	UpperBound              float64
	InitialExplorationNoise float64
}

// Config fully describes a learner. Configs are plain data and can be
// round-tripped through JSON, including the wrapped solver and weight
// initializer.
type Config struct {
	Mode Mode

	ConcurrentEnvironments int
	EpisodesPerGeneration  int
	EpisodeStepCap         int

	MiniBatchSize      int
	MiniBatchStrategy  Strategy
	RankAlpha          float64
	RankBeta           float64
	RankAnnealingRate  float64
	TimeSequenceLength int

	LearningRate                    float64
	MinimumLearningRate             float64
	L2RegularizationEnabled         bool
	L2RegularizationImportance      float64
	DiscountFactor                  float64
	ImportanceWeightTruncationLevel float64

	NeuralNetworkHiddenLayers []int
	Solver                    *solver.Solver
	InitWFn                   *initwfn.InitWFn

	ExperienceReplayStartSize              int
	ExperienceReplayMaximumSize            int
	ExperienceReplayOffPolicyCutoffScale   float64
	ExperienceReplayOffPolicyTarget        float64
	ExperienceReplayOffPolicyAnnealingRate float64
	ExperienceReplayOffPolicyREFERBeta     float64
	ExperienceReplaySerialize              bool

	ExperiencesBetweenPolicyUpdates int

	StateRescalingEnabled             bool
	RewardRescalingEnabled            bool
	RewardOutboundPenalizationEnabled bool
	RewardOutboundPenalizationFactor  float64

	MaxEpisodes          int
	MaxExperiences       int
	MaxPolicyUpdates     int
	TrainingAverageDepth int

	// Training additionally stops once the trailing average return
	// reaches TargetAverageReward, when enabled.
	TargetAverageRewardEnabled bool
	TargetAverageReward        float64

	// SnapshotPerUpdate publishes a fresh rollout policy snapshot
	// after every policy update instead of once per generation.
	SnapshotPerUpdate bool

	Variables []Variable

	Seed uint64
}

// Validate returns a ConfigError describing the first invalid field of
// the config, or nil if the config is usable.
func (c Config) Validate() error {
	if c.Mode != Training && c.Mode != Testing {
		return &ConfigError{
			Field: "Mode",
			Err:   fmt.Errorf("unknown mode %q", c.Mode),
		}
	}
	if c.ConcurrentEnvironments < 1 {
		return &ConfigError{
			Field: "ConcurrentEnvironments",
			Err: fmt.Errorf("need at least one environment \n\thave(%v)",
				c.ConcurrentEnvironments),
		}
	}
	if c.EpisodesPerGeneration < 1 {
		return &ConfigError{
			Field: "EpisodesPerGeneration",
			Err: fmt.Errorf("need at least one episode per generation "+
				"\n\thave(%v)", c.EpisodesPerGeneration),
		}
	}
	if c.EpisodeStepCap < 1 {
		return &ConfigError{
			Field: "EpisodeStepCap",
			Err: fmt.Errorf("step cap must be positive \n\thave(%v)",
				c.EpisodeStepCap),
		}
	}
	if c.MiniBatchSize < 1 {
		return &ConfigError{
			Field: "MiniBatchSize",
			Err: fmt.Errorf("minibatch size must be positive \n\thave(%v)",
				c.MiniBatchSize),
		}
	}
	if c.MiniBatchStrategy != Uniform && c.MiniBatchStrategy != Rank {
		return &ConfigError{
			Field: "MiniBatchStrategy",
			Err:   fmt.Errorf("unknown strategy %q", c.MiniBatchStrategy),
		}
	}
	if c.TimeSequenceLength != 1 {
		return &ConfigError{
			Field: "TimeSequenceLength",
			Err: fmt.Errorf("only feedforward critics are supported "+
				"\n\twant(1) \n\thave(%v)", c.TimeSequenceLength),
		}
	}
	if c.LearningRate <= 0 {
		return &ConfigError{
			Field: "LearningRate",
			Err: fmt.Errorf("learning rate must be positive \n\thave(%v)",
				c.LearningRate),
		}
	}
	if c.MinimumLearningRate < 0 || c.MinimumLearningRate > c.LearningRate {
		return &ConfigError{
			Field: "MinimumLearningRate",
			Err: fmt.Errorf("minimum learning rate must be in [0, %v] "+
				"\n\thave(%v)", c.LearningRate, c.MinimumLearningRate),
		}
	}
	if c.L2RegularizationEnabled && c.L2RegularizationImportance < 0 {
		return &ConfigError{
			Field: "L2RegularizationImportance",
			Err: fmt.Errorf("importance must be non-negative \n\thave(%v)",
				c.L2RegularizationImportance),
		}
	}
	if c.DiscountFactor < 0 || c.DiscountFactor > 1 {
		return &ConfigError{
			Field: "DiscountFactor",
			Err: fmt.Errorf("discount must be in [0, 1] \n\thave(%v)",
				c.DiscountFactor),
		}
	}
	if c.ImportanceWeightTruncationLevel < 1 {
		return &ConfigError{
			Field: "ImportanceWeightTruncationLevel",
			Err: fmt.Errorf("truncation level must be at least 1 "+
				"\n\thave(%v)", c.ImportanceWeightTruncationLevel),
		}
	}
	if len(c.NeuralNetworkHiddenLayers) == 0 {
		return &ConfigError{
			Field: "NeuralNetworkHiddenLayers",
			Err:   fmt.Errorf("need at least one hidden layer"),
		}
	}
	for i, units := range c.NeuralNetworkHiddenLayers {
		if units < 1 {
			return &ConfigError{
				Field: "NeuralNetworkHiddenLayers",
				Err: fmt.Errorf("layer %v must have positive units "+
					"\n\thave(%v)", i, units),
			}
		}
	}
	if c.Solver == nil {
		return &ConfigError{
			Field: "Solver",
			Err:   fmt.Errorf("no solver given"),
		}
	}
	if c.InitWFn == nil {
		return &ConfigError{
			Field: "InitWFn",
			Err:   fmt.Errorf("no weight initializer given"),
		}
	}
	if c.ExperienceReplayMaximumSize < 1 {
		return &ConfigError{
			Field: "ExperienceReplayMaximumSize",
			Err: fmt.Errorf("maximum size must be positive \n\thave(%v)",
				c.ExperienceReplayMaximumSize),
		}
	}
	if c.ExperienceReplayStartSize < c.MiniBatchSize ||
		c.ExperienceReplayStartSize > c.ExperienceReplayMaximumSize {
		return &ConfigError{
			Field: "ExperienceReplayStartSize",
			Err: fmt.Errorf("start size must be in [%v, %v] \n\thave(%v)",
				c.MiniBatchSize, c.ExperienceReplayMaximumSize,
				c.ExperienceReplayStartSize),
		}
	}
	if c.ExperienceReplayOffPolicyCutoffScale < 1 {
		return &ConfigError{
			Field: "ExperienceReplayOffPolicyCutoffScale",
			Err: fmt.Errorf("cutoff scale must be at least 1 \n\thave(%v)",
				c.ExperienceReplayOffPolicyCutoffScale),
		}
	}
	if c.ExperienceReplayOffPolicyTarget <= 0 ||
		c.ExperienceReplayOffPolicyTarget >= 1 {
		return &ConfigError{
			Field: "ExperienceReplayOffPolicyTarget",
			Err: fmt.Errorf("target must be in (0, 1) \n\thave(%v)",
				c.ExperienceReplayOffPolicyTarget),
		}
	}
	if c.ExperienceReplayOffPolicyAnnealingRate <= 0 ||
		c.ExperienceReplayOffPolicyAnnealingRate >= 1 {
		return &ConfigError{
			Field: "ExperienceReplayOffPolicyAnnealingRate",
			Err: fmt.Errorf("annealing rate must be in (0, 1) \n\thave(%v)",
				c.ExperienceReplayOffPolicyAnnealingRate),
		}
	}
	if c.ExperienceReplayOffPolicyREFERBeta < 0 ||
		c.ExperienceReplayOffPolicyREFERBeta > 1 {
		return &ConfigError{
			Field: "ExperienceReplayOffPolicyREFERBeta",
			Err: fmt.Errorf("beta must be in [0, 1] \n\thave(%v)",
				c.ExperienceReplayOffPolicyREFERBeta),
		}
	}
	if c.ExperiencesBetweenPolicyUpdates < 1 {
		return &ConfigError{
			Field: "ExperiencesBetweenPolicyUpdates",
			Err: fmt.Errorf("must be positive \n\thave(%v)",
				c.ExperiencesBetweenPolicyUpdates),
		}
	}
	if c.RewardOutboundPenalizationEnabled &&
		(c.RewardOutboundPenalizationFactor < 0 ||
			c.RewardOutboundPenalizationFactor > 1) {
		return &ConfigError{
			Field: "RewardOutboundPenalizationFactor",
			Err: fmt.Errorf("factor must be in [0, 1] \n\thave(%v)",
				c.RewardOutboundPenalizationFactor),
		}
	}
	if c.TrainingAverageDepth < 1 {
		return &ConfigError{
			Field: "TrainingAverageDepth",
			Err: fmt.Errorf("depth must be positive \n\thave(%v)",
				c.TrainingAverageDepth),
		}
	}
	if c.MiniBatchStrategy == Rank {
		if c.RankAlpha < 0 {
			return &ConfigError{
				Field: "RankAlpha",
				Err: fmt.Errorf("alpha must be non-negative \n\thave(%v)",
					c.RankAlpha),
			}
		}
		if c.RankBeta < 0 || c.RankBeta > 1 {
			return &ConfigError{
				Field: "RankBeta",
				Err: fmt.Errorf("beta must be in [0, 1] \n\thave(%v)",
					c.RankBeta),
			}
		}
		if c.RankAnnealingRate < 0 || c.RankAnnealingRate > 1 {
			return &ConfigError{
				Field: "RankAnnealingRate",
				Err: fmt.Errorf("annealing rate must be in [0, 1] "+
					"\n\thave(%v)", c.RankAnnealingRate),
			}
		}
	}

	if len(c.ActionBounds()) == 0 {
		return &ConfigError{
			Field: "Variables",
			Err:   fmt.Errorf("no action variables given"),
		}
	}
	if c.ObservationDims() == 0 {
		return &ConfigError{
			Field: "Variables",
			Err:   fmt.Errorf("no state variables given"),
		}
	}
	for _, v := range c.Variables {
		if v.Type != ActionVariable {
			continue
		}
		if v.LowerBound >= v.UpperBound {
			return &ConfigError{
				Field: "Variables",
				Err: fmt.Errorf("action variable %q has empty bounds "+
					"[%v, %v]", v.Name, v.LowerBound, v.UpperBound),
			}
		}
		if v.InitialExplorationNoise <= 0 {
			return &ConfigError{
				Field: "Variables",
				Err: fmt.Errorf("action variable %q needs positive "+
					"exploration noise \n\thave(%v)", v.Name,
					v.InitialExplorationNoise),
			}
		}
	}

	return nil
}

// ParseConfig decodes a JSON-encoded config, rejecting unknown keys
// and validating the result. All failures are config errors.
func ParseConfig(data []byte) (Config, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	var config Config
	if err := decoder.Decode(&config); err != nil {
		return Config{}, &ConfigError{Field: "JSON", Err: err}
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// ObservationDims returns the number of state variables.
func (c Config) ObservationDims() int {
	dims := 0
	for _, v := range c.Variables {
		if v.Type == StateVariable {
			dims++
		}
	}
	return dims
}

// ActionBounds returns the per-dimension legal range of actions, in
// variable order.
func (c Config) ActionBounds() []r1.Interval {
	var bounds []r1.Interval
	for _, v := range c.Variables {
		if v.Type == ActionVariable {
			bounds = append(bounds, r1.Interval{
				Min: v.LowerBound,
				Max: v.UpperBound,
			})
		}
	}
	return bounds
}

// InitialStdDev returns the per-dimension initial exploration noise of
// the action variables, in variable order.
func (c Config) InitialStdDev() []float64 {
	var noise []float64
	for _, v := range c.Variables {
		if v.Type == ActionVariable {
			noise = append(noise, v.InitialExplorationNoise)
		}
	}
	return noise
}
