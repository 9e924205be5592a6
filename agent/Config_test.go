package agent

import (
	"encoding/json"
	"testing"

	"github.com/samuelfneumann/goracer/initwfn"
	"github.com/samuelfneumann/goracer/solver"
)

// testConfig returns a small valid configuration.
func testConfig(t *testing.T) Config {
	t.Helper()

	adam, err := solver.NewDefaultAdam(0.01, 4)
	if err != nil {
		t.Fatalf("testConfig: %v", err)
	}
	glorot, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		t.Fatalf("testConfig: %v", err)
	}

	return Config{
		Mode: Training,

		ConcurrentEnvironments: 2,
		EpisodesPerGeneration:  2,
		EpisodeStepCap:         100,

		MiniBatchSize:      4,
		MiniBatchStrategy:  Uniform,
		TimeSequenceLength: 1,

		LearningRate:                    0.01,
		MinimumLearningRate:             1e-5,
		DiscountFactor:                  0.99,
		ImportanceWeightTruncationLevel: 4.0,

		NeuralNetworkHiddenLayers: []int{8},
		Solver:                    adam,
		InitWFn:                   glorot,

		ExperienceReplayStartSize:              8,
		ExperienceReplayMaximumSize:            64,
		ExperienceReplayOffPolicyCutoffScale:   4.0,
		ExperienceReplayOffPolicyTarget:        0.1,
		ExperienceReplayOffPolicyAnnealingRate: 5e-7,
		ExperienceReplayOffPolicyREFERBeta:     0.3,

		ExperiencesBetweenPolicyUpdates: 1,

		MaxEpisodes:          100,
		TrainingAverageDepth: 10,

		Variables: []Variable{
			{Name: "Position", Type: StateVariable},
			{
				Name:                    "Force",
				Type:                    ActionVariable,
				LowerBound:              -1.0,
				UpperBound:              1.0,
				InitialExplorationNoise: 0.5,
			},
		},

		Seed: 42,
	}
}

// TestConfigValidate checks that a valid config passes and single
// broken fields are caught.
func TestConfigValidate(t *testing.T) {
	if err := testConfig(t).Validate(); err != nil {
		t.Fatalf("validate: valid config rejected: %v", err)
	}

	tests := []struct {
		name    string
		corrupt func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "Sleepwalking" }},
		{"no environments", func(c *Config) { c.ConcurrentEnvironments = 0 }},
		{"zero step cap", func(c *Config) { c.EpisodeStepCap = 0 }},
		{"zero minibatch", func(c *Config) { c.MiniBatchSize = 0 }},
		{"unknown strategy", func(c *Config) { c.MiniBatchStrategy = "Lucky" }},
		{"recurrent critic", func(c *Config) { c.TimeSequenceLength = 4 }},
		{"zero learning rate", func(c *Config) { c.LearningRate = 0 }},
		{"minimum above rate", func(c *Config) { c.MinimumLearningRate = 1 }},
		{"discount above one", func(c *Config) { c.DiscountFactor = 1.5 }},
		{"truncation below one", func(c *Config) {
			c.ImportanceWeightTruncationLevel = 0.5
		}},
		{"no hidden layers", func(c *Config) {
			c.NeuralNetworkHiddenLayers = nil
		}},
		{"nil solver", func(c *Config) { c.Solver = nil }},
		{"nil initializer", func(c *Config) { c.InitWFn = nil }},
		{"zero replay", func(c *Config) { c.ExperienceReplayMaximumSize = 0 }},
		{"start above max", func(c *Config) {
			c.ExperienceReplayStartSize = 1000
		}},
		{"cutoff scale below one", func(c *Config) {
			c.ExperienceReplayOffPolicyCutoffScale = 0.5
		}},
		{"target at one", func(c *Config) {
			c.ExperienceReplayOffPolicyTarget = 1.0
		}},
		{"beta above one", func(c *Config) {
			c.ExperienceReplayOffPolicyREFERBeta = 1.5
		}},
		{"no action variables", func(c *Config) {
			c.Variables = []Variable{{Name: "Position", Type: StateVariable}}
		}},
		{"empty action bounds", func(c *Config) {
			c.Variables[1].LowerBound = 2.0
		}},
		{"no exploration noise", func(c *Config) {
			c.Variables[1].InitialExplorationNoise = 0
		}},
	}

	for _, test := range tests {
		config := testConfig(t)
		test.corrupt(&config)
		err := config.Validate()
		if err == nil {
			t.Errorf("validate: %v: expected an error", test.name)
			continue
		}
		if !IsConfigError(err) {
			t.Errorf("validate: %v: expected a config error \n\thave(%v)",
				test.name, err)
		}
	}
}

// TestConfigJSON round-trips a config, including the wrapped solver
// and weight initializer, through JSON.
func TestConfigJSON(t *testing.T) {
	config := testConfig(t)

	data, err := json.Marshal(config)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Config
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if err := decoded.Validate(); err != nil {
		t.Fatalf("validate: decoded config rejected: %v", err)
	}
	if decoded.Solver == nil || decoded.Solver.Solver == nil {
		t.Error("unmarshal: solver was not reconstructed")
	}
	if decoded.InitWFn == nil {
		t.Error("unmarshal: weight initializer was not reconstructed")
	}
	if decoded.LearningRate != config.LearningRate {
		t.Errorf("unmarshal: wrong learning rate \n\twant(%v) \n\thave(%v)",
			config.LearningRate, decoded.LearningRate)
	}
	if len(decoded.Variables) != len(config.Variables) {
		t.Errorf("unmarshal: wrong number of variables \n\twant(%v) "+
			"\n\thave(%v)", len(config.Variables), len(decoded.Variables))
	}
}

// TestParseConfig checks that decoding rejects unknown keys and
// invalid decoded configs with config errors.
func TestParseConfig(t *testing.T) {
	config := testConfig(t)
	data, err := json.Marshal(config)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	parsed, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("parseConfig: valid config rejected: %v", err)
	}
	if parsed.MiniBatchSize != config.MiniBatchSize {
		t.Errorf("parseConfig: wrong minibatch size \n\twant(%v) "+
			"\n\thave(%v)", config.MiniBatchSize, parsed.MiniBatchSize)
	}

	unknown := []byte(`{"Turbo":true}`)
	if _, err := ParseConfig(unknown); err == nil {
		t.Error("parseConfig: unknown key accepted")
	} else if !IsConfigError(err) {
		t.Errorf("parseConfig: expected a config error \n\thave(%v)", err)
	}

	config.MiniBatchSize = 0
	data, err = json.Marshal(config)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := ParseConfig(data); err == nil {
		t.Error("parseConfig: invalid config accepted")
	} else if !IsConfigError(err) {
		t.Errorf("parseConfig: expected a config error \n\thave(%v)", err)
	}
}

// TestConfigDerived checks the views derived from the variable list.
func TestConfigDerived(t *testing.T) {
	config := testConfig(t)

	if config.ObservationDims() != 1 {
		t.Errorf("observationDims: \n\twant(%v) \n\thave(%v)", 1,
			config.ObservationDims())
	}
	bounds := config.ActionBounds()
	if len(bounds) != 1 || bounds[0].Min != -1.0 || bounds[0].Max != 1.0 {
		t.Errorf("actionBounds: \n\thave(%v)", bounds)
	}
	noise := config.InitialStdDev()
	if len(noise) != 1 || noise[0] != 0.5 {
		t.Errorf("initialStdDev: \n\thave(%v)", noise)
	}
}
