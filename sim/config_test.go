package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflow-sim/workflow-sim/sim/internal/testutil"
)

func TestLoadConfig_BaselineYAML(t *testing.T) {
	cfg, err := LoadConfig(testutil.ScenarioPath(t, testutil.ScenarioBaseline))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 365.0, cfg.DurationDays)
	assert.Equal(t, 0.307, cfg.ArrivalRate)
	assert.Equal(t, int64(20240101), cfg.Seeds.Global)
	// defaults survive for omitted sections
	assert.Equal(t, SelectFIFO, cfg.Selection.Policy)
	assert.Equal(t, 0.05, cfg.Invariants.LittleRelTolerance)

	pmfs, err := cfg.PMFs()
	require.NoError(t, err)
	assert.True(t, math.IsInf(pmfs[StateDev].Lengths[0], 1), ".inf decodes to +Inf")

	counts, err := cfg.InitialStateCounts()
	require.NoError(t, err)
	assert.Equal(t, map[DevState]int{StateOff: 0, StateDev: 1, StateRev: 1, StateTest: 1}, counts)
}

func TestLoadConfig_MarkovArtifacts(t *testing.T) {
	// GIVEN a config that references P, the stint PMFs and fitted service params by path
	cfg, err := LoadConfig(testutil.ScenarioPath(t, testutil.ScenarioMarkov))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	p, err := cfg.Matrix()
	require.NoError(t, err)
	assert.Equal(t, 0.25, p[StateDev][StateRev])

	specs, err := cfg.ServiceSpecs()
	require.NoError(t, err)
	// dev and review come from the fitted file, testing stays inline
	assert.Equal(t, -0.6, specs[StageDev].Params["mu"])
	assert.Equal(t, FamilyLogNormal, specs[StageReview].Family)
	assert.Equal(t, FamilyGamma, specs[StageTesting].Family)

	assert.Equal(t, SelectChurnWeighted, cfg.Selection.Policy)
	assert.Equal(t, MissingChurnZeroWeight, cfg.Selection.OnMissingChurn)
	require.NotNil(t, cfg.Seeds.Routing)
	assert.Equal(t, int64(99), *cfg.Seeds.Routing)
	assert.Nil(t, cfg.Seeds.Service)

	initial, err := cfg.InitialStateCounts()
	require.NoError(t, err)
	assert.Nil(t, initial, "no initial_states: draw from the stationary distribution")
}

func TestLoadConfig_JSONC(t *testing.T) {
	path := testutil.WriteFile(t, "cfg.jsonc", `{
  // comments are allowed
  "duration_days": 10,
  "arrival_rate": 1,
  "service": {
    "dev": {"family": "exponential", "params": {"scale": 1}},
    "review": {"family": "exponential", "params": {"scale": 1}},
    "testing": {"family": "exponential", "params": {"scale": 1}},
  },
  "developers": {
    "count": 1,
    "initial_states": {"DEV": 1},
    "transition_matrix": [[1,0,0,0],[0,1,0,0],[0,0,1,0],[0,0,0,1]],
    "stint_pmfs": {
      "OFF": {"lengths": [1], "probs": [1]},
      "DEV": {"lengths": [1], "probs": [1]},
      "REV": {"lengths": [1], "probs": [1]},
      "TEST": {"lengths": [1], "probs": [1]}
    }
  }
}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 10.0, cfg.DurationDays)
	assert.Equal(t, 1e-9, cfg.Invariants.Epsilon, "default kept")
}

func TestLoadConfig_RejectsUnknownFields(t *testing.T) {
	for name, content := range map[string]string{
		"cfg.yaml": "duration_days: 1\narrival_rat: 2\n",
		"cfg.json": `{"duration_days": 1, "arrival_rat": 2}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(testutil.WriteFile(t, name, content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig_UnsupportedExtension(t *testing.T) {
	_, err := LoadConfig(testutil.WriteFile(t, "cfg.toml", "duration_days = 1"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero duration", func(c *Config) { c.DurationDays = 0 }},
		{"infinite duration", func(c *Config) { c.DurationDays = math.Inf(1) }},
		{"negative rate", func(c *Config) { c.ArrivalRate = -1 }},
		{"p_dev above one", func(c *Config) { c.Feedback.PDev = 1.2 }},
		{"p_test negative", func(c *Config) { c.Feedback.PTest = -0.1 }},
		{"missing service stage", func(c *Config) { delete(c.Service, "testing") }},
		{"unknown service stage", func(c *Config) { c.Service["deploy"] = constantSpec(1) }},
		{"bad family", func(c *Config) { c.Service["dev"] = ServiceSpec{Family: "cauchy"} }},
		{"negative agent count", func(c *Config) { c.Developers.Count = -1; c.Developers.InitialStates = nil }},
		{"matrix not 4x4", func(c *Config) { c.Developers.TransitionMatrix = c.Developers.TransitionMatrix[:3] }},
		{"matrix row sum", func(c *Config) { c.Developers.TransitionMatrix[0][0] = 0.9 }},
		{"missing stint PMF", func(c *Config) { delete(c.Developers.StintPMFs, "REV") }},
		{"unknown stint state", func(c *Config) { c.Developers.StintPMFs["LUNCH"] = singlePMF(1) }},
		{"PMF sum", func(c *Config) {
			c.Developers.StintPMFs["OFF"] = StintPMF{Lengths: []float64{1}, Probs: []float64{0.5}}
		}},
		{"initial states do not sum to count", func(c *Config) { c.Developers.Count = 4 }},
		{"unknown initial state", func(c *Config) { c.Developers.InitialStates["IDLE"] = 0 }},
		{"unknown selection policy", func(c *Config) { c.Selection.Policy = "random" }},
		{"bad churn presence", func(c *Config) { c.Churn.PresenceProbability = 2 }},
		{"negative epsilon", func(c *Config) { c.Invariants.Epsilon = -1 }},
		{"zero little tolerance", func(c *Config) { c.Invariants.LittleRelTolerance = 0 }},
	}
	require.NoError(t, baselineConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baselineConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfig_NewRNG_AppliesOverrides(t *testing.T) {
	cfg := baselineConfig()
	seed := int64(5)
	cfg.Seeds.Arrivals = &seed
	rng := cfg.NewRNG()

	assert.Equal(t, int64(5), rng.SeedFor(SubsystemArrivals))
	assert.Equal(t, cfg.Seeds.Global^fnv1a64(SubsystemState), rng.SeedFor(SubsystemState))
}
