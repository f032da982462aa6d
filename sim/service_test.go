package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflow-sim/workflow-sim/sim/internal/testutil"
)

func newSamplerFor(t *testing.T, spec ServiceSpec) *ServiceTimeSampler {
	t.Helper()
	specs := constantService(1, 1, 1)
	specs[StageDev] = spec
	s, err := NewServiceTimeSampler(specs, NewPartitionedRNG(NewSimulationKey(11)).ForSubsystem(SubsystemService))
	require.NoError(t, err)
	return s
}

func TestServiceTimeSampler_AllFamiliesPositive(t *testing.T) {
	tests := []struct {
		name     string
		spec     ServiceSpec
		wantMean float64
	}{
		{"lognormal", ServiceSpec{Family: "lognormal", Params: map[string]float64{"mu": 0, "sigma": 0.5}}, math.Exp(0.125)},
		{"lognormal scale alias", ServiceSpec{Family: "lognorm", Params: map[string]float64{"scale": math.E, "s": 0.5}}, math.Exp(1.125)},
		{"weibull", ServiceSpec{Family: "weibull", Params: map[string]float64{"shape": 1, "scale": 2}}, 2},
		{"gamma scale", ServiceSpec{Family: "gamma", Params: map[string]float64{"shape": 2, "scale": 0.5}}, 1},
		{"gamma rate", ServiceSpec{Family: "gamma", Params: map[string]float64{"shape": 2, "rate": 4}}, 0.5},
		{"exponential scale", ServiceSpec{Family: "exponential", Params: map[string]float64{"scale": 3}}, 3},
		{"exponential rate", ServiceSpec{Family: "expon", Params: map[string]float64{"rate": 0.5}}, 2},
		{"normal", ServiceSpec{Family: "normal", Params: map[string]float64{"mu": 5, "sigma": 1}}, 5},
		{"pareto", ServiceSpec{Family: "pareto", Params: map[string]float64{"shape": 3, "scale": 1}}, 1.5},
		{"shifted exponential", ServiceSpec{Family: "exponential", Params: map[string]float64{"scale": 1}, Loc: 0.5}, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSamplerFor(t, tt.spec)
			testutil.AssertFloat64Equal(t, "Mean", tt.wantMean, s.Mean(StageDev), 1e-9)
			for i := 0; i < 200; i++ {
				v, err := s.Sample(StageDev)
				require.NoError(t, err)
				require.Greater(t, v, 0.0)
				if tt.spec.Loc > 0 {
					require.GreaterOrEqual(t, v, tt.spec.Loc)
				}
			}
		})
	}
}

func TestServiceTimeSampler_NonPositiveDrawsFallBackToEpsilon(t *testing.T) {
	// GIVEN a distribution that is essentially always negative
	s := newSamplerFor(t, ServiceSpec{Family: FamilyNormal, Params: map[string]float64{"mu": -10, "sigma": 0.1}})

	// WHEN a sample is drawn
	v, err := s.Sample(StageDev)

	// THEN it is the epsilon substitute after the bounded retries
	require.NoError(t, err)
	assert.Equal(t, serviceEpsilon, v)
	assert.Equal(t, maxServiceRetries, s.Retries())
	assert.Equal(t, 1, s.Substitutions())
}

func TestServiceTimeSampler_NegativeLocRetries(t *testing.T) {
	// GIVEN draws near 1 shifted by -0.5: positive apart from rare lows
	s := newSamplerFor(t, ServiceSpec{Family: FamilyNormal, Params: map[string]float64{"mu": 1, "sigma": 0.3}, Loc: -0.5})
	for i := 0; i < 500; i++ {
		v, err := s.Sample(StageDev)
		require.NoError(t, err)
		require.Greater(t, v, 0.0)
	}
	assert.Equal(t, 0, s.Substitutions())
}

func TestServiceSpec_Validate(t *testing.T) {
	tests := []struct {
		name string
		spec ServiceSpec
	}{
		{"unknown family", ServiceSpec{Family: "beta", Params: map[string]float64{"a": 1}}},
		{"missing sigma", ServiceSpec{Family: "lognormal", Params: map[string]float64{"mu": 1}}},
		{"non-positive sigma", ServiceSpec{Family: "lognormal", Params: map[string]float64{"mu": 1, "sigma": 0}}},
		{"lognormal without mu or scale", ServiceSpec{Family: "lognormal", Params: map[string]float64{"sigma": 1}}},
		{"weibull missing scale", ServiceSpec{Family: "weibull", Params: map[string]float64{"shape": 1}}},
		{"exponential negative rate", ServiceSpec{Family: "exponential", Params: map[string]float64{"rate": -1}}},
		{"pareto zero shape", ServiceSpec{Family: "pareto", Params: map[string]float64{"shape": 0, "scale": 1}}},
		{"infinite loc", ServiceSpec{Family: "exponential", Params: map[string]float64{"scale": 1}, Loc: math.Inf(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.spec.Validate(), ErrInvalidConfig)
		})
	}
}

func TestNewServiceTimeSampler_RequiresEveryStage(t *testing.T) {
	specs := constantService(1, 1, 1)
	delete(specs, StageTesting)
	_, err := NewServiceTimeSampler(specs, NewPartitionedRNG(NewSimulationKey(1)).ForSubsystem(SubsystemService))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadServiceParamsJSON_SkipsMissingFits(t *testing.T) {
	specs, err := LoadServiceParamsJSON(testutil.ScenarioPath(t, "service_params.json"))
	require.NoError(t, err)

	require.Contains(t, specs, StageDev)
	require.Contains(t, specs, StageReview)
	assert.NotContains(t, specs, StageTesting, "TEST has a null fit")
	assert.Equal(t, FamilyLogNormal, specs[StageDev].Family)
	assert.Equal(t, -0.6, specs[StageDev].Params["mu"])
	assert.Equal(t, 0.5, specs[StageReview].Params["sigma"])
}
