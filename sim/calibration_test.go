package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCalibration_OccupancyApproachesStationary(t *testing.T) {
	// GIVEN the semi-Markov pool of the markov scenario
	cfg := markovConfig()

	// WHEN it runs alone for a long stretch
	cal, err := RunCalibration(cfg, 200, 40)
	require.NoError(t, err)

	// THEN occupancies form a distribution and productive hours are consistent with it
	sum := 0.0
	for _, s := range AllStates {
		assert.GreaterOrEqual(t, cal.Occupancy[s], 0.0)
		sum += cal.Occupancy[s]
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 24*(1-cal.Occupancy[StateOff]), cal.ProductiveHoursPerAgentDay, 1e-6)
	assert.Len(t, cal.Stationary, NumStates)
	assert.Greater(t, cal.Transitions, 40)

	counts := 0
	for _, n := range cal.FinalCounts {
		counts += n
	}
	assert.Equal(t, 40, counts)
}

func TestRunCalibration_InfiniteStintsStayPut(t *testing.T) {
	cal, err := RunCalibration(baselineConfig(), 30, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, cal.Transitions)
}

func TestRunCalibration_RejectsBadArguments(t *testing.T) {
	_, err := RunCalibration(markovConfig(), 0, 10)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = RunCalibration(markovConfig(), 10, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
