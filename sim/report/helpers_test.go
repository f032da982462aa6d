package report

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/workflow-sim/workflow-sim/sim"
	"github.com/workflow-sim/workflow-sim/sim/internal/testutil"
)

// runScenario loads a scenario, shortens it to days and runs it.
func runScenario(t *testing.T, name string, days float64) (sim.Config, *sim.Result) {
	t.Helper()
	cfg, err := sim.LoadConfig(testutil.ScenarioPath(t, name))
	require.NoError(t, err)
	cfg.DurationDays = days
	s, err := sim.NewSimulator(cfg, nil)
	require.NoError(t, err)
	res, err := s.Run()
	require.NoError(t, err)
	return cfg, res
}
