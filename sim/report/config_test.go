package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflow-sim/workflow-sim/sim"
	"github.com/workflow-sim/workflow-sim/sim/internal/testutil"
)

func TestWriteConfigYAML_ReloadsWithoutArtifacts(t *testing.T) {
	// GIVEN a config whose P, PMFs and service params came from files
	cfg, err := sim.LoadConfig(testutil.ScenarioPath(t, testutil.ScenarioMarkov))
	require.NoError(t, err)

	// WHEN it is written to a directory without those files and reloaded
	var buf bytes.Buffer
	require.NoError(t, WriteConfigYAML(&buf, cfg))
	path := filepath.Join(t.TempDir(), ConfigFilename)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	reloaded, err := sim.LoadConfig(path)
	require.NoError(t, err)

	// THEN it validates and describes the same model
	require.NoError(t, reloaded.Validate())
	assert.Empty(t, reloaded.Developers.MatrixPath)
	assert.Equal(t, cfg.Developers.TransitionMatrix, reloaded.Developers.TransitionMatrix)
	assert.Equal(t, cfg.Developers.StintPMFs, reloaded.Developers.StintPMFs)
	assert.Equal(t, cfg.Service, reloaded.Service)
	assert.Equal(t, cfg.Seeds, reloaded.Seeds)

	// and the caller's config keeps its paths
	assert.NotEmpty(t, cfg.Developers.MatrixPath)
}

func TestWriteConfigYAML_KeepsInfiniteStints(t *testing.T) {
	cfg, err := sim.LoadConfig(testutil.ScenarioPath(t, testutil.ScenarioBaseline))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteConfigYAML(&buf, cfg))
	assert.Contains(t, buf.String(), ".inf")

	reloaded, err := sim.LoadConfig(testutil.WriteFile(t, "cfg.yaml", buf.String()))
	require.NoError(t, err)
	assert.True(t, math.IsInf(reloaded.Developers.StintPMFs["DEV"].Lengths[0], 1))
}
