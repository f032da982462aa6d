package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflow-sim/workflow-sim/sim"
	"github.com/workflow-sim/workflow-sim/sim/internal/testutil"
)

func TestDigest_SameSeedSameDigest(t *testing.T) {
	// GIVEN two runs of the markov scenario with identical seeds
	_, first := runScenario(t, testutil.ScenarioMarkov, 40)
	_, second := runScenario(t, testutil.ScenarioMarkov, 40)

	// WHEN both are fingerprinted
	d1, err := Digest(first)
	require.NoError(t, err)
	d2, err := Digest(second)
	require.NoError(t, err)

	// THEN the digests match
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)
}

func TestDigest_SeedChangesDigest(t *testing.T) {
	cfg, res := runScenario(t, testutil.ScenarioMarkov, 40)
	d1, err := Digest(res)
	require.NoError(t, err)

	cfg.Seeds.Global++
	s, err := sim.NewSimulator(cfg, nil)
	require.NoError(t, err)
	other, err := s.Run()
	require.NoError(t, err)
	d2, err := Digest(other)
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
}

func TestRendered_DigestSeparatesParts(t *testing.T) {
	a := Rendered{Tickets: []byte("ab"), Summary: []byte("c")}
	b := Rendered{Tickets: []byte("a"), Summary: []byte("bc")}
	assert.NotEqual(t, a.Digest(), b.Digest())
}

func TestWriteRun_FilesMatchDigest(t *testing.T) {
	// GIVEN a finished run
	cfg, res := runScenario(t, testutil.ScenarioBaseline, 60)
	dir := filepath.Join(t.TempDir(), "out")

	// WHEN its artifacts are written
	digest, err := WriteRun(dir, cfg, res)
	require.NoError(t, err)

	// THEN the files on disk hash to the returned digest
	tickets, err := os.ReadFile(filepath.Join(dir, TicketsFilename))
	require.NoError(t, err)
	summary, err := os.ReadFile(filepath.Join(dir, SummaryFilename))
	require.NoError(t, err)
	assert.Equal(t, digest, Rendered{Tickets: tickets, Summary: summary}.Digest())
	assert.FileExists(t, filepath.Join(dir, ConfigFilename))
}

func TestWriteRun_RejectsMissingResult(t *testing.T) {
	_, err := WriteRun(t.TempDir(), sim.DefaultConfig(), nil)
	assert.Error(t, err)
}
