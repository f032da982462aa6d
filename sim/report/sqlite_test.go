package report

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflow-sim/workflow-sim/sim/internal/testutil"
)

func TestSQLiteExporter_ExportIsIdempotent(t *testing.T) {
	// GIVEN a run and a fresh database
	ctx := context.Background()
	cfg, res := runScenario(t, testutil.ScenarioMarkov, 30)
	digest, err := Digest(res)
	require.NoError(t, err)
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer db.Close()

	// WHEN the same run is exported twice
	added, err := db.Export(ctx, digest, cfg, res)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = db.Export(ctx, digest, cfg, res)
	require.NoError(t, err)
	assert.False(t, added, "second export is a no-op")

	// THEN one run with every ticket and metric is stored
	runs, err := db.RunCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
	tickets, err := db.TicketCount(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, len(res.Records), tickets)
	arrived, err := db.Metric(ctx, digest, "tickets_arrived")
	require.NoError(t, err)
	assert.Equal(t, float64(res.Summary.TicketsArrived), arrived)
}

func TestSQLiteExporter_ReopenKeepsRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	cfg, res := runScenario(t, testutil.ScenarioBaseline, 20)

	db, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = db.Export(ctx, "digest-a", cfg, res)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Export(ctx, "digest-b", cfg, res)
	require.NoError(t, err)
	runs, err := db.RunCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, runs)

	_, err = db.Metric(ctx, "digest-c", "tickets_arrived")
	assert.Error(t, err)
}
