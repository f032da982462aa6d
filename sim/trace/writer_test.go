package trace

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflow-sim/workflow-sim/sim"
	"github.com/workflow-sim/workflow-sim/sim/internal/testutil"
)

func TestWriter_PlainJSONLines(t *testing.T) {
	// GIVEN a writer on an in-memory buffer
	var buf bytes.Buffer
	w, err := NewWriter(&buf, false, LevelAll)
	require.NoError(t, err)

	// WHEN two records are written and the writer closed
	w.Observe(0.5, "arrival", 0, -1, sim.StageBacklog, "")
	w.Observe(0.75, "start", 0, 2, sim.StageDev, "0.1")
	require.NoError(t, w.Close())

	// THEN each record is one JSON line
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
	assert.Contains(t, buf.String(), `"kind":"arrival"`)
	assert.Equal(t, 2, w.Written())

	got, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Record{Time: 0.75, Kind: "start", TicketID: 0, AgentID: 2, Stage: "dev", Detail: "0.1"}, got[1])
}

func TestWriter_CompressedFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl.zst")
	w, err := Create(path, LevelTickets)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		w.Observe(float64(i), "arrival", i, -1, sim.StageBacklog, "")
		w.Observe(float64(i), "capacity_change", -1, -1, sim.StageDev, "capacity=1")
	}
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "arrival", "payload is compressed")

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, got, 100, "capacity changes are filtered at the tickets level")
	assert.Equal(t, 99, got[99].TicketID)
}

func TestWriter_TracesSimulationRun(t *testing.T) {
	// GIVEN the baseline scenario shortened to 60 days
	cfg, err := sim.LoadConfig(testutil.ScenarioPath(t, testutil.ScenarioBaseline))
	require.NoError(t, err)
	cfg.DurationDays = 60
	path := filepath.Join(t.TempDir(), "run.jsonl.zst")
	w, err := Create(path, LevelAll)
	require.NoError(t, err)

	// WHEN the run streams into the writer
	s, err := sim.NewSimulator(cfg, w)
	require.NoError(t, err)
	res, err := s.Run()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// THEN every arrival and closure of the summary appears in the trace
	records, err := ReadFile(path)
	require.NoError(t, err)
	summary := Summarize(records)
	assert.Equal(t, res.Summary.TicketsArrived, summary.KindCounts["arrival"])
	assert.Equal(t, res.Summary.TicketsClosed, summary.KindCounts["closed"])
	assert.LessOrEqual(t, summary.LastTime, cfg.DurationDays)
	for i := 1; i < len(records); i++ {
		if records[i].Time < records[i-1].Time {
			t.Fatalf("record %d at %v precedes %v", i, records[i].Time, records[i-1].Time)
		}
	}
}
