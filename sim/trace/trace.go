package trace

import (
	"fmt"

	"github.com/workflow-sim/workflow-sim/sim"
)

// Level controls which transitions are traced.
type Level string

const (
	// LevelNone disables tracing.
	LevelNone Level = "none"
	// LevelTickets keeps ticket transitions and drops agent-only records
	// such as capacity changes.
	LevelTickets Level = "tickets"
	// LevelAll keeps every record.
	LevelAll Level = "all"
)

var validLevels = map[Level]bool{
	LevelNone:    true,
	LevelTickets: true,
	LevelAll:     true,
	"":           true, // empty defaults to none
}

// IsValidLevel returns true if the given level string is a recognized trace level.
func IsValidLevel(level string) bool {
	return validLevels[Level(level)]
}

// Recorder receives transitions from the simulator and releases any
// resources when the run is over.
type Recorder interface {
	sim.Observer
	Close() error
}

// keep reports whether a record passes the level filter.
func keep(level Level, r Record) bool {
	switch level {
	case LevelAll:
		return true
	case LevelTickets:
		return r.IsTicketRecord()
	default:
		return false
	}
}

func newRecord(t float64, kind string, ticketID, agentID int, stage sim.Stage, detail string) Record {
	return Record{Time: t, Kind: kind, TicketID: ticketID, AgentID: agentID, Stage: stage.String(), Detail: detail}
}

// SimulationTrace collects records in memory.
type SimulationTrace struct {
	Level   Level
	Records []Record
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(level Level) *SimulationTrace {
	return &SimulationTrace{Level: level, Records: make([]Record, 0)}
}

// Observe implements sim.Observer.
func (st *SimulationTrace) Observe(t float64, kind string, ticketID, agentID int, stage sim.Stage, detail string) {
	st.Append(newRecord(t, kind, ticketID, agentID, stage, detail))
}

// Append adds r if the level lets it through.
func (st *SimulationTrace) Append(r Record) {
	if keep(st.Level, r) {
		st.Records = append(st.Records, r)
	}
}

// Close is a no-op.
func (st *SimulationTrace) Close() error { return nil }

// ForTicket returns the records of one ticket in order.
func (st *SimulationTrace) ForTicket(id int) []Record {
	var out []Record
	for _, r := range st.Records {
		if r.TicketID == id {
			out = append(out, r)
		}
	}
	return out
}

// Open returns the recorder for a --trace style argument: nil for an empty
// path or level none, otherwise a Writer on path.
func Open(path string, level Level) (Recorder, error) {
	if !IsValidLevel(string(level)) {
		return nil, fmt.Errorf("unknown trace level %q", level)
	}
	if path == "" || level == LevelNone || level == "" {
		return nil, nil
	}
	w, err := Create(path, level)
	if err != nil {
		return nil, err
	}
	return w, nil
}
