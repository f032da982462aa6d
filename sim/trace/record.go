// Package trace records every ticket and agent transition of a run.
// Records can be kept in memory or streamed to a JSON lines file.
package trace

// Record is one transition observed during a run.
type Record struct {
	Time     float64 `json:"t"`
	Kind     string  `json:"kind"`
	TicketID int     `json:"ticket"` // -1 for agent-only records
	AgentID  int     `json:"agent"`  // -1 when no agent is involved
	Stage    string  `json:"stage"`
	Detail   string  `json:"detail,omitempty"`
}

// IsTicketRecord reports whether the record concerns a ticket.
func (r Record) IsTicketRecord() bool {
	return r.TicketID >= 0
}
