package trace

import "math"

// TraceSummary aggregates statistics from a list of records.
type TraceSummary struct {
	TotalRecords  int
	UniqueTickets int
	UniqueAgents  int
	FirstTime     float64
	LastTime      float64
	KindCounts    map[string]int // record kind → count
	// StageStarts counts service starts per stage name.
	StageStarts map[string]int
}

// Summarize computes aggregate statistics from records.
// Safe for nil or empty input (returns zero-value fields).
func Summarize(records []Record) *TraceSummary {
	summary := &TraceSummary{
		KindCounts:  make(map[string]int),
		StageStarts: make(map[string]int),
	}
	if len(records) == 0 {
		return summary
	}

	tickets := make(map[int]struct{})
	agents := make(map[int]struct{})
	summary.FirstTime = math.Inf(1)
	summary.LastTime = math.Inf(-1)
	for _, r := range records {
		summary.TotalRecords++
		summary.KindCounts[r.Kind]++
		if r.Kind == "start" {
			summary.StageStarts[r.Stage]++
		}
		if r.TicketID >= 0 {
			tickets[r.TicketID] = struct{}{}
		}
		if r.AgentID >= 0 {
			agents[r.AgentID] = struct{}{}
		}
		summary.FirstTime = math.Min(summary.FirstTime, r.Time)
		summary.LastTime = math.Max(summary.LastTime, r.Time)
	}
	summary.UniqueTickets = len(tickets)
	summary.UniqueAgents = len(agents)
	return summary
}
