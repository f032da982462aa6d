// Defines the Ticket struct that models a single issue flowing through the workflow.
// Tracks arrival, per-stage pass counters, feedback loops, churn metadata and history.

package sim

import (
	"fmt"
)

// HistoryEntry is one labelled point in a ticket's lifecycle.
type HistoryEntry struct {
	Label string
	Time  float64
}

// Ticket models a single issue's lifecycle in the simulation.
// It is created on arrival, mutated only by WorkflowLogic and frozen once closed.
type Ticket struct {
	ID          int
	ArrivalTime float64 // simulated days
	Stage       Stage

	// Service passes started at each stage. A zero counter means the ticket
	// never entered that stage, so its wait and service time there are zero.
	DevCycles    int
	ReviewCycles int
	TestCycles   int

	ReviewReworks int // review completions routed back to dev
	TestReworks   int // testing completions routed back to dev

	Churn   *Churn // nil when no churn metadata is known
	History []HistoryEntry

	Closed     bool
	ClosedTime float64
}

// NewTicket creates a ticket in the backlog at arrival time t.
func NewTicket(id int, t float64) *Ticket {
	return &Ticket{
		ID:          id,
		ArrivalTime: t,
		Stage:       StageBacklog,
		History:     []HistoryEntry{{Label: "arrival", Time: t}},
	}
}

// Cycles returns the number of service passes started at stage s.
func (t *Ticket) Cycles(s Stage) int {
	switch s {
	case StageDev:
		return t.DevCycles
	case StageReview:
		return t.ReviewCycles
	case StageTesting:
		return t.TestCycles
	case StageBacklog, StageClosed:
		return 0
	}
	return 0
}

func (t *Ticket) incCycles(s Stage) {
	switch s {
	case StageDev:
		t.DevCycles++
	case StageReview:
		t.ReviewCycles++
	case StageTesting:
		t.TestCycles++
	case StageBacklog, StageClosed:
	}
}

func (t *Ticket) record(label string, at float64) error {
	if t.Closed {
		return &InvariantError{
			Check:  "closed-ticket-immutable",
			Time:   at,
			Detail: fmt.Sprintf("ticket %d mutated (%s) after closing at %.4f", t.ID, label, t.ClosedTime),
		}
	}
	t.History = append(t.History, HistoryEntry{Label: label, Time: at})
	return nil
}

// moveTo records a stage change.
func (t *Ticket) moveTo(s Stage, label string, at float64) error {
	if err := t.record(label, at); err != nil {
		return err
	}
	t.Stage = s
	return nil
}

// Close freezes the ticket at time at. Closing twice is an invariant violation.
func (t *Ticket) Close(at float64) error {
	if err := t.moveTo(StageClosed, "closed", at); err != nil {
		return err
	}
	t.Closed = true
	t.ClosedTime = at
	return nil
}

func (t Ticket) String() string {
	return fmt.Sprintf("Ticket: (ID: %d, Stage: %s, ArrivalTime: %.4f, Cycles: %d/%d/%d)",
		t.ID, t.Stage, t.ArrivalTime, t.DevCycles, t.ReviewCycles, t.TestCycles)
}
