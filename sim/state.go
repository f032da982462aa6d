// SystemState owns the stage queues, the backlog, the ticket registry and the
// ticket↔agent assignment table. It performs no routing decisions.

package sim

import (
	"fmt"
	"sort"
)

// Assignment records a ticket in service.
type Assignment struct {
	TicketID    int
	AgentID     int
	Stage       Stage
	Start       float64
	ServiceTime float64
}

// SystemState is the data owner of the simulation. A ticket is in at most one
// queue or assignment at a time; an agent serves at most one ticket.
type SystemState struct {
	queues  map[Stage]*TicketQueue
	backlog TicketQueue

	tickets map[int]*Ticket
	queued  map[int]Stage // ticket id → queue it waits in (StageBacklog for the backlog)

	assignments map[int]Assignment // by ticket id
	agentTicket map[int]int        // agent id → ticket id

	pool *DeveloperPool
}

// NewSystemState creates empty queues bound to pool for capacity queries.
func NewSystemState(pool *DeveloperPool) *SystemState {
	s := &SystemState{
		queues:      make(map[Stage]*TicketQueue, len(ServiceStages)),
		tickets:     make(map[int]*Ticket),
		queued:      make(map[int]Stage),
		assignments: make(map[int]Assignment),
		agentTicket: make(map[int]int),
		pool:        pool,
	}
	for _, st := range ServiceStages {
		s.queues[st] = &TicketQueue{}
	}
	return s
}

// === Ticket registry ===

// CreateTicket registers a new ticket arriving at time at.
func (s *SystemState) CreateTicket(id int, at float64) (*Ticket, error) {
	if _, ok := s.tickets[id]; ok {
		return nil, &InvariantError{Check: "ticket-unique", Time: at, Detail: fmt.Sprintf("ticket %d created twice", id)}
	}
	t := NewTicket(id, at)
	s.tickets[id] = t
	return t, nil
}

// Ticket returns the registered ticket with the given id.
func (s *SystemState) Ticket(id int) (*Ticket, bool) {
	t, ok := s.tickets[id]
	return t, ok
}

// Tickets returns every registered ticket ordered by id.
func (s *SystemState) Tickets() []*Ticket {
	out := make([]*Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// === Queues ===

func (s *SystemState) checkFree(t *Ticket, at float64) error {
	if where, ok := s.queued[t.ID]; ok {
		return &InvariantError{Check: "ticket-single-location", Time: at,
			Detail: fmt.Sprintf("ticket %d is already queued at %s", t.ID, where)}
	}
	if a, ok := s.assignments[t.ID]; ok {
		return &InvariantError{Check: "ticket-single-location", Time: at,
			Detail: fmt.Sprintf("ticket %d is already in service at %s with agent %d", t.ID, a.Stage, a.AgentID)}
	}
	return nil
}

// Enqueue appends t to the queue of a service stage.
func (s *SystemState) Enqueue(stage Stage, t *Ticket, at float64) error {
	q, ok := s.queues[stage]
	if !ok {
		return fmt.Errorf("enqueue: %s is not a service stage", stage)
	}
	if err := s.checkFree(t, at); err != nil {
		return err
	}
	q.Enqueue(t, at)
	s.queued[t.ID] = stage
	return nil
}

// Dequeue removes the head of a stage queue.
func (s *SystemState) Dequeue(stage Stage) (QueueEntry, bool) {
	return s.RemoveAt(stage, 0)
}

// RemoveAt removes the i-th entry of a stage queue.
func (s *SystemState) RemoveAt(stage Stage, i int) (QueueEntry, bool) {
	q, ok := s.queues[stage]
	if !ok {
		return QueueEntry{}, false
	}
	e, ok := q.Remove(i)
	if ok {
		delete(s.queued, e.Ticket.ID)
	}
	return e, ok
}

// EnqueueBacklog appends t to the backlog buffer.
func (s *SystemState) EnqueueBacklog(t *Ticket, at float64) error {
	if err := s.checkFree(t, at); err != nil {
		return err
	}
	s.backlog.Enqueue(t, at)
	s.queued[t.ID] = StageBacklog
	return nil
}

// DequeueBacklog removes the head of the backlog.
func (s *SystemState) DequeueBacklog() (QueueEntry, bool) {
	return s.RemoveBacklogAt(0)
}

// RemoveBacklogAt removes the i-th backlog entry.
func (s *SystemState) RemoveBacklogAt(i int) (QueueEntry, bool) {
	e, ok := s.backlog.Remove(i)
	if ok {
		delete(s.queued, e.Ticket.ID)
	}
	return e, ok
}

// Queue returns the entries waiting at a service stage, not counting the backlog.
func (s *SystemState) Queue(stage Stage) []QueueEntry {
	q, ok := s.queues[stage]
	if !ok {
		return nil
	}
	return q.Items()
}

// Backlog returns the entries waiting in the backlog.
func (s *SystemState) Backlog() []QueueEntry {
	return s.backlog.Items()
}

// QueueLength is the number of tickets waiting for stage. For dev this
// includes the backlog, which is the dev queue of record.
func (s *SystemState) QueueLength(stage Stage) int {
	q, ok := s.queues[stage]
	if !ok {
		return 0
	}
	if stage == StageDev {
		return q.Len() + s.backlog.Len()
	}
	return q.Len()
}

// === Servers ===

// OccupyServer records that agentID starts serving ticketID at stage.
func (s *SystemState) OccupyServer(stage Stage, agentID, ticketID int, start, serviceTime float64) error {
	if other, ok := s.agentTicket[agentID]; ok {
		return &InvariantError{Check: "agent-single-ticket", Time: start,
			Detail: fmt.Sprintf("agent %d already serves ticket %d", agentID, other)}
	}
	if where, ok := s.queued[ticketID]; ok {
		return &InvariantError{Check: "ticket-single-location", Time: start,
			Detail: fmt.Sprintf("ticket %d assigned while still queued at %s", ticketID, where)}
	}
	if a, ok := s.assignments[ticketID]; ok {
		return &InvariantError{Check: "ticket-single-location", Time: start,
			Detail: fmt.Sprintf("ticket %d already served by agent %d", ticketID, a.AgentID)}
	}
	s.assignments[ticketID] = Assignment{TicketID: ticketID, AgentID: agentID, Stage: stage, Start: start, ServiceTime: serviceTime}
	s.agentTicket[agentID] = ticketID
	return nil
}

// ReleaseServer ends the service of ticketID at stage and returns the agent
// that served it. ok is false when the ticket has no assignment at stage;
// callers treat that as a skipped transition.
func (s *SystemState) ReleaseServer(stage Stage, ticketID int) (agentID int, ok bool) {
	a, found := s.assignments[ticketID]
	if !found || a.Stage != stage {
		return 0, false
	}
	delete(s.assignments, ticketID)
	delete(s.agentTicket, a.AgentID)
	return a.AgentID, true
}

// Assignment returns the current service assignment of ticketID.
func (s *SystemState) Assignment(ticketID int) (Assignment, bool) {
	a, ok := s.assignments[ticketID]
	return a, ok
}

// InService returns the number of tickets being served at stage.
func (s *SystemState) InService(stage Stage) int {
	n := 0
	for _, a := range s.assignments {
		if a.Stage == stage {
			n++
		}
	}
	return n
}

// InFlight returns every current assignment ordered by ticket id.
func (s *SystemState) InFlight() []Assignment {
	out := make([]Assignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketID < out[j].TicketID })
	return out
}

// CapacityForStage delegates to the developer pool.
func (s *SystemState) CapacityForStage(stage Stage) int {
	return s.pool.CapacityForStage(stage)
}
