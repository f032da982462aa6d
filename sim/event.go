package sim

import "github.com/sirupsen/logrus"

// EventKind names an event variant.
type EventKind string

const (
	KindArrival           EventKind = "arrival"
	KindServiceCompletion EventKind = "service_completion"
	KindStintExpiry       EventKind = "stint_expiry"
)

// Event defines the interface for all simulation events.
// Each event has a Timestamp (in simulated days), an insertion sequence
// assigned by the EventQueue, and an Execute method that performs every
// state mutation caused by the event.
type Event interface {
	Timestamp() float64
	Seq() uint64
	Kind() EventKind
	Execute(*Simulator) error
	setSeq(uint64)
}

type eventBase struct {
	time float64
	seq  uint64
}

// Timestamp returns the scheduled simulated time of the event.
func (e *eventBase) Timestamp() float64 { return e.time }

// Seq returns the insertion sequence used to break timestamp ties.
func (e *eventBase) Seq() uint64 { return e.seq }

func (e *eventBase) setSeq(s uint64) { e.seq = s }

// ArrivalEvent represents a new ticket entering the backlog.
type ArrivalEvent struct {
	eventBase
	TicketID int
}

// NewArrivalEvent creates an arrival for ticket id at time t.
func NewArrivalEvent(t float64, id int) *ArrivalEvent {
	return &ArrivalEvent{eventBase: eventBase{time: t}, TicketID: id}
}

func (e *ArrivalEvent) Kind() EventKind { return KindArrival }

// Execute registers the ticket, offers the dev stage and schedules the next arrival.
func (e *ArrivalEvent) Execute(sim *Simulator) error {
	logrus.Debugf("<< Arrival: ticket %d at %.4f", e.TicketID, e.time)
	if err := sim.workflow.HandleArrival(e.TicketID, e.time); err != nil {
		return err
	}
	sim.scheduleNextArrival(e.time, e.TicketID+1)
	return nil
}

// ServiceCompletionEvent fires when an agent finishes serving a ticket.
type ServiceCompletionEvent struct {
	eventBase
	TicketID    int
	Stage       Stage
	AgentID     int
	ServiceTime float64
}

// NewServiceCompletionEvent creates a completion at time t.
func NewServiceCompletionEvent(t float64, ticketID int, stage Stage, agentID int, serviceTime float64) *ServiceCompletionEvent {
	return &ServiceCompletionEvent{
		eventBase:   eventBase{time: t},
		TicketID:    ticketID,
		Stage:       stage,
		AgentID:     agentID,
		ServiceTime: serviceTime,
	}
}

func (e *ServiceCompletionEvent) Kind() EventKind { return KindServiceCompletion }

// Execute releases the server, routes the ticket and re-offers changed stages.
func (e *ServiceCompletionEvent) Execute(sim *Simulator) error {
	logrus.Debugf("<< ServiceCompletion: ticket %d %s by agent %d at %.4f (service %.4f)",
		e.TicketID, e.Stage, e.AgentID, e.time, e.ServiceTime)
	return sim.workflow.HandleCompletion(e.TicketID, e.Stage, e.ServiceTime, e.time)
}

// StintExpiryEvent fires when an idle agent's stint runs out between other
// events. It is stale, and ignored, if the agent has transitioned or
// started serving since it was scheduled.
type StintExpiryEvent struct {
	eventBase
	AgentID int
	Epoch   uint64
}

// NewStintExpiryEvent creates a stint expiry for agentID at time t.
func NewStintExpiryEvent(t float64, agentID int, epoch uint64) *StintExpiryEvent {
	return &StintExpiryEvent{eventBase: eventBase{time: t}, AgentID: agentID, Epoch: epoch}
}

func (e *StintExpiryEvent) Kind() EventKind { return KindStintExpiry }

// Execute lets the pool catch up to the expiry time and re-offers changed stages.
func (e *StintExpiryEvent) Execute(sim *Simulator) error {
	logrus.Debugf("<< StintExpiry: agent %d at %.4f", e.AgentID, e.time)
	return sim.workflow.HandleStintExpiry(e.AgentID, e.Epoch, e.time)
}
