// Implements the TicketQueue, which holds tickets waiting for a stage.
// Tickets are enqueued on arrival, on routing to the next stage and on feedback.

package sim

import (
	"fmt"
	"strings"
)

// QueueEntry is a queued ticket and the time it joined the queue.
type QueueEntry struct {
	Ticket     *Ticket
	EnqueuedAt float64
}

// TicketQueue is a FIFO queue of tickets waiting to be served.
// Churn-weighted selection may remove from the middle via Remove.
type TicketQueue struct {
	queue []QueueEntry
}

// Enqueue adds a ticket to the back of the queue.
func (tq *TicketQueue) Enqueue(t *Ticket, at float64) {
	if t == nil {
		panic("Enqueue: ticket must not be nil")
	}
	tq.queue = append(tq.queue, QueueEntry{Ticket: t, EnqueuedAt: at})
}

func (tq *TicketQueue) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, e := range tq.queue {
		sb.WriteString(fmt.Sprint(e.Ticket.ID))
		if i < len(tq.queue)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}

// Len returns the number of tickets in the queue.
func (tq *TicketQueue) Len() int {
	return len(tq.queue)
}

// Peek returns the entry at the front of the queue without removing it.
func (tq *TicketQueue) Peek() (QueueEntry, bool) {
	if len(tq.queue) == 0 {
		return QueueEntry{}, false
	}
	return tq.queue[0], true
}

// Items returns the queue contents for iteration.
// The returned slice is the queue's internal storage -- callers
// MUST NOT append to or reslice it.
func (tq *TicketQueue) Items() []QueueEntry {
	return tq.queue
}

// Dequeue removes the entry at the front of the queue.
func (tq *TicketQueue) Dequeue() (QueueEntry, bool) {
	return tq.Remove(0)
}

// Remove removes the i-th entry, keeping the order of the rest.
func (tq *TicketQueue) Remove(i int) (QueueEntry, bool) {
	if i < 0 || i >= len(tq.queue) {
		return QueueEntry{}, false
	}
	e := tq.queue[i]
	copy(tq.queue[i:], tq.queue[i+1:])
	tq.queue[len(tq.queue)-1] = QueueEntry{}
	tq.queue = tq.queue[:len(tq.queue)-1]
	return e, true
}
