package sim

import (
	"container/heap"
	"math"
)

// eventHeap implements heap.Interface.
// Ordering: timestamp → insertion sequence.
type eventHeap []Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].Timestamp() != h[j].Timestamp() {
		return h[i].Timestamp() < h[j].Timestamp()
	}
	return h[i].Seq() < h[j].Seq()
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// EventQueue is a min-heap of pending events. Events with equal timestamps
// pop in the order they were pushed.
type EventQueue struct {
	events  eventHeap
	nextSeq uint64
}

// NewEventQueue creates an empty queue.
func NewEventQueue() *EventQueue {
	q := &EventQueue{events: make(eventHeap, 0)}
	heap.Init(&q.events)
	return q
}

// Push stamps e with the next insertion sequence and adds it to the heap.
func (q *EventQueue) Push(e Event) {
	e.setSeq(q.nextSeq)
	q.nextSeq++
	heap.Push(&q.events, e)
}

// Pop removes and returns the earliest event, or nil if the queue is empty.
func (q *EventQueue) Pop() Event {
	if len(q.events) == 0 {
		return nil
	}
	return heap.Pop(&q.events).(Event)
}

// Peek returns the earliest event without removing it.
func (q *EventQueue) Peek() Event {
	if len(q.events) == 0 {
		return nil
	}
	return q.events[0]
}

// NextEventTime returns the earliest pending timestamp, +Inf when empty.
func (q *EventQueue) NextEventTime() float64 {
	if len(q.events) == 0 {
		return math.Inf(1)
	}
	return q.events[0].Timestamp()
}

// Empty reports whether no events are pending.
func (q *EventQueue) Empty() bool {
	return len(q.events) == 0
}

// Len returns the number of pending events.
func (q *EventQueue) Len() int {
	return len(q.events)
}
