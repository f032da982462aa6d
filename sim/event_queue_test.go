package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueue_PopsInTimeOrder(t *testing.T) {
	q := NewEventQueue()
	q.Push(NewArrivalEvent(3, 3))
	q.Push(NewArrivalEvent(1, 1))
	q.Push(NewStintExpiryEvent(2, 0, 0))

	var got []float64
	for !q.Empty() {
		got = append(got, q.Pop().Timestamp())
	}
	assert.Equal(t, []float64{1, 2, 3}, got)
}

func TestEventQueue_TiesBreakByInsertionOrder(t *testing.T) {
	// GIVEN three events at the same time pushed completion, arrival, expiry
	q := NewEventQueue()
	q.Push(NewServiceCompletionEvent(5, 10, StageDev, 0, 1))
	q.Push(NewArrivalEvent(5, 11))
	q.Push(NewStintExpiryEvent(5, 2, 0))

	// THEN they pop in the same order, with increasing sequence numbers
	kinds := []EventKind{KindServiceCompletion, KindArrival, KindStintExpiry}
	var lastSeq uint64
	for i, want := range kinds {
		e := q.Pop()
		require.NotNil(t, e)
		assert.Equal(t, want, e.Kind(), "position %d", i)
		if i > 0 {
			assert.Greater(t, e.Seq(), lastSeq)
		}
		lastSeq = e.Seq()
	}
}

func TestEventQueue_Empty(t *testing.T) {
	q := NewEventQueue()
	assert.True(t, q.Empty())
	assert.Equal(t, 0, q.Len())
	assert.True(t, math.IsInf(q.NextEventTime(), 1))
	assert.Nil(t, q.Pop())
	assert.Nil(t, q.Peek())

	q.Push(NewArrivalEvent(0.5, 0))
	assert.False(t, q.Empty())
	assert.Equal(t, 0.5, q.NextEventTime())
	assert.Equal(t, 1, q.Len(), "Peek/NextEventTime must not remove")
}
