package events

import (
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// queuedEvent wraps an event with its enqueue sequence number, used to
// break ordering ties deterministically.
type queuedEvent struct {
	event *models.Event
	seq   uint64
}

// eventQueue orders by priority descending, then creation time
// ascending, then sequence ascending.
type eventQueue []*queuedEvent

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.event.Priority != b.event.Priority {
		return a.event.Priority > b.event.Priority
	}
	if !a.event.CreatedAt.Equal(b.event.CreatedAt) {
		return a.event.CreatedAt.Before(b.event.CreatedAt)
	}
	return a.seq < b.seq
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(*queuedEvent)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// timerHeap orders scheduled events by due time ascending
type timerHeap []*queuedEvent

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	return h[i].event.ScheduledFor.Before(h[j].event.ScheduledFor)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(*queuedEvent)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
