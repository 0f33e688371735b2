package kernel

import (
	"container/heap"
	"time"
)

// envelope is one scheduled delivery in the global queue
type envelope struct {
	deliverAt time.Time
	seq       uint64
	sender    string
	recipient string
	msg       Message
}

// messageQueue is a min-heap of envelopes keyed by (deliverAt, seq).
// The sequence tie-break makes delivery order deterministic for equal
// timestamps: first enqueued, first delivered.
type messageQueue struct {
	entries []*envelope
}

func newMessageQueue() *messageQueue {
	q := &messageQueue{}
	heap.Init(q)
	return q
}

func (q *messageQueue) Len() int { return len(q.entries) }

func (q *messageQueue) Less(i, j int) bool {
	a, b := q.entries[i], q.entries[j]
	if !a.deliverAt.Equal(b.deliverAt) {
		return a.deliverAt.Before(b.deliverAt)
	}
	return a.seq < b.seq
}

func (q *messageQueue) Swap(i, j int) {
	q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
}

func (q *messageQueue) Push(x any) {
	q.entries = append(q.entries, x.(*envelope))
}

func (q *messageQueue) Pop() any {
	old := q.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	q.entries = old[:n-1]
	return e
}

// push schedules an envelope
func (q *messageQueue) push(e *envelope) {
	heap.Push(q, e)
}

// pop removes and returns the globally minimum envelope
func (q *messageQueue) pop() *envelope {
	return heap.Pop(q).(*envelope)
}

// peek returns the minimum envelope without removing it
func (q *messageQueue) peek() *envelope {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}
