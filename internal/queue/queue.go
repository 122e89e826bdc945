// Package queue implements the pending-request queues drained by the host loop.
//
// Producers are the transport read goroutines; the only consumer is the host
// thread. The queue is an unbounded intrusive MPSC list: Enqueue is a single
// atomic swap and never blocks, Dequeue must only be called from one goroutine.
package queue

import (
	"sync/atomic"

	"github.com/mattjoyce/voxbridge/internal/protocol"
)

type node struct {
	next atomic.Pointer[node]
	env  protocol.Envelope
}

// Queue is a FIFO multi-producer/single-consumer queue of inbound envelopes.
type Queue struct {
	head atomic.Pointer[node] // most recently enqueued; producers swap here
	tail *node                // consumer-owned stub
	size atomic.Int64
}

// New creates an empty queue.
func New() *Queue {
	stub := &node{}
	q := &Queue{tail: stub}
	q.head.Store(stub)
	return q
}

// Enqueue appends env. Safe for concurrent use by any number of producers.
func (q *Queue) Enqueue(env protocol.Envelope) {
	n := &node{env: env}
	q.size.Add(1)
	prev := q.head.Swap(n)
	prev.next.Store(n)
}

// Dequeue pops the oldest envelope. Returns false if the queue is empty or the
// next producer has not finished linking its node yet. Single consumer only.
func (q *Queue) Dequeue() (protocol.Envelope, bool) {
	next := q.tail.next.Load()
	if next == nil {
		return protocol.Envelope{}, false
	}
	env := next.env
	next.env = protocol.Envelope{}
	q.tail = next
	q.size.Add(-1)
	return env, true
}

// Len reports the approximate number of queued envelopes.
func (q *Queue) Len() int {
	n := q.size.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
