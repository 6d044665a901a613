package engine

import (
	"context"
	"sync"

	"github.com/roach88/countersync/internal/pipeline"
	"github.com/roach88/countersync/internal/wire"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeIntent runs a closure against the pipeline inside the loop.
	EventTypeIntent EventType = iota + 1
	// EventTypeMessage carries one inbound server message.
	EventTypeMessage
	// EventTypeTerminal reports that the session stream broke.
	EventTypeTerminal
)

func (t EventType) String() string {
	switch t {
	case EventTypeIntent:
		return "intent"
	case EventTypeMessage:
		return "message"
	case EventTypeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// intentFunc runs inside the loop with exclusive access to the pipeline.
type intentFunc func(ctx context.Context, p *pipeline.Pipeline) (pipeline.Result, error)

type intentReply struct {
	result pipeline.Result
	err    error
}

// Event is one unit of work for the Run loop.
type Event struct {
	Type    EventType
	Message *wire.ServerMessage
	Err     error

	intent intentFunc
	reply  chan intentReply
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so the session's receive goroutine never blocks
// on a slow loop.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking; the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the backing array does not pin messages.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close was called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
