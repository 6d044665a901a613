// Package clock provides the monotonic logical clocks that order local
// intents and server truth.
package clock

import "sync/atomic"

// Ticker hands out strictly increasing sequence numbers.
// Clock and testutil.DeterministicClock implement it.
type Ticker interface {
	Next() int64
	Current() int64
}

// Clock is a monotonic logical clock.
//
// Each call to Next returns a unique, increasing value. The clock never reads
// wall time, so two runs over the same inputs stamp the same sequence numbers.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// The engine's single-writer loop means only one goroutine normally ticks it.
type Clock struct {
	seq atomic.Int64
}

// New creates a clock starting at 0. The first Next returns 1.
func New() *Clock {
	return &Clock{}
}

// NewAt creates a clock that resumes after start.
// Used to continue numbering from a journal after restart.
func NewAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
