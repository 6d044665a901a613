package testutil

import "sync"

// DeterministicClock is a clock.Ticker for scenario runs and tests.
//
// It counts the ticks it handed out since it was created or rewound, so a
// run can report how many writes each logical clock stamped.
type DeterministicClock struct {
	mu    sync.Mutex
	start int64
	seq   int64
}

// NewDeterministicClock creates a clock whose first Next returns 1.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockAt(0)
}

// NewDeterministicClockAt creates a clock whose first Next returns start+1,
// like a clock restored from a journal.
func NewDeterministicClockAt(start int64) *DeterministicClock {
	return &DeterministicClock{start: start, seq: start}
}

func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Ticks returns how many times Next was called since start.
func (c *DeterministicClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq - c.start
}

// Rewind returns the clock to its start value.
func (c *DeterministicClock) Rewind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = c.start
}
