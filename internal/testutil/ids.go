package testutil

import (
	"strconv"
	"sync"
	"time"

	"github.com/roach88/countersync/internal/entity"
)

// SequenceIDs generates action IDs "<prefix>-1", "<prefix>-2", ...
//
// Scenarios use it so golden traces are byte-identical across runs.
// Implements pipeline.IDGenerator.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDs creates a generator. An empty prefix means "action".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "action"
	}
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return g.prefix + "-" + strconv.Itoa(g.n)
}

// SequenceCorrelations hands out correlation IDs -1, -2, -3, ...
//
// Implements pipeline.CorrelationSource.
type SequenceCorrelations struct {
	mu   sync.Mutex
	next int64
}

// NewSequenceCorrelations creates a source whose first ID is -1.
func NewSequenceCorrelations() *SequenceCorrelations {
	return &SequenceCorrelations{}
}

// Next returns the next correlation ID.
func (s *SequenceCorrelations) Next() entity.CorrelationID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next--
	return entity.CorrelationID(s.next)
}

// ManualTime is a wall clock that only moves when told to.
type ManualTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualTime starts the clock at start.
func NewManualTime(start time.Time) *ManualTime {
	return &ManualTime{now: start}
}

// Now returns the current time. Pass the method value where a
// func() time.Time is expected.
func (m *ManualTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *ManualTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
