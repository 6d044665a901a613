package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/countersync/internal/entity"
)

// IDGenerator generates action IDs.
// Implemented by UUIDv7Generator; tests use testutil.SequenceIDs.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 action IDs.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// CorrelationSource generates correlation IDs for creates.
type CorrelationSource interface {
	Next() entity.CorrelationID
}

// MillisCorrelationSource derives correlation IDs from the negated wall
// clock in milliseconds. IDs are strictly decreasing, so two creates within
// the same millisecond still get distinct IDs.
//
// Thread-safety: safe for concurrent use.
type MillisCorrelationSource struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewMillisCorrelationSource creates a source reading now. A nil now uses
// time.Now.
func NewMillisCorrelationSource(now func() time.Time) *MillisCorrelationSource {
	if now == nil {
		now = time.Now
	}
	return &MillisCorrelationSource{now: now}
}

// Next returns a fresh negative correlation ID.
func (s *MillisCorrelationSource) Next() entity.CorrelationID {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := -s.now().UnixMilli()
	if v >= 0 {
		v = -1
	}
	if s.last != 0 && v >= s.last {
		v = s.last - 1
	}
	s.last = v
	return entity.CorrelationID(v)
}
