package store

import (
	"sync"

	"github.com/roach88/countersync/internal/entity"
)

// Reader is the read-only view of a Store.
type Reader interface {
	Get(ref entity.Ref) (entity.Counter, bool)
	Snapshot() []entity.Counter
	Len() int
}

// Store is the in-memory entity collection.
//
// Thread-safety: all methods are safe for concurrent use. Writers are
// expected to be a single goroutine (the engine loop); the lock exists so
// readers on other goroutines see consistent snapshots.
type Store struct {
	mu       sync.RWMutex
	counters []entity.Counter
}

// New creates an empty store.
func New() *Store {
	return &Store{counters: make([]entity.Counter, 0, 16)}
}

// Append inserts a counter at the end. No deduplication is performed.
func (s *Store) Append(c entity.Counter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = append(s.counters, c)
}

// UpsertByServerID overwrites name and value of the first counter with the
// given server ID. Returns false if there is none.
func (s *Store) UpsertByServerID(id entity.ServerID, f entity.Fields, seq int64) bool {
	if !id.Assigned() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(entity.ByServerID(id))
	if i < 0 {
		return false
	}
	s.counters[i].Name = f.Name
	s.counters[i].Value = f.Value
	s.counters[i].ServerSeq = seq
	return true
}

// UpsertByCorrelationID binds id to the counter created under corr and
// overwrites its name and value. Returns false if no counter carries corr,
// or if it is already bound to a different server ID.
func (s *Store) UpsertByCorrelationID(corr entity.CorrelationID, id entity.ServerID, f entity.Fields, seq int64) bool {
	if !corr.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(entity.ByCorrelationID(corr))
	if i < 0 {
		return false
	}
	c := &s.counters[i]
	if c.ServerID.Assigned() && c.ServerID != id {
		return false
	}
	c.ServerID = id
	c.Name = f.Name
	c.Value = f.Value
	c.ServerSeq = seq
	return true
}

// Remove deletes every counter with the given server ID. Returns false if
// none matched.
func (s *Store) Remove(id entity.ServerID) bool {
	if !id.Assigned() {
		return false
	}
	return s.removeWhere(func(c entity.Counter) bool { return c.ServerID == id })
}

// RemoveByCorrelationID deletes the counters created under corr.
func (s *Store) RemoveByCorrelationID(corr entity.CorrelationID) bool {
	if !corr.Valid() {
		return false
	}
	return s.removeWhere(func(c entity.Counter) bool { return c.CorrelationID == corr })
}

// ReplaceAll discards every counter and installs the given ones.
func (s *Store) ReplaceAll(counters []entity.Counter) {
	next := make([]entity.Counter, len(counters))
	copy(next, counters)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = next
}

// Mutate applies fn to the counter addressed by ref. Returns false on a miss.
// fn must not retain the pointer.
func (s *Store) Mutate(ref entity.Ref, fn func(*entity.Counter)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(ref)
	if i < 0 {
		return false
	}
	fn(&s.counters[i])
	return true
}

// Get returns the counter addressed by ref.
func (s *Store) Get(ref entity.Ref) (entity.Counter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(ref)
	if i < 0 {
		return entity.Counter{}, false
	}
	return s.counters[i], true
}

// Snapshot returns a copy of all counters in store order.
func (s *Store) Snapshot() []entity.Counter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.Counter, len(s.counters))
	copy(out, s.counters)
	return out
}

// Len returns the number of counters.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.counters)
}

func (s *Store) indexLocked(ref entity.Ref) int {
	if ref.IsZero() {
		return -1
	}
	for i, c := range s.counters {
		if ref.Matches(c) {
			return i
		}
	}
	return -1
}

func (s *Store) removeWhere(match func(entity.Counter) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.counters[:0]
	removed := false
	for _, c := range s.counters {
		if match(c) {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	// Zero the tail so dropped counters do not linger in the backing array.
	for i := len(kept); i < len(s.counters); i++ {
		s.counters[i] = entity.Counter{}
	}
	s.counters = kept
	return removed
}
