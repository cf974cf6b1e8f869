package relay

import "sync"

// DefaultHistorySize is the history capacity used when none is configured.
const DefaultHistorySize = 200

// Store holds the bounded message history. The latest message is the last
// history entry, read under the same lock, so the two can never disagree.
//
// Ingest has a single caller (the dispatcher). Any number of goroutines may
// read concurrently; readers never block each other.
type Store struct {
	mu       sync.RWMutex
	ring     []Message
	start    int // index of the oldest entry
	size     int
	ingested uint64
	evicted  uint64
}

// NewStore creates a store holding at most capacity messages.
// A non-positive capacity uses DefaultHistorySize.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &Store{ring: make([]Message, capacity)}
}

// Ingest appends msg, evicting the oldest entry when full.
// It reports whether an entry was evicted.
func (s *Store) Ingest(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ingested++
	capacity := len(s.ring)
	if s.size < capacity {
		s.ring[(s.start+s.size)%capacity] = msg
		s.size++
		return false
	}

	s.ring[s.start] = msg
	s.start = (s.start + 1) % capacity
	s.evicted++
	return true
}

// Latest returns the most recent message, or false if nothing has been ingested.
func (s *Store) Latest() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.size == 0 {
		return Message{}, false
	}
	return s.ring[(s.start+s.size-1)%len(s.ring)], true
}

// History returns a copy of the retained messages, oldest first, keeping only
// those for which keep returns true. A nil keep returns everything.
func (s *Store) History(keep func(Message) bool) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, 0, s.size)
	for i := 0; i < s.size; i++ {
		msg := s.ring[(s.start+i)%len(s.ring)]
		if keep == nil || keep(msg) {
			out = append(out, msg)
		}
	}
	return out
}

// Len returns the number of retained messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Cap returns the history capacity.
func (s *Store) Cap() int {
	return len(s.ring)
}

// StoreStats is a point-in-time view of store counters.
type StoreStats struct {
	Retained int    `json:"retained"`
	Capacity int    `json:"capacity"`
	Ingested uint64 `json:"ingested"`
	Evicted  uint64 `json:"evicted"`
}

// Stats returns current counters.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StoreStats{
		Retained: s.size,
		Capacity: len(s.ring),
		Ingested: s.ingested,
		Evicted:  s.evicted,
	}
}
