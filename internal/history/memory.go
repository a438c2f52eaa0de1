package history

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps a bounded ring buffer per session. Used by tests and
// whenever no history path is configured.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	seq      int64
	sessions map[string]*RingBuffer
}

// NewMemoryStore creates a store keeping at most capacity entries per session.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		sessions: make(map[string]*RingBuffer),
	}
}

func (s *MemoryStore) Append(_ context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	s.seq++
	e.Seq = s.seq
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	rb, ok := s.sessions[e.SessionID]
	if !ok {
		rb = NewRingBuffer(s.capacity)
		s.sessions[e.SessionID] = rb
	}
	s.mu.Unlock()

	rb.Write(e)
	return e, nil
}

func (s *MemoryStore) ReadAll(_ context.Context, sessionID string) ([]Entry, error) {
	s.mu.Lock()
	rb, ok := s.sessions[sessionID]
	s.mu.Unlock()

	if !ok {
		return []Entry{}, nil
	}
	return rb.ReadAll(), nil
}

// Clear empties the session's buffer. The buffer itself is kept for the
// session's next entries.
func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	rb, ok := s.sessions[sessionID]
	s.mu.Unlock()

	if ok {
		rb.Reset()
	}
	return nil
}
