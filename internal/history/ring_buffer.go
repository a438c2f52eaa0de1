package history

import "sync"

// RingBuffer is a fixed-capacity circular buffer for Entries.
// It allows late subscribers to catch up on recent history.
type RingBuffer struct {
	mu       sync.RWMutex
	buf      []Entry
	capacity int
	pos      int // next write position
	full     bool
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RingBuffer{
		buf:      make([]Entry, capacity),
		capacity: capacity,
	}
}

// Write adds an entry to the ring buffer, dropping the oldest when full.
func (rb *RingBuffer) Write(e Entry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = e
	rb.pos = (rb.pos + 1) % rb.capacity
	if rb.pos == 0 {
		rb.full = true
	}
}

// ReadAll returns all entries in the buffer in chronological order.
func (rb *RingBuffer) ReadAll() []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		result := make([]Entry, rb.pos)
		copy(result, rb.buf[:rb.pos])
		return result
	}

	result := make([]Entry, rb.capacity)
	copy(result, rb.buf[rb.pos:])
	copy(result[rb.capacity-rb.pos:], rb.buf[:rb.pos])
	return result
}

// Reset empties the buffer.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf = make([]Entry, rb.capacity)
	rb.pos = 0
	rb.full = false
}
