// Package history keeps the append-only record of what happened in a
// generation session, keyed by session id.
package history

import (
	"context"
	"encoding/json"
	"time"
)

// Direction tells whether an entry came from the worker or was sent to it.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// DefaultCapacity bounds the number of entries kept per session.
const DefaultCapacity = 1000

// Entry is a single recorded frame.
type Entry struct {
	Seq       int64           `json:"seq"`
	SessionID string          `json:"sessionId"`
	Direction Direction       `json:"direction"`
	Kind      string          `json:"kind"`
	Level     string          `json:"level"`
	Text      string          `json:"text"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Store is the durable history buffer. Append is called only from the
// transport's dispatch path; ReadAll returns a copy that is safe to iterate
// while new entries arrive.
type Store interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	ReadAll(ctx context.Context, sessionID string) ([]Entry, error)
	Clear(ctx context.Context, sessionID string) error
}
