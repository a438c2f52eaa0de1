// Package snapshot holds iteration snapshots of a generation, the engine that
// compares them and a repository that fetches, rolls back and deletes them.
package snapshot

import (
	"errors"
	"fmt"
	"time"
)

// Type is the origin of a snapshot. Only manual snapshots may be deleted.
type Type string

const (
	TypeAutomatic  Type = "automatic"
	TypeManual     Type = "manual"
	TypeCheckpoint Type = "checkpoint"
)

// Metadata is optional per-iteration bookkeeping. Nil numbers are absent,
// which is not the same as zero.
type Metadata struct {
	TokensUsed   *int     `json:"tokensUsed,omitempty"`
	Duration     *float64 `json:"duration,omitempty"` // seconds
	Summary      string   `json:"summary,omitempty"`
	ChangedFiles []string `json:"changedFiles,omitempty"`
}

// Snapshot is the immutable record of one iteration.
type Snapshot struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"sessionId"`
	IterationNumber int       `json:"iterationNumber"`
	SnapshotType    Type      `json:"snapshotType"`
	Timestamp       time.Time `json:"timestamp"`
	PromptUsed      string    `json:"promptUsed,omitempty"`
	Files           FileTree  `json:"filesSnapshot"`
	Metadata        *Metadata `json:"metadata,omitempty"`
}

// Deletable reports whether policy allows deleting the snapshot.
func (s Snapshot) Deletable() bool {
	return s.SnapshotType == TypeManual
}

// Paths returns the snapshot's file set: metadata.changedFiles when present,
// otherwise the flattened file tree.
func (s Snapshot) Paths() []string {
	if s.Metadata != nil && len(s.Metadata.ChangedFiles) > 0 {
		return TreeFromPaths(s.Metadata.ChangedFiles).Paths()
	}
	return s.Files.Paths()
}

var (
	ErrUnavailable = errors.New("snapshot repository unavailable")
	ErrNotFound    = errors.New("snapshot not found")
)

// UnavailableError is returned when the backing store rejects or fails an
// operation. It matches ErrUnavailable with errors.Is.
type UnavailableError struct {
	Op     string
	Reason string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrUnavailable, e.Op, e.Reason)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Reason: err.Error(), Err: err}
}
