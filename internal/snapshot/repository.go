package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Backend is the remote store of snapshots.
type Backend interface {
	ListIterations(ctx context.Context, sessionID string) ([]Snapshot, error)
	Rollback(ctx context.Context, sessionID, snapshotID string) error
	DeleteSnapshot(ctx context.Context, snapshotID string) error
}

// RestoreListener is told about every successful rollback.
type RestoreListener interface {
	OnRestore(sessionID string, iteration int)
}

// Repository caches snapshot lists per session and fronts the backend.
// Failed operations never touch the cache; nothing is retried.
type Repository struct {
	backend Backend
	log     *slog.Logger
	group   singleflight.Group

	mu        sync.RWMutex
	cache     map[string][]Snapshot
	current   map[string]int
	listeners []RestoreListener
}

// NewRepository creates a repository on top of backend.
func NewRepository(backend Backend, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		backend: backend,
		log:     logger.With("component", "snapshot"),
		cache:   make(map[string][]Snapshot),
		current: make(map[string]int),
	}
}

// AddRestoreListener registers l for rollback notifications.
func (r *Repository) AddRestoreListener(l RestoreListener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// List fetches the snapshots of sessionID ordered by iteration number. An
// empty list is a valid result. Concurrent calls for one session share a
// single fetch.
func (r *Repository) List(ctx context.Context, sessionID string) ([]Snapshot, error) {
	v, err, _ := r.group.Do(sessionID, func() (interface{}, error) {
		snaps, err := r.backend.ListIterations(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		sorted := append([]Snapshot(nil), snaps...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].IterationNumber < sorted[j].IterationNumber
		})

		r.mu.Lock()
		r.cache[sessionID] = sorted
		r.mu.Unlock()
		return sorted, nil
	})
	if err != nil {
		r.log.Warn("list snapshots failed", "session", sessionID, "error", err)
		return nil, unavailable("list", err)
	}
	return append([]Snapshot(nil), v.([]Snapshot)...), nil
}

// Cached returns the last fetched list without a network call.
func (r *Repository) Cached(sessionID string) ([]Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snaps, ok := r.cache[sessionID]
	if !ok {
		return nil, false
	}
	return append([]Snapshot(nil), snaps...), true
}

// Get looks snapshotID up in the cache and fetches the list on a miss.
func (r *Repository) Get(ctx context.Context, sessionID, snapshotID string) (Snapshot, error) {
	if snaps, ok := r.Cached(sessionID); ok {
		if s, ok := find(snaps, snapshotID); ok {
			return s, nil
		}
	}

	snaps, err := r.List(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	if s, ok := find(snaps, snapshotID); ok {
		return s, nil
	}
	return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, snapshotID)
}

// Rollback asks the backend to restore sessionID to snapshotID. On success the
// current-iteration pointer moves to the snapshot's iteration and listeners
// are notified. Generation is not resumed and the list is left as is.
func (r *Repository) Rollback(ctx context.Context, sessionID, snapshotID string) (Snapshot, error) {
	snap, err := r.Get(ctx, sessionID, snapshotID)
	if err != nil {
		return Snapshot{}, err
	}

	if err := r.backend.Rollback(ctx, sessionID, snapshotID); err != nil {
		r.log.Warn("rollback failed", "session", sessionID, "snapshot", snapshotID, "error", err)
		return Snapshot{}, unavailable("rollback", err)
	}

	r.mu.Lock()
	r.current[sessionID] = snap.IterationNumber
	listeners := append([]RestoreListener(nil), r.listeners...)
	r.mu.Unlock()

	r.log.Info("rolled back", "session", sessionID, "iteration", snap.IterationNumber)
	for _, l := range listeners {
		l.OnRestore(sessionID, snap.IterationNumber)
	}
	return snap, nil
}

// Delete removes snapshotID. Deletion policy is enforced by the backend; a
// rejection is returned as an UnavailableError and the cache is unchanged.
func (r *Repository) Delete(ctx context.Context, snapshotID string) error {
	if err := r.backend.DeleteSnapshot(ctx, snapshotID); err != nil {
		r.log.Warn("delete snapshot failed", "snapshot", snapshotID, "error", err)
		return unavailable("delete", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for sessionID, snaps := range r.cache {
		i := index(snaps, snapshotID)
		if i < 0 {
			continue
		}
		next := make([]Snapshot, 0, len(snaps)-1)
		next = append(next, snaps[:i]...)
		next = append(next, snaps[i+1:]...)
		r.cache[sessionID] = next
	}
	return nil
}

// Compare loads both snapshots and diffs them. It makes no network call when
// both are cached.
func (r *Repository) Compare(ctx context.Context, sessionID, idA, idB string) (Comparison, error) {
	a, err := r.Get(ctx, sessionID, idA)
	if err != nil {
		return Comparison{}, err
	}
	b, err := r.Get(ctx, sessionID, idB)
	if err != nil {
		return Comparison{}, err
	}
	return Compare(a, b), nil
}

// CurrentIteration is the rollback target when one was set, otherwise the
// latest cached iteration.
func (r *Repository) CurrentIteration(sessionID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentLocked(sessionID)
}

// Advance moves the pointer forward as new iterations complete. It never
// moves it below what CurrentIteration reports.
func (r *Repository) Advance(sessionID string, iteration int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.currentLocked(sessionID); ok && iteration <= current {
		return
	}
	r.current[sessionID] = iteration
}

// currentLocked backs CurrentIteration. Callers hold mu.
func (r *Repository) currentLocked(sessionID string) (int, bool) {
	if n, ok := r.current[sessionID]; ok {
		return n, true
	}
	snaps := r.cache[sessionID]
	if len(snaps) == 0 {
		return 0, false
	}
	return snaps[len(snaps)-1].IterationNumber, true
}

// IsUnavailable reports whether err came from a failed backend call.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func find(snaps []Snapshot, id string) (Snapshot, bool) {
	if i := index(snaps, id); i >= 0 {
		return snaps[i], true
	}
	return Snapshot{}, false
}

func index(snaps []Snapshot, id string) int {
	for i, s := range snaps {
		if s.ID == id {
			return i
		}
	}
	return -1
}
