package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRejected = errors.New("only manual snapshots can be deleted")

// fakeBackend enforces the delete policy the way the REST service does.
type fakeBackend struct {
	mu        sync.Mutex
	snaps     map[string][]Snapshot
	lists     atomic.Int32
	listErr   error
	rollErr   error
	rolled    []string
	listDelay time.Duration
}

func newFakeBackend(snaps ...Snapshot) *fakeBackend {
	b := &fakeBackend{snaps: make(map[string][]Snapshot)}
	for _, s := range snaps {
		b.snaps[s.SessionID] = append(b.snaps[s.SessionID], s)
	}
	return b
}

func (b *fakeBackend) ListIterations(ctx context.Context, sessionID string) ([]Snapshot, error) {
	b.lists.Add(1)
	if b.listDelay > 0 {
		time.Sleep(b.listDelay)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	return append([]Snapshot(nil), b.snaps[sessionID]...), nil
}

func (b *fakeBackend) Rollback(ctx context.Context, sessionID, snapshotID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rollErr != nil {
		return b.rollErr
	}
	b.rolled = append(b.rolled, snapshotID)
	return nil
}

func (b *fakeBackend) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sid, snaps := range b.snaps {
		for i, s := range snaps {
			if s.ID != snapshotID {
				continue
			}
			if !s.Deletable() {
				return errRejected
			}
			b.snaps[sid] = append(snaps[:i:i], snaps[i+1:]...)
			return nil
		}
	}
	return errors.New("not found")
}

type restoreRecorder struct {
	mu    sync.Mutex
	calls []int
}

func (r *restoreRecorder) OnRestore(sessionID string, iteration int) {
	r.mu.Lock()
	r.calls = append(r.calls, iteration)
	r.mu.Unlock()
}

func testRepo(b Backend) *Repository {
	return NewRepository(b, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fixture() []Snapshot {
	return []Snapshot{
		{ID: "s3", SessionID: "gen-1", IterationNumber: 3, SnapshotType: TypeManual, Files: TreeFromPaths([]string{"a.go", "c.go"})},
		{ID: "s1", SessionID: "gen-1", IterationNumber: 1, SnapshotType: TypeAutomatic, Files: TreeFromPaths([]string{"a.go"})},
		{ID: "s2", SessionID: "gen-1", IterationNumber: 2, SnapshotType: TypeCheckpoint, Files: TreeFromPaths([]string{"a.go", "b.go"})},
	}
}

func ids(snaps []Snapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.ID
	}
	return out
}

func TestRepository_ListOrdersByIteration(t *testing.T) {
	repo := testRepo(newFakeBackend(fixture()...))

	snaps, err := repo.List(context.Background(), "gen-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, ids(snaps))

	n, ok := repo.CurrentIteration("gen-1")
	require.True(t, ok)
	assert.Equal(t, 3, n)
}

func TestRepository_ListEmptyIsNotAnError(t *testing.T) {
	repo := testRepo(newFakeBackend())

	snaps, err := repo.List(context.Background(), "gen-unknown")
	require.NoError(t, err)
	assert.Empty(t, snaps)

	_, ok := repo.CurrentIteration("gen-unknown")
	assert.False(t, ok)
}

func TestRepository_ListFailureIsUnavailable(t *testing.T) {
	b := newFakeBackend(fixture()...)
	repo := testRepo(b)
	_, err := repo.List(context.Background(), "gen-1")
	require.NoError(t, err)

	b.listErr = errors.New("503 service unavailable")
	_, err = repo.List(context.Background(), "gen-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsUnavailable(err))

	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "list", ue.Op)
	assert.Contains(t, ue.Reason, "503")

	cached, ok := repo.Cached("gen-1")
	require.True(t, ok)
	assert.Len(t, cached, 3, "a failed fetch must not touch the cache")
}

func TestRepository_ConcurrentListsShareOneFetch(t *testing.T) {
	b := newFakeBackend(fixture()...)
	b.listDelay = 50 * time.Millisecond
	repo := testRepo(b)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snaps, err := repo.List(context.Background(), "gen-1")
			assert.NoError(t, err)
			assert.Len(t, snaps, 3)
		}()
	}
	wg.Wait()

	assert.Less(t, int(b.lists.Load()), 8)
}

func TestRepository_RollbackMovesPointerOnly(t *testing.T) {
	b := newFakeBackend(fixture()...)
	repo := testRepo(b)
	rec := &restoreRecorder{}
	repo.AddRestoreListener(rec)

	before, err := repo.List(context.Background(), "gen-1")
	require.NoError(t, err)

	snap, err := repo.Rollback(context.Background(), "gen-1", "s2")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.IterationNumber)

	n, ok := repo.CurrentIteration("gen-1")
	require.True(t, ok)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{2}, rec.calls)
	assert.Equal(t, []string{"s2"}, b.rolled)

	after, ok := repo.Cached("gen-1")
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestRepository_RollbackFailureLeavesPointer(t *testing.T) {
	b := newFakeBackend(fixture()...)
	b.rollErr = errors.New("worker busy")
	repo := testRepo(b)
	rec := &restoreRecorder{}
	repo.AddRestoreListener(rec)

	_, err := repo.Rollback(context.Background(), "gen-1", "s1")
	assert.ErrorIs(t, err, ErrUnavailable)

	n, _ := repo.CurrentIteration("gen-1")
	assert.Equal(t, 3, n)
	assert.Empty(t, rec.calls)
}

func TestRepository_RollbackUnknownSnapshot(t *testing.T) {
	repo := testRepo(newFakeBackend(fixture()...))

	_, err := repo.Rollback(context.Background(), "gen-1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_Delete(t *testing.T) {
	t.Run("manual snapshot is removed", func(t *testing.T) {
		repo := testRepo(newFakeBackend(fixture()...))
		_, err := repo.List(context.Background(), "gen-1")
		require.NoError(t, err)

		require.NoError(t, repo.Delete(context.Background(), "s3"))

		cached, _ := repo.Cached("gen-1")
		assert.Equal(t, []string{"s1", "s2"}, ids(cached))
		fresh, err := repo.List(context.Background(), "gen-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"s1", "s2"}, ids(fresh))
	})

	t.Run("non-manual snapshot is rejected", func(t *testing.T) {
		repo := testRepo(newFakeBackend(fixture()...))
		_, err := repo.List(context.Background(), "gen-1")
		require.NoError(t, err)

		err = repo.Delete(context.Background(), "s1")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.ErrorIs(t, err, errRejected)

		fresh, err := repo.List(context.Background(), "gen-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"s1", "s2", "s3"}, ids(fresh))
	})
}

func TestRepository_CompareUsesCache(t *testing.T) {
	b := newFakeBackend(fixture()...)
	repo := testRepo(b)
	_, err := repo.List(context.Background(), "gen-1")
	require.NoError(t, err)
	fetches := b.lists.Load()

	c, err := repo.Compare(context.Background(), "gen-1", "s1", "s3")
	require.NoError(t, err)
	assert.Equal(t, []string{"c.go"}, c.Added)
	assert.Equal(t, []string{"a.go"}, c.Modified)
	assert.Equal(t, fetches, b.lists.Load())
}

func TestRepository_Advance(t *testing.T) {
	repo := testRepo(newFakeBackend())

	repo.Advance("gen-1", 2)
	repo.Advance("gen-1", 1)

	n, ok := repo.CurrentIteration("gen-1")
	require.True(t, ok)
	assert.Equal(t, 2, n)
}

func TestRepository_AdvanceNeverBehindCachedLatest(t *testing.T) {
	repo := testRepo(newFakeBackend(fixture()...))
	_, err := repo.List(context.Background(), "gen-1")
	require.NoError(t, err)

	repo.Advance("gen-1", 1)
	n, ok := repo.CurrentIteration("gen-1")
	require.True(t, ok)
	assert.Equal(t, 3, n, "an older iteration must not pull the pointer back")

	repo.Advance("gen-1", 4)
	n, _ = repo.CurrentIteration("gen-1")
	assert.Equal(t, 4, n)
}
