package history

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T, capacity int) map[string]Store {
	t.Helper()

	sqlStore, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"), capacity)
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(capacity),
		"sqlite": sqlStore,
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t, 3) {
		t.Run(name+"/append and read in order", func(t *testing.T) {
			for i := 0; i < 2; i++ {
				_, err := store.Append(ctx, Entry{SessionID: "ordered", Direction: Inbound, Kind: "log", Level: "info", Text: fmt.Sprintf("line-%d", i)})
				require.NoError(t, err)
			}

			entries, err := store.ReadAll(ctx, "ordered")
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "line-0", entries[0].Text)
			assert.Equal(t, "line-1", entries[1].Text)
			assert.Less(t, entries[0].Seq, entries[1].Seq)
			assert.False(t, entries[0].Timestamp.IsZero())
		})

		t.Run(name+"/bounded by capacity", func(t *testing.T) {
			for i := 0; i < 5; i++ {
				_, err := store.Append(ctx, Entry{SessionID: "bounded", Direction: Inbound, Kind: "log", Level: "info", Text: fmt.Sprintf("line-%d", i)})
				require.NoError(t, err)
			}

			entries, err := store.ReadAll(ctx, "bounded")
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, "line-2", entries[0].Text)
			assert.Equal(t, "line-4", entries[2].Text)
		})

		t.Run(name+"/sessions are isolated and cleared independently", func(t *testing.T) {
			_, err := store.Append(ctx, Entry{SessionID: "a", Direction: Outbound, Kind: "stop_request", Level: "info", Text: "stop requested"})
			require.NoError(t, err)
			_, err = store.Append(ctx, Entry{SessionID: "b", Direction: Inbound, Kind: "ready", Level: "info", Text: "worker ready"})
			require.NoError(t, err)

			require.NoError(t, store.Clear(ctx, "a"))

			a, err := store.ReadAll(ctx, "a")
			require.NoError(t, err)
			assert.Empty(t, a)

			b, err := store.ReadAll(ctx, "b")
			require.NoError(t, err)
			require.Len(t, b, 1)
			assert.Equal(t, Inbound, b[0].Direction)
		})

		t.Run(name+"/cleared session starts over", func(t *testing.T) {
			for i := 0; i < 3; i++ {
				_, err := store.Append(ctx, Entry{SessionID: "reused", Direction: Inbound, Kind: "log", Level: "info", Text: fmt.Sprintf("old-%d", i)})
				require.NoError(t, err)
			}
			require.NoError(t, store.Clear(ctx, "reused"))

			for i := 0; i < 4; i++ {
				_, err := store.Append(ctx, Entry{SessionID: "reused", Direction: Inbound, Kind: "log", Level: "info", Text: fmt.Sprintf("new-%d", i)})
				require.NoError(t, err)
			}

			entries, err := store.ReadAll(ctx, "reused")
			require.NoError(t, err)
			texts := make([]string, 0, len(entries))
			for _, e := range entries {
				texts = append(texts, e.Text)
			}
			assert.Equal(t, []string{"new-1", "new-2", "new-3"}, texts)
		})

		t.Run(name+"/unknown session reads empty", func(t *testing.T) {
			entries, err := store.ReadAll(ctx, "missing")
			require.NoError(t, err)
			assert.NotNil(t, entries)
			assert.Empty(t, entries)
		})

		t.Run(name+"/raw frame preserved", func(t *testing.T) {
			raw := json.RawMessage(`{"type":"shutdown_ready","commit_hash":"abc123","pushed":true}`)
			_, err := store.Append(ctx, Entry{SessionID: "raw", Direction: Inbound, Kind: "shutdown_ready", Level: "info", Text: "work saved", Raw: raw})
			require.NoError(t, err)

			entries, err := store.ReadAll(ctx, "raw")
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.JSONEq(t, string(raw), string(entries[0].Raw))
		})
	}
}

func TestOpenSQLite(t *testing.T) {
	t.Run("creates parent directories", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "history.db")

		store, err := OpenSQLite(context.Background(), dbPath, 10)
		require.NoError(t, err)
		defer store.Close()
	})

	t.Run("survives reopen", func(t *testing.T) {
		ctx := context.Background()
		dbPath := filepath.Join(t.TempDir(), "history.db")

		s1, err := OpenSQLite(ctx, dbPath, 10)
		require.NoError(t, err)
		_, err = s1.Append(ctx, Entry{SessionID: "gen-1", Direction: Inbound, Kind: "log", Level: "info", Text: "kept"})
		require.NoError(t, err)
		require.NoError(t, s1.Close())

		s2, err := OpenSQLite(ctx, dbPath, 10)
		require.NoError(t, err)
		defer s2.Close()

		entries, err := s2.ReadAll(ctx, "gen-1")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "kept", entries[0].Text)
	})
}
