package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leo-remote/internal/api"
	"leo-remote/internal/api/apitest"
	"leo-remote/internal/config"
	"leo-remote/internal/protocol"
	"leo-remote/internal/render"
	"leo-remote/internal/snapshot"
	"leo-remote/internal/transport/transporttest"
)

const waitFor = 2 * time.Second

type env struct {
	cfg    *config.Config
	fake   *apitest.Server
	api    *api.Client
	worker *transporttest.Worker
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		fake:   apitest.New(),
		worker: transporttest.NewWorker(t),
	}
	srv := e.fake.Start(t)
	e.api = api.New(srv.URL, srv.Client())

	e.cfg = config.Default()
	e.cfg.WorkerURL = e.worker.URL()
	e.cfg.APIURL = srv.URL
	e.cfg.UserID = "u-1"
	e.cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	e.cfg.Transport.Reconnect.Enabled = false
	e.cfg.Log.Level = "error"
	return e
}

// writeConfig stores e.cfg where --config can find it.
func (e *env) writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leo.yaml")
	require.NoError(t, config.Write(path, e.cfg))
	return path
}

// execute runs leoctl with args against a config file written from e.cfg.
func (e *env) execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return executeWith(e.writeConfig(t), stdin, args...)
}

func (e *env) executeAsync(t *testing.T, stdin string, args ...string) <-chan error {
	t.Helper()
	path := e.writeConfig(t)
	done := make(chan error, 1)
	go func() {
		_, err := executeWith(path, stdin, args...)
		done <- err
	}()
	return done
}

func executeWith(configPath, stdin string, args ...string) (string, error) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *env) next(t *testing.T, kind string) map[string]interface{} {
	t.Helper()
	frame, ok := e.worker.Next(waitFor)
	require.True(t, ok, "worker did not receive %s", kind)
	require.Equal(t, kind, frame["type"])
	return frame
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("leoctl did not exit")
		return nil
	}
}

func TestRun_AnswersPromptAndCompletes(t *testing.T) {
	e := newEnv(t)
	done := e.executeAsync(t, "2\n", "run", "build a todo app", "--app-name", "todo", "--max-iterations", "3")

	start := e.next(t, "start_generation")
	assert.Equal(t, "gen-1", start["request_id"])
	assert.Equal(t, "u-1", start["user_id"])
	assert.Equal(t, "autonomous", start["mode"])
	assert.EqualValues(t, 3, start["max_iterations"])

	e.worker.Send(map[string]interface{}{"type": "decision_prompt", "prompt_id": "p1", "question": "Add auth?", "options": []string{"yes", "no"}})
	answer := e.next(t, "decision_response")
	assert.Equal(t, "no", answer["response"], "a number picks the matching option")

	e.worker.Send(map[string]interface{}{"type": "iteration_complete", "iteration": 1})
	e.worker.Send(map[string]interface{}{"type": "all_work_complete", "completion_reason": "done", "total_iterations": 1})
	require.NoError(t, wait(t, done))

	out, err := e.execute(t, "", "history", "gen-1")
	require.NoError(t, err)
	assert.Contains(t, out, `start autonomous generation for "todo"`)
	assert.Contains(t, out, "answered p1: no")
	assert.Contains(t, out, "all work complete after 1 iterations (done)")
}

func TestRun_FatalErrorFails(t *testing.T) {
	e := newEnv(t)
	done := e.executeAsync(t, "", "run", "--prompt", "build a todo app")

	e.next(t, "start_generation")
	e.worker.Send(map[string]interface{}{"type": "error", "message": "out of credits", "fatal": true})

	err := wait(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gen-1 failed")
	assert.Contains(t, err.Error(), "out of credits")
}

func TestRun_StopAfterSignal(t *testing.T) {
	e := newEnv(t)
	e.cfg.History.Path = ""
	a := &app{cfg: e.cfg, log: newLogger(e.cfg.Log, &bytes.Buffer{}), api: e.api}

	signals := make(chan os.Signal, 2)
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- a.run(context.Background(), runOptions{prompt: "build", mode: "autonomous", maxIterations: 5}, strings.NewReader(""), &out, signals)
	}()

	e.next(t, "start_generation")
	signals <- os.Interrupt
	e.next(t, "stop_request")

	e.worker.Send(map[string]interface{}{"type": "shutdown_ready", "message": "saved", "commit_hash": "abc123", "pushed": true})
	e.worker.Send(map[string]interface{}{"type": "generation_stopped", "message": "stopped by user"})
	require.NoError(t, wait(t, done))
	assert.Contains(t, out.String(), "abc123")
}

func TestRun_RequiresPrompt(t *testing.T) {
	e := newEnv(t)
	_, err := e.execute(t, "", "run")
	assert.ErrorContains(t, err, "prompt is required")
	assert.Empty(t, e.fake.Generations())
}

func TestHistory_NeedsPersistentStore(t *testing.T) {
	e := newEnv(t)
	e.cfg.History.Path = ""
	_, err := e.execute(t, "", "history", "gen-1")
	assert.ErrorContains(t, err, "history.path")
}

func TestGenerationsList(t *testing.T) {
	e := newEnv(t)
	_, err := e.api.CreateGeneration(context.Background(), api.CreateGenerationRequest{AppName: "todo", Prompt: "p", MaxIterations: 1})
	require.NoError(t, err)

	out, err := e.execute(t, "", "generations", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "gen-1")
	assert.Contains(t, out, "todo")
}

func seedSnapshots(e *env) {
	tokens1, tokens2 := 100, 250
	e.fake.AddSnapshot(snapshot.Snapshot{
		ID: "s1", SessionID: "gen-1", IterationNumber: 1, SnapshotType: snapshot.TypeAutomatic,
		Files:    snapshot.TreeFromPaths([]string{"src/a.ts", "src/b.ts"}),
		Metadata: &snapshot.Metadata{TokensUsed: &tokens1},
	})
	e.fake.AddSnapshot(snapshot.Snapshot{
		ID: "s2", SessionID: "gen-1", IterationNumber: 2, SnapshotType: snapshot.TypeManual,
		Files:    snapshot.TreeFromPaths([]string{"src/a.ts", "src/c.ts"}),
		Metadata: &snapshot.Metadata{TokensUsed: &tokens2},
	})
}

func TestIterations(t *testing.T) {
	e := newEnv(t)
	seedSnapshots(e)

	t.Run("list", func(t *testing.T) {
		out, err := e.execute(t, "", "iterations", "list", "gen-1")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[2], "*"), "latest iteration is current: %q", lines[2])
	})

	t.Run("compare", func(t *testing.T) {
		out, err := e.execute(t, "", "iterations", "compare", "gen-1", "s1", "s2")
		require.NoError(t, err)
		assert.Equal(t, "+ src/c.ts\n~ src/a.ts\n- src/b.ts\n1 added, 1 touched, 1 removed\ntokens +150\n", out)
	})

	t.Run("compare json", func(t *testing.T) {
		out, err := e.execute(t, "", "iterations", "compare", "gen-1", "s1", "s2", "--json")
		require.NoError(t, err)
		var c snapshot.Comparison
		require.NoError(t, json.Unmarshal([]byte(out), &c))
		assert.Equal(t, []string{"src/c.ts"}, c.Added)
		assert.Equal(t, 150, c.Meta.TokensDelta)
	})

	t.Run("compare unknown snapshot", func(t *testing.T) {
		_, err := e.execute(t, "", "iterations", "compare", "gen-1", "s1", "nope")
		assert.ErrorIs(t, err, snapshot.ErrNotFound)
	})

	t.Run("rollback", func(t *testing.T) {
		out, err := e.execute(t, "", "iterations", "rollback", "gen-1", "s1")
		require.NoError(t, err)
		assert.Equal(t, "gen-1 restored to iteration 1 (s1)\n", out)
		assert.Equal(t, []string{"s1"}, e.fake.Rollbacks())
	})

	t.Run("delete automatic is refused", func(t *testing.T) {
		_, err := e.execute(t, "", "iterations", "delete", "s1")
		assert.True(t, snapshot.IsUnavailable(err), "got %v", err)
	})

	t.Run("delete manual", func(t *testing.T) {
		out, err := e.execute(t, "", "iterations", "delete", "s2")
		require.NoError(t, err)
		assert.Equal(t, "deleted s2\n", out)
	})
}

func TestIterationsDiffLocal(t *testing.T) {
	e := newEnv(t)
	seedSnapshots(e)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.ts"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "d.ts"), []byte("d"), 0644))

	out, err := e.execute(t, "", "iterations", "diff-local", "gen-1", "s1", dir)
	require.NoError(t, err)
	assert.Equal(t, "+ src/d.ts\n~ src/a.ts\n- src/b.ts\n1 added, 1 touched, 1 removed\n2 local files in "+dir+"\n", out)
}

// syncBuffer is written by watcher goroutines while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestIterationsDiffLocalWatch(t *testing.T) {
	e := newEnv(t)
	seedSnapshots(e)
	a := &app{cfg: e.cfg, log: newLogger(e.cfg.Log, io.Discard), api: e.api}

	snap, err := a.snapshots().Get(context.Background(), "gen-1", "s1")
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.ts"), []byte("a"), 0644))

	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.watchLocal(ctx, render.NewPrinter(out), snap, dir) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "0 added, 1 touched, 1 removed\n1 local files in ")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "b.ts"), []byte("b"), 0644))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "0 added, 2 touched, 0 removed\n2 local files in ")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, wait(t, done))
}

func TestConfigInit(t *testing.T) {
	e := newEnv(t)
	target := filepath.Join(t.TempDir(), "leo.yaml")

	out, err := e.execute(t, "", "config", "init", target)
	require.NoError(t, err)
	assert.Equal(t, "wrote "+target+"\n", out)

	written, err := config.Load(target)
	require.NoError(t, err)
	assert.Equal(t, e.cfg, written)

	_, err = e.execute(t, "", "config", "init", target)
	assert.ErrorContains(t, err, "already exists")

	_, err = e.execute(t, "", "config", "init", target, "--force")
	assert.NoError(t, err)
}

func TestResolveAnswer(t *testing.T) {
	p := protocol.DecisionPrompt{PromptID: "p1", Options: []string{"yes", "no"}}
	tests := []struct {
		line string
		want string
	}{
		{"1", "yes"},
		{"2", "no"},
		{"3", "3"},
		{"0", "0"},
		{"no", "no"},
		{"maybe later", "maybe later"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveAnswer(p, tt.line), "line %q", tt.line)
	}
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	e := newEnv(t)
	e.cfg.WorkerURL = "http://not-a-websocket"
	_, err := e.execute(t, "", "generations", "list")
	assert.ErrorContains(t, err, "invalid config")
}
