// Package session tracks one generation session: its connection and worker
// readiness, its lifecycle status, pending decision prompt and stop protocol.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"leo-remote/internal/history"
	"leo-remote/internal/protocol"
	"leo-remote/internal/transport"
)

const defaultSubscriberBufCap = 100

var (
	ErrAlreadyGenerating = errors.New("a generation is already running")
	ErrNotGenerating     = errors.New("no generation is running")
	ErrInvalidPrompt     = errors.New("no such pending prompt")
	ErrInvalidAnswer     = errors.New("answer is not one of the prompt options")
)

// Conn is the part of the transport the machine drives.
type Conn interface {
	Connect(ctx context.Context) error
	Connected() bool
	Send(cmd protocol.Command) error
	BindSession(sessionID string)
}

// Source delivers inbound messages by kind.
type Source interface {
	On(kind protocol.Kind, h transport.Handler) *transport.Subscription
}

// StartConfig is the local start-generation command.
type StartConfig struct {
	RequestID       string
	Prompt          string
	Mode            string
	AppName         string
	UserID          string
	AppID           string
	MaxIterations   int
	Subagents       bool
	GithubURL       string
	ResumeSessionID string
}

func (c StartConfig) command() protocol.StartGeneration {
	return protocol.StartGeneration{
		Type:             protocol.TypeStartGeneration,
		RequestID:        c.RequestID,
		Prompt:           c.Prompt,
		Mode:             c.Mode,
		AppName:          c.AppName,
		UserID:           c.UserID,
		AppID:            c.AppID,
		MaxIterations:    c.MaxIterations,
		SubagentsEnabled: c.Subagents,
		GithubURL:        c.GithubURL,
		ResumeSessionID:  c.ResumeSessionID,
	}
}

// Machine is the session state machine. Inbound messages arrive through
// Handle in transport order; local commands are StartGeneration, Respond,
// RequestStop and Abort. All methods are safe for concurrent use.
type Machine struct {
	conn  Conn
	store history.Store
	log   *slog.Logger

	mu    sync.Mutex
	state State

	subMu       sync.RWMutex
	subscribers map[string]chan Update
	watchers    map[string]chan struct{}
}

// New creates an idle machine. store may be nil when history is not kept.
func New(conn Conn, store history.Store, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		conn:        conn,
		store:       store,
		log:         logger.With("component", "session"),
		state:       State{Connection: Disconnected, Status: StatusIdle, UpdatedAt: time.Now()},
		subscribers: make(map[string]chan Update),
		watchers:    make(map[string]chan struct{}),
	}
}

// Attach registers the machine for every message kind on src. The returned
// function detaches it again.
func (m *Machine) Attach(src Source) (detach func()) {
	kinds := protocol.Kinds()
	subs := make([]*transport.Subscription, 0, len(kinds))
	for _, k := range kinds {
		subs = append(subs, src.On(k, m.Handle))
	}
	return func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Connect asks the transport to connect. Concurrent callers share one dial.
func (m *Machine) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Connection == Disconnected {
		m.state.Connection = Connecting
		m.touch()
	}
	st := m.state.clone()
	m.mu.Unlock()
	m.publish(Update{State: st})

	err := m.conn.Connect(ctx)

	m.mu.Lock()
	switch {
	case err != nil && m.state.Connection == Connecting:
		m.state.Connection = Disconnected
	case err == nil && m.conn.Connected():
		m.state.Connection = Connected
	}
	m.touch()
	st = m.state.clone()
	m.mu.Unlock()
	m.publish(Update{State: st})

	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// StartGeneration resets derived state, clears the previous history and sends
// the start command. It is rejected while a generation is running.
func (m *Machine) StartGeneration(ctx context.Context, cfg StartConfig) error {
	cmd := cfg.command()
	if err := protocol.ValidateCommand(cmd); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state.IsGenerating() {
		m.mu.Unlock()
		return ErrAlreadyGenerating
	}
	if !m.conn.Connected() {
		m.mu.Unlock()
		return transport.ErrNotConnected
	}

	prev := m.state
	m.conn.BindSession(cfg.RequestID)
	m.clearHistory(ctx, cfg.RequestID)

	if err := m.conn.Send(cmd); err != nil {
		m.conn.BindSession(prev.RequestID)
		m.mu.Unlock()
		m.log.Warn("start command not sent", "request_id", cfg.RequestID, "error", err)
		return fmt.Errorf("send start: %w", err)
	}
	if prev.RequestID != "" && prev.RequestID != cfg.RequestID {
		m.clearHistory(ctx, prev.RequestID)
	}

	now := time.Now()
	m.state = State{
		RequestID:   cfg.RequestID,
		Connection:  prev.Connection,
		WorkerReady: prev.WorkerReady,
		Status:      StatusGenerating,
		Progress:    &Progress{TotalIterations: cfg.MaxIterations},
		StartedAt:   now,
		UpdatedAt:   now,
	}
	st := m.state.clone()
	m.mu.Unlock()

	m.log.Info("generation started", "request_id", cfg.RequestID, "max_iterations", cfg.MaxIterations)
	m.publish(Update{State: st})
	return nil
}

// Clear forgets the last generation and its history. Not allowed while a
// generation is running.
func (m *Machine) Clear(ctx context.Context) error {
	m.mu.Lock()
	if m.state.IsGenerating() {
		m.mu.Unlock()
		return ErrAlreadyGenerating
	}
	m.clearHistory(ctx, m.state.RequestID)
	m.state = State{
		Connection:  m.state.Connection,
		WorkerReady: m.state.WorkerReady,
		Status:      StatusIdle,
		UpdatedAt:   time.Now(),
	}
	st := m.state.clone()
	m.mu.Unlock()

	m.publish(Update{State: st})
	return nil
}

// History returns the recorded frames of the current session as of now.
func (m *Machine) History(ctx context.Context) ([]history.Entry, error) {
	if m.store == nil {
		return nil, nil
	}
	m.mu.Lock()
	key := m.state.RequestID
	m.mu.Unlock()
	return m.store.ReadAll(ctx, key)
}

// MarkRestored moves the current-iteration pointer after a rollback. It does
// not resume generation.
func (m *Machine) MarkRestored(iteration int) {
	m.mu.Lock()
	m.state.CurrentIteration = iteration
	m.state.Restored = true
	m.touch()
	st := m.state.clone()
	m.mu.Unlock()

	m.log.Info("iteration restored", "iteration", iteration)
	m.publish(Update{State: st})
}

// OnRestore lets a snapshot repository report a rollback of generationID.
func (m *Machine) OnRestore(generationID string, iteration int) {
	m.mu.Lock()
	current := m.state.RequestID
	m.mu.Unlock()
	if current != "" && current != generationID {
		return
	}
	m.MarkRestored(iteration)
}

// Handle applies one inbound message. Messages that are not valid in the
// current state are recorded by the transport but leave the state untouched.
func (m *Machine) Handle(msg protocol.Message) {
	m.mu.Lock()
	m.apply(msg)
	m.touch()
	st := m.state.clone()
	m.mu.Unlock()

	m.publish(Update{State: st, Message: msg})
}

func (m *Machine) apply(msg protocol.Message) {
	s := &m.state
	switch v := msg.(type) {
	case protocol.Connected:
		s.Connection = Connected
		// a fresh connection has to announce readiness again
		s.WorkerReady = false
	case protocol.Disconnected:
		s.Connection = Disconnected
		s.WorkerReady = false
	case protocol.Ready:
		s.WorkerReady = true
	case protocol.ConnectionStatus:
		switch {
		case !v.ContainerConnected:
			s.WorkerReady = false
		case !s.IsGenerating() && s.Status != StatusCompleted:
			s.WorkerReady = true
		}
	case protocol.Progress:
		if !s.IsGenerating() {
			m.log.Debug("ignoring progress outside a generation")
			return
		}
		p := Progress{
			Stage:           v.Stage,
			Step:            v.Step,
			Percentage:      v.Percentage,
			Iteration:       v.Iteration,
			TotalIterations: v.TotalIterations,
		}
		if p.TotalIterations == 0 && s.Progress != nil {
			p.TotalIterations = s.Progress.TotalIterations
		}
		s.Progress = &p
		if v.Iteration > 0 {
			s.CurrentIteration = v.Iteration
		}
	case protocol.IterationComplete:
		if s.IsGenerating() {
			s.CurrentIteration = v.Iteration
		}
	case protocol.AllWorkComplete:
		if !s.IsGenerating() {
			return
		}
		s.Status = StatusCompleted
		s.Progress = nil
		s.Pending = nil
		s.Completion = &v
		m.log.Info("generation completed", "request_id", s.RequestID, "reason", v.CompletionReason)
	case protocol.Error:
		s.LastError = &v
		if v.Fatal && s.IsGenerating() {
			s.Status = StatusErrored
			s.Progress = nil
			s.Pending = nil
			m.log.Warn("generation failed", "request_id", s.RequestID, "error", v.Message)
		}
	case protocol.DecisionPrompt:
		m.applyPrompt(v)
	case protocol.ProcessMonitor:
		s.Monitor = &v
	case protocol.ShutdownInitiated, protocol.ShutdownReady, protocol.ShutdownFailed,
		protocol.ShutdownTimeout, protocol.GenerationStopped:
		m.applyShutdown(msg)
	}
}

// touch stamps the state. Callers hold mu.
func (m *Machine) touch() {
	m.state.UpdatedAt = time.Now()
}

// clearHistory is best effort; a failing store must not block a new session.
func (m *Machine) clearHistory(ctx context.Context, key string) {
	if m.store == nil {
		return
	}
	if err := m.store.Clear(ctx, key); err != nil {
		m.log.Warn("failed to clear history", "session", key, "error", err)
	}
}

// Subscribe returns a channel of state updates and a subscription ID for
// Unsubscribe. Updates are dropped for subscribers that fall behind.
func (m *Machine) Subscribe() (string, <-chan Update) {
	subID := uuid.New().String()
	ch := make(chan Update, defaultSubscriberBufCap)

	m.subMu.Lock()
	m.subscribers[subID] = ch
	m.subMu.Unlock()
	return subID, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *Machine) Unsubscribe(subID string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if ch, ok := m.subscribers[subID]; ok {
		delete(m.subscribers, subID)
		close(ch)
	}
}

// WaitFor blocks until pred holds for the current state or ctx is done.
func (m *Machine) WaitFor(ctx context.Context, pred func(State) bool) (State, error) {
	id := uuid.New().String()
	wake := make(chan struct{}, 1)

	m.subMu.Lock()
	m.watchers[id] = wake
	m.subMu.Unlock()
	defer func() {
		m.subMu.Lock()
		delete(m.watchers, id)
		m.subMu.Unlock()
	}()

	for {
		st := m.State()
		if pred(st) {
			return st, nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// publish fans an update out to every subscriber.
func (m *Machine) publish(u Update) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for _, ch := range m.subscribers {
		select {
		case ch <- u:
		default:
			// Subscriber channel full, drop the update.
		}
	}
	for _, w := range m.watchers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}
