package session

import (
	"time"

	"leo-remote/internal/protocol"
)

// Status is the lifecycle status of a generation session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusGenerating Status = "generating"
	StatusCancelling Status = "cancelling"
	StatusStopped    Status = "stopped"
	StatusCompleted  Status = "completed"
	StatusErrored    Status = "errored"
)

// Connection mirrors the transport's connection as seen by the session.
type Connection string

const (
	Disconnected Connection = "disconnected"
	Connecting   Connection = "connecting"
	Connected    Connection = "connected"
)

// Phase is the combined state-machine position derived from a State.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseConnecting       Phase = "connecting"
	PhaseConnected        Phase = "connected"
	PhaseReady            Phase = "ready"
	PhaseGenerating       Phase = "generating"
	PhaseAwaitingDecision Phase = "awaiting_decision"
	PhaseCancelling       Phase = "cancelling"
	PhaseStopped          Phase = "stopped"
	PhaseCompleted        Phase = "completed"
	PhaseErrored          Phase = "errored"
)

// Progress is the latest progress report of the running generation.
type Progress struct {
	Stage           string  `json:"stage,omitempty"`
	Step            string  `json:"step,omitempty"`
	Percentage      float64 `json:"percentage,omitempty"`
	Iteration       int     `json:"iteration"`
	TotalIterations int     `json:"totalIterations"`
}

// ShutdownStep tracks how far the graceful stop protocol has progressed.
type ShutdownStep string

const (
	ShutdownNone      ShutdownStep = ""
	ShutdownRequested ShutdownStep = "requested"
	ShutdownInitiated ShutdownStep = "initiated"
	ShutdownSaved     ShutdownStep = "saved"
	ShutdownFailed    ShutdownStep = "failed"
	ShutdownTimedOut  ShutdownStep = "timed_out"
)

// Shutdown holds the outcome of the most recent stop request.
type Shutdown struct {
	Step       ShutdownStep `json:"step,omitempty"`
	CommitHash string       `json:"commitHash,omitempty"`
	Pushed     bool         `json:"pushed,omitempty"`
	Reason     string       `json:"reason,omitempty"`
}

// State is an immutable copy of a session's state. Values handed to callers
// never alias the machine's internal state.
type State struct {
	RequestID        string                    `json:"requestId"`
	Connection       Connection                `json:"connection"`
	WorkerReady      bool                      `json:"workerReady"`
	Status           Status                    `json:"status"`
	Progress         *Progress                 `json:"progress,omitempty"`
	CurrentIteration int                       `json:"currentIteration"`
	LastError        *protocol.Error           `json:"lastError,omitempty"`
	Pending          *protocol.DecisionPrompt  `json:"pending,omitempty"`
	Completion       *protocol.AllWorkComplete `json:"completion,omitempty"`
	Shutdown         Shutdown                  `json:"shutdown"`
	Monitor          *protocol.ProcessMonitor  `json:"monitor,omitempty"`
	Restored         bool                      `json:"restored"`
	StartedAt        time.Time                 `json:"startedAt,omitempty"`
	UpdatedAt        time.Time                 `json:"updatedAt"`
}

// IsGenerating is true from a successful start until completion, a fatal
// error or a confirmed stop. A session that is cancelling is still generating.
func (s State) IsGenerating() bool {
	return s.Status == StatusGenerating || s.Status == StatusCancelling
}

// IsCancelling reports whether a stop request is awaiting generation_stopped.
func (s State) IsCancelling() bool {
	return s.Status == StatusCancelling
}

// AwaitingDecision reports whether the worker is blocked on a prompt.
func (s State) AwaitingDecision() bool {
	return s.Pending != nil
}

// Terminal reports whether the last generation has ended.
func (s State) Terminal() bool {
	switch s.Status {
	case StatusStopped, StatusCompleted, StatusErrored:
		return true
	}
	return false
}

func (s State) Phase() Phase {
	switch s.Status {
	case StatusGenerating:
		if s.Pending != nil {
			return PhaseAwaitingDecision
		}
		return PhaseGenerating
	case StatusCancelling:
		return PhaseCancelling
	case StatusStopped:
		return PhaseStopped
	case StatusCompleted:
		return PhaseCompleted
	case StatusErrored:
		return PhaseErrored
	}

	switch {
	case s.Connection == Connecting:
		return PhaseConnecting
	case s.Connection == Connected && s.WorkerReady:
		return PhaseReady
	case s.Connection == Connected:
		return PhaseConnected
	}
	return PhaseIdle
}

// clone deep-copies the pointer fields so the copy can leave the lock.
func (s State) clone() State {
	out := s
	if s.Progress != nil {
		p := *s.Progress
		out.Progress = &p
	}
	if s.LastError != nil {
		e := *s.LastError
		out.LastError = &e
	}
	if s.Pending != nil {
		p := *s.Pending
		p.Options = append([]string(nil), s.Pending.Options...)
		out.Pending = &p
	}
	if s.Completion != nil {
		c := *s.Completion
		out.Completion = &c
	}
	if s.Monitor != nil {
		m := *s.Monitor
		m.Trajectory.Signals = append([]string(nil), s.Monitor.Trajectory.Signals...)
		out.Monitor = &m
	}
	return out
}

// Update is delivered to observers after every state change.
type Update struct {
	State State
	// Message is the inbound message that caused the change, nil for local commands.
	Message protocol.Message
}
