package session

import (
	"fmt"

	"leo-remote/internal/protocol"
)

// RequestStop asks the worker to save its work and stop. A second call while
// the stop is in flight is a no-op. The session stays cancelling until the
// worker reports generation_stopped or completion; no local timeout applies.
func (m *Machine) RequestStop(reason string) error {
	return m.stop(protocol.NewStopRequest(reason))
}

// Abort sends a cancel control command instead of a stop request. The worker
// does not save work first. State follows the same cancelling path.
func (m *Machine) Abort() error {
	return m.stop(protocol.NewControl(protocol.ControlCancel))
}

func (m *Machine) stop(cmd protocol.Command) error {
	m.mu.Lock()
	if m.state.IsCancelling() {
		m.mu.Unlock()
		return nil
	}
	if !m.state.IsGenerating() {
		m.mu.Unlock()
		return ErrNotGenerating
	}

	prevStatus, prevShutdown := m.state.Status, m.state.Shutdown
	m.state.Status = StatusCancelling
	m.state.Shutdown = Shutdown{Step: ShutdownRequested}
	if err := m.conn.Send(cmd); err != nil {
		m.state.Status, m.state.Shutdown = prevStatus, prevShutdown
		m.mu.Unlock()
		m.log.Warn("stop command not sent", "type", cmd.CommandType(), "error", err)
		return fmt.Errorf("send %s: %w", cmd.CommandType(), err)
	}
	m.touch()
	st := m.state.clone()
	m.mu.Unlock()

	m.log.Info("stop requested", "request_id", st.RequestID, "type", cmd.CommandType())
	m.publish(Update{State: st})
	return nil
}

// applyShutdown follows the worker's side of the stop protocol. Any step may
// be skipped. Only generation_stopped ends the session. Callers hold mu.
func (m *Machine) applyShutdown(msg protocol.Message) {
	s := &m.state
	switch v := msg.(type) {
	case protocol.ShutdownInitiated:
		s.Shutdown.Step = ShutdownInitiated
	case protocol.ShutdownReady:
		s.Shutdown.Step = ShutdownSaved
		s.Shutdown.CommitHash = v.CommitHash
		s.Shutdown.Pushed = v.Pushed
		m.log.Info("work saved", "commit", v.CommitHash, "pushed", v.Pushed)
	case protocol.ShutdownFailed:
		s.Shutdown.Step = ShutdownFailed
		s.Shutdown.Reason = v.Reason
		m.log.Warn("shutdown failed", "reason", v.Reason)
	case protocol.ShutdownTimeout:
		s.Shutdown.Step = ShutdownTimedOut
		s.Shutdown.Reason = v.Message
		m.log.Warn("shutdown timed out", "message", v.Message)
	case protocol.GenerationStopped:
		if !s.IsGenerating() {
			return
		}
		s.Status = StatusStopped
		s.Progress = nil
		s.Pending = nil
		m.log.Info("generation stopped", "request_id", s.RequestID)
	}
}
