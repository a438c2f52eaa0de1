package session

import (
	"fmt"

	"leo-remote/internal/protocol"
)

// applyPrompt records an inbound decision prompt. Callers hold mu.
func (m *Machine) applyPrompt(p protocol.DecisionPrompt) {
	s := &m.state
	if !s.IsGenerating() {
		m.log.Warn("ignoring decision prompt outside a generation", "prompt_id", p.PromptID)
		return
	}
	if s.Pending != nil && s.Pending.PromptID != p.PromptID {
		m.log.Warn("decision prompt superseded", "old", s.Pending.PromptID, "new", p.PromptID)
	}
	p.Options = append([]string(nil), p.Options...)
	s.Pending = &p
}

// Respond answers the pending decision prompt. The prompt is cleared before
// the answer is sent and put back if sending fails. A promptID that does not
// match the pending prompt returns ErrInvalidPrompt and changes nothing.
func (m *Machine) Respond(promptID, answer string) error {
	m.mu.Lock()
	pending := m.state.Pending
	if pending == nil || pending.PromptID != promptID {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrInvalidPrompt, promptID)
	}
	if !acceptsAnswer(*pending, answer) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrInvalidAnswer, answer)
	}

	m.state.Pending = nil
	if err := m.conn.Send(protocol.NewDecisionResponse(promptID, answer)); err != nil {
		m.state.Pending = pending
		m.mu.Unlock()
		m.log.Warn("decision response not sent", "prompt_id", promptID, "error", err)
		return fmt.Errorf("send decision response: %w", err)
	}
	m.touch()
	st := m.state.clone()
	m.mu.Unlock()

	m.publish(Update{State: st})
	return nil
}

// acceptsAnswer allows any non-empty answer to a free-form prompt and one of
// the options otherwise.
func acceptsAnswer(p protocol.DecisionPrompt, answer string) bool {
	if answer == "" {
		return false
	}
	if p.AllowCustom || len(p.Options) == 0 {
		return true
	}
	for _, opt := range p.Options {
		if opt == answer {
			return true
		}
	}
	return false
}
