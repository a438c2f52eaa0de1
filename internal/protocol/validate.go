package protocol

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type Kind `json:"type"`
}

// decoders maps each worker message kind to a constructor for its payload.
var decoders = map[Kind]func() Message{
	KindReady:             func() Message { return &Ready{} },
	KindLog:               func() Message { return &Log{} },
	KindProgress:          func() Message { return &Progress{} },
	KindIterationComplete: func() Message { return &IterationComplete{} },
	KindAllWorkComplete:   func() Message { return &AllWorkComplete{} },
	KindError:             func() Message { return &Error{} },
	KindDecisionPrompt:    func() Message { return &DecisionPrompt{} },
	KindConnectionStatus:  func() Message { return &ConnectionStatus{} },
	KindStatus:            func() Message { return &Status{} },
	KindShutdownInitiated: func() Message { return &ShutdownInitiated{} },
	KindShutdownReady:     func() Message { return &ShutdownReady{} },
	KindShutdownFailed:    func() Message { return &ShutdownFailed{} },
	KindShutdownTimeout:   func() Message { return &ShutdownTimeout{} },
	KindGenerationStopped: func() Message { return &GenerationStopped{} },
	KindConversationLog:   func() Message { return &ConversationLog{} },
	KindProcessMonitor:    func() Message { return &ProcessMonitor{} },
}

// DecodeWorkerMessage validates a raw JSON frame from the worker and returns
// the concrete payload as a value type (Log, Progress, ...).
func DecodeWorkerMessage(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if env.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	newMsg, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, env.Type)
	}

	ptr := newMsg()
	if err := json.Unmarshal(raw, ptr); err != nil {
		return nil, fmt.Errorf("invalid payload for %s: %w", env.Type, err)
	}

	msg := deref(ptr)
	if err := validateFields(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func deref(m Message) Message {
	switch v := m.(type) {
	case *Ready:
		return *v
	case *Log:
		return *v
	case *Progress:
		return *v
	case *IterationComplete:
		return *v
	case *AllWorkComplete:
		return *v
	case *Error:
		return *v
	case *DecisionPrompt:
		return *v
	case *ConnectionStatus:
		return *v
	case *Status:
		return *v
	case *ShutdownInitiated:
		return *v
	case *ShutdownReady:
		return *v
	case *ShutdownFailed:
		return *v
	case *ShutdownTimeout:
		return *v
	case *GenerationStopped:
		return *v
	case *ConversationLog:
		return *v
	case *ProcessMonitor:
		return *v
	}
	return m
}

// validateFields checks the required payload fields per kind.
func validateFields(msg Message) error {
	missing := func(field string) error {
		return fmt.Errorf("missing required field '%s' in %s payload", field, msg.Kind())
	}

	switch m := msg.(type) {
	case Log:
		if m.Line == "" {
			return missing("line")
		}
	case IterationComplete:
		if m.Iteration <= 0 {
			return missing("iteration")
		}
	case Error:
		if m.Message == "" {
			return missing("message")
		}
	case DecisionPrompt:
		if m.PromptID == "" {
			return missing("prompt_id")
		}
		if m.Question == "" {
			return missing("question")
		}
	case ShutdownFailed:
		if m.Reason == "" {
			return missing("reason")
		}
	}
	return nil
}

// ValidateCommand rejects outbound commands the worker would refuse.
func ValidateCommand(cmd Command) error {
	switch c := cmd.(type) {
	case StartGeneration:
		if c.RequestID == "" {
			return fmt.Errorf("missing required field 'request_id' in %s", TypeStartGeneration)
		}
		if c.Prompt == "" && c.ResumeSessionID == "" {
			return fmt.Errorf("missing required field 'prompt' in %s", TypeStartGeneration)
		}
		if c.MaxIterations <= 0 {
			return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
		}
	case DecisionResponse:
		if c.PromptID == "" {
			return fmt.Errorf("missing required field 'prompt_id' in %s", TypeDecisionResponse)
		}
	case Control:
		switch c.Command {
		case ControlCancel:
		case ControlPause, ControlResume:
			return fmt.Errorf("%w: %s", ErrReservedControl, c.Command)
		default:
			return fmt.Errorf("unknown control action: %q", c.Command)
		}
	case StopRequest:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, cmd.CommandType())
	}
	return nil
}
