package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client → Worker command types.
const (
	TypeStartGeneration  = "start_generation"
	TypeDecisionResponse = "decision_response"
	TypeControl          = "control"
	TypeStopRequest      = "stop_request"
)

// ControlAction is the verb carried by a control command.
type ControlAction string

const (
	ControlPause  ControlAction = "pause"
	ControlResume ControlAction = "resume"
	ControlCancel ControlAction = "cancel"
)

var (
	ErrUnknownKind     = errors.New("unknown message type")
	ErrReservedControl = errors.New("control action is reserved")
)

// Command is an outbound frame. Type returns the wire discriminator.
type Command interface {
	CommandType() string
}

// StartGeneration asks the worker to begin a generation run. RequestID is the
// id returned by the REST create call.
type StartGeneration struct {
	Type             string `json:"type"`
	RequestID        string `json:"request_id"`
	Prompt           string `json:"prompt"`
	Mode             string `json:"mode"`
	AppName          string `json:"app_name"`
	UserID           string `json:"user_id"`
	AppID            string `json:"app_id,omitempty"`
	MaxIterations    int    `json:"max_iterations"`
	SubagentsEnabled bool   `json:"subagents_enabled"`
	GithubURL        string `json:"github_url,omitempty"`
	ResumeSessionID  string `json:"resume_session_id,omitempty"`
}

type DecisionResponse struct {
	Type     string `json:"type"`
	PromptID string `json:"prompt_id"`
	Response string `json:"response"`
}

type Control struct {
	Type    string        `json:"type"`
	Command ControlAction `json:"command"`
}

type StopRequest struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

func (StartGeneration) CommandType() string  { return TypeStartGeneration }
func (DecisionResponse) CommandType() string { return TypeDecisionResponse }
func (Control) CommandType() string          { return TypeControl }
func (StopRequest) CommandType() string      { return TypeStopRequest }

// NewDecisionResponse builds the answer frame for a pending prompt.
func NewDecisionResponse(promptID, response string) DecisionResponse {
	return DecisionResponse{Type: TypeDecisionResponse, PromptID: promptID, Response: response}
}

func NewControl(action ControlAction) Control {
	return Control{Type: TypeControl, Command: action}
}

func NewStopRequest(reason string) StopRequest {
	return StopRequest{Type: TypeStopRequest, Reason: reason}
}

// EncodeCommand validates cmd and marshals it into a wire frame. The type
// field is filled in when the caller left it empty.
func EncodeCommand(cmd Command) ([]byte, error) {
	if err := ValidateCommand(cmd); err != nil {
		return nil, err
	}

	switch c := cmd.(type) {
	case StartGeneration:
		c.Type = TypeStartGeneration
		cmd = c
	case DecisionResponse:
		c.Type = TypeDecisionResponse
		cmd = c
	case Control:
		c.Type = TypeControl
		cmd = c
	case StopRequest:
		c.Type = TypeStopRequest
		cmd = c
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", cmd.CommandType(), err)
	}
	return data, nil
}
