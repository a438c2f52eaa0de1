package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func frame(t *testing.T, fields map[string]interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return data
}

func TestDecodeWorkerMessage_Progress(t *testing.T) {
	raw := frame(t, map[string]interface{}{
		"type":             "progress",
		"stage":            "build",
		"iteration":        1,
		"total_iterations": 10,
		"percentage":       12.5,
	})

	msg, err := DecodeWorkerMessage(raw)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}

	p, ok := msg.(Progress)
	if !ok {
		t.Fatalf("expected Progress, got %T", msg)
	}
	if p.Iteration != 1 || p.TotalIterations != 10 {
		t.Errorf("expected iteration 1/10, got %d/%d", p.Iteration, p.TotalIterations)
	}
	if p.Stage != "build" {
		t.Errorf("expected stage 'build', got %s", p.Stage)
	}
}

func TestDecodeWorkerMessage_DecisionPrompt(t *testing.T) {
	raw := []byte(`{"type":"decision_prompt","prompt_id":"p1","question":"Continue?","options":["yes","no"],"allow_custom":false}`)

	msg, err := DecodeWorkerMessage(raw)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}

	p := msg.(DecisionPrompt)
	if p.PromptID != "p1" {
		t.Errorf("expected prompt_id p1, got %s", p.PromptID)
	}
	if len(p.Options) != 2 {
		t.Errorf("expected 2 options, got %d", len(p.Options))
	}
}

func TestDecodeWorkerMessage_ShutdownReady(t *testing.T) {
	raw := []byte(`{"type":"shutdown_ready","message":"saved","commit_hash":"abc123","pushed":true}`)

	msg, err := DecodeWorkerMessage(raw)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}

	r := msg.(ShutdownReady)
	if r.CommitHash != "abc123" || !r.Pushed {
		t.Errorf("unexpected shutdown_ready payload: %+v", r)
	}
}

func TestDecodeWorkerMessage_ProcessMonitor(t *testing.T) {
	raw := []byte(`{"type":"process_monitor","summary":"steady","trajectory":{"score":0.8,"signals":["tests passing"]},
		"stats":{"tokens":1200,"cost_usd":0.04,"tools":7,"entry_count":31},"window":{"start":"a","end":"b"}}`)

	msg, err := DecodeWorkerMessage(raw)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}

	m := msg.(ProcessMonitor)
	if m.Stats.EntryCount != 31 {
		t.Errorf("expected entry_count 31, got %d", m.Stats.EntryCount)
	}
	if len(m.Trajectory.Signals) != 1 {
		t.Errorf("expected 1 signal, got %d", len(m.Trajectory.Signals))
	}
}

func TestDecodeWorkerMessage_InvalidJSON(t *testing.T) {
	_, err := DecodeWorkerMessage([]byte("not json"))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestDecodeWorkerMessage_MissingType(t *testing.T) {
	_, err := DecodeWorkerMessage([]byte(`{"line":"hello"}`))
	if err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestDecodeWorkerMessage_UnknownType(t *testing.T) {
	_, err := DecodeWorkerMessage([]byte(`{"type":"unknown.action"}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestDecodeWorkerMessage_SyntheticKindsRejected(t *testing.T) {
	_, err := DecodeWorkerMessage([]byte(`{"type":"disconnected"}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected worker frames to never carry synthetic kinds, got %v", err)
	}
}

func TestDecodeWorkerMessage_MissingRequiredFields(t *testing.T) {
	cases := map[string]string{
		"log without line":          `{"type":"log","level":"info"}`,
		"prompt without id":         `{"type":"decision_prompt","question":"Continue?"}`,
		"prompt without question":   `{"type":"decision_prompt","prompt_id":"p1"}`,
		"iteration without number":  `{"type":"iteration_complete"}`,
		"error without message":     `{"type":"error","fatal":true}`,
		"shutdown_failed no reason": `{"type":"shutdown_failed"}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeWorkerMessage([]byte(raw)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDecodeWorkerMessage_WrongFieldType(t *testing.T) {
	_, err := DecodeWorkerMessage([]byte(`{"type":"progress","iteration":"one"}`))
	if err == nil {
		t.Fatal("expected error for mistyped field")
	}
}

func TestEncodeCommand_DecisionResponse(t *testing.T) {
	data, err := EncodeCommand(NewDecisionResponse("p1", "yes"))
	if err != nil {
		t.Fatalf("EncodeCommand failed: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != TypeDecisionResponse {
		t.Errorf("expected type %s, got %v", TypeDecisionResponse, got["type"])
	}
	if got["prompt_id"] != "p1" || got["response"] != "yes" {
		t.Errorf("unexpected frame: %s", data)
	}
}

func TestEncodeCommand_FillsType(t *testing.T) {
	data, err := EncodeCommand(StartGeneration{
		RequestID:     "gen-1",
		Prompt:        "build a todo app",
		Mode:          "new",
		AppName:       "todo",
		MaxIterations: 10,
	})
	if err != nil {
		t.Fatalf("EncodeCommand failed: %v", err)
	}
	if !strings.Contains(string(data), `"type":"start_generation"`) {
		t.Errorf("expected type to be filled in, got %s", data)
	}
	if !strings.Contains(string(data), `"request_id":"gen-1"`) {
		t.Errorf("expected request_id, got %s", data)
	}
}

func TestValidateCommand_StartGeneration(t *testing.T) {
	err := ValidateCommand(StartGeneration{Prompt: "x", MaxIterations: 1})
	if err == nil {
		t.Fatal("expected error for missing request_id")
	}

	err = ValidateCommand(StartGeneration{RequestID: "r", Prompt: "x"})
	if err == nil {
		t.Fatal("expected error for zero iteration budget")
	}

	err = ValidateCommand(StartGeneration{RequestID: "r", ResumeSessionID: "s", MaxIterations: 3})
	if err != nil {
		t.Fatalf("expected resume without prompt to be valid, got %v", err)
	}
}

func TestValidateCommand_ReservedControl(t *testing.T) {
	if err := ValidateCommand(NewControl(ControlCancel)); err != nil {
		t.Fatalf("expected cancel to be valid, got %v", err)
	}
	for _, action := range []ControlAction{ControlPause, ControlResume} {
		if err := ValidateCommand(NewControl(action)); !errors.Is(err, ErrReservedControl) {
			t.Errorf("expected %s to be reserved, got %v", action, err)
		}
	}
}

func TestDescribe_ShutdownReady(t *testing.T) {
	level, text := Describe(ShutdownReady{CommitHash: "abc123", Pushed: true})
	if level != LevelInfo {
		t.Errorf("expected info level, got %s", level)
	}
	if text != "work saved at commit abc123 (pushed)" {
		t.Errorf("unexpected description: %s", text)
	}
}

func TestDescribe_ErrorLevels(t *testing.T) {
	level, _ := Describe(Error{Message: "lint failed"})
	if level != LevelWarn {
		t.Errorf("expected non-fatal error to be a warning, got %s", level)
	}

	level, text := Describe(Error{Message: "container died", Fatal: true, ErrorCode: "E_CONTAINER"})
	if level != LevelError {
		t.Errorf("expected fatal error level, got %s", level)
	}
	if text != "fatal: E_CONTAINER: container died" {
		t.Errorf("unexpected description: %s", text)
	}
}

func TestDescribe_Progress(t *testing.T) {
	_, text := Describe(Progress{Stage: "build", Iteration: 2, TotalIterations: 10})
	if text != "iteration 2/10: build" {
		t.Errorf("unexpected description: %s", text)
	}
}
