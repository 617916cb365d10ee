package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeActionRecognizesCheckpoint(t *testing.T) {
	raw := []byte(`{"newCheckpoint":{"status":"RUNNING","checkpoint":"{}","goal":"do it"}}`)
	action, err := DecodeAction(raw)
	if err != nil {
		t.Fatal(err)
	}
	if action.Checkpoint == nil {
		t.Fatal("expected checkpoint action")
	}
	if action.Checkpoint.NewCheckpoint.Status != "RUNNING" {
		t.Fatalf("got %+v", action.Checkpoint)
	}
}

func TestDecodeActionTreatsOtherShapeAsToolRaw(t *testing.T) {
	raw := []byte(`{"runReadFile":{"requestID":"R1","filePath":"a.txt"}}`)
	action, err := DecodeAction(raw)
	if err != nil {
		t.Fatal(err)
	}
	if action.Checkpoint != nil {
		t.Fatal("did not expect checkpoint")
	}
	if _, ok := action.ToolRaw["runReadFile"]; !ok {
		t.Fatalf("got %+v", action.ToolRaw)
	}
}

func TestDecodeHTTPRequestAction(t *testing.T) {
	raw := map[string]json.RawMessage{
		"runHTTPRequest": json.RawMessage(`{"requestID":"R1","method":"GET","path":"projects/1"}`),
	}
	httpAction, ok := DecodeHTTPRequestAction(raw)
	if !ok {
		t.Fatal("expected to decode")
	}
	if httpAction.Method != "GET" || httpAction.Path != "projects/1" {
		t.Fatalf("got %+v", httpAction)
	}
}

func TestStartRequestEventRoundTrip(t *testing.T) {
	ev := StartRequestEvent{StartRequest: StartRequestBody{
		WorkflowID:         "wf1",
		Goal:               "hi",
		ClientCapabilities: []string{"shell_command"},
		AdditionalContext:  []AdditionalContextItem{},
	}}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		t.Fatal(err)
	}
	if _, ok := probe["startRequest"]; !ok {
		t.Fatalf("missing startRequest key: %s", data)
	}
}

func TestApprovalReconnectEventShape(t *testing.T) {
	ev := StartRequestEvent{StartRequest: StartRequestBody{
		Goal:              "",
		AdditionalContext: []AdditionalContextItem{},
		Approval:          &ApprovalMarker{},
	}}
	data, _ := json.Marshal(ev)
	if !containsSubstring(string(data), `"approval":{"approval":{}}`) {
		t.Fatalf("got %s", data)
	}
}

func containsSubstring(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func TestStatusClassification(t *testing.T) {
	if !IsTerminal(StatusFinished) || !IsTerminal(StatusFailed) || !IsTerminal(StatusStopped) {
		t.Fatal("expected all three terminal statuses")
	}
	if !IsTurnBoundary(StatusInputRequired) || !IsTurnBoundary(StatusPlanApprovalRequired) {
		t.Fatal("expected both turn-boundary statuses")
	}
	if IsTerminal(StatusRunning) || IsTurnBoundary(StatusRunning) {
		t.Fatal("RUNNING should be neither terminal nor turn-boundary")
	}
}
