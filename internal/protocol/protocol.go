// Package protocol defines the wire shapes of the Service's asymmetric
// socket protocol: actions flowing Service→client, and client events
// flowing client→Service.
package protocol

import "encoding/json"

// Terminal checkpoint statuses end the workflow.
const (
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
	StatusStopped  = "STOPPED"
)

// Turn-boundary statuses end the current Host turn without ending the workflow.
const (
	StatusInputRequired        = "INPUT_REQUIRED"
	StatusPlanApprovalRequired = "PLAN_APPROVAL_REQUIRED"
)

// StatusToolCallApprovalRequired requires the approval-reconnect handshake.
const StatusToolCallApprovalRequired = "TOOL_CALL_APPROVAL_REQUIRED"

// Other, non-terminal, non-turn-boundary statuses.
const (
	StatusCreated = "CREATED"
	StatusRunning = "RUNNING"
)

func IsTerminal(status string) bool {
	return status == StatusFinished || status == StatusFailed || status == StatusStopped
}

func IsTurnBoundary(status string) bool {
	return status == StatusInputRequired || status == StatusPlanApprovalRequired
}

// CheckpointBody is the "newCheckpoint" payload of a checkpoint action.
type CheckpointBody struct {
	Status     string   `json:"status"`
	Checkpoint string   `json:"checkpoint"`
	Goal       string   `json:"goal"`
	Errors     []string `json:"errors,omitempty"`
}

// CheckpointAction is a Service→client action carrying a checkpoint snapshot.
type CheckpointAction struct {
	RequestID     *string        `json:"requestID,omitempty"`
	NewCheckpoint CheckpointBody `json:"newCheckpoint"`
}

// HTTPRequestAction is the runHTTPRequest tool action, handled locally by
// the Workflow session rather than routed through the Host.
type HTTPRequestAction struct {
	RequestID string `json:"requestID"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Body      string `json:"body,omitempty"`
}

// Action is one decoded Service→client frame. Exactly one of Checkpoint or
// ToolRaw is set. ToolRaw is the undecoded single-key object for any
// tool-action variant (including runHTTPRequest), left for the session and
// internal/actionmap to interpret.
type Action struct {
	Checkpoint *CheckpointAction
	ToolRaw    map[string]json.RawMessage
}

// DecodeAction JSON-decodes a single Service→client frame.
func DecodeAction(data []byte) (Action, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(data, &generic); err != nil {
		return Action{}, err
	}

	if _, ok := generic["newCheckpoint"]; ok {
		var cp CheckpointAction
		if err := json.Unmarshal(data, &cp); err != nil {
			return Action{}, err
		}
		return Action{Checkpoint: &cp}, nil
	}

	return Action{ToolRaw: generic}, nil
}

// DecodeHTTPRequestAction extracts a runHTTPRequest action from a raw
// tool-action frame, if present.
func DecodeHTTPRequestAction(raw map[string]json.RawMessage) (*HTTPRequestAction, bool) {
	payload, ok := raw["runHTTPRequest"]
	if !ok {
		return nil, false
	}
	var action HTTPRequestAction
	if err := json.Unmarshal(payload, &action); err != nil {
		return nil, false
	}
	return &action, true
}
