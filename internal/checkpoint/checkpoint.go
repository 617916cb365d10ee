// Package checkpoint extracts agent text deltas and tool requests from
// successive checkpoint snapshots sent by the Service. Checkpoints are
// monotone in agent-entry prefixes; this package preserves incremental
// streaming by diffing against the previously observed log.
package checkpoint

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// LogEntry is one UI-chat-log entry from a checkpoint snapshot.
type LogEntry struct {
	MessageType   string
	Content       string
	CorrelationID string
	ToolInfo      *ToolInfo
}

// ToolInfo describes a tool invocation attached to a "request" log entry.
type ToolInfo struct {
	Name string
	Args map[string]any
}

// ToolRequest is a pending tool call extracted from a "request" log entry.
type ToolRequest struct {
	RequestID string
	ToolName  string
	Args      map[string]any
}

var validMessageTypes = map[string]bool{
	"user": true, "agent": true, "tool": true, "request": true,
}

// State is the checkpoint state owned by a single Workflow session: the
// log observed so far, plus which "request" entries have already been
// materialized into ToolRequest values.
type State struct {
	Log                     []LogEntry
	ProcessedRequestIndices map[int]bool
}

// NewState returns an empty checkpoint state.
func NewState() *State {
	return &State{ProcessedRequestIndices: map[int]bool{}}
}

type rawCheckpoint struct {
	ChannelValues struct {
		UIChatLog []rawLogEntry `json:"ui_chat_log"`
	} `json:"channel_values"`
}

type rawLogEntry struct {
	MessageType   string       `json:"message_type"`
	Content       string       `json:"content"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	ToolInfo      *rawToolInfo `json:"tool_info,omitempty"`
}

type rawToolInfo struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// parseLog decodes raw checkpoint JSON into the filtered log (entries whose
// message_type is not one of the recognized types are dropped).
func parseLog(raw []byte) ([]LogEntry, error) {
	var cp rawCheckpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, err
	}
	out := make([]LogEntry, 0, len(cp.ChannelValues.UIChatLog))
	for _, e := range cp.ChannelValues.UIChatLog {
		if !validMessageTypes[e.MessageType] {
			continue
		}
		entry := LogEntry{
			MessageType:   e.MessageType,
			Content:       e.Content,
			CorrelationID: e.CorrelationID,
		}
		if e.ToolInfo != nil {
			entry.ToolInfo = &ToolInfo{Name: e.ToolInfo.Name, Args: e.ToolInfo.Args}
		}
		out = append(out, entry)
	}
	return out, nil
}

// ExtractAgentTextDeltas parses raw as a checkpoint snapshot and returns the
// incremental text produced by agent-typed entries since the last call,
// then overwrites state.Log with the new log.
func ExtractAgentTextDeltas(raw []byte, state *State) ([]string, error) {
	newLog, err := parseLog(raw)
	if err != nil {
		return nil, err
	}

	var deltas []string
	for i, entry := range newLog {
		if entry.MessageType != "agent" {
			continue
		}
		var prev *LogEntry
		if i < len(state.Log) {
			prev = &state.Log[i]
		}
		switch {
		case prev == nil || prev.MessageType != "agent":
			if entry.Content != "" {
				deltas = append(deltas, entry.Content)
			}
		case entry.Content == prev.Content:
			// no change
		case strings.HasPrefix(entry.Content, prev.Content):
			deltas = append(deltas, entry.Content[len(prev.Content):])
		default:
			deltas = append(deltas, entry.Content)
		}
	}

	state.Log = newLog
	return deltas, nil
}

// ExtractToolRequests walks the new log and emits one ToolRequest per
// "request"-typed entry carrying tool_info whose index hasn't already been
// materialized. internal/session does not call it; tool requests reach the
// session as standalone tool actions instead.
func ExtractToolRequests(raw []byte, state *State) ([]ToolRequest, error) {
	newLog, err := parseLog(raw)
	if err != nil {
		return nil, err
	}

	var reqs []ToolRequest
	for i, entry := range newLog {
		if entry.MessageType != "request" || entry.ToolInfo == nil {
			continue
		}
		if state.ProcessedRequestIndices[i] {
			continue
		}
		reqID := entry.CorrelationID
		if reqID == "" {
			reqID = uuid.NewString()
		}
		reqs = append(reqs, ToolRequest{
			RequestID: reqID,
			ToolName:  entry.ToolInfo.Name,
			Args:      entry.ToolInfo.Args,
		})
		state.ProcessedRequestIndices[i] = true
	}
	return reqs, nil
}
