// Package adapter implements the Host-facing streaming surface: turn
// orchestration, tool-result forwarding, and multi-call group aggregation
// on top of a Workflow session.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gaetan-puleo/opencode-duo-workflow/internal/coreerr"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/prompt"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/protocol"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/session"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/toolmap"
)

// SystemRulesText is installed as the "user_rule" additional-context item
// on every new-goal start request.
const SystemRulesText = "Follow the user's instructions precisely. Prefer minimal, targeted changes. Never fabricate file contents or command output."

// FlowConfigSchemaVersion tags the flowConfig shape this adapter writes.
const FlowConfigSchemaVersion = "1"

const defaultSystemPrompt = "You are a software engineering agent operating inside a remote workflow."

// SessionProvider resolves-or-creates the Workflow session for a session
// key. Implemented in internal/gateway by a provider bound to its Registry.
type SessionProvider interface {
	Resolve(ctx context.Context, key string) (*session.Workflow, error)
}

// HostEvent is one Host-facing stream event (spec §6).
type HostEvent struct {
	Type         string          `json:"type"`
	ID           string          `json:"id,omitempty"`
	Delta        string          `json:"delta,omitempty"`
	ToolName     string          `json:"toolName,omitempty"`
	ToolCallID   string          `json:"toolCallId,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	FinishReason string          `json:"finishReason,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	Error        string          `json:"error,omitempty"`
	Warnings     []string        `json:"warnings,omitempty"`
}

// Usage reports token accounting; all fields are omitted by this adapter
// (the core does not implement token-level usage accounting).
type Usage struct {
	In    *int `json:"in,omitempty"`
	Out   *int `json:"out,omitempty"`
	Total *int `json:"total,omitempty"`
}

// StreamOptions carries one Host turn's structured prompt and session key.
type StreamOptions struct {
	InstanceURL   string
	ModelID       string
	HostSessionID string
	Messages      []prompt.Message
	Abort         <-chan struct{}
}

type multiCallGroup struct {
	SubIDs    []string
	Labels    []string
	Collected map[string]string
}

// Adapter is the single, long-lived turn-orchestration instance for one
// model binding. Its tracking maps are reset whenever the incoming
// host-session-ID differs from the last one seen.
type Adapter struct {
	sessions SessionProvider

	mu                   sync.Mutex
	stateSessionID       string
	pendingToolRequests  map[string]bool
	multiCallGroups      map[string]*multiCallGroup
	sentToolCallIds      map[string]bool
	lastSentGoal         string
}

// New constructs an Adapter bound to a session provider.
func New(sessions SessionProvider) *Adapter {
	return &Adapter{
		sessions:            sessions,
		pendingToolRequests: map[string]bool{},
		multiCallGroups:     map[string]*multiCallGroup{},
		sentToolCallIds:     map[string]bool{},
	}
}

// SessionKey builds the (instanceURL, modelID, hostSessionID) triple key.
func SessionKey(instanceURL, modelID, hostSessionID string) string {
	return instanceURL + "\x1f" + modelID + "\x1f" + hostSessionID
}

// Stream runs one Host turn and returns a channel of Host-facing events,
// closed when the turn ends (stop, tool-calls, or error finish reason).
func (a *Adapter) Stream(ctx context.Context, opts StreamOptions) (<-chan HostEvent, error) {
	if strings.TrimSpace(opts.HostSessionID) == "" {
		return nil, coreerr.New(coreerr.MissingSessionID, fmt.Errorf("no workflow session id"))
	}

	key := SessionKey(opts.InstanceURL, opts.ModelID, opts.HostSessionID)
	sess, err := a.sessions.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.stateSessionID != opts.HostSessionID {
		a.resetTrackingLocked()
		a.stateSessionID = opts.HostSessionID
	}
	a.mu.Unlock()

	events := make(chan HostEvent, 16)
	go a.run(ctx, sess, opts, events)
	return events, nil
}

func (a *Adapter) resetTrackingLocked() {
	a.pendingToolRequests = map[string]bool{}
	a.multiCallGroups = map[string]*multiCallGroup{}
	a.sentToolCallIds = map[string]bool{}
	a.lastSentGoal = ""
}

func (a *Adapter) run(ctx context.Context, sess *session.Workflow, opts StreamOptions, events chan<- HostEvent) {
	defer close(events)

	goal := prompt.ExtractGoal(opts.Messages)
	toolResults := prompt.ExtractToolResults(opts.Messages)

	events <- HostEvent{Type: "stream-start", Warnings: []string{}}

	if !sess.StartRequestSent() {
		a.mu.Lock()
		for _, tr := range toolResults {
			if !a.pendingToolRequests[tr.ID] {
				a.sentToolCallIds[tr.ID] = true
			}
		}
		a.lastSentGoal = ""
		a.mu.Unlock()
	}

	if err := sess.EnsureConnected(ctx, goal); err != nil {
		events <- HostEvent{Type: "error", Error: err.Error()}
		events <- HostEvent{Type: "finish", FinishReason: "error"}
		return
	}

	forwardedAny := a.forwardToolResults(sess, toolResults)

	a.mu.Lock()
	lastGoal := a.lastSentGoal
	a.mu.Unlock()

	if !forwardedAny && goal != "" && goal != lastGoal && !sess.StartRequestSent() {
		a.sendNewGoal(sess, opts.Messages, goal)
	}

	a.consumeEvents(ctx, sess, opts.Abort, events)
}

type resultAction int

const (
	actionSkip resultAction = iota
	actionForward
	actionForwardGroup
	actionConsumeSilently
)

func (a *Adapter) forwardToolResults(sess *session.Workflow, results []prompt.ToolResult) bool {
	forwardedAny := false
	for _, tr := range results {
		action, originalID, payload := a.recordToolResult(tr)
		switch action {
		case actionSkip:
			continue
		case actionForward:
			_ = sess.SendToolResult(tr.ID, tr.Output, tr.Error)
		case actionForwardGroup:
			_ = sess.SendToolResult(originalID, payload, "")
		}
		forwardedAny = true
	}
	return forwardedAny
}

func (a *Adapter) recordToolResult(tr prompt.ToolResult) (resultAction, string, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sentToolCallIds[tr.ID] {
		return actionSkip, "", ""
	}

	if strings.Contains(tr.ID, "_sub_") {
		original := strings.SplitN(tr.ID, "_sub_", 2)[0]
		group, ok := a.multiCallGroups[original]
		if !ok {
			a.sentToolCallIds[tr.ID] = true
			return actionConsumeSilently, "", ""
		}

		group.Collected[tr.ID] = tr.Output
		a.sentToolCallIds[tr.ID] = true
		delete(a.pendingToolRequests, tr.ID)

		if len(group.Collected) < len(group.SubIDs) {
			return actionConsumeSilently, "", ""
		}

		obj := map[string]any{}
		for i, sub := range group.SubIDs {
			label := "file_" + strconv.Itoa(i)
			if i < len(group.Labels) && group.Labels[i] != "" {
				label = group.Labels[i]
			}
			obj[label] = map[string]string{"content": group.Collected[sub]}
		}
		data, _ := json.Marshal(obj)
		delete(a.multiCallGroups, original)
		delete(a.pendingToolRequests, original)
		return actionForwardGroup, original, string(data)
	}

	if a.pendingToolRequests[tr.ID] {
		delete(a.pendingToolRequests, tr.ID)
		a.sentToolCallIds[tr.ID] = true
		return actionForward, "", ""
	}

	a.sentToolCallIds[tr.ID] = true
	return actionConsumeSilently, "", ""
}

func (a *Adapter) sendNewGoal(sess *session.Workflow, messages []prompt.Message, goal string) {
	systemPrompt := prompt.ExtractSystemPrompt(messages)
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	sanitized := prompt.SanitizeSystemPrompt(systemPrompt)

	ctxItems := []protocol.AdditionalContextItem{
		{Category: "os_information", Content: osInformation()},
		{Category: "user_rule", Content: SystemRulesText},
	}
	if reminders := prompt.ExtractAgentReminders(messages); len(reminders) > 0 {
		ctxItems = append(ctxItems, protocol.AdditionalContextItem{
			Category: "agent_context",
			Content:  strings.Join(reminders, "\n"),
		})
	}

	sess.SetFlowConfig(map[string]any{"system_prompt": sanitized}, FlowConfigSchemaVersion)
	_ = sess.SendStartRequest(goal, ctxItems)

	a.mu.Lock()
	a.lastSentGoal = goal
	a.mu.Unlock()
}

func osInformation() string {
	return fmt.Sprintf("os=%s arch=%s", runtime.GOOS, runtime.GOARCH)
}

func (a *Adapter) consumeEvents(ctx context.Context, sess *session.Workflow, abort <-chan struct{}, events chan<- HostEvent) {
	done := make(chan struct{})
	defer close(done)

	if abort != nil {
		go func() {
			select {
			case <-abort:
				sess.Abort()
			case <-done:
			}
		}()
	}

	var textID string
	textOpen := false

	for {
		ev, ok := sess.WaitForEvent()
		if !ok {
			if textOpen {
				events <- HostEvent{Type: "text-end", ID: textID}
			}
			events <- HostEvent{Type: "finish", FinishReason: "stop"}
			return
		}

		switch ev.Kind {
		case session.EventTextDelta:
			if !textOpen {
				textID = uuid.NewString()
				events <- HostEvent{Type: "text-start", ID: textID}
				textOpen = true
			}
			events <- HostEvent{Type: "text-delta", ID: textID, Delta: ev.TextDelta}

		case session.EventToolRequest:
			if textOpen {
				events <- HostEvent{Type: "text-end", ID: textID}
				textOpen = false
			}
			a.emitToolCall(ev.ToolRequest.RequestID, ev.ToolRequest.ToolName, ev.ToolRequest.Args, events)
			events <- HostEvent{Type: "finish", FinishReason: "tool-calls"}
			return

		case session.EventError:
			msg := "unknown error"
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			events <- HostEvent{Type: "error", Error: msg}
			events <- HostEvent{Type: "finish", FinishReason: "error"}
			return
		}
	}
}

func (a *Adapter) emitToolCall(requestID, serviceToolName string, args map[string]any, events chan<- HostEvent) {
	mapped := toolmap.Map(serviceToolName, args)

	if !mapped.Array {
		a.mu.Lock()
		a.pendingToolRequests[requestID] = true
		a.mu.Unlock()
		emitSingleToolCall(requestID, mapped.Calls[0], events)
		return
	}

	group := &multiCallGroup{
		SubIDs:    make([]string, len(mapped.Calls)),
		Labels:    make([]string, len(mapped.Calls)),
		Collected: map[string]string{},
	}
	for i, call := range mapped.Calls {
		group.SubIDs[i] = fmt.Sprintf("%s_sub_%d", requestID, i)
		if path, ok := call.Args["filePath"].(string); ok {
			group.Labels[i] = path
		}
	}

	a.mu.Lock()
	for _, sub := range group.SubIDs {
		a.pendingToolRequests[sub] = true
	}
	a.pendingToolRequests[requestID] = true
	a.multiCallGroups[requestID] = group
	a.mu.Unlock()

	for i, call := range mapped.Calls {
		emitSingleToolCall(group.SubIDs[i], call, events)
	}
}

func emitSingleToolCall(toolCallID string, call toolmap.HostToolCall, events chan<- HostEvent) {
	input, _ := json.Marshal(call.Args)
	events <- HostEvent{Type: "tool-input-start", ID: toolCallID, ToolName: call.Name}
	events <- HostEvent{Type: "tool-input-delta", ID: toolCallID, Delta: string(input)}
	events <- HostEvent{Type: "tool-input-end", ID: toolCallID}
	events <- HostEvent{Type: "tool-call", ToolCallID: toolCallID, ToolName: call.Name, Input: input}
}
