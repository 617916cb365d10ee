// Package session implements the per-session state machine that owns a
// workflow's socket, creates or resumes its remote workflow, and drives
// the approval-reconnect handshake. It is the leaf the Model adapter
// drives; it never talks to the Host directly.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gaetan-puleo/opencode-duo-workflow/internal/actionmap"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/checkpoint"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/coreerr"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/protocol"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/queue"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/restclient"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/wsclient"
)

// EventKind discriminates a Workflow's queued events.
type EventKind int

const (
	EventTextDelta EventKind = iota
	EventToolRequest
	EventError
)

// Event is one item delivered by WaitForEvent.
type Event struct {
	Kind        EventKind
	TextDelta   string
	ToolRequest actionmap.Normalized
	Err         error
}

// WorkflowCreator issues the Service's workflow-creation REST call.
// restclient.Client satisfies this.
type WorkflowCreator interface {
	CreateWorkflow(ctx context.Context, req restclient.CreateWorkflowRequest) (string, error)
}

// Passthrough issues the Service's api/v4 passthrough REST call, used for
// runHTTPRequest actions. restclient.Client satisfies this.
type Passthrough interface {
	Passthrough(ctx context.Context, method, path string, body []byte) (*restclient.HTTPResult, error)
}

// TokenSource supplies a short-lived bearer token for the socket handshake.
// tokenservice.Service satisfies this.
type TokenSource interface {
	Get(ctx context.Context, namespaceID string) (string, bool)
}

// Config is the static configuration of a Workflow, fixed at construction.
type Config struct {
	InstanceURL         string
	WorkflowDefinition  string
	Environment         string
	ProjectID           *int
	RootNamespaceID     string
	ClientVersion       string
	ExistingWorkflowID  string
	WSURL               func(token string) string
	ConnectTimeout      time.Duration
	HeartbeatInterval   time.Duration
	KeepaliveInterval   time.Duration
}

// Deps are the Workflow's external collaborators.
type Deps struct {
	Creator WorkflowCreator
	HTTP    Passthrough
	Tokens  TokenSource

	// DialWS defaults to wsclient.Connect; overridable for tests.
	DialWS func(ctx context.Context, cfg wsclient.Config) (*wsclient.Client, error)
	// OnWorkflowCreated is invoked once, synchronously, right after a new
	// workflow ID is minted — the caller persists it (internal/workflowstore).
	OnWorkflowCreated func(workflowID string)
}

// Workflow is a per-session state machine: create/resume workflow, send
// start, correlate standalone actions, drive approval-reconnect.
type Workflow struct {
	cfg  Config
	deps Deps

	mu                sync.Mutex
	workflowID        string
	conn              *wsclient.Client
	queue             *queue.Queue[Event]
	checkpointState   *checkpoint.State
	startRequestSent  bool
	pendingApproval   bool
	resumed           bool
	mcpTools          []protocol.MCPTool
	flowConfig        map[string]any
	flowConfigVersion string
}

// New constructs a Workflow bound to cfg/deps. If cfg.ExistingWorkflowID is
// set, the session is considered resumed: its first post-reconnect
// checkpoint contributes to state but emits no text deltas.
func New(cfg Config, deps Deps) *Workflow {
	if deps.DialWS == nil {
		deps.DialWS = wsclient.Connect
	}
	return &Workflow{
		cfg:             cfg,
		deps:            deps,
		workflowID:      cfg.ExistingWorkflowID,
		checkpointState: checkpoint.NewState(),
		resumed:         cfg.ExistingWorkflowID != "",
	}
}

// WorkflowID returns the workflow ID, or "" if not yet created.
func (w *Workflow) WorkflowID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.workflowID
}

// StartRequestSent reports whether a start request has been sent since
// the last connection teardown.
func (w *Workflow) StartRequestSent() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startRequestSent
}

// SetMCPTools installs the MCP tool list advertised in subsequent start
// requests.
func (w *Workflow) SetMCPTools(tools []protocol.MCPTool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mcpTools = tools
}

// SetFlowConfig installs the flow configuration (carrying the sanitized
// system prompt) used by the next SendStartRequest.
func (w *Workflow) SetFlowConfig(cfg map[string]any, schemaVersion string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flowConfig = cfg
	w.flowConfigVersion = schemaVersion
}

// EnsureConnected creates the remote workflow if necessary and opens a
// fresh socket + queue if neither is already present. It is a no-op if a
// socket and queue already exist.
func (w *Workflow) EnsureConnected(ctx context.Context, goal string) error {
	w.mu.Lock()
	if w.conn != nil && w.queue != nil {
		w.mu.Unlock()
		return nil
	}
	workflowID := w.workflowID
	w.mu.Unlock()

	if workflowID == "" {
		id, err := w.deps.Creator.CreateWorkflow(ctx, restclient.CreateWorkflowRequest{
			Goal:                    goal,
			WorkflowDefinition:      w.cfg.WorkflowDefinition,
			Environment:             w.cfg.Environment,
			AllowAgentToRequestUser: true,
			ProjectID:               w.cfg.ProjectID,
		})
		if err != nil {
			return err
		}
		w.mu.Lock()
		w.workflowID = id
		w.mu.Unlock()
		if w.deps.OnWorkflowCreated != nil {
			w.deps.OnWorkflowCreated(id)
		}
	}

	q := queue.New[Event]()
	conn, err := w.dial(ctx, q)
	if err != nil {
		q.Close()
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.queue = q
	w.mu.Unlock()
	return nil
}

func (w *Workflow) dial(ctx context.Context, q *queue.Queue[Event]) (*wsclient.Client, error) {
	token, _ := w.deps.Tokens.Get(ctx, w.cfg.RootNamespaceID)
	conn, err := w.deps.DialWS(ctx, wsclient.Config{
		URL:               w.cfg.WSURL(token),
		ConnectTimeout:    w.cfg.ConnectTimeout,
		HeartbeatInterval: w.cfg.HeartbeatInterval,
		KeepaliveInterval: w.cfg.KeepaliveInterval,
		OnAction:          w.handleAction,
		OnDecodeError:     func(err error) { q.Push(Event{Kind: EventError, Err: err}) },
		OnClose:           w.handleClose,
	})
	if err != nil {
		return nil, coreerr.New(classifyDialError(err), err)
	}
	return conn, nil
}

func classifyDialError(err error) coreerr.Kind {
	if strings.Contains(err.Error(), "CONNECT_TIMEOUT") {
		return coreerr.ConnectTimeout
	}
	return coreerr.ConnectFailed
}

// SendStartRequest sends a startRequest client event with the given goal
// and additional-context items, using the MCP tools and flow config
// previously installed via SetMCPTools/SetFlowConfig.
func (w *Workflow) SendStartRequest(goal string, additionalContext []protocol.AdditionalContextItem) error {
	w.mu.Lock()
	conn := w.conn
	workflowID := w.workflowID
	body := protocol.StartRequestBody{
		WorkflowID:              workflowID,
		ClientVersion:           w.cfg.ClientVersion,
		WorkflowDefinition:      w.cfg.WorkflowDefinition,
		Goal:                    goal,
		WorkflowMetadata:        `{"extended_logging":false}`,
		ClientCapabilities:      []string{"shell_command"},
		MCPTools:                w.mcpTools,
		AdditionalContext:       additionalContext,
		PreapprovedTools:        toolNames(w.mcpTools),
		FlowConfig:              w.flowConfig,
		FlowConfigSchemaVersion: w.flowConfigVersion,
	}
	w.mu.Unlock()

	if conn == nil || workflowID == "" {
		return coreerr.New(coreerr.NotConnected, fmt.Errorf("socket or workflow id not ready"))
	}

	conn.Send(protocol.StartRequestEvent{StartRequest: body})
	w.mu.Lock()
	w.startRequestSent = true
	w.mu.Unlock()
	return nil
}

// SendToolResult forwards a Host-produced tool result to the Service.
func (w *Workflow) SendToolResult(reqID, output, errMsg string) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	if conn == nil {
		return coreerr.New(coreerr.NotConnected, fmt.Errorf("no open socket"))
	}
	conn.Send(protocol.ActionResponseEvent{ActionResponse: protocol.ActionResponseBody{
		RequestID:         reqID,
		PlainTextResponse: &protocol.PlainTextResponse{Response: output, Error: errMsg},
	}})
	return nil
}

// Abort sends a best-effort stopWorkflow event and tears the connection
// down. Idempotent.
func (w *Workflow) Abort() {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	if conn != nil {
		conn.Send(protocol.NewStopWorkflow("ABORTED"))
	}
	w.teardown()
}

// WaitForEvent blocks for the next queued event, returning ok=false once
// the queue is closed (end of stream).
func (w *Workflow) WaitForEvent() (Event, bool) {
	w.mu.Lock()
	q := w.queue
	w.mu.Unlock()
	if q == nil {
		return Event{}, false
	}
	return q.Take()
}

func (w *Workflow) handleAction(a protocol.Action) {
	if a.Checkpoint != nil {
		w.handleCheckpoint(a.Checkpoint)
		return
	}
	if httpAction, ok := protocol.DecodeHTTPRequestAction(a.ToolRaw); ok {
		go w.handleHTTPRequest(*httpAction)
		return
	}
	w.handleToolAction(a.ToolRaw)
}

func (w *Workflow) handleCheckpoint(cp *protocol.CheckpointAction) {
	w.mu.Lock()
	state := w.checkpointState
	resumed := w.resumed
	q := w.queue
	w.mu.Unlock()

	deltas, err := checkpoint.ExtractAgentTextDeltas([]byte(cp.NewCheckpoint.Checkpoint), state)
	if err != nil {
		if q != nil {
			q.Push(Event{Kind: EventError, Err: err})
		}
		return
	}

	if resumed {
		w.mu.Lock()
		w.resumed = false
		w.mu.Unlock()
	} else if q != nil {
		for _, d := range deltas {
			q.Push(Event{Kind: EventTextDelta, TextDelta: d})
		}
	}

	status := cp.NewCheckpoint.Status
	switch {
	case status == protocol.StatusToolCallApprovalRequired:
		w.mu.Lock()
		w.pendingApproval = true
		w.mu.Unlock()
	case protocol.IsTerminal(status) || protocol.IsTurnBoundary(status):
		w.teardown()
	}
}

func (w *Workflow) handleHTTPRequest(action protocol.HTTPRequestAction) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := w.deps.HTTP.Passthrough(ctx, action.Method, action.Path, []byte(action.Body))

	var respBody protocol.HTTPResponseBody
	if err != nil {
		respBody = protocol.HTTPResponseBody{Headers: map[string]string{}, Error: err.Error()}
	} else {
		respBody = protocol.HTTPResponseBody{StatusCode: result.StatusCode, Headers: result.Headers, Body: result.Body}
	}

	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return
	}
	conn.Send(protocol.ActionResponseEvent{ActionResponse: protocol.ActionResponseBody{
		RequestID:    action.RequestID,
		HTTPResponse: &respBody,
	}})
}

func (w *Workflow) handleToolAction(raw map[string]json.RawMessage) {
	norm, ok := actionmap.Map(raw)
	if !ok {
		slog.Debug("session: dropping unrecognized or request-id-less action",
			"component", "session", "workflow_id", w.workflowID)
		return
	}

	w.mu.Lock()
	q := w.queue
	w.mu.Unlock()
	if q == nil {
		return
	}
	q.Push(Event{Kind: EventToolRequest, ToolRequest: norm})
}

func (w *Workflow) handleClose(code int, reason string) {
	w.mu.Lock()
	pending := w.pendingApproval
	w.pendingApproval = false
	q := w.queue
	if !pending {
		w.conn = nil
		w.queue = nil
		w.startRequestSent = false
	}
	w.mu.Unlock()

	if pending {
		w.reconnectWithApproval(q)
		return
	}
	if q != nil {
		q.Close()
	}
}

func (w *Workflow) reconnectWithApproval(q *queue.Queue[Event]) {
	ctx, cancel := context.WithTimeout(context.Background(), wsclient.DefaultConnectTimeout)
	defer cancel()

	conn, err := w.dial(ctx, q)
	if err != nil {
		q.Close()
		return
	}

	w.mu.Lock()
	w.conn = conn
	w.queue = q
	workflowID := w.workflowID
	mcpTools := w.mcpTools
	w.mu.Unlock()

	body := protocol.StartRequestBody{
		WorkflowID:         workflowID,
		ClientVersion:      w.cfg.ClientVersion,
		WorkflowDefinition: w.cfg.WorkflowDefinition,
		WorkflowMetadata:   `{"extended_logging":false}`,
		ClientCapabilities: []string{"shell_command"},
		MCPTools:           mcpTools,
		AdditionalContext:  []protocol.AdditionalContextItem{},
		PreapprovedTools:   toolNames(mcpTools),
		Approval:           &protocol.ApprovalMarker{},
	}
	conn.Send(protocol.StartRequestEvent{StartRequest: body})
}

func (w *Workflow) teardown() {
	w.mu.Lock()
	conn := w.conn
	q := w.queue
	w.conn = nil
	w.queue = nil
	w.pendingApproval = false
	w.startRequestSent = false
	w.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if q != nil {
		q.Close()
	}
}

func toolNames(tools []protocol.MCPTool) []string {
	if len(tools) == 0 {
		return nil
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}
