package protocol

// MCPTool describes a single MCP tool advertised to the Service in a start request.
type MCPTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// AdditionalContextItem is one entry of the startRequest's additional_context list.
type AdditionalContextItem struct {
	Category string `json:"category"`
	ID       string `json:"id,omitempty"`
	Content  string `json:"content"`
}

// ApprovalMarker is the literal {"approval":{}} tag sent in the approval-reconnect
// start request, per spec §4.7.
type ApprovalMarker struct {
	Approval struct{} `json:"approval"`
}

// StartRequestBody is the payload of a startRequest client event.
type StartRequestBody struct {
	WorkflowID              string                   `json:"workflowID"`
	ClientVersion            string                   `json:"clientVersion"`
	WorkflowDefinition      string                   `json:"workflowDefinition"`
	Goal                    string                   `json:"goal"`
	WorkflowMetadata        string                   `json:"workflowMetadata"`
	ClientCapabilities      []string                 `json:"clientCapabilities"`
	MCPTools                []MCPTool                `json:"mcpTools,omitempty"`
	AdditionalContext       []AdditionalContextItem  `json:"additional_context"`
	PreapprovedTools        []string                 `json:"preapproved_tools,omitempty"`
	FlowConfig              map[string]any           `json:"flowConfig,omitempty"`
	FlowConfigSchemaVersion string                   `json:"flowConfigSchemaVersion,omitempty"`
	Approval                *ApprovalMarker          `json:"approval,omitempty"`
}

// StartRequestEvent is the top-level {"startRequest": {...}} client event.
type StartRequestEvent struct {
	StartRequest StartRequestBody `json:"startRequest"`
}

// PlainTextResponse is a tool-result response sent back to the Service.
type PlainTextResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// HTTPResponseBody is the runHTTPRequest passthrough response.
type HTTPResponseBody struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Error      string            `json:"error,omitempty"`
}

// ActionResponseBody is the payload of an actionResponse client event.
type ActionResponseBody struct {
	RequestID         string              `json:"requestID"`
	PlainTextResponse *PlainTextResponse  `json:"plainTextResponse,omitempty"`
	HTTPResponse      *HTTPResponseBody   `json:"httpResponse,omitempty"`
}

// ActionResponseEvent is the top-level {"actionResponse": {...}} client event.
type ActionResponseEvent struct {
	ActionResponse ActionResponseBody `json:"actionResponse"`
}

// HeartbeatEvent is the top-level {"heartbeat": {...}} client event.
type HeartbeatEvent struct {
	Heartbeat struct {
		Timestamp int64 `json:"timestamp"`
	} `json:"heartbeat"`
}

// StopWorkflowEvent is the top-level {"stopWorkflow": {...}} client event.
type StopWorkflowEvent struct {
	StopWorkflow struct {
		Reason string `json:"reason"`
	} `json:"stopWorkflow"`
}

// NewHeartbeat builds a heartbeat client event carrying the given unix
// millisecond timestamp.
func NewHeartbeat(unixMilli int64) HeartbeatEvent {
	e := HeartbeatEvent{}
	e.Heartbeat.Timestamp = unixMilli
	return e
}

// NewStopWorkflow builds a stopWorkflow client event.
func NewStopWorkflow(reason string) StopWorkflowEvent {
	e := StopWorkflowEvent{}
	e.StopWorkflow.Reason = reason
	return e
}
