// Package restclient consumes the Service's REST endpoints: workflow
// creation, direct_access token issuance, and the api/v4 passthrough used
// by runHTTPRequest actions.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gaetan-puleo/opencode-duo-workflow/internal/coreerr"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/tokenservice"
)

// Authorizer resolves the bearer token used to authenticate against the
// Service's REST API. Implemented by internal/credentials.
type Authorizer interface {
	Authorization(ctx context.Context) (string, error)
}

// Client is a thin HTTP client bound to a single Service instance. It makes
// exactly one attempt per call: retries, none automatic, the only reconnect
// in this system is the approval-triggered socket handshake in
// internal/session, not a retry of a REST call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authz      Authorizer
}

// New creates a Client for the given instance base URL (e.g.
// "https://gitlab.example.com"). timeout bounds every request the Client
// issues; a zero value falls back to 30s.
func New(baseURL string, authz Authorizer, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		authz:      authz,
	}
}

// CreateWorkflowRequest is the body of POST ai/duo_workflows/workflows.
type CreateWorkflowRequest struct {
	Goal                    string `json:"goal"`
	WorkflowDefinition      string `json:"workflow_definition"`
	Environment             string `json:"environment"`
	AllowAgentToRequestUser bool   `json:"allow_agent_to_request_user"`
	ProjectID               *int   `json:"project_id,omitempty"`
}

type createWorkflowResponse struct {
	ID      json.RawMessage `json:"id"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// CreateWorkflow creates a remote workflow and returns its ID as a string
// (the Service may reply with either a JSON number or a JSON string).
func (c *Client) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (string, error) {
	var resp createWorkflowResponse
	err := c.doJSON(ctx, http.MethodPost, "/ai/duo_workflows/workflows", req, &resp)
	if err != nil {
		return "", coreerr.New(coreerr.WorkflowCreateFailed, err)
	}
	if resp.Error != "" || resp.Message != "" {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		return "", coreerr.New(coreerr.WorkflowCreateFailed, fmt.Errorf("%s", msg))
	}

	id, err := decodeIDAsString(resp.ID)
	if err != nil {
		return "", coreerr.New(coreerr.WorkflowCreateFailed, err)
	}
	return id, nil
}

func decodeIDAsString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("workflow id is neither string nor number: %s", raw)
}

type directAccessRequest struct {
	WorkflowDefinition string `json:"workflow_definition"`
	RootNamespaceID    string `json:"root_namespace_id,omitempty"`
}

type directAccessResponse struct {
	Token              string `json:"token"`
	DuoWorkflowService *struct {
		TokenExpiresAt *int64 `json:"token_expires_at"`
	} `json:"duo_workflow_service,omitempty"`
	GitlabRails *struct {
		TokenExpiresAt *string `json:"token_expires_at"`
	} `json:"gitlab_rails,omitempty"`
}

// DirectAccess issues a short-lived Service-access token, implementing
// tokenservice.Fetcher.
func (c *Client) DirectAccess(ctx context.Context, workflowDefinition, rootNamespaceID string) (*tokenservice.DirectAccessResponse, error) {
	var resp directAccessResponse
	err := c.doJSON(ctx, http.MethodPost, "/ai/duo_workflows/direct_access", directAccessRequest{
		WorkflowDefinition: workflowDefinition,
		RootNamespaceID:    rootNamespaceID,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := &tokenservice.DirectAccessResponse{Token: resp.Token}
	if resp.DuoWorkflowService != nil {
		out.ServiceTokenExpiresAt = resp.DuoWorkflowService.TokenExpiresAt
	}
	if resp.GitlabRails != nil {
		out.RailsTokenExpiresAt = resp.GitlabRails.TokenExpiresAt
	}
	return out, nil
}

// HTTPResult is the outcome of a Passthrough call.
type HTTPResult struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// Passthrough issues an arbitrary api/v4/<path> request on behalf of a
// runHTTPRequest action. It never returns a transport error to the
// caller's error return for 4xx/5xx responses — only genuine failures to
// send the request do. The caller (internal/session) is responsible for
// translating failures into the Service-facing {statusCode:0, error} shape.
func (c *Client) Passthrough(ctx context.Context, method, path string, body []byte) (*HTTPResult, error) {
	url := c.baseURL + "/api/v4/" + strings.TrimPrefix(path, "/")

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(ctx, httpReq); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &HTTPResult{StatusCode: resp.StatusCode, Headers: headers, Body: string(data)}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, httpReq); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, respBody)
	}
	if out != nil {
		return json.Unmarshal(respBody, out)
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.authz == nil {
		return nil
	}
	token, err := c.authz.Authorization(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}
