// Package gateway exposes the workflow-bridge engine's Host-facing
// surface over HTTP: a process-wide session registry plus the
// stream/abort/dispose/health endpoints, grounded on vm-agent's
// internal/server.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gaetan-puleo/opencode-duo-workflow/internal/adapter"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/modelcache"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/prompt"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/session"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/tokenservice"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/workflowstore"
)

// providerNamespace is the providerOptions key this gateway reads
// workflowSessionID from, per spec.md §6 "Session ID transport".
const providerNamespace = "duo-workflow"

// sessionIDHeader is the fallback transport for the host-session-ID.
const sessionIDHeader = "x-opencode-session"

// Registry is the process-wide map from session key to the Workflow that
// owns its socket and state machine. One entry lives for the lifetime of
// a Host chat session; Dispose tears it down.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session.Workflow
	store    *workflowstore.Store
}

// NewRegistry constructs an empty Registry backed by store for
// workflow-ID persistence across process restarts.
func NewRegistry(store *workflowstore.Store) *Registry {
	return &Registry{sessions: map[string]*session.Workflow{}, store: store}
}

// GetOrCreate returns the cached Workflow for key, or builds one via
// build (seeded with any previously persisted workflow ID for storeKey)
// and caches it.
func (r *Registry) GetOrCreate(key string, storeKey workflowstore.Key, build func(existingWorkflowID string) *session.Workflow) *session.Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wf, ok := r.sessions[key]; ok {
		return wf
	}
	existingID, _ := r.store.Get(storeKey)
	wf := build(existingID)
	r.sessions[key] = wf
	return wf
}

// Dispose aborts and removes the session registered under key, if any.
func (r *Registry) Dispose(key string) {
	r.mu.Lock()
	wf, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if ok {
		wf.Abort()
	}
}

// lookup returns the Workflow registered under key without creating one.
func (r *Registry) lookup(key string) (*session.Workflow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wf, ok := r.sessions[key]
	return wf, ok
}

type boundSessionProvider struct {
	registry *Registry
	key      string
	storeKey workflowstore.Key
	build    func(existingWorkflowID string) *session.Workflow
}

func (p boundSessionProvider) Resolve(ctx context.Context, key string) (*session.Workflow, error) {
	return p.registry.GetOrCreate(p.key, p.storeKey, p.build), nil
}

// Dependencies collects the shared collaborators the Gateway wires into
// every session it creates.
type Dependencies struct {
	Creator            session.WorkflowCreator
	HTTP               session.Passthrough
	Tokens             *tokenservice.Service
	Store              *workflowstore.Store
	ModelCache         *modelcache.Cache
	WorkflowDefinition string
	Environment        string
	ClientVersion      string
	WSURL              func(token string) string
	ConnectTimeout     time.Duration
	HeartbeatInterval  time.Duration
	KeepaliveInterval  time.Duration
}

// Gateway is the Host-facing HTTP surface: one Registry of sessions and
// one long-lived Adapter per session key (the Adapter's tracking state,
// like the Workflow's, must outlive a single turn).
type Gateway struct {
	deps     Dependencies
	registry *Registry

	mu       sync.Mutex
	adapters map[string]*adapter.Adapter
}

// New constructs a Gateway. deps.Store must already be open.
func New(deps Dependencies) *Gateway {
	return &Gateway{
		deps:     deps,
		registry: NewRegistry(deps.Store),
		adapters: map[string]*adapter.Adapter{},
	}
}

// Routes registers the gateway's endpoints on mux.
func (g *Gateway) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions/{id}/stream", g.handleStream)
	mux.HandleFunc("POST /v1/sessions/{id}/abort", g.handleAbort)
	mux.HandleFunc("DELETE /v1/sessions/{id}", g.handleDelete)
	mux.HandleFunc("GET /v1/models", g.handleModels)
	mux.HandleFunc("GET /healthz", g.handleHealth)
}

// handleModels serves the cached workflow-definition list for an instance,
// feeding the Host's model-picker handshake. An empty/uncached instance
// returns an empty array rather than an error: model discovery beyond this
// cache lookup is the Host SDK's responsibility.
func (g *Gateway) handleModels(w http.ResponseWriter, r *http.Request) {
	instanceURL := r.URL.Query().Get("instanceUrl")
	defs, _ := g.deps.ModelCache.Get(instanceURL)
	if defs == nil {
		defs = []modelcache.Definition{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(defs)
}

type streamRequestBody struct {
	Messages        []prompt.Message          `json:"messages"`
	ProviderOptions map[string]map[string]any `json:"providerOptions,omitempty"`
	InstanceURL     string                     `json:"instanceUrl"`
	ModelID         string                     `json:"modelId"`
	RootNamespaceID string                     `json:"rootNamespaceId,omitempty"`
	ProjectID       *int                       `json:"projectId,omitempty"`
}

func extractHostSessionID(r *http.Request, body streamRequestBody) string {
	if id := r.PathValue("id"); id != "" {
		return id
	}
	if ns, ok := body.ProviderOptions[providerNamespace]; ok {
		if id, _ := ns["workflowSessionID"].(string); strings.TrimSpace(id) != "" {
			return strings.TrimSpace(id)
		}
	}
	return strings.TrimSpace(r.Header.Get(sessionIDHeader))
}

func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	var body streamRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	hostSessionID := extractHostSessionID(r, body)
	if hostSessionID == "" {
		http.Error(w, "MISSING_SESSION_ID", http.StatusBadRequest)
		return
	}

	key := adapter.SessionKey(body.InstanceURL, body.ModelID, hostSessionID)
	storeKey := workflowstore.Key{InstanceURL: body.InstanceURL, ModelID: body.ModelID, HostSessionID: hostSessionID}

	provider := boundSessionProvider{
		registry: g.registry,
		key:      key,
		storeKey: storeKey,
		build:    g.buildWorkflow(body, storeKey),
	}

	ada := g.adapterFor(key, provider)

	ctx := r.Context()
	abort := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(abort)
	}()

	events, err := ada.Stream(ctx, adapter.StreamOptions{
		InstanceURL:   body.InstanceURL,
		ModelID:       body.ModelID,
		HostSessionID: hostSessionID,
		Messages:      body.Messages,
		Abort:         abort,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			slog.Error("gateway: failed to encode host event",
				"component", "gateway", "session", hostSessionID, "error", err)
			continue
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (g *Gateway) buildWorkflow(body streamRequestBody, storeKey workflowstore.Key) func(existingWorkflowID string) *session.Workflow {
	return func(existingWorkflowID string) *session.Workflow {
		wf := session.New(session.Config{
			InstanceURL:        body.InstanceURL,
			WorkflowDefinition: g.deps.WorkflowDefinition,
			Environment:        g.deps.Environment,
			ProjectID:          body.ProjectID,
			RootNamespaceID:    body.RootNamespaceID,
			ClientVersion:      g.deps.ClientVersion,
			ExistingWorkflowID: existingWorkflowID,
			WSURL:              g.deps.WSURL,
			ConnectTimeout:     g.deps.ConnectTimeout,
			HeartbeatInterval:  g.deps.HeartbeatInterval,
			KeepaliveInterval:  g.deps.KeepaliveInterval,
		}, session.Deps{
			Creator: g.deps.Creator,
			HTTP:    g.deps.HTTP,
			Tokens:  g.deps.Tokens,
			OnWorkflowCreated: func(id string) {
				g.deps.Store.Put(storeKey, id)
			},
		})
		return wf
	}
}

func (g *Gateway) adapterFor(key string, provider adapter.SessionProvider) *adapter.Adapter {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a, ok := g.adapters[key]; ok {
		return a
	}
	a := adapter.New(provider)
	g.adapters[key] = a
	return a
}

func (g *Gateway) handleAbort(w http.ResponseWriter, r *http.Request) {
	hostSessionID := r.PathValue("id")
	instanceURL := r.URL.Query().Get("instanceUrl")
	modelID := r.URL.Query().Get("modelId")
	key := adapter.SessionKey(instanceURL, modelID, hostSessionID)

	if wf, ok := g.registry.lookup(key); ok {
		wf.Abort()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	hostSessionID := r.PathValue("id")
	instanceURL := r.URL.Query().Get("instanceUrl")
	modelID := r.URL.Query().Get("modelId")
	key := adapter.SessionKey(instanceURL, modelID, hostSessionID)

	g.registry.Dispose(key)

	g.mu.Lock()
	delete(g.adapters, key)
	g.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ReadTimeout and IdleTimeout are fallback HTTP server timeouts.
// cmd/duo-workflow-core does not use them: it takes its server timeouts
// from internal/config (HTTP_READ_TIMEOUT, HTTP_IDLE_TIMEOUT).
const (
	ReadTimeout = 30 * time.Second
	IdleTimeout = 120 * time.Second
)

// CORSMiddleware adds CORS headers, supporting wildcard subdomain entries
// like "https://*.example.com" in allowedOrigins.
func CORSMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := false

		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
			if strings.Contains(o, "*.") {
				wildcardIdx := strings.Index(o, "*.")
				prefix := o[:wildcardIdx]
				suffix := o[wildcardIdx+1:]
				if strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
					allowed = true
					break
				}
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
