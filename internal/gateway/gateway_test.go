package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/gaetan-puleo/opencode-duo-workflow/internal/modelcache"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/restclient"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/session"
	"github.com/gaetan-puleo/opencode-duo-workflow/internal/workflowstore"
)

type fakeCreator struct{ id string }

func (f fakeCreator) CreateWorkflow(ctx context.Context, req restclient.CreateWorkflowRequest) (string, error) {
	return f.id, nil
}

type fakePassthrough struct{}

func (fakePassthrough) Passthrough(ctx context.Context, method, path string, body []byte) (*restclient.HTTPResult, error) {
	return &restclient.HTTPResult{StatusCode: 200, Headers: map[string]string{}, Body: "{}"}, nil
}

func wsURL(httpURL string) string { return "ws" + strings.TrimPrefix(httpURL, "http") }

func jsonQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func TestHandleHealthReportsOK(t *testing.T) {
	g := New(Dependencies{Store: workflowstore.Open(t.TempDir() + "/wf.db"), ModelCache: modelcache.Open(t.TempDir() + "/mc.db")})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	g.handleHealth(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleModelsReturnsEmptyArrayForUnknownInstance(t *testing.T) {
	cache := modelcache.Open(t.TempDir() + "/mc.db")
	g := New(Dependencies{Store: workflowstore.Open(t.TempDir() + "/wf.db"), ModelCache: cache})
	req := httptest.NewRequest(http.MethodGet, "/v1/models?instanceUrl=https://example.com", nil)
	rec := httptest.NewRecorder()
	g.handleModels(rec, req)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("code=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestExtractHostSessionIDPrefersPathThenProviderOptionsThenHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/stream", nil)
	req.SetPathValue("id", "s1")
	if got := extractHostSessionID(req, streamRequestBody{}); got != "s1" {
		t.Fatalf("got %q", got)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/v1/sessions//stream", nil)
	body := streamRequestBody{ProviderOptions: map[string]map[string]any{
		providerNamespace: {"workflowSessionID": "from-options"},
	}}
	if got := extractHostSessionID(req2, body); got != "from-options" {
		t.Fatalf("got %q", got)
	}

	req3 := httptest.NewRequest(http.MethodPost, "/v1/sessions//stream", nil)
	req3.Header.Set("x-opencode-session", "from-header")
	if got := extractHostSessionID(req3, streamRequestBody{}); got != "from-header" {
		t.Fatalf("got %q", got)
	}
}

func TestHandleStreamMissingSessionIDReturns400(t *testing.T) {
	g := New(Dependencies{Store: workflowstore.Open(t.TempDir() + "/wf.db"), ModelCache: modelcache.Open(t.TempDir() + "/mc.db")})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions//stream", strings.NewReader(`{"messages":[]}`))
	req.SetPathValue("id", "")
	rec := httptest.NewRecorder()
	g.handleStream(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code=%d", rec.Code)
	}
}

func TestHandleStreamEmitsTextDeltaThenFinish(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close()
		checkpoint := `{"channel_values":{"ui_chat_log":[{"message_type":"agent","content":"Hello."}]}}`
		frame := `{"newCheckpoint":{"status":"FINISHED","checkpoint":` + jsonQuote(checkpoint) + `,"goal":"g"}}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	g := New(Dependencies{
		Creator:            fakeCreator{id: "wf-1"},
		HTTP:               fakePassthrough{},
		Store:              workflowstore.Open(t.TempDir() + "/wf.db"),
		ModelCache:         modelcache.Open(t.TempDir() + "/mc.db"),
		WorkflowDefinition: "software_development",
		WSURL:              func(string) string { return wsURL(srv.URL) },
	})
	mux := http.NewServeMux()
	g.Routes(mux)

	payload, _ := json.Marshal(map[string]any{
		"messages": []map[string]any{
			{"role": "user", "parts": []map[string]any{{"type": "text", "text": "hi"}}},
		},
		"instanceUrl": "https://example.com",
		"modelId":     "m1",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/stream", strings.NewReader(string(payload)))
	req.SetPathValue("id", "s1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}

	var sawDelta, sawFinish bool
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var ev map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("invalid ndjson line %q: %v", scanner.Text(), err)
		}
		switch ev["type"] {
		case "text-delta":
			if ev["delta"] == "Hello." {
				sawDelta = true
			}
		case "finish":
			sawFinish = true
		}
	}
	if !sawDelta {
		t.Fatal("expected a text-delta event with \"Hello.\"")
	}
	if !sawFinish {
		t.Fatal("expected a finish event")
	}
}

func TestHandleDeleteRemovesSessionAndAdapter(t *testing.T) {
	g := New(Dependencies{
		Creator:            fakeCreator{id: "wf-1"},
		Store:              workflowstore.Open(t.TempDir() + "/wf.db"),
		ModelCache:         modelcache.Open(t.TempDir() + "/mc.db"),
		WorkflowDefinition: "software_development",
		WSURL:              func(string) string { return "" },
	})

	key := "https://example.com" + "\x1f" + "m1" + "\x1f" + "s1"
	storeKey := workflowstore.Key{InstanceURL: "https://example.com", ModelID: "m1", HostSessionID: "s1"}
	wf := session.New(session.Config{WorkflowDefinition: "software_development"}, session.Deps{Creator: fakeCreator{id: "wf-1"}})
	g.registry.GetOrCreate(key, storeKey, func(string) *session.Workflow { return wf })
	g.adapterFor(key, boundSessionProvider{registry: g.registry, key: key, storeKey: storeKey, build: func(string) *session.Workflow { return wf }})

	req := httptest.NewRequest(http.MethodDelete, "/v1/sessions/s1?instanceUrl=https://example.com&modelId=m1", nil)
	req.SetPathValue("id", "s1")
	rec := httptest.NewRecorder()
	g.handleDelete(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("code=%d", rec.Code)
	}
	if _, ok := g.registry.lookup(key); ok {
		t.Fatal("expected session to be removed from the registry")
	}
}
