package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R0m1k3/n8ngest/internal/apperr"
	"github.com/R0m1k3/n8ngest/internal/chat"
	"github.com/R0m1k3/n8ngest/internal/config"
	"github.com/R0m1k3/n8ngest/internal/llm"
	"github.com/R0m1k3/n8ngest/internal/n8n"
	"github.com/R0m1k3/n8ngest/internal/persona"
	"github.com/R0m1k3/n8ngest/internal/store"
)

// fakeN8N is a minimal workflow server holding one inactive workflow.
type fakeN8N struct {
	mu      sync.Mutex
	calls   []string
	runBody map[string]string
	html    bool
}

const invoiceJSON = `{"id":"wf_1","name":"Invoice Processor","active":false,"nodes":[{"id":"n1","name":"Webhook","type":"n8n-nodes-base.webhook","typeVersion":1,"position":[0,0],"parameters":{"path":"invoice"}}],"connections":{},"createdAt":"2026-01-01T00:00:00Z","updatedAt":"2026-01-02T00:00:00Z","versionId":"v1"}`

func (f *fakeN8N) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+strings.TrimPrefix(r.URL.Path, "/api/v1"))

	if f.html {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<!DOCTYPE html><html></html>")
		return
	}
	if r.Header.Get("X-N8N-API-KEY") != "test-key" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"unauthorized"}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/workflows":
		_, _ = io.WriteString(w, `{"data":[`+invoiceJSON+`],"nextCursor":null}`)
	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/workflows/wf_1":
		_, _ = io.WriteString(w, invoiceJSON)
	case r.Method == http.MethodPut && r.URL.Path == "/api/v1/workflows/wf_1":
		var doc map[string]any
		_ = json.NewDecoder(r.Body).Decode(&doc)
		doc["id"] = "wf_1"
		_ = json.NewEncoder(w).Encode(doc)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/workflows/wf_1/run":
		b, _ := io.ReadAll(r.Body)
		f.runBody["wf_1"] = string(b)
		_, _ = io.WriteString(w, `{"id":42,"workflowId":"wf_1","mode":"manual","finished":false}`)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/workflows":
		var doc map[string]any
		_ = json.NewDecoder(r.Body).Decode(&doc)
		doc["id"] = "wf_new"
		_ = json.NewEncoder(w).Encode(doc)
	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/executions":
		_, _ = io.WriteString(w, `{"data":[{"id":7,"workflowId":"wf_1","status":"success","mode":"manual","finished":true}],"nextCursor":null}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"Not Found"}`)
	}
}

func (f *fakeN8N) called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

type scriptedProvider struct{ chunks []string }

func (p *scriptedProvider) Stream(_ context.Context, _ llm.Request, onDelta llm.DeltaFunc) error {
	for _, c := range p.chunks {
		if err := onDelta(c); err != nil {
			return err
		}
	}
	return nil
}

type fakeModels struct{ invalidated int }

func (m *fakeModels) Models(context.Context) ([]llm.Model, error) {
	return []llm.Model{{ID: "a/alpha", Name: "Alpha"}}, nil
}
func (m *fakeModels) Invalidate() { m.invalidated++ }

type env struct {
	srv      *httptest.Server
	n8n      *fakeN8N
	provider *scriptedProvider
	models   *fakeModels
	store    *store.Memory
	factory  *llm.Factory
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fake := &fakeN8N{runBody: map[string]string{}}
	n8nSrv := httptest.NewServer(fake)
	t.Cleanup(n8nSrv.Close)

	agentsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(agentsDir, "analyst.md"),
		[]byte("---\nname: Mary\ndescription: Business analyst\n---\nYou analyse.\n"), 0o644))

	st := store.NewMemory()
	resolver := config.NewResolver(config.Options{Store: st, Getenv: func(string) string { return "" }})
	client := n8n.NewClient(n8n.Fixed(n8nSrv.URL, "test-key"), nil)
	reconciler := n8n.NewReconciler(client, nil)
	personas := persona.NewLoader(persona.Dir(agentsDir), nil)

	e := &env{n8n: fake, provider: &scriptedProvider{}, models: &fakeModels{}, store: st}
	factory := llm.Factory(func(context.Context) (llm.Provider, error) { return e.provider, nil })
	e.factory = &factory

	orch := chat.New(chat.Options{
		Directory: client,
		Workflows: reconciler,
		Personas:  personas,
		Providers: func(ctx context.Context) (llm.Provider, error) { return (*e.factory)(ctx) },
		Sessions:  st,
	})

	e.srv = httptest.NewServer(NewServer(Options{
		Chat:       orch,
		Directory:  client,
		Reconciler: reconciler,
		Agents:     personas,
		Models:     e.models,
		Settings:   resolver,
		Store:      st,
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) do(t *testing.T, method, path, body string) (*http.Response, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(b)
}

func TestChatStreamsPlainTextWithoutCommand(t *testing.T) {
	e := newEnv(t)
	e.provider.chunks = []string{"Here is ", "how to build **Test**."}

	res, body := e.do(t, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"create a workflow called Test"}]}`)

	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", res.Header.Get("Content-Type"))
	assert.Equal(t, "Here is how to build **Test**.", body)
	assert.NotEmpty(t, res.Header.Get(headerSessionID))
	assert.Empty(t, res.Trailer.Get(trailerWorkflowResult))

	assert.False(t, e.n8n.called("PUT"))
	assert.False(t, e.n8n.called("POST"))
}

func TestChatDispatchesExecuteCommand(t *testing.T) {
	e := newEnv(t)
	e.provider.chunks = []string{
		"Launching.\n```workflow-command\n",
		`{"action":"execute","workflowId":"wf_1"}`,
		"\n```",
	}

	res, body := e.do(t, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"run the invoice flow"}]}`)

	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "Launching.")
	assert.True(t, e.n8n.called("POST /workflows/wf_1/run"))
	assert.JSONEq(t, `{}`, e.n8n.runBody["wf_1"])

	var result resultTrailer
	require.NoError(t, json.Unmarshal([]byte(res.Trailer.Get(trailerWorkflowResult)), &result))
	assert.Equal(t, resultTrailer{Success: true, Action: "execute", WorkflowID: "wf_1"}, result)

	sessionID := res.Header.Get(headerSessionID)
	sess, err := e.store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)
}

func TestChatResultReadableAfterStream(t *testing.T) {
	e := newEnv(t)

	e.provider.chunks = []string{"Just text."}
	res, _ := e.do(t, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hello"}]}`)
	sessionID := res.Header.Get(headerSessionID)
	require.NotEmpty(t, sessionID)

	res, _ = e.do(t, http.MethodGet, "/api/chat/sessions/"+sessionID+"/workflow-result", "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	e.provider.chunks = []string{"```workflow-command\n{\"action\":\"execute\",\"workflowId\":\"wf_1\"}\n```"}
	res, _ = e.do(t, http.MethodPost, "/api/chat",
		`{"sessionId":"`+sessionID+`","messages":[{"role":"user","content":"hello"},{"role":"assistant","content":"Just text."},{"role":"user","content":"run it"}]}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, sessionID, res.Header.Get(headerSessionID))

	res, body := e.do(t, http.MethodGet, "/api/chat/sessions/"+sessionID+"/workflow-result", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"success":true,"action":"execute","workflowId":"wf_1"}`, body)

	res, _ = e.do(t, http.MethodDelete, "/api/chat/sessions/"+sessionID, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = e.do(t, http.MethodGet, "/api/chat/sessions/"+sessionID+"/workflow-result", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestChatExplicitWorkflowAction(t *testing.T) {
	e := newEnv(t)

	res, body := e.do(t, http.MethodPost, "/api/chat",
		`{"messages":[],"workflowAction":{"action":"update","workflowId":"wf_1","changes":{"name":"Invoice v2"}}}`)
	require.Equal(t, http.StatusOK, res.StatusCode, body)

	var result chat.Result
	require.NoError(t, json.Unmarshal([]byte(body), &result))
	assert.True(t, result.Success)
	require.NotNil(t, result.Workflow)
	assert.Equal(t, "Invoice v2", result.Workflow.Name)
	assert.True(t, e.n8n.called("GET /workflows/wf_1"))
	assert.True(t, e.n8n.called("PUT /workflows/wf_1"))

	res, body = e.do(t, http.MethodPost, "/api/chat", `{"workflowAction":{"action":"delete","workflowId":"wf_1"}}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, body, `"success":false`)
}

func TestChatConfigurationError(t *testing.T) {
	e := newEnv(t)
	*e.factory = func(context.Context) (llm.Provider, error) {
		return nil, &apperr.ConfigurationError{Key: config.KeyAIAPIKey}
	}

	res, body := e.do(t, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, body, "AI_API_KEY is not configured")

	res, _ = e.do(t, http.MethodPost, "/api/chat", `not json`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestSessionRoutes(t *testing.T) {
	e := newEnv(t)

	res, body := e.do(t, http.MethodPost, "/api/chat/sessions", "")
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var sess store.Session
	require.NoError(t, json.Unmarshal([]byte(body), &sess))
	assert.Equal(t, store.DefaultSessionTitle, sess.Title)

	res, body = e.do(t, http.MethodPatch, "/api/chat/sessions/"+sess.ID, `{"title":"Invoices"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, `"title":"Invoices"`)

	res, body = e.do(t, http.MethodGet, "/api/chat/sessions", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, `"messageCount":0`)

	res, _ = e.do(t, http.MethodDelete, "/api/chat/sessions/"+sess.ID, "")
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, body = e.do(t, http.MethodGet, "/api/chat/sessions/"+sess.ID, "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.JSONEq(t, `{"error":"not found"}`, body)
}

func TestSettingsRoutes(t *testing.T) {
	e := newEnv(t)

	res, body := e.do(t, http.MethodPost, "/api/settings", `{"N8N_API_KEY":"n8n-secret-9876","AI_MODEL":"openai/gpt-4o","AI_API_KEY":"****abcd"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"success":true,"saved":["AI_MODEL","N8N_API_KEY"]}`, body)
	assert.Equal(t, 1, e.models.invalidated)

	_, ok, err := e.store.GetConfig(context.Background(), config.KeyAIAPIKey)
	require.NoError(t, err)
	assert.False(t, ok, "masked value is not stored")

	res, body = e.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var settings []config.Setting
	require.NoError(t, json.Unmarshal([]byte(body), &settings))
	byKey := map[string]config.Setting{}
	for _, s := range settings {
		byKey[s.Key] = s
	}
	assert.Equal(t, "****9876", byKey[config.KeyN8NAPIKey].Value)
	assert.Equal(t, config.SourceStored, byKey[config.KeyN8NAPIKey].Source)
	assert.Equal(t, "openai/gpt-4o", byKey[config.KeyAIModel].Value)
	assert.NotContains(t, body, "n8n-secret-9876")
}

func TestWorkflowRoutes(t *testing.T) {
	e := newEnv(t)

	res, body := e.do(t, http.MethodGet, "/api/n8n/workflows", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "Invoice Processor")

	res, _ = e.do(t, http.MethodGet, "/api/n8n/workflows/missing", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, body = e.do(t, http.MethodPost, "/api/n8n/workflows", `{"name":"Fresh"}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Contains(t, body, `"id":"wf_new"`)

	res, _ = e.do(t, http.MethodPost, "/api/n8n/workflows", `{"nodes":[]}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body = e.do(t, http.MethodPatch, "/api/n8n/workflows/wf_1", `{"nodes":[{"name":"Webhook","parameters":{"httpMethod":"POST"}}]}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, `"path":"invoice"`)
	assert.Contains(t, body, `"httpMethod":"POST"`)

	res, body = e.do(t, http.MethodPost, "/api/n8n/workflows/wf_1/execute", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, `"id":"42"`)

	res, body = e.do(t, http.MethodGet, "/api/n8n/workflows/wf_1/executions?limit=3", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, `"status":"success"`)

	res, _ = e.do(t, http.MethodGet, "/api/n8n/workflows/wf_1/executions?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	e.n8n.html = true
	res, body = e.do(t, http.MethodGet, "/api/n8n/workflows", "")
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Contains(t, body, "N8N_API_URL")
}

func TestAgentsModelsAndCORS(t *testing.T) {
	e := newEnv(t)

	res, body := e.do(t, http.MethodGet, "/api/agents", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, `"Mary"`)

	res, body = e.do(t, http.MethodGet, "/api/ai/models", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, `"a/alpha"`)

	res, _ = e.do(t, http.MethodOptions, "/api/chat", "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, res.Header.Get("Access-Control-Expose-Headers"), headerSessionID)
	assert.NotEmpty(t, res.Header.Get("X-Request-Id"))

	res, _ = e.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&apperr.ConfigurationError{Key: "X"}))
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("open provider: %w", &apperr.ConfigurationError{Key: "AI_API_KEY"})))
	assert.Equal(t, http.StatusNotFound, statusFor(apperr.ErrNotFound))
	assert.Equal(t, http.StatusNotFound, statusFor(&apperr.UpstreamError{Service: "n8n", StatusCode: 404}))
	assert.Equal(t, http.StatusBadGateway, statusFor(&apperr.UpstreamError{Service: "n8n", StatusCode: 500}))
	assert.Equal(t, http.StatusBadRequest, statusFor(chat.ErrNoMessages))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
