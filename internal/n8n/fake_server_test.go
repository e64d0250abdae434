package n8n

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeServer mimics the workflow server's public API closely enough for the
// client and reconciler: replace-only writes, activate endpoint, executions.
type fakeServer struct {
	t *testing.T

	mu         sync.Mutex
	workflows  map[string]map[string]any
	order      []string
	executions []map[string]any
	calls      []string
	lastPut    map[string]any
	lastRun    map[string]any
	putStatus  int
	failActive map[bool]bool
	apiKey     string
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	f := &fakeServer{
		t:          t,
		workflows:  map[string]map[string]any{},
		failActive: map[bool]bool{},
		apiKey:     "test-key",
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) add(doc map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := doc["id"].(string)
	f.workflows[id] = doc
	f.order = append(f.order, id)
}

func (f *fakeServer) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeServer) count(call string) int {
	n := 0
	for _, c := range f.callLog() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("X-N8N-API-KEY") != f.apiKey {
		writeTestJSON(w, http.StatusUnauthorized, map[string]any{"message": "unauthorized"})
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case path == "/workflows" && r.Method == http.MethodGet:
		f.calls = append(f.calls, "list")
		data := make([]any, 0, len(f.order))
		for _, id := range f.order {
			data = append(data, f.workflows[id])
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"data": data, "nextCursor": nil})

	case path == "/workflows" && r.Method == http.MethodPost:
		f.calls = append(f.calls, "create")
		body := decodeTestBody(f.t, r)
		body["id"] = "wf_new"
		body["active"] = false
		writeTestJSON(w, http.StatusOK, body)

	case path == "/executions" && r.Method == http.MethodGet:
		f.calls = append(f.calls, "executions?"+r.URL.RawQuery)
		writeTestJSON(w, http.StatusOK, map[string]any{"data": f.executions})

	case len(parts) == 2 && parts[0] == "workflows":
		switch r.Method {
		case http.MethodGet:
			f.calls = append(f.calls, "get")
		case http.MethodPut:
			f.calls = append(f.calls, "put")
		}
		doc, ok := f.workflows[parts[1]]
		if !ok {
			writeTestJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeTestJSON(w, http.StatusOK, doc)
		case http.MethodPut:
			body := decodeTestBody(f.t, r)
			f.lastPut = body
			if f.putStatus != 0 {
				writeTestJSON(w, f.putStatus, map[string]any{"message": "request/body must NOT have additional properties"})
				return
			}
			if doc["active"] == true {
				writeTestJSON(w, http.StatusBadRequest, map[string]any{"message": "cannot update active workflow"})
				return
			}
			for k, v := range body {
				doc[k] = v
			}
			writeTestJSON(w, http.StatusOK, doc)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	case len(parts) == 3 && parts[0] == "workflows" && parts[2] == "activate":
		body := decodeTestBody(f.t, r)
		active, _ := body["active"].(bool)
		if active {
			f.calls = append(f.calls, "activate")
		} else {
			f.calls = append(f.calls, "deactivate")
		}
		doc, ok := f.workflows[parts[1]]
		if !ok {
			writeTestJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		if f.failActive[active] {
			writeTestJSON(w, http.StatusInternalServerError, map[string]any{"message": "activation failed"})
			return
		}
		doc["active"] = active
		writeTestJSON(w, http.StatusOK, doc)

	case len(parts) == 3 && parts[0] == "workflows" && parts[2] == "run":
		f.calls = append(f.calls, "run")
		f.lastRun = decodeTestBody(f.t, r)
		writeTestJSON(w, http.StatusOK, map[string]any{"id": 101, "finished": false, "mode": "manual", "workflowId": parts[1]})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func decodeTestBody(t *testing.T, r *http.Request) map[string]any {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		t.Errorf("read body: %v", err)
		return nil
	}
	var m map[string]any
	if len(b) > 0 {
		if err := json.Unmarshal(b, &m); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}
	return m
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sampleDoc(id string, active bool) map[string]any {
	return map[string]any{
		"id":        id,
		"name":      "Invoice Processor",
		"active":    active,
		"createdAt": "2024-05-01T10:00:00.000Z",
		"updatedAt": "2024-05-02T10:00:00.000Z",
		"versionId": "v-123",
		"pinData":   map[string]any{},
		"meta":      map[string]any{"templateCredsSetupCompleted": true},
		"nodes": []any{
			map[string]any{
				"id":          "n1",
				"name":        "Webhook",
				"type":        "n8n-nodes-base.webhook",
				"typeVersion": 1.0,
				"position":    []any{100.0, 200.0},
				"parameters":  map[string]any{"path": "invoice", "httpMethod": "POST"},
				"webhookId":   "abc",
			},
			map[string]any{
				"id":          "n2",
				"name":        "HTTP Request",
				"type":        "n8n-nodes-base.httpRequest",
				"typeVersion": 4.0,
				"position":    []any{300.0, 200.0},
				"parameters":  map[string]any{"url": "https://old.example", "method": "GET"},
			},
		},
		"connections": map[string]any{
			"Webhook": map[string]any{"main": []any{[]any{map[string]any{"node": "HTTP Request", "type": "main", "index": 0.0}}}},
		},
		"settings":   map[string]any{"executionOrder": "v1"},
		"staticData": nil,
		"tags":       []any{map[string]any{"id": "t1", "name": "Prod"}},
	}
}
