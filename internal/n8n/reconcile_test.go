package n8n

import (
	"context"
	"net/http"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R0m1k3/n8ngest/internal/apperr"
)

func newReconciler(t *testing.T) (*fakeServer, *Reconciler) {
	fake, srv := newFakeServer(t)
	return fake, NewReconciler(NewClient(Fixed(srv.URL, "test-key"), nil), nil)
}

func TestUpdateActiveWorkflowTogglesAroundWrite(t *testing.T) {
	fake, r := newReconciler(t)
	fake.add(sampleDoc("wf_1", true))

	wf, err := r.Update(context.Background(), "wf_1", map[string]any{
		"nodes": []any{map[string]any{"name": "HTTP Request", "parameters": map[string]any{"url": "https://new.example"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"get", "deactivate", "put", "activate"}, fake.callLog())
	assert.True(t, wf.Active)

	var httpNode *Node
	for i := range wf.Nodes {
		if wf.Nodes[i].Name == "HTTP Request" {
			httpNode = &wf.Nodes[i]
		}
	}
	require.NotNil(t, httpNode)
	assert.Equal(t, map[string]any{"url": "https://new.example", "method": "GET"}, httpNode.Parameters)
}

func TestUpdatePayloadOnlyHasWritableFields(t *testing.T) {
	fake, r := newReconciler(t)
	doc := sampleDoc("wf_1", true)
	doc["staticData"] = map[string]any{"lastId": 4.0}
	fake.add(doc)

	_, err := r.Update(context.Background(), "wf_1", map[string]any{
		"name":      "Invoice Processor v2",
		"versionId": "client-sent",
		"active":    true,
	})
	require.NoError(t, err)

	keys := make([]string, 0, len(fake.lastPut))
	for k := range fake.lastPut {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"connections", "name", "nodes", "settings", "staticData", "tags"}, keys)
	assert.Equal(t, "Invoice Processor v2", fake.lastPut["name"])
	assert.Equal(t, []any{"t1"}, fake.lastPut["tags"])
	for _, n := range fake.lastPut["nodes"].([]any) {
		assert.NotContains(t, n.(map[string]any), "webhookId")
	}
}

func TestUpdateInactiveWorkflowSkipsActivation(t *testing.T) {
	fake, r := newReconciler(t)
	fake.add(sampleDoc("wf_1", false))

	wf, err := r.Update(context.Background(), "wf_1", map[string]any{"name": "Renamed"})
	require.NoError(t, err)

	assert.Equal(t, []string{"get", "put"}, fake.callLog())
	assert.False(t, wf.Active)
	assert.Equal(t, "Renamed", wf.Name)
}

func TestUpdateDecodesEchoedTagReferences(t *testing.T) {
	fake, r := newReconciler(t)
	fake.add(sampleDoc("wf_1", true))

	wf, err := r.Update(context.Background(), "wf_1", map[string]any{"name": "Tagged"})
	require.NoError(t, err)

	assert.Equal(t, []string{"get", "deactivate", "put", "activate"}, fake.callLog())
	assert.Equal(t, []Tag{{ID: "t1"}}, wf.Tags)
	assert.True(t, wf.Active)
}

func TestUpdateWriteFailureRollsBackActivation(t *testing.T) {
	fake, r := newReconciler(t)
	fake.add(sampleDoc("wf_1", true))
	fake.putStatus = http.StatusBadRequest

	wf, err := r.Update(context.Background(), "wf_1", map[string]any{"name": "x"})
	require.Error(t, err)
	assert.Nil(t, wf)

	ue, ok := apperr.IsUpstream(err)
	require.True(t, ok, "the write error must surface, got %v", err)
	assert.Equal(t, http.StatusBadRequest, ue.StatusCode)
	assert.Contains(t, ue.Message, "additional properties")

	assert.Equal(t, 1, fake.count("deactivate"))
	assert.Equal(t, 1, fake.count("activate"))
	assert.Equal(t, []string{"get", "deactivate", "put", "activate"}, fake.callLog())
}

func TestUpdateRollbackFailureDoesNotMaskWriteError(t *testing.T) {
	fake, r := newReconciler(t)
	fake.add(sampleDoc("wf_1", true))
	fake.putStatus = http.StatusBadRequest
	fake.failActive[true] = true

	_, err := r.Update(context.Background(), "wf_1", map[string]any{"name": "x"})
	ue, ok := apperr.IsUpstream(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, ue.StatusCode)
	assert.Equal(t, 1, fake.count("activate"))
}

func TestUpdateDeactivationFailureStillWrites(t *testing.T) {
	fake, r := newReconciler(t)
	doc := sampleDoc("wf_1", true)
	fake.add(doc)
	fake.failActive[false] = true

	_, err := r.Update(context.Background(), "wf_1", map[string]any{"name": "x"})
	// this fake enforces the active-write restriction, so the PUT is refused
	require.Error(t, err)

	assert.Equal(t, 1, fake.count("deactivate"))
	assert.Equal(t, 1, fake.count("put"))
	assert.Equal(t, 0, fake.count("activate"), "no rollback when nothing was deactivated")
}

func TestUpdateReactivationFailureIsReported(t *testing.T) {
	fake, r := newReconciler(t)
	fake.add(sampleDoc("wf_1", true))
	fake.failActive[true] = true

	wf, err := r.Update(context.Background(), "wf_1", map[string]any{"name": "x"})
	require.Error(t, err)
	require.NotNil(t, wf, "the written document is still returned")
	assert.False(t, wf.Active)
	assert.Equal(t, "x", wf.Name)
}

func TestUpdateUnknownWorkflow(t *testing.T) {
	fake, r := newReconciler(t)

	_, err := r.Update(context.Background(), "nope", map[string]any{"name": "x"})
	ue, ok := apperr.IsUpstream(err)
	require.True(t, ok)
	assert.True(t, ue.NotFound())
	assert.Equal(t, []string{"get"}, fake.callLog())
}

func TestPlanDoesNotWrite(t *testing.T) {
	fake, r := newReconciler(t)
	fake.add(sampleDoc("wf_1", true))

	current, payload, err := r.Plan(context.Background(), "wf_1", map[string]any{"name": "Planned"})
	require.NoError(t, err)
	assert.Equal(t, "Invoice Processor", current["name"])
	assert.Equal(t, "Planned", payload["name"])
	assert.NotContains(t, payload, "active")
	assert.Equal(t, []string{"get"}, fake.callLog())
}

func TestReconcilerExecute(t *testing.T) {
	fake, r := newReconciler(t)
	fake.add(sampleDoc("wf_1", false))

	ex, err := r.Execute(context.Background(), "wf_1", nil)
	require.NoError(t, err)
	assert.Equal(t, "manual", ex.Mode)
	assert.Equal(t, map[string]any{}, fake.lastRun)
}
