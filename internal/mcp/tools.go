package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

var toolCatalog = []Tool{
	{
		Name:        "n8n.workflows.list",
		Description: "List workflows on the n8n server (id, name, active).",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	},
	{
		Name:        "n8n.workflow.get",
		Description: "Get one workflow with its nodes and connections.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
	},
	{
		Name:        "n8n.workflow.update",
		Description: "Merge partial changes into a workflow. Active workflows are deactivated around the write.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"},"changes":{"type":"object"}},"required":["id","changes"]}`),
	},
	{
		Name:        "n8n.workflow.execute",
		Description: "Trigger a manual run of a workflow with optional input data.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"},"data":{"type":"object"}},"required":["id"]}`),
	},
	{
		Name:        "agents.list",
		Description: "List available agent personas.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	},
}

type workflowArgs struct {
	ID      string         `json:"id"`
	Changes map[string]any `json:"changes"`
	Data    map[string]any `json:"data"`
}

type workflowSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

func (s *Server) callTool(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case "n8n.workflows.list":
		wfs, err := s.directory.ListWorkflows(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]workflowSummary, 0, len(wfs))
		for _, wf := range wfs {
			out = append(out, workflowSummary{ID: wf.ID, Name: wf.Name, Active: wf.Active})
		}
		return map[string]any{"workflows": out}, nil

	case "n8n.workflow.get":
		in, err := decodeWorkflowArgs(args)
		if err != nil {
			return nil, err
		}
		return s.directory.GetWorkflow(ctx, in.ID)

	case "n8n.workflow.update":
		in, err := decodeWorkflowArgs(args)
		if err != nil {
			return nil, err
		}
		if len(in.Changes) == 0 {
			return nil, &rpcErr{Code: codeInvalidParams, Message: "missing changes"}
		}
		return s.reconciler.Update(ctx, in.ID, in.Changes)

	case "n8n.workflow.execute":
		in, err := decodeWorkflowArgs(args)
		if err != nil {
			return nil, err
		}
		return s.reconciler.Execute(ctx, in.ID, in.Data)

	case "agents.list":
		if s.agents == nil {
			return map[string]any{"agents": []any{}}, nil
		}
		ps, err := s.agents.List(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"agents": ps}, nil

	default:
		return nil, &rpcErr{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown tool: %s", name)}
	}
}

func decodeWorkflowArgs(args json.RawMessage) (workflowArgs, error) {
	var in workflowArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return in, &rpcErr{Code: codeInvalidParams, Message: "invalid arguments: " + err.Error()}
		}
	}
	if strings.TrimSpace(in.ID) == "" {
		return in, &rpcErr{Code: codeInvalidParams, Message: "missing id"}
	}
	return in, nil
}
