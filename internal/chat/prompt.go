package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/R0m1k3/n8ngest/internal/n8n"
	"github.com/R0m1k3/n8ngest/internal/persona"
)

const defaultInstructions = `You are n8n-orchestrator, an AI assistant dedicated to helping users build and manage n8n workflows.
You have access to n8n API definitions and can generate JSON workflows.
Always answer in Markdown.
If the user asks to create a workflow, provide the JSON code block.`

const commandProtocol = "## Acting on workflows\n" +
	"To change or run an existing workflow, end your answer with exactly one fenced block tagged `" + CommandFenceTag + "`:\n\n" +
	"```" + CommandFenceTag + "\n" +
	`{"action": "update", "workflowId": "<id>", "changes": {"nodes": [{"name": "<node name>", "parameters": {}}]}}` + "\n" +
	"```\n\n" +
	"Use `\"action\": \"execute\"` with an optional `\"data\"` object to run a workflow. " +
	"Only include nodes and fields you want to change; unchanged parameters are kept. " +
	"Only the first block is applied."

const (
	maxListedWorkflows = 50
	recentExecutions   = 5
)

func (o *Orchestrator) systemPrompt(ctx context.Context, p *persona.Persona, latest string) string {
	var b strings.Builder
	if p != nil {
		b.WriteString(activationBlock(p))
	} else {
		b.WriteString(defaultInstructions)
	}
	b.WriteString("\n\n")
	b.WriteString(commandProtocol)

	if o.directory == nil {
		return b.String()
	}
	wfs, err := o.directory.ListWorkflows(ctx)
	b.WriteString("\n\n## Available workflows\n")
	b.WriteString(o.workflowListing(wfs, err))
	if err != nil {
		return b.String()
	}

	if focus := o.workflowInFocus(ctx, wfs, latest); focus != "" {
		b.WriteString("\n\n")
		b.WriteString(focus)
	}
	return b.String()
}

func activationBlock(p *persona.Persona) string {
	return fmt.Sprintf(`--- AGENT ACTIVATION ---
NAME: %s
DESCRIPTION: %s

INSTRUCTIONS/PERSONA:
%s

--- END AGENT DEFINITION ---

You must embody this agent.`, p.Name, p.Description, strings.TrimSpace(p.Content))
}

func (o *Orchestrator) workflowListing(wfs []n8n.Workflow, err error) string {
	if err != nil {
		o.log.Warn("workflow listing unavailable for prompt", zap.Error(err))
		return fmt.Sprintf("(The workflow list could not be loaded: %v. Tell the user if they ask about existing workflows.)", err)
	}
	if len(wfs) == 0 {
		return "(No workflows exist yet.)"
	}
	var b strings.Builder
	for i, wf := range wfs {
		if i == maxListedWorkflows {
			fmt.Fprintf(&b, "- ... and %d more\n", len(wfs)-maxListedWorkflows)
			break
		}
		fmt.Fprintf(&b, "- %s (id: %s, %s)\n", wf.Name, wf.ID, activeLabel(wf.Active))
	}
	return strings.TrimRight(b.String(), "\n")
}

// workflowInFocus resolves names referenced by the latest message against
// the listing already fetched for the prompt.
func (o *Orchestrator) workflowInFocus(ctx context.Context, wfs []n8n.Workflow, latest string) string {
	for _, name := range referencedNames(latest) {
		if wf := n8n.MatchName(wfs, name); wf != nil {
			return o.workflowDetail(ctx, wf)
		}
	}
	return ""
}

type nodeSummary struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Disabled   bool           `json:"disabled,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

func (o *Orchestrator) workflowDetail(ctx context.Context, wf *n8n.Workflow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Workflow in focus: %s (id: %s, %s)\n", wf.Name, wf.ID, activeLabel(wf.Active))

	nodes := make([]nodeSummary, 0, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodes = append(nodes, nodeSummary{Name: n.Name, Type: n.Type, Disabled: n.Disabled, Parameters: n.Parameters})
	}
	detail, err := json.MarshalIndent(map[string]any{"nodes": nodes, "connections": wf.Connections}, "", "  ")
	if err != nil {
		o.log.Warn("encode workflow detail", zap.String("workflow_id", wf.ID), zap.Error(err))
	} else {
		b.WriteString("```json\n")
		b.Write(detail)
		b.WriteString("\n```\n")
	}

	b.WriteString("\n### Recent executions\n")
	execs, err := o.directory.ListExecutions(ctx, wf.ID, recentExecutions)
	switch {
	case err != nil:
		o.log.Warn("executions unavailable for prompt", zap.String("workflow_id", wf.ID), zap.Error(err))
		fmt.Fprintf(&b, "(Execution history could not be loaded: %v)", err)
	case len(execs) == 0:
		b.WriteString("(No executions recorded.)")
	default:
		for _, e := range execs {
			b.WriteString(executionLine(e))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func executionLine(e n8n.Execution) string {
	status := e.Status
	if status == "" {
		status = "finished"
		if !e.Finished {
			status = "unfinished"
		}
	}
	line := fmt.Sprintf("- #%s %s (%s)", e.ID, status, e.Mode)
	if e.StartedAt != nil {
		line += " started " + e.StartedAt.UTC().Format("2006-01-02 15:04:05Z")
	}
	if msg := e.ErrorMessage(); msg != "" {
		line += ": " + msg
	}
	return line + "\n"
}

func activeLabel(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

var (
	quotedPattern   = regexp.MustCompile(`"([^"\n]{2,80})"|“([^”\n]{2,80})”|«\s*([^»\n]{2,80}?)\s*»`)
	workflowPattern = regexp.MustCompile(`(?i)\bworkflows?\s+(?:(?:called|named|nommé|appelé)\s+)?([\p{L}\p{N}][\p{L}\p{N}_.-]*)`)
)

var notNames = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "that": true, "this": true, "for": true,
	"with": true, "which": true, "and": true, "or": true, "is": true, "in": true, "of": true,
	"le": true, "la": true, "un": true, "une": true, "de": true, "qui": true, "pour": true,
}

// referencedNames returns candidate workflow names mentioned in msg: quoted
// strings first, then the token following the word "workflow".
func referencedNames(msg string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if s == "" || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, s)
	}
	for _, m := range quotedPattern.FindAllStringSubmatch(msg, -1) {
		for _, g := range m[1:] {
			if g != "" {
				add(g)
				break
			}
		}
	}
	for _, m := range workflowPattern.FindAllStringSubmatch(msg, -1) {
		if !notNames[strings.ToLower(m[1])] {
			add(m[1])
		}
	}
	return out
}
