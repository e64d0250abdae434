package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/R0m1k3/n8ngest/internal/n8n"
)

const (
	ActionUpdate  = "update"
	ActionExecute = "execute"

	// CommandFenceTag is the info string the model is told to use.
	CommandFenceTag = "workflow-command"
)

// Command is a workflow action requested by the model or by the caller.
type Command struct {
	Action     string         `json:"action"`
	WorkflowID string         `json:"workflowId"`
	Changes    map[string]any `json:"changes,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Result is reported separately from the generated text.
type Result struct {
	Success    bool           `json:"success"`
	Action     string         `json:"action"`
	WorkflowID string         `json:"workflowId"`
	Workflow   *n8n.Workflow  `json:"workflow,omitempty"`
	Execution  *n8n.Execution `json:"execution,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func (c Command) Validate() error {
	switch c.Action {
	case ActionUpdate, ActionExecute:
	case "":
		return fmt.Errorf("workflow action is required")
	default:
		return fmt.Errorf("unsupported workflow action %q", c.Action)
	}
	if strings.TrimSpace(c.WorkflowID) == "" {
		return fmt.Errorf("workflowId is required")
	}
	return nil
}

// The whole info line is consumed so fences like ```c++ or ```js title="x"
// still pair with their own closing fence.
var fencePattern = regexp.MustCompile("(?s)```([^\n`]*)\n(.*?)```")

// DetectCommand returns the first fenced block in text that holds a valid
// command. Blocks tagged workflow-command or json, or untagged, are
// considered; anything else is ignored.
func DetectCommand(text string) (*Command, bool) {
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		switch fenceTag(m[1]) {
		case CommandFenceTag, "json", "":
		default:
			continue
		}
		var cmd Command
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[2])), &cmd); err != nil {
			continue
		}
		cmd.Action = strings.ToLower(strings.TrimSpace(cmd.Action))
		if cmd.Validate() != nil {
			continue
		}
		return &cmd, true
	}
	return nil, false
}

// fenceTag is the first word of a fence info line, lower-cased.
func fenceTag(info string) string {
	if f := strings.Fields(info); len(f) > 0 {
		return strings.ToLower(f[0])
	}
	return ""
}

// Dispatch routes cmd to the reconciler. The returned Result is always
// non-nil; err is the underlying failure, if any.
func (o *Orchestrator) Dispatch(ctx context.Context, cmd Command) (*Result, error) {
	cmd.Action = strings.ToLower(strings.TrimSpace(cmd.Action))
	res := &Result{Action: cmd.Action, WorkflowID: cmd.WorkflowID}
	if err := cmd.Validate(); err != nil {
		res.Error = err.Error()
		return res, &InvalidCommandError{Err: err}
	}

	o.log.Info("dispatching workflow command", zap.String("action", cmd.Action), zap.String("workflow_id", cmd.WorkflowID))

	var err error
	switch cmd.Action {
	case ActionUpdate:
		res.Workflow, err = o.workflows.Update(ctx, cmd.WorkflowID, cmd.Changes)
		// A reactivation failure still returns the written workflow.
		if res.Workflow != nil && err != nil {
			res.Success = true
		}
	case ActionExecute:
		res.Execution, err = o.workflows.Execute(ctx, cmd.WorkflowID, cmd.Data)
	}
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	res.Success = true
	return res, nil
}

// InvalidCommandError marks a malformed command, as opposed to an upstream failure.
type InvalidCommandError struct{ Err error }

func (e *InvalidCommandError) Error() string { return e.Err.Error() }
func (e *InvalidCommandError) Unwrap() error { return e.Err }
