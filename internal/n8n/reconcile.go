package n8n

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/R0m1k3/n8ngest/internal/logging"
)

// Reconciler applies partial changes to workflows on a server that only
// supports whole-document replacement and refuses edits to active workflows.
type Reconciler struct {
	client *Client
	log    *zap.Logger
}

func NewReconciler(client *Client, log *zap.Logger) *Reconciler {
	return &Reconciler{client: client, log: logging.OrNop(log)}
}

// Plan returns the current document and the payload Update would PUT,
// without writing anything.
func (r *Reconciler) Plan(ctx context.Context, id string, changes map[string]any) (current, payload map[string]any, err error) {
	changes, err = Generic(changes)
	if err != nil {
		return nil, nil, err
	}
	current, err = r.client.document(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return current, Sanitize(MergeDocument(current, changes)), nil
}

// Update merges changes into workflow id and writes it back. An active
// workflow is deactivated around the write and reactivated afterwards; if the
// write fails the reactivation is attempted once as a rollback and the write
// error is returned.
func (r *Reconciler) Update(ctx context.Context, id string, changes map[string]any) (*Workflow, error) {
	changes, err := Generic(changes)
	if err != nil {
		return nil, err
	}
	current, err := r.client.document(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	wasActive, _ := current["active"].(bool)
	log := r.log.With(zap.String("workflow_id", id), zap.Bool("was_active", wasActive))

	deactivated := false
	if wasActive {
		if _, err := r.client.SetActive(ctx, id, false); err != nil {
			log.Warn("deactivate before update failed, writing anyway", zap.Error(err))
		} else {
			deactivated = true
		}
	}

	payload := Sanitize(MergeDocument(current, changes))

	wf, err := r.client.replace(ctx, id, payload)
	if err != nil {
		if deactivated {
			if _, rerr := r.client.SetActive(ctx, id, true); rerr != nil {
				log.Warn("rollback reactivation failed", zap.Error(rerr))
			}
		}
		return nil, fmt.Errorf("update workflow %s: %w", id, err)
	}

	if wasActive {
		if _, err := r.client.SetActive(ctx, id, true); err != nil {
			log.Error("reactivation after update failed", zap.Error(err))
			wf.Active = false
			return wf, fmt.Errorf("workflow %s updated but reactivation failed: %w", id, err)
		}
		wf.Active = true
	}
	log.Info("workflow updated", zap.Int("nodes", len(wf.Nodes)))
	return wf, nil
}

// Execute triggers a manual run of workflow id.
func (r *Reconciler) Execute(ctx context.Context, id string, input map[string]any) (*Execution, error) {
	ex, err := r.client.Execute(ctx, id, input)
	if err != nil {
		return nil, fmt.Errorf("execute workflow %s: %w", id, err)
	}
	return ex, nil
}
