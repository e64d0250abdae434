package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/R0m1k3/n8ngest/internal/n8n"
)

func workflowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflows",
		Aliases: []string{"wf"},
		Short:   "Inspect, update and run workflows on the n8n server",
	}
	cmd.AddCommand(workflowsListCmd())
	cmd.AddCommand(workflowsGetCmd())
	cmd.AddCommand(workflowsUpdateCmd())
	cmd.AddCommand(workflowsExecuteCmd())
	cmd.AddCommand(workflowsExecutionsCmd())
	return cmd
}

func workflowsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			wfs, err := a.N8N.ListWorkflows(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, wf := range wfs {
				state := "inactive"
				if wf.Active {
					state = "active"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", wf.ID, state, wf.Name)
			}
			return nil
		},
	}
}

func workflowsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a workflow as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			wf, err := a.N8N.GetWorkflow(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), wf)
		},
	}
}

func workflowsUpdateCmd() *cobra.Command {
	var changesPath string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Merge a JSON change-set into a workflow (--changes file, or - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if changesPath == "" {
				return fmt.Errorf("missing --changes")
			}
			changes, err := readJSONObject(cmd.InOrStdin(), changesPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if dryRun {
				current, payload, err := a.Reconciler.Plan(ctx, args[0], changes)
				if err != nil {
					return err
				}
				diff, err := payloadDiff(n8n.Sanitize(current), payload)
				if err != nil {
					return err
				}
				if diff == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "no changes")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), diff)
				return nil
			}

			wf, err := a.Reconciler.Update(ctx, args[0], changes)
			if wf != nil {
				if perr := printJSON(cmd.OutOrStdout(), wf); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&changesPath, "changes", "", "JSON file with the partial workflow (- for stdin)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print a diff of the outbound payload without writing")
	return cmd
}

func workflowsExecuteCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "execute <id>",
		Short: "Trigger a manual run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input map[string]any
			if data != "" {
				if err := json.Unmarshal([]byte(data), &input); err != nil {
					return fmt.Errorf("parse --data: %w", err)
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 120*time.Second)
			defer cancel()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ex, err := a.Reconciler.Execute(ctx, args[0], input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ex)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "input data as a JSON object")
	return cmd
}

func workflowsExecutionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "executions <id>",
		Short: "List recent executions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			execs, err := a.N8N.ListExecutions(ctx, args[0], limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, e := range execs {
				started := "-"
				if e.StartedAt != nil {
					started = e.StartedAt.UTC().Format(time.RFC3339)
				}
				line := fmt.Sprintf("%s\t%s\t%s\t%s", e.ID, e.Status, e.Mode, started)
				if msg := e.ErrorMessage(); msg != "" {
					line += "\t" + msg
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of executions")
	return cmd
}

func readJSONObject(stdin io.Reader, path string) (map[string]any, error) {
	var b []byte
	var err error
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse changes: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("changes must be a JSON object")
	}
	return out, nil
}

// payloadDiff renders a unified diff between two documents as indented JSON.
// Map keys are sorted by encoding/json, so the output is stable.
func payloadDiff(before, after map[string]any) (string, error) {
	a, err := json.MarshalIndent(before, "", "  ")
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(after, "", "  ")
	if err != nil {
		return "", err
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a) + "\n"),
		B:        difflib.SplitLines(string(b) + "\n"),
		FromFile: "current",
		ToFile:   "payload",
		Context:  3,
	})
}
