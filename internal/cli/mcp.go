package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/R0m1k3/n8ngest/internal/mcp"
)

func mcpCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Talk to an n8ngest /mcp endpoint",
	}
	cmd.PersistentFlags().StringVar(&url, "url", "http://localhost:8080/mcp", "MCP endpoint URL")
	cmd.AddCommand(mcpToolsCmd(&url))
	cmd.AddCommand(mcpCallCmd(&url))
	return cmd
}

func mcpToolsCmd(url *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List tools (tools/list)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			tools, err := mcp.NewClient(*url).ToolsList(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, t := range tools {
				fmt.Fprintf(w, "%s\t%s\n", t.Name, t.Description)
			}
			return nil
		},
	}
}

func mcpCallCmd(url *string) *cobra.Command {
	var rawArgs string
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke a tool (tools/call) and print its JSON result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs map[string]any
			if rawArgs != "" {
				if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
					return fmt.Errorf("parse --args: %w", err)
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			var out json.RawMessage
			if err := mcp.NewClient(*url).CallTool(ctx, args[0], toolArgs, &out); err != nil {
				return err
			}
			var v any
			if err := json.Unmarshal(out, &v); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "", "tool arguments as a JSON object")
	return cmd
}
