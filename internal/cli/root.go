package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/R0m1k3/n8ngest/internal/app"
	"github.com/R0m1k3/n8ngest/internal/logging"
)

// Version is set at build time with -ldflags.
var Version = "dev"

type rootFlags struct {
	DSN     string
	Verbose bool
}

var (
	rf  rootFlags
	log = zap.NewNop()
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "n8ngest",
		Short:         "n8n AI orchestrator: chat with agents that read and edit your n8n workflows",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logging.New(rf.Verbose)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			log = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = log.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVar(&rf.DSN, "dsn", os.Getenv("DATABASE_URL"), "store DSN: postgres://..., sqlite:<path>, or empty for in-memory (defaults to DATABASE_URL)")
	rootCmd.PersistentFlags().BoolVarP(&rf.Verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(workflowsCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(mcpCmd())

	return rootCmd
}

func openApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, app.Options{DSN: rf.DSN, Version: Version, Logger: log})
}

func dsnOrErr() (string, error) {
	if rf.DSN == "" {
		return "", fmt.Errorf("missing --dsn (or set DATABASE_URL)")
	}
	return rf.DSN, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
