package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/R0m1k3/n8ngest/internal/config"
)

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Stored settings (override environment variables and defaults)",
	}
	cmd.AddCommand(settingsListCmd())
	cmd.AddCommand(settingsSetCmd())
	return cmd
}

func settingsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show every setting with its effective value and source (secrets redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			for _, s := range a.Config.Describe(ctx) {
				fmt.Fprintf(w, "%s=%s\t(%s)\n", s.Key, s.Value, s.Source)
			}
			return nil
		},
	}
}

func settingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <KEY> <VALUE>",
		Short: "Store a setting; keys matching KEY|SECRET|PASS|TOKEN are flagged secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := dsnOrErr(); err != nil {
				return fmt.Errorf("settings set needs a persistent store: %w", err)
			}
			key := strings.TrimSpace(args[0])
			if key == "" {
				return fmt.Errorf("empty key")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			secret := config.IsSecret(key)
			if err := a.Store.SetConfig(ctx, key, args[1], secret); err != nil {
				return err
			}
			shown := args[1]
			if secret {
				shown = config.Redact(shown)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s=%s\n", key, shown)
			return nil
		},
	}
}
