package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Model catalog of the configured AI provider",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List models from <AI_BASE_URL>/models, sorted by name",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			models, err := a.Models.Models(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, m := range models {
				fmt.Fprintf(w, "%s\t%s\n", m.ID, m.Name)
			}
			return nil
		},
	})
	return cmd
}
