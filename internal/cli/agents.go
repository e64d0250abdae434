package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Agent personas (<BMAD_ROOT>/core/agents/*.md)",
	}
	cmd.AddCommand(agentsListCmd())
	return cmd
}

func agentsListCmd() *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agent personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ps, err := a.Personas.List(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, p := range ps {
				if show {
					fmt.Fprintf(w, "## %s (%s)\n\n%s\n\n", p.Name, p.ID, p.Content)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, p.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "print persona instructions")
	return cmd
}
