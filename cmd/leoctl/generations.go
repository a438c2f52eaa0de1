package main

import (
	"github.com/spf13/cobra"

	"leo-remote/internal/render"
)

func generationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "generations",
		Aliases: []string{"gens"},
		Short:   "Inspect generations known to the service",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List generations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gens, err := a.api.ListGenerations(cmd.Context())
			if err != nil {
				return err
			}
			render.NewPrinter(cmd.OutOrStdout()).Generations(gens)
			return nil
		},
	})
	return cmd
}
