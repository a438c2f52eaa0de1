package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"leo-remote/internal/render"
)

func historyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <generation>",
		Short: "Replay the recorded message history of a generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.History.Path == "" {
				return errors.New("history.path is not set, history is only kept for the running process")
			}
			store, closeStore, err := a.openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := store.ReadAll(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no history for %s\n", args[0])
				return nil
			}
			render.NewPrinter(cmd.OutOrStdout()).History(entries)
			return nil
		},
	}
}
