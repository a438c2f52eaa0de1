package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"leo-remote/internal/render"
	"leo-remote/internal/snapshot"
	"leo-remote/internal/watcher"
)

func iterationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "iterations",
		Aliases: []string{"iter"},
		Short:   "List, compare and restore iteration snapshots",
	}
	cmd.AddCommand(iterationsListCmd(a))
	cmd.AddCommand(iterationsCompareCmd(a))
	cmd.AddCommand(iterationsRollbackCmd(a))
	cmd.AddCommand(iterationsDeleteCmd(a))
	cmd.AddCommand(iterationsDiffLocalCmd(a))
	return cmd
}

func iterationsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <generation>",
		Short: "List the snapshots of a generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := a.snapshots()
			snaps, err := repo.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			current, _ := repo.CurrentIteration(args[0])
			render.NewPrinter(cmd.OutOrStdout()).Snapshots(snaps, current)
			return nil
		},
	}
}

func iterationsCompareCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "compare <generation> <snapshot-a> <snapshot-b>",
		Short: "Show which files changed between two snapshots",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.snapshots().Compare(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(c)
			}
			render.NewPrinter(cmd.OutOrStdout()).Comparison(c)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the comparison as JSON")
	return cmd
}

func iterationsRollbackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <generation> <snapshot>",
		Short: "Restore a generation to a snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.snapshots().Rollback(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s restored to iteration %d (%s)\n", args[0], snap.IterationNumber, snap.ID)
			return nil
		},
	}
}

func iterationsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <snapshot>",
		Short: "Delete a manual snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.snapshots().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func iterationsDiffLocalCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "diff-local <generation> <snapshot> [dir]",
		Short: "Compare a snapshot with a local checkout",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 3 {
				dir = args[2]
			}
			snap, err := a.snapshots().Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printer := render.NewPrinter(cmd.OutOrStdout())
			if !watch {
				printer.Comparison(snapshot.CompareTree(snap, watcher.BuildFileTree(dir, 0)))
				printer.LocalFiles(dir, watcher.CountFiles(dir))
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.watchLocal(ctx, printer, snap, dir)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep comparing as files are added or removed")
	return cmd
}

// watchLocal prints a comparison for the initial tree and after every change
// to the set of paths under dir, until ctx is done.
func (a *app) watchLocal(ctx context.Context, printer *render.Printer, snap snapshot.Snapshot, dir string) error {
	w := watcher.New(func(dir string, tree snapshot.FileTree) {
		printer.Comparison(snapshot.CompareTree(snap, tree))
		printer.LocalFiles(dir, watcher.CountFiles(dir))
	}, a.log)
	defer w.Shutdown()

	if err := w.Watch(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	<-ctx.Done()
	return nil
}
