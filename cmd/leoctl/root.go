package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"leo-remote/internal/api"
	"leo-remote/internal/config"
	"leo-remote/internal/history"
	"leo-remote/internal/snapshot"
)

var version = "dev" // set via ldflags at build time

// app is built once per invocation from the loaded config.
type app struct {
	cfg *config.Config
	log *slog.Logger
	api *api.Client
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		a          app
	)

	rootCmd := &cobra.Command{
		Use:           "leoctl",
		Short:         "Drive remote code generations from the terminal",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			a.cfg = cfg
			a.log = newLogger(cfg.Log, cmd.ErrOrStderr())
			a.api = api.New(cfg.APIURL, nil)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to leo.yaml (default $LEO_CONFIG or ./leo.yaml)")

	rootCmd.AddCommand(runCmd(&a))
	rootCmd.AddCommand(generationsCmd(&a))
	rootCmd.AddCommand(iterationsCmd(&a))
	rootCmd.AddCommand(historyCmd(&a))
	rootCmd.AddCommand(configCmd(&a))
	return rootCmd
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openHistory returns the configured history store and its closer.
func (a *app) openHistory(ctx context.Context) (history.Store, func(), error) {
	if a.cfg.History.Path == "" {
		return history.NewMemoryStore(a.cfg.History.Capacity), func() {}, nil
	}
	store, err := history.OpenSQLite(ctx, a.cfg.History.Path, a.cfg.History.Capacity)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			a.log.Warn("closing history store", "error", err)
		}
	}, nil
}

func (a *app) snapshots() *snapshot.Repository {
	return snapshot.NewRepository(a.api, a.log)
}
