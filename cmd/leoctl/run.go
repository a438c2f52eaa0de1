package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"leo-remote/internal/api"
	"leo-remote/internal/protocol"
	"leo-remote/internal/render"
	"leo-remote/internal/session"
	"leo-remote/internal/transport"
)

type runOptions struct {
	prompt         string
	appName        string
	mode           string
	generationType string
	appID          string
	githubURL      string
	resume         string
	maxIterations  int
	subagents      bool
}

func runCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Start a generation and follow it until it ends",
		Long: `Creates a generation, streams the worker's output and answers
decision prompts from stdin: a number picks that option, anything else is
sent as typed. Interrupt once to stop and save, twice to exit at once.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.prompt == "" && len(args) == 1 {
				opts.prompt = args[0]
			}
			opts.applyDefaults(a, cmd)

			sigCh := make(chan os.Signal, 2)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			return a.run(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout(), sigCh)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.prompt, "prompt", "", "What to build")
	f.StringVar(&opts.appName, "app-name", "", "Name of the generated app")
	f.StringVar(&opts.mode, "mode", "", "Generation mode (default from config)")
	f.StringVar(&opts.generationType, "generation-type", "", "new or update (default from config)")
	f.IntVar(&opts.maxIterations, "max-iterations", 0, "Iteration limit (default from config)")
	f.StringVar(&opts.appID, "app-id", "", "Existing app to update")
	f.StringVar(&opts.githubURL, "github-url", "", "Repository to push to")
	f.StringVar(&opts.resume, "resume", "", "Worker session id to resume")
	f.BoolVar(&opts.subagents, "subagents", false, "Enable subagents (default from config)")
	return cmd
}

// applyDefaults fills every flag the user did not set from the config.
func (o *runOptions) applyDefaults(a *app, cmd *cobra.Command) {
	gen := a.cfg.Generation
	if o.mode == "" {
		o.mode = gen.Mode
	}
	if o.generationType == "" {
		o.generationType = gen.GenerationType
	}
	if o.maxIterations == 0 {
		o.maxIterations = gen.MaxIterations
	}
	if !cmd.Flags().Changed("subagents") {
		o.subagents = gen.Subagents
	}
}

func (a *app) run(ctx context.Context, opts runOptions, in io.Reader, out io.Writer, signals <-chan os.Signal) error {
	if strings.TrimSpace(opts.prompt) == "" {
		return errors.New("a prompt is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, closeStore, err := a.openHistory(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rc := a.cfg.Transport.Reconnect
	client := transport.New(a.cfg.WorkerURL, transport.Options{
		History:      store,
		Logger:       a.log,
		PingInterval: a.cfg.Transport.PingInterval,
		WriteTimeout: a.cfg.Transport.WriteTimeout,
		Reconnect: transport.ReconnectPolicy{
			Enabled:    rc.Enabled,
			MaxRetries: rc.MaxRetries,
			BaseDelay:  rc.BaseDelay,
			MaxDelay:   rc.MaxDelay,
		},
	})
	defer client.Close()

	m := session.New(client, store, a.log)
	defer m.Attach(client)()

	repo := a.snapshots()
	repo.AddRestoreListener(m)

	printer := render.NewPrinter(out)
	subID, updates := m.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for u := range updates {
			printer.Update(u)
			if ic, ok := u.Message.(protocol.IterationComplete); ok {
				repo.Advance(u.State.RequestID, ic.Iteration)
			}
		}
	}()
	defer func() {
		m.Unsubscribe(subID)
		<-printed
	}()

	go a.handleSignals(ctx, m, signals, cancel)

	gen, err := session.Launch(ctx, a.api, m, session.LaunchRequest{
		CreateGenerationRequest: api.CreateGenerationRequest{
			AppName:        opts.appName,
			Prompt:         opts.prompt,
			Mode:           opts.mode,
			MaxIterations:  opts.maxIterations,
			GenerationType: opts.generationType,
			AppID:          opts.appID,
			GithubURL:      opts.githubURL,
		},
		UserID:          a.cfg.UserID,
		Subagents:       opts.subagents,
		ResumeSessionID: opts.resume,
	})
	if err != nil {
		return err
	}
	a.log.Info("generation started", "id", gen.ID, "app_id", gen.AppID)

	go a.answerPrompts(ctx, m, in)

	st, err := m.WaitFor(ctx, func(s session.State) bool { return s.Terminal() })
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("generation %s: interrupted before it ended", gen.ID)
		}
		return fmt.Errorf("generation %s: %w", gen.ID, err)
	}
	if st.Status == session.StatusErrored {
		reason := "fatal worker error"
		if st.LastError != nil {
			reason = st.LastError.Message
		}
		return fmt.Errorf("generation %s failed: %s", gen.ID, reason)
	}
	return nil
}

// handleSignals turns the first interrupt into a stop request and the second
// into an immediate exit.
func (a *app) handleSignals(ctx context.Context, m *session.Machine, signals <-chan os.Signal, cancel context.CancelFunc) {
	stopping := false
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			if stopping {
				a.log.Warn("exiting without waiting for the worker", "signal", sig.String())
				cancel()
				return
			}
			stopping = true
			if err := m.RequestStop("interrupted"); err != nil {
				a.log.Warn("stop request not sent", "error", err)
				cancel()
				return
			}
			a.log.Info("stop requested, interrupt again to exit now")
		}
	}
}

// answerPrompts reads one line per pending decision prompt.
func (a *app) answerPrompts(ctx context.Context, m *session.Machine, in io.Reader) {
	sc := bufio.NewScanner(in)
	for {
		st, err := m.WaitFor(ctx, func(s session.State) bool { return s.AwaitingDecision() })
		if err != nil {
			return
		}
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		p := *st.Pending
		if err := m.Respond(p.PromptID, resolveAnswer(p, line)); err != nil {
			a.log.Warn("answer not accepted", "prompt_id", p.PromptID, "error", err)
		}
	}
}

// resolveAnswer maps "2" to the second option. Anything else is sent as typed.
func resolveAnswer(p protocol.DecisionPrompt, line string) string {
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(p.Options) {
		return p.Options[n-1]
	}
	return line
}
