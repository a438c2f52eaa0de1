// Package render prints session activity, history and snapshot listings as
// plain lines. Color is used only when writing to a terminal.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	"golang.org/x/term"

	"leo-remote/internal/api"
	"leo-remote/internal/history"
	"leo-remote/internal/protocol"
	"leo-remote/internal/session"
	"leo-remote/internal/snapshot"
)

const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

// Printer writes one line per event.
type Printer struct {
	mu        sync.Mutex
	w         io.Writer
	color     bool
	lastPhase session.Phase
}

// NewPrinter writes to w, with color when w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, color: IsTerminal(w)}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// SetColor overrides terminal detection.
func (p *Printer) SetColor(on bool) {
	p.mu.Lock()
	p.color = on
	p.mu.Unlock()
}

// Update prints the message carried by u, or the new phase for local commands.
func (p *Printer) Update(u session.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if u.Message != nil {
		p.message(u.Message)
	}
	if phase := u.State.Phase(); phase != p.lastPhase {
		p.lastPhase = phase
		p.linef(ansiDim, "-- %s", phase)
	}
}

func (p *Printer) message(msg protocol.Message) {
	level, text := protocol.Describe(msg)

	switch m := msg.(type) {
	case protocol.DecisionPrompt:
		p.linef(ansiBold, "? %s", m.Question)
		for i, opt := range m.Options {
			p.linef("", "  %d) %s", i+1, opt)
		}
		if m.AllowCustom {
			p.linef(ansiDim, "  (any other answer is accepted)")
		}
		return
	case protocol.AllWorkComplete:
		p.linef(ansiCyan, "%s", text)
		if m.GithubURL != "" {
			p.linef("", "  repository: %s", m.GithubURL)
		}
		if m.DownloadURL != "" {
			p.linef("", "  download:   %s", m.DownloadURL)
		}
		return
	}

	p.linef(levelColor(level), "%s", text)
}

// History replays recorded entries, oldest first.
func (p *Printer) History(entries []history.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range entries {
		arrow := "<"
		if e.Direction == history.Outbound {
			arrow = ">"
		}
		p.linef(levelColor(e.Level), "%s %s %s", e.Timestamp.Format("15:04:05"), arrow, e.Text)
	}
}

// Generations prints a table of generation summaries.
func (p *Printer) Generations(gens []api.Generation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(gens) == 0 {
		fmt.Fprintln(p.w, "no generations yet")
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAPP\tSTATUS\tCREATED\tLINK")
	for _, g := range gens {
		link := g.GithubURL
		if link == "" {
			link = g.DownloadURL
		}
		created := ""
		if !g.CreatedAt.IsZero() {
			created = g.CreatedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", g.ID, g.AppName, g.Status, created, link)
	}
	tw.Flush()
}

// Snapshots prints the iteration list and marks the current iteration.
func (p *Printer) Snapshots(snaps []snapshot.Snapshot, current int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Fprintln(p.w, "no iterations yet")
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, " \tITER\tID\tTYPE\tFILES\tTOKENS\tSUMMARY")
	for _, s := range snaps {
		mark := " "
		if s.IterationNumber == current {
			mark = "*"
		}
		tokens, summary := "-", ""
		if s.Metadata != nil {
			if s.Metadata.TokensUsed != nil {
				tokens = fmt.Sprint(*s.Metadata.TokensUsed)
			}
			summary = s.Metadata.Summary
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
			mark, s.IterationNumber, s.ID, s.SnapshotType, len(s.Paths()), tokens, summary)
	}
	tw.Flush()
}

// Comparison prints a diff summary.
func (p *Printer) Comparison(c snapshot.Comparison) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, f := range c.Added {
		p.linef(ansiCyan, "+ %s", f)
	}
	for _, f := range c.Modified {
		p.linef(ansiYellow, "~ %s", f)
	}
	for _, f := range c.Removed {
		p.linef(ansiRed, "- %s", f)
	}
	fmt.Fprintf(p.w, "%d added, %d touched, %d removed\n", len(c.Added), len(c.Modified), len(c.Removed))
	if c.Meta.TokensChanged {
		fmt.Fprintf(p.w, "tokens %+d\n", c.Meta.TokensDelta)
	}
	if c.Meta.DurationChanged {
		fmt.Fprintf(p.w, "duration %+.1fs\n", c.Meta.DurationDelta)
	}
}

// LocalFiles prints how many files a local checkout holds.
func (p *Printer) LocalFiles(dir string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.linef(ansiDim, "%d local files in %s", n, dir)
}

// linef writes one line. Callers hold mu.
func (p *Printer) linef(color, format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	line = strings.TrimRight(line, "\n")
	if p.color && color != "" {
		line = color + line + ansiReset
	}
	fmt.Fprintln(p.w, line)
}

func levelColor(level string) string {
	switch level {
	case protocol.LevelError:
		return ansiRed
	case protocol.LevelWarn:
		return ansiYellow
	case protocol.LevelDebug:
		return ansiDim
	}
	return ""
}
