package protocol

import (
	"fmt"
	"strings"
)

// Describe returns a history level and one-line description for a message.
func Describe(msg Message) (level, text string) {
	switch m := msg.(type) {
	case Ready:
		return LevelInfo, "worker ready"
	case Log:
		lvl := m.Level
		if lvl == "" {
			lvl = LevelInfo
		}
		return lvl, m.Line
	case Progress:
		var b strings.Builder
		if m.TotalIterations > 0 {
			fmt.Fprintf(&b, "iteration %d/%d", m.Iteration, m.TotalIterations)
		} else if m.Iteration > 0 {
			fmt.Fprintf(&b, "iteration %d", m.Iteration)
		}
		for _, part := range []string{m.Stage, m.Step} {
			if part == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString(": ")
			}
			b.WriteString(part)
		}
		if m.Percentage > 0 {
			fmt.Fprintf(&b, " (%.0f%%)", m.Percentage)
		}
		return LevelInfo, b.String()
	case IterationComplete:
		return LevelInfo, fmt.Sprintf("iteration %d complete", m.Iteration)
	case AllWorkComplete:
		text := fmt.Sprintf("all work complete after %d iterations", m.TotalIterations)
		if m.CompletionReason != "" {
			text += " (" + m.CompletionReason + ")"
		}
		return LevelInfo, text
	case Error:
		text := m.Message
		if m.ErrorCode != "" {
			text = m.ErrorCode + ": " + text
		}
		if m.RecoveryHint != "" {
			text += " (hint: " + m.RecoveryHint + ")"
		}
		if m.Fatal {
			return LevelError, "fatal: " + text
		}
		return LevelWarn, text
	case DecisionPrompt:
		return LevelInfo, "decision needed: " + m.Question
	case ConnectionStatus:
		return LevelInfo, fmt.Sprintf("browser connected=%t, container connected=%t", m.BrowserConnected, m.ContainerConnected)
	case Status:
		return LevelInfo, m.Message
	case ShutdownInitiated:
		return LevelInfo, withDefault(m.Message, "shutdown initiated")
	case ShutdownReady:
		text := "work saved"
		if m.CommitHash != "" {
			text += " at commit " + m.CommitHash
		}
		if m.Pushed {
			text += " (pushed)"
		} else {
			text += " (not pushed)"
		}
		if m.Message != "" {
			text += ": " + m.Message
		}
		return LevelInfo, text
	case ShutdownFailed:
		return LevelWarn, "failed to save work: " + m.Reason
	case ShutdownTimeout:
		return LevelWarn, withDefault(m.Message, "timed out saving work")
	case GenerationStopped:
		return LevelInfo, withDefault(m.Message, "generation stopped")
	case ConversationLog:
		return LevelDebug, fmt.Sprintf("conversation log: %d entries", len(m.Entries))
	case ProcessMonitor:
		return LevelDebug, fmt.Sprintf("monitor: %s (score %.2f, %d tokens, $%.4f)",
			m.Summary, m.Trajectory.Score, m.Stats.Tokens, m.Stats.CostUSD)
	case Connected:
		return LevelInfo, "connected"
	case Disconnected:
		if m.Reason == "" {
			return LevelWarn, "disconnected"
		}
		return LevelWarn, "disconnected: " + m.Reason
	}
	return LevelInfo, string(msg.Kind())
}

// DescribeCommand is the outbound counterpart of Describe.
func DescribeCommand(cmd Command) string {
	switch c := cmd.(type) {
	case StartGeneration:
		if c.ResumeSessionID != "" {
			return fmt.Sprintf("resume session %s (max %d iterations)", c.ResumeSessionID, c.MaxIterations)
		}
		return fmt.Sprintf("start %s generation for %q (max %d iterations)", c.Mode, c.AppName, c.MaxIterations)
	case DecisionResponse:
		return fmt.Sprintf("answered %s: %s", c.PromptID, c.Response)
	case Control:
		return "control: " + string(c.Command)
	case StopRequest:
		return "stop requested"
	}
	return cmd.CommandType()
}

func withDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
