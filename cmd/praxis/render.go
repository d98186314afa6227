package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/haasonsaas/praxis/internal/permissions"
	"github.com/haasonsaas/praxis/internal/usage"
	"github.com/haasonsaas/praxis/pkg/models"
)

var (
	dimColor     = lipgloss.Color("7")
	accentColor  = lipgloss.Color("12")
	successColor = lipgloss.Color("10")
	warningColor = lipgloss.Color("11")
	dangerColor  = lipgloss.Color("9")

	promptStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	dimStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	warnStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(dangerColor)
)

const toolResultLines = 6

// printer renders engine messages as plain streamed output.
type printer struct {
	out io.Writer
}

// Message dispatches one engine message to its renderer.
func (p *printer) Message(msg models.Message) {
	switch m := msg.(type) {
	case *models.AssistantMessage:
		p.assistant(m)
	case *models.UserMessage:
		p.toolResult(m)
	case *models.ProgressMessage:
		p.progress(m)
	}
}

func (p *printer) assistant(m *models.AssistantMessage) {
	for _, block := range m.Content {
		switch block.Type {
		case models.BlockText:
			if text := strings.TrimSpace(block.Text); text != "" {
				style := assistantStyle
				if m.IsAPIError {
					style = errorStyle
				}
				fmt.Fprintln(p.out, style.Render(text))
			}
		case models.BlockThinking:
			if text := strings.TrimSpace(block.Text); text != "" {
				fmt.Fprintln(p.out, dimStyle.Render(indentLines(text, "  ")))
			}
		case models.BlockToolUse:
			fmt.Fprintln(p.out, dimStyle.Render(fmt.Sprintf("→ %s %s", block.Name, summarizeInput(block.Name, block.Input))))
		}
	}
}

func (p *printer) toolResult(m *models.UserMessage) {
	for _, block := range m.Content {
		if block.Type != models.BlockToolResult {
			continue
		}
		content := strings.TrimRight(block.Content, "\n")
		if block.IsError {
			fmt.Fprintln(p.out, errorStyle.Render(indentLines(content, "  ")))
			continue
		}
		lines := strings.Split(content, "\n")
		shown := lines
		if len(lines) > toolResultLines {
			shown = lines[:toolResultLines]
		}
		fmt.Fprintln(p.out, dimStyle.Render(indentLines(strings.Join(shown, "\n"), "  ")))
		if hidden := len(lines) - len(shown); hidden > 0 {
			fmt.Fprintln(p.out, dimStyle.Render(fmt.Sprintf("  … +%d lines", hidden)))
		}
	}
}

// progress prints the newest line of a running tool's output snapshot.
func (p *printer) progress(m *models.ProgressMessage) {
	if m.Content == nil {
		return
	}
	var last string
	for _, block := range m.Content.Content {
		if block.Type != models.BlockText {
			continue
		}
		if lines := strings.Split(strings.TrimRight(block.Text, "\n"), "\n"); len(lines) > 0 {
			last = lines[len(lines)-1]
		}
	}
	if strings.TrimSpace(last) != "" {
		fmt.Fprintln(p.out, dimStyle.Render("  · "+last))
	}
}

// Summary prints the session cost line.
func (p *printer) Summary(s usage.Summary) {
	if s.Calls == 0 {
		return
	}
	fmt.Fprintln(p.out, dimStyle.Render(fmt.Sprintf(
		"cost $%.4f · %d calls · %s tokens · %s api time",
		s.CostUSD,
		s.Calls,
		usage.FormatTokenCount(s.Usage.Total()),
		usage.FormatDurationMs(s.APIDuration.Milliseconds()),
	)))
}

func indentLines(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

// summarizeInput renders a tool input on one line. The shell command is
// shown verbatim; everything else as compacted JSON.
func summarizeInput(name string, input json.RawMessage) string {
	const max = 120

	if name == "bash" {
		var in struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(input, &in); err == nil && in.Command != "" {
			return truncateLine(in.Command, max)
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, input); err != nil {
		return ""
	}
	return truncateLine(buf.String(), max)
}

func truncateLine(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// terminalPrompter asks permission questions on the controlling terminal.
// It shares the REPL's stdin reader so buffered input is never lost.
type terminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (t *terminalPrompter) Prompt(ctx context.Context, req permissions.PromptRequest) (permissions.PromptAnswer, error) {
	fmt.Fprintln(t.out, warnStyle.Render(fmt.Sprintf("permission needed: %s", req.Tool)))
	if req.Command != "" {
		fmt.Fprintln(t.out, "  command: "+req.Command)
	}
	if req.Reason != "" {
		fmt.Fprintln(t.out, dimStyle.Render("  "+req.Reason))
	}

	choices := "[y]es once / [a]lways"
	if req.SessionOnly {
		choices = "[y]es once / [a]lways this session"
	}
	if req.PrefixKey != "" {
		choices += fmt.Sprintf(" / [p]refix %s", req.PrefixKey)
	}
	choices += " / [N]o"
	fmt.Fprintf(t.out, "Allow? %s: ", choices)

	line, err := t.in.ReadString('\n')
	if err != nil {
		return permissions.AnswerDeny, err
	}
	if err := ctx.Err(); err != nil {
		return permissions.AnswerDeny, err
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return permissions.AnswerAllowOnce, nil
	case "a", "always":
		return permissions.AnswerAllowAlways, nil
	case "p", "prefix":
		if req.PrefixKey != "" {
			return permissions.AnswerAllowPrefix, nil
		}
		return permissions.AnswerDeny, nil
	default:
		return permissions.AnswerDeny, nil
	}
}
