// Package exec provides the shell execution tool.
package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/praxis/internal/agent"
	"github.com/haasonsaas/praxis/pkg/models"
)

const (
	toolName = "bash"

	defaultMaxOutput = 30_000
	defaultTimeout   = 2 * time.Minute
	progressInterval = 250 * time.Millisecond
)

// Options configures the bash tool.
type Options struct {
	// MaxOutputBytes caps captured stdout and stderr, each.
	MaxOutputBytes int

	// DefaultTimeout bounds commands that don't request their own.
	DefaultTimeout time.Duration
}

// BashTool runs shell commands in the working directory. Approvals are
// scoped to command prefixes rather than the bare tool name.
type BashTool struct {
	maxOutput int
	timeout   time.Duration
}

var (
	_ agent.Tool               = (*BashTool)(nil)
	_ agent.Normalizer         = (*BashTool)(nil)
	_ agent.SemanticValidator  = (*BashTool)(nil)
	_ agent.PermissionReporter = (*BashTool)(nil)
)

// NewBashTool creates the bash tool.
func NewBashTool(opts Options) *BashTool {
	maxOutput := opts.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutput
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &BashTool{maxOutput: maxOutput, timeout: timeout}
}

type bashInput struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (t *BashTool) Name() string { return toolName }

func (t *BashTool) Description() string {
	return "Run a shell command in the working directory and return its output."
}

func (t *BashTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"timeout_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds (0 = tool default).",
				"minimum":     0,
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *BashTool) ReadOnly() bool { return false }

// NormalizeInput strips a redundant "cd <dir> && " prefix when dir is the
// working directory. Left in place it would defeat prefix-scoped approvals:
// every command's derived prefix becomes "cd".
func (t *BashTool) NormalizeInput(ctx context.Context, env *agent.ExecContext, input json.RawMessage) (json.RawMessage, error) {
	var in bashInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	stripped := stripWorkDirPrefix(in.Command, env.WorkDir)
	if stripped == in.Command {
		return input, nil
	}
	in.Command = stripped
	out, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode normalized input: %w", err)
	}
	return out, nil
}

// ValidateInput rejects blank commands.
func (t *BashTool) ValidateInput(ctx context.Context, env *agent.ExecContext, input json.RawMessage) error {
	var in bashInput
	if err := json.Unmarshal(input, &in); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(in.Command) == "" {
		return errors.New("command must not be empty")
	}
	return nil
}

// Permission reports the command text so approvals can match exact commands
// or derived prefixes.
func (t *BashTool) Permission(input json.RawMessage) agent.PermissionSpec {
	var in bashInput
	_ = json.Unmarshal(input, &in)
	return agent.PermissionSpec{
		Required: true,
		Command:  strings.TrimSpace(in.Command),
		Prefix:   true,
	}
}

// execResult is the raw payload attached to the tool-result message.
type execResult struct {
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMS int64  `json:"duration_ms"`
	Truncated  bool   `json:"truncated,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

// Execute runs the command under /bin/sh in the working directory, streaming
// output snapshots through progress while it runs.
func (t *BashTool) Execute(ctx context.Context, input json.RawMessage, env *agent.ExecContext, progress agent.ProgressFunc) (*agent.Result, error) {
	var in bashInput
	if err := json.Unmarshal(input, &in); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(in.Command)
	if command == "" {
		return errorResult("command is required"), nil
	}

	timeout := t.timeout
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	if env.WorkDir != "" {
		cmd.Dir = env.WorkDir
	}
	stdout := newLimitedBuffer(t.maxOutput)
	stderr := newLimitedBuffer(t.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	stop := make(chan struct{})
	var wg sync.WaitGroup
	if progress != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			streamOutput(runCtx, stop, stdout, stderr, progress)
		}()
	}

	start := time.Now()
	runErr := cmd.Run()
	close(stop)
	wg.Wait()
	elapsed := time.Since(start)

	if err := ctx.Err(); err != nil {
		return nil, agent.NewToolError(agent.ToolErrorCanceled, toolName, err)
	}
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)

	code := 0
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		code = exitErr.ExitCode()
	case timedOut:
		code = -1
	default:
		// Run failed before the process started, e.g. a missing shell.
		return errorResult(fmt.Sprintf("run command: %v", runErr)), nil
	}

	outText := stdout.String()
	errText := stderr.String()
	truncated := stdout.Truncated() || stderr.Truncated()

	rendered := combineOutput(outText, errText)
	if truncated {
		rendered = appendNote(rendered, "(output truncated)")
	}
	if timedOut {
		rendered = appendNote(rendered, fmt.Sprintf("command timed out after %s", timeout))
	} else if code != 0 {
		rendered = appendNote(rendered, fmt.Sprintf("exit status %d", code))
	}
	if rendered == "" {
		rendered = "(no output)"
	}

	raw, err := json.Marshal(execResult{
		Command:    command,
		ExitCode:   code,
		Stdout:     outText,
		Stderr:     errText,
		DurationMS: elapsed.Milliseconds(),
		Truncated:  truncated,
		TimedOut:   timedOut,
	})
	if err != nil {
		raw = nil
	}

	return &agent.Result{Rendered: rendered, Raw: raw, IsError: code != 0 || timedOut}, nil
}

// streamOutput emits a snapshot whenever the captured output grew since the
// last tick.
func streamOutput(ctx context.Context, stop <-chan struct{}, stdout, stderr *limitedBuffer, progress agent.ProgressFunc) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	last := ""
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := combineOutput(stdout.String(), stderr.String())
			if snapshot == "" || snapshot == last {
				continue
			}
			last = snapshot
			progress(models.NewAssistantTextMessage(snapshot))
		}
	}
}

// stripWorkDirPrefix removes a leading "cd <dir> &&" when dir resolves to
// workDir. Anything it cannot parse confidently is returned unchanged.
func stripWorkDirPrefix(command, workDir string) string {
	if workDir == "" {
		return command
	}
	trimmed := strings.TrimSpace(command)
	head, rest, ok := strings.Cut(trimmed, "&&")
	if !ok {
		return command
	}
	target, ok := strings.CutPrefix(strings.TrimSpace(head), "cd ")
	if !ok {
		return command
	}
	target = strings.TrimSpace(target)
	if target == "" || strings.ContainsAny(target, " \t") {
		return command
	}
	target = unquote(target)
	absWork, err := filepath.Abs(workDir)
	if err != nil {
		return command
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(absWork, target)
	}
	if filepath.Clean(target) != absWork {
		return command
	}
	return strings.TrimSpace(rest)
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func combineOutput(stdout, stderr string) string {
	stdout = strings.TrimRight(stdout, "\n")
	stderr = strings.TrimRight(stderr, "\n")
	switch {
	case stdout == "":
		return stderr
	case stderr == "":
		return stdout
	default:
		return stdout + "\n" + stderr
	}
}

func appendNote(s, note string) string {
	if s == "" {
		return note
	}
	return s + "\n" + note
}

func errorResult(message string) *agent.Result {
	return &agent.Result{Rendered: message, IsError: true}
}

// limitedBuffer keeps at most max bytes and remembers whether anything was
// dropped.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if b.max > 0 && len(b.buf)+len(p) > b.max {
		b.buf = append(b.buf, p[:b.max-len(b.buf)]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
