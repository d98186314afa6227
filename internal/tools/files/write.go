package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haasonsaas/praxis/internal/agent"
)

// WriteTool creates or overwrites files in the working directory. Approvals
// never persist across sessions.
type WriteTool struct{}

var (
	_ agent.Tool               = (*WriteTool)(nil)
	_ agent.PermissionReporter = (*WriteTool)(nil)
)

// NewWriteTool creates the write tool.
func NewWriteTool() *WriteTool { return &WriteTool{} }

type writeInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append,omitempty"`
}

func (t *WriteTool) Name() string { return "write" }

func (t *WriteTool) Description() string {
	return "Write content to a file in the working directory (overwrites unless append is set)."
}

func (t *WriteTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to write (relative to the working directory).",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "File contents to write.",
			},
			"append": map[string]interface{}{
				"type":        "boolean",
				"description": "Append instead of overwrite (default: false).",
			},
		},
		"required": []string{"path", "content"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *WriteTool) ReadOnly() bool { return false }

// Permission marks write approvals session-only.
func (t *WriteTool) Permission(input json.RawMessage) agent.PermissionSpec {
	return agent.PermissionSpec{Required: true, SessionOnly: true}
}

// Execute writes the file, creating parent directories as needed.
func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, env *agent.ExecContext, progress agent.ProgressFunc) (*agent.Result, error) {
	var in writeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	resolver := Resolver{Root: env.WorkDir}
	resolved, err := resolver.Resolve(in.Path)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return errorResult(fmt.Sprintf("create directory: %v", err)), nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if in.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return errorResult(fmt.Sprintf("open file: %v", err)), nil
	}
	n, err := file.WriteString(in.Content)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errorResult(fmt.Sprintf("write file: %v", err)), nil
	}

	verb := "Wrote"
	if in.Append {
		verb = "Appended"
	}
	rendered := fmt.Sprintf("%s %d bytes to %s", verb, n, in.Path)

	raw, err := json.Marshal(map[string]interface{}{
		"path":          in.Path,
		"bytes_written": n,
		"append":        in.Append,
	})
	if err != nil {
		raw = nil
	}

	return &agent.Result{Rendered: rendered, Raw: raw}, nil
}
