package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/haasonsaas/praxis/internal/agent"
)

const defaultMaxReadBytes = 262_144

// ReadTool returns file contents from the working directory.
type ReadTool struct {
	maxBytes int
}

var _ agent.Tool = (*ReadTool)(nil)

// NewReadTool creates the read tool. maxBytes caps how much of a file one
// call returns; zero means the default.
func NewReadTool(maxBytes int) *ReadTool {
	if maxBytes <= 0 {
		maxBytes = defaultMaxReadBytes
	}
	return &ReadTool{maxBytes: maxBytes}
}

type readInput struct {
	Path     string `json:"path"`
	Offset   int64  `json:"offset,omitempty"`
	MaxBytes int    `json:"max_bytes,omitempty"`
}

func (t *ReadTool) Name() string { return "read" }

func (t *ReadTool) Description() string {
	return "Read a file from the working directory with optional offset and byte limit."
}

func (t *ReadTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file (relative to the working directory).",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "Byte offset to start reading from (default: 0).",
				"minimum":     0,
			},
			"max_bytes": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum bytes to read (capped by the tool default).",
				"minimum":     0,
			},
		},
		"required": []string{"path"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *ReadTool) ReadOnly() bool { return true }

// Execute reads the file, rendering its contents for the model and keeping
// position metadata on the raw payload.
func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage, env *agent.ExecContext, progress agent.ProgressFunc) (*agent.Result, error) {
	var in readInput
	if err := json.Unmarshal(input, &in); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if in.Offset < 0 {
		return errorResult("offset must be >= 0"), nil
	}

	resolver := Resolver{Root: env.WorkDir}
	resolved, err := resolver.Resolve(in.Path)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		return errorResult(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errorResult(fmt.Sprintf("stat file: %v", err)), nil
	}
	if info.IsDir() {
		return errorResult(fmt.Sprintf("%s is a directory", in.Path)), nil
	}

	if in.Offset > 0 {
		if _, err := file.Seek(in.Offset, io.SeekStart); err != nil {
			return errorResult(fmt.Sprintf("seek file: %v", err)), nil
		}
	}

	limit := t.maxBytes
	if in.MaxBytes > 0 && in.MaxBytes < limit {
		limit = in.MaxBytes
	}
	buf, err := io.ReadAll(io.LimitReader(file, int64(limit)))
	if err != nil {
		return errorResult(fmt.Sprintf("read file: %v", err)), nil
	}
	truncated := in.Offset+int64(len(buf)) < info.Size()

	rendered := string(buf)
	if truncated {
		rendered += fmt.Sprintf("\n... (truncated, %d of %d bytes)", len(buf), info.Size())
	}
	if len(buf) == 0 {
		if in.Offset == 0 {
			rendered = "(empty file)"
		} else {
			rendered = fmt.Sprintf("(no content at offset %d)", in.Offset)
		}
	}

	raw, err := json.Marshal(map[string]interface{}{
		"path":      in.Path,
		"offset":    in.Offset,
		"bytes":     len(buf),
		"size":      info.Size(),
		"truncated": truncated,
	})
	if err != nil {
		raw = nil
	}

	return &agent.Result{Rendered: rendered, Raw: raw}, nil
}

func errorResult(message string) *agent.Result {
	return &agent.Result{Rendered: message, IsError: true}
}
