package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/praxis/internal/agent"
)

// EditTool replaces an exact string in a file. A non-unique match is
// rejected unless replace_all is set, so an edit never lands somewhere the
// model didn't look. Approvals never persist across sessions.
type EditTool struct{}

var (
	_ agent.Tool               = (*EditTool)(nil)
	_ agent.SemanticValidator  = (*EditTool)(nil)
	_ agent.PermissionReporter = (*EditTool)(nil)
)

// NewEditTool creates the edit tool.
func NewEditTool() *EditTool { return &EditTool{} }

type editInput struct {
	Path       string `json:"path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

func (t *EditTool) Name() string { return "edit" }

func (t *EditTool) Description() string {
	return "Replace an exact string in a file. old_string must match the file contents exactly and, without replace_all, exactly once."
}

func (t *EditTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to edit (relative to the working directory).",
			},
			"old_string": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to replace.",
			},
			"new_string": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text.",
			},
			"replace_all": map[string]interface{}{
				"type":        "boolean",
				"description": "Replace every occurrence (default: false).",
			},
		},
		"required": []string{"path", "old_string", "new_string"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *EditTool) ReadOnly() bool { return false }

// ValidateInput rejects edits that could not change anything.
func (t *EditTool) ValidateInput(ctx context.Context, env *agent.ExecContext, input json.RawMessage) error {
	var in editInput
	if err := json.Unmarshal(input, &in); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if in.OldString == "" {
		return errors.New("old_string must not be empty")
	}
	if in.OldString == in.NewString {
		return errors.New("old_string and new_string are identical")
	}
	return nil
}

// Permission marks edit approvals session-only.
func (t *EditTool) Permission(input json.RawMessage) agent.PermissionSpec {
	return agent.PermissionSpec{Required: true, SessionOnly: true}
}

// Execute applies the replacement after checking occurrence counts.
func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, env *agent.ExecContext, progress agent.ProgressFunc) (*agent.Result, error) {
	var in editInput
	if err := json.Unmarshal(input, &in); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	resolver := Resolver{Root: env.WorkDir}
	resolved, err := resolver.Resolve(in.Path)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return errorResult(fmt.Sprintf("stat file: %v", err)), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return errorResult(fmt.Sprintf("read file: %v", err)), nil
	}
	content := string(data)

	count := strings.Count(content, in.OldString)
	switch {
	case count == 0:
		return errorResult("old_string not found in file"), nil
	case count > 1 && !in.ReplaceAll:
		return errorResult(fmt.Sprintf("old_string occurs %d times; add surrounding context to make it unique or set replace_all", count)), nil
	}

	replacements := 1
	if in.ReplaceAll {
		content = strings.ReplaceAll(content, in.OldString, in.NewString)
		replacements = count
	} else {
		content = strings.Replace(content, in.OldString, in.NewString, 1)
	}

	if err := os.WriteFile(resolved, []byte(content), info.Mode().Perm()); err != nil {
		return errorResult(fmt.Sprintf("write file: %v", err)), nil
	}

	noun := "occurrence"
	if replacements != 1 {
		noun = "occurrences"
	}
	rendered := fmt.Sprintf("Replaced %d %s in %s", replacements, noun, in.Path)

	raw, err := json.Marshal(map[string]interface{}{
		"path":         in.Path,
		"replacements": replacements,
	})
	if err != nil {
		raw = nil
	}

	return &agent.Result{Rendered: rendered, Raw: raw}, nil
}
