// Package search provides the read-only workspace search tools: glob for
// path matching and grep for content matching. Hidden directories are never
// searched and result counts are bounded.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/praxis/internal/agent"
	"github.com/haasonsaas/praxis/internal/tools/files"
)

const defaultGlobResults = 200

// GlobTool lists files whose names match a glob pattern, newest first.
type GlobTool struct {
	maxResults int
}

var (
	_ agent.Tool              = (*GlobTool)(nil)
	_ agent.SemanticValidator = (*GlobTool)(nil)
)

// NewGlobTool creates the glob tool. maxResults bounds one call's matches;
// zero means the default.
func NewGlobTool(maxResults int) *GlobTool {
	if maxResults <= 0 {
		maxResults = defaultGlobResults
	}
	return &GlobTool{maxResults: maxResults}
}

type globInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern (e.g. *.go or cmd/*/main.go). A * never crosses directory boundaries; patterns with a / match against the relative path."
}

func (t *GlobTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern to match file names against.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search (relative to the working directory).",
			},
		},
		"required": []string{"pattern"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *GlobTool) ReadOnly() bool { return true }

// ValidateInput rejects malformed glob patterns.
func (t *GlobTool) ValidateInput(ctx context.Context, env *agent.ExecContext, input json.RawMessage) error {
	var in globInput
	if err := json.Unmarshal(input, &in); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if _, err := filepath.Match(in.Pattern, "probe"); err != nil {
		return fmt.Errorf("invalid pattern %q", in.Pattern)
	}
	return nil
}

type globMatch struct {
	rel string
	mod time.Time
}

// Execute walks the search root collecting matches, newest first.
func (t *GlobTool) Execute(ctx context.Context, input json.RawMessage, env *agent.ExecContext, progress agent.ProgressFunc) (*agent.Result, error) {
	var in globInput
	if err := json.Unmarshal(input, &in); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	base, result := resolveBase(env, in.Path)
	if result != nil {
		return result, nil
	}
	matchRelPath := strings.Contains(in.Pattern, "/")

	var matches []globMatch
	truncated := false
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != base && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		subject := d.Name()
		if matchRelPath {
			subject = rel
		}
		ok, err := filepath.Match(in.Pattern, subject)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		matches = append(matches, globMatch{rel: rel, mod: info.ModTime()})
		if len(matches) >= t.maxResults {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, agent.NewToolError(agent.ToolErrorCanceled, t.Name(), ctx.Err())
		}
		return errorResult(fmt.Sprintf("walk workspace: %v", err)), nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].mod.Equal(matches[j].mod) {
			return matches[i].mod.After(matches[j].mod)
		}
		return matches[i].rel < matches[j].rel
	})

	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.rel
	}
	rendered := strings.Join(paths, "\n")
	if truncated {
		rendered += fmt.Sprintf("\n... (results capped at %d)", t.maxResults)
	}
	if rendered == "" {
		rendered = "no files match the pattern"
	}

	raw, err := json.Marshal(map[string]interface{}{
		"pattern":   in.Pattern,
		"matches":   len(matches),
		"truncated": truncated,
	})
	if err != nil {
		raw = nil
	}

	return &agent.Result{Rendered: rendered, Raw: raw}, nil
}

// resolveBase confines the optional search path to the working directory.
func resolveBase(env *agent.ExecContext, path string) (string, *agent.Result) {
	if path == "" {
		path = "."
	}
	resolver := files.Resolver{Root: env.WorkDir}
	base, err := resolver.Resolve(path)
	if err != nil {
		return "", errorResult(err.Error())
	}
	return base, nil
}

func errorResult(message string) *agent.Result {
	return &agent.Result{Rendered: message, IsError: true}
}
