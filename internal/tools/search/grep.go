package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/praxis/internal/agent"
)

const (
	defaultGrepResults = 100
	maxGrepFileSize    = 1 << 20
	maxGrepLineBytes   = 250
)

var newline = []byte("\n")

// GrepTool scans workspace files line by line against a regular expression.
type GrepTool struct {
	maxResults int
}

var (
	_ agent.Tool              = (*GrepTool)(nil)
	_ agent.SemanticValidator = (*GrepTool)(nil)
)

// NewGrepTool creates the grep tool. maxResults bounds one call's matching
// lines; zero means the default.
func NewGrepTool(maxResults int) *GrepTool {
	if maxResults <= 0 {
		maxResults = defaultGrepResults
	}
	return &GrepTool{maxResults: maxResults}
}

type grepInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Glob    string `json:"glob,omitempty"`
}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search file contents with a regular expression, reporting path:line matches."
}

func (t *GrepTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for (RE2 syntax).",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search (relative to the working directory).",
			},
			"glob": map[string]interface{}{
				"type":        "string",
				"description": "Only scan files whose name matches this glob (e.g. *.go).",
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

func (t *GrepTool) ReadOnly() bool { return true }

// ValidateInput rejects patterns that do not compile.
func (t *GrepTool) ValidateInput(ctx context.Context, env *agent.ExecContext, input json.RawMessage) error {
	var in grepInput
	if err := json.Unmarshal(input, &in); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if _, err := regexp.Compile(in.Pattern); err != nil {
		return fmt.Errorf("invalid pattern: %v", err)
	}
	if in.Glob != "" {
		if _, err := filepath.Match(in.Glob, "probe"); err != nil {
			return fmt.Errorf("invalid glob %q", in.Glob)
		}
	}
	return nil
}

// Execute scans matching files, skipping binaries and anything over the
// size cap.
func (t *GrepTool) Execute(ctx context.Context, input json.RawMessage, env *agent.ExecContext, progress agent.ProgressFunc) (*agent.Result, error) {
	var in grepInput
	if err := json.Unmarshal(input, &in); err != nil {
		return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	re, err := regexp.Compile(in.Pattern)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid pattern: %v", err)), nil
	}

	base, result := resolveBase(env, in.Path)
	if result != nil {
		return result, nil
	}

	var hits []string
	truncated := false
	scanned := 0
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
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
		if in.Glob != "" {
			ok, err := filepath.Match(in.Glob, d.Name())
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxGrepFileSize {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			return nil
		}
		if bytes.IndexByte(data, 0) >= 0 {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		scanned++

		lines := bytes.Split(data, newline)
		if len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
			lines = lines[:len(lines)-1]
		}
		for i, line := range lines {
			if !re.Match(line) {
				continue
			}
			text := truncateLine(string(bytes.TrimRight(line, "\r")))
			hits = append(hits, fmt.Sprintf("%s:%d: %s", rel, i+1, text))
			if len(hits) >= t.maxResults {
				truncated = true
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, agent.NewToolError(agent.ToolErrorCanceled, t.Name(), ctx.Err())
		}
		return errorResult(fmt.Sprintf("walk workspace: %v", err)), nil
	}

	rendered := strings.Join(hits, "\n")
	if truncated {
		rendered += fmt.Sprintf("\n... (results capped at %d)", t.maxResults)
	}
	if rendered == "" {
		rendered = "no matches found"
	}

	raw, err := json.Marshal(map[string]interface{}{
		"pattern":       in.Pattern,
		"matches":       len(hits),
		"files_scanned": scanned,
		"truncated":     truncated,
	})
	if err != nil {
		raw = nil
	}

	return &agent.Result{Rendered: rendered, Raw: raw}, nil
}

// truncateLine bounds one reported line, cutting at a rune boundary.
func truncateLine(s string) string {
	if len(s) <= maxGrepLineBytes {
		return s
	}
	cut := maxGrepLineBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
