// Package files provides the workspace-scoped file tools: read, write and
// edit. Every path is resolved through a Resolver that confines it to the
// working directory.
package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver confines tool paths to a workspace root.
type Resolver struct {
	Root string
}

// Resolve returns the absolute path for a workspace-relative or absolute
// path, rejecting anything that escapes the root.
func (r Resolver) Resolve(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path is required")
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	target := trimmed
	if !filepath.IsAbs(target) {
		target = filepath.Join(rootAbs, target)
	}
	target = filepath.Clean(target)
	rel, err := filepath.Rel(rootAbs, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return target, nil
}
