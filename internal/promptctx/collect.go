package promptctx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// readmeCandidates are checked in order; the first readable file wins.
var readmeCandidates = []string{"README.md", "README"}

// skipDirNames are never descended into or listed in the directory tree.
var skipDirNames = map[string]struct{}{
	"node_modules": {},
	"vendor":       {},
	"dist":         {},
	"target":       {},
	"__pycache__":  {},
}

// collectGitStatus shells out to git for branch and working tree state.
// A missing binary or a non-repository root drops the key.
func (b *Builder) collectGitStatus(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, b.gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "status", "--short", "--branch")
	cmd.Dir = b.root
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.Output()
	if err != nil {
		b.log.Debug(ctx, "git status unavailable", "error", err)
		return ""
	}

	s := strings.TrimRight(string(out), "\n")
	lines := strings.Split(s, "\n")
	if len(lines) > maxGitLines {
		kept := lines[:maxGitLines]
		kept = append(kept, fmt.Sprintf("... (+%d more)", len(lines)-maxGitLines))
		s = strings.Join(kept, "\n")
	}
	return s
}

// collectDirectoryStructure renders the tree under the root as an indented
// list, directories marked with a trailing slash. Hidden entries and the
// usual dependency directories are skipped, and both depth and entry count
// are bounded.
func (b *Builder) collectDirectoryStructure(ctx context.Context) string {
	var lines []string
	truncated := b.listTree(ctx, b.root, 0, &lines)
	if len(lines) == 0 {
		return ""
	}
	if truncated {
		lines = append(lines, "... (listing capped)")
	}
	return strings.Join(lines, "\n")
}

// listTree appends one line per entry and reports whether the entry cap cut
// the walk short.
func (b *Builder) listTree(ctx context.Context, dir string, depth int, lines *[]string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		b.log.Debug(ctx, "skipping unreadable directory", "path", dir, "error", err)
		return false
	}

	indent := strings.Repeat("  ", depth)
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if _, skip := skipDirNames[name]; skip && entry.IsDir() {
			continue
		}
		if len(*lines) >= b.maxEntries {
			return true
		}
		if entry.IsDir() {
			*lines = append(*lines, indent+"- "+name+"/")
			if depth+1 < b.maxDepth {
				if b.listTree(ctx, filepath.Join(dir, name), depth+1, lines) {
					return true
				}
			}
		} else {
			*lines = append(*lines, indent+"- "+name)
		}
	}
	return false
}

// collectReadme reads the first README candidate, bounded by MaxReadmeBytes.
func (b *Builder) collectReadme(ctx context.Context) string {
	for _, name := range readmeCandidates {
		data, err := os.ReadFile(filepath.Join(b.root, name))
		if err != nil {
			if !os.IsNotExist(err) {
				b.log.Debug(ctx, "readme unreadable", "path", name, "error", err)
			}
			continue
		}
		s := strings.TrimSpace(string(data))
		if len(s) > b.maxReadmeBytes {
			cut := b.maxReadmeBytes
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			s = s[:cut] + "\n... (truncated)"
		}
		return s
	}
	return ""
}
