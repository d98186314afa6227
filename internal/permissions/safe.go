package permissions

import "strings"

// DefaultSafeCommands are read-only, side-effect-free commands that never
// need approval. Matching is exact on the whitespace-normalized command, so
// "git status" is safe but "git status && rm x" is not.
var DefaultSafeCommands = []string{
	"date",
	"git branch",
	"git diff",
	"git log",
	"git status",
	"pwd",
	"tree",
	"which",
}

// SafeList answers whether a command is on the always-allowed list.
type SafeList struct {
	entries map[string]bool
}

// NewSafeList builds a safe list from the defaults plus any extra commands
// from configuration.
func NewSafeList(extra ...string) *SafeList {
	l := &SafeList{entries: make(map[string]bool, len(DefaultSafeCommands)+len(extra))}
	for _, cmd := range DefaultSafeCommands {
		l.entries[normalizeCommand(cmd)] = true
	}
	for _, cmd := range extra {
		if cmd = normalizeCommand(cmd); cmd != "" {
			l.entries[cmd] = true
		}
	}
	return l
}

// Allows reports whether the exact command is on the list.
func (l *SafeList) Allows(command string) bool {
	return l.entries[normalizeCommand(command)]
}

// Entries returns the sorted list, for display.
func (l *SafeList) Entries() []string {
	return sortedKeys(l.entries)
}

// normalizeCommand collapses whitespace runs so spacing differences do not
// defeat exact matching.
func normalizeCommand(command string) string {
	return strings.Join(strings.Fields(command), " ")
}
