// Package permissions decides whether a tool invocation may proceed without
// interactive confirmation.
//
// Approvals are string keys: a bare tool name ("Read"), a prefix-scoped
// shell approval ("Bash(git:*)"), or an exact shell command
// ("Bash(git push origin main)"). Project-scoped approvals persist to a
// versioned JSON file; write-tool approvals only ever live in memory for
// the current session.
package permissions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// StoreVersion is the current approvals file format version.
const StoreVersion = 1

// storeFile is the persisted approvals document.
type storeFile struct {
	Version   int      `json:"version"`
	Approvals []string `json:"approvals"`
}

// Store holds approved permission keys. Persisted keys survive across
// sessions; session keys are discarded when the process exits.
type Store struct {
	mu        sync.Mutex
	path      string
	persisted map[string]bool
	session   map[string]bool
}

// OpenStore loads the approvals file at path, creating an empty store when
// the file does not exist. A file with an unknown version is treated as
// empty rather than guessed at; it is only rewritten on the next approval.
func OpenStore(path string) (*Store, error) {
	s := &Store{
		path:      path,
		persisted: make(map[string]bool),
		session:   make(map[string]bool),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read approvals: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse approvals: %w", err)
	}
	if file.Version != StoreVersion {
		return s, nil
	}

	for _, key := range file.Approvals {
		key = strings.TrimSpace(key)
		if key != "" {
			s.persisted[key] = true
		}
	}
	return s, nil
}

// Seed adds pre-approved keys (from project settings) for this session
// without persisting them.
func (s *Store) Seed(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key != "" {
			s.session[key] = true
		}
	}
}

// IsApproved reports whether a key has been approved in any scope.
func (s *Store) IsApproved(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persisted[key] || s.session[key]
}

// Approve records a key. With persist set the approvals file is rewritten;
// otherwise the approval lasts for this session only.
func (s *Store) Approve(key string, persist bool) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("empty permission key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !persist {
		s.session[key] = true
		return nil
	}
	if s.persisted[key] {
		return nil
	}
	s.persisted[key] = true
	return s.saveLocked()
}

// Remove deletes a key from both scopes, rewriting the file if it was
// persisted.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.session, key)
	if !s.persisted[key] {
		return nil
	}
	delete(s.persisted, key)
	return s.saveLocked()
}

// PersistedKeys returns the sorted persisted approvals.
func (s *Store) PersistedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.persisted)
}

// SessionKeys returns the sorted session-only approvals.
func (s *Store) SessionKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.session)
}

// Keys are kept deduplicated and sorted so the file diffs deterministically.
func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create approvals dir: %w", err)
	}

	file := storeFile{
		Version:   StoreVersion,
		Approvals: sortedKeys(s.persisted),
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal approvals: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write approvals: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToolKey is the coarse approval key for a non-shell tool.
func ToolKey(tool string) string {
	return tool
}

// ExactKey approves one exact shell command.
func ExactKey(tool, command string) string {
	return fmt.Sprintf("%s(%s)", tool, strings.TrimSpace(command))
}

// PrefixKey approves every command sharing a leading subcommand.
func PrefixKey(tool, prefix string) string {
	return fmt.Sprintf("%s(%s:*)", tool, strings.TrimSpace(prefix))
}
