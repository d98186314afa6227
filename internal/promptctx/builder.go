// Package promptctx assembles the project context map that the conversation
// loop appends to the system prompt: git status, directory layout, and the
// project README, plus any caller-supplied entries. Snapshots are cached
// against a content fingerprint and invalidated by a filesystem watcher;
// when no watcher is running every Build recomputes from scratch.
package promptctx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/praxis/internal/observability"
)

// Keys of the built-in context map entries.
const (
	KeyGitStatus          = "gitStatus"
	KeyDirectoryStructure = "directoryStructure"
	KeyReadme             = "readme"
)

const (
	defaultGitTimeout     = 5 * time.Second
	defaultMaxDepth       = 3
	defaultMaxEntries     = 200
	defaultMaxReadmeBytes = 16 * 1024
	maxGitLines           = 200
)

// Options tunes context collection. The zero value is usable.
type Options struct {
	Logger *observability.Logger

	// Extra entries are merged into every snapshot and win over the
	// built-in keys on collision. Empty values are dropped.
	Extra map[string]string

	GitTimeout     time.Duration
	MaxDepth       int // directory tree depth
	MaxEntries     int // directory tree entry cap
	MaxReadmeBytes int
}

// Builder computes the context map for one project root.
type Builder struct {
	root           string
	log            *observability.Logger
	extra          map[string]string
	gitTimeout     time.Duration
	maxDepth       int
	maxEntries     int
	maxReadmeBytes int

	mu      sync.Mutex
	gen     uint64
	values  map[string]string
	digest  string
	builtAt time.Time
	fresh   bool

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
	watched     map[string]struct{}
}

// New returns a Builder rooted at dir, which must exist.
func New(dir string, opts Options) (*Builder, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("promptctx: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("promptctx: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("promptctx: root %s is not a directory", abs)
	}

	log := opts.Logger
	if log == nil {
		log = observability.Discard()
	}
	b := &Builder{
		root:           abs,
		log:            log.WithComponent("promptctx"),
		gitTimeout:     opts.GitTimeout,
		maxDepth:       opts.MaxDepth,
		maxEntries:     opts.MaxEntries,
		maxReadmeBytes: opts.MaxReadmeBytes,
	}
	if b.gitTimeout <= 0 {
		b.gitTimeout = defaultGitTimeout
	}
	if b.maxDepth <= 0 {
		b.maxDepth = defaultMaxDepth
	}
	if b.maxEntries <= 0 {
		b.maxEntries = defaultMaxEntries
	}
	if b.maxReadmeBytes <= 0 {
		b.maxReadmeBytes = defaultMaxReadmeBytes
	}
	if len(opts.Extra) > 0 {
		b.extra = make(map[string]string, len(opts.Extra))
		for k, v := range opts.Extra {
			b.extra[k] = v
		}
	}
	return b, nil
}

// Root returns the project root the builder collects from.
func (b *Builder) Root() string {
	return b.root
}

// Build returns the current context map. With a running watcher the cached
// snapshot is served until an event invalidates it; otherwise the map is
// recomputed on every call. Failed collectors drop their key rather than
// failing the build.
func (b *Builder) Build(ctx context.Context) map[string]string {
	b.mu.Lock()
	if b.fresh && b.watching() {
		m := copyValues(b.values)
		b.mu.Unlock()
		return m
	}
	gen := b.gen
	b.mu.Unlock()

	values := b.collect(ctx)
	digest := fingerprint(b.root, values)

	b.mu.Lock()
	b.values = values
	changed := digest != b.digest
	b.digest = digest
	b.builtAt = time.Now()
	// An event that arrived while collecting leaves the snapshot stale.
	b.fresh = b.gen == gen
	m := copyValues(values)
	b.mu.Unlock()

	if changed {
		b.log.Debug(ctx, "context rebuilt", "keys", len(values), "fingerprint", digest)
	}
	return m
}

// Invalidate forces the next Build to recompute.
func (b *Builder) Invalidate() {
	b.mu.Lock()
	b.gen++
	b.fresh = false
	b.mu.Unlock()
}

// Fingerprint identifies the last built snapshot: a hash over the root and
// every key/value pair. Empty until the first Build.
func (b *Builder) Fingerprint() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.digest
}

// BuiltAt reports when the last snapshot was computed.
func (b *Builder) BuiltAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builtAt
}

func (b *Builder) collect(ctx context.Context) map[string]string {
	values := make(map[string]string)
	if s := b.collectGitStatus(ctx); s != "" {
		values[KeyGitStatus] = s
	}
	if s := b.collectDirectoryStructure(ctx); s != "" {
		values[KeyDirectoryStructure] = s
	}
	if s := b.collectReadme(ctx); s != "" {
		values[KeyReadme] = s
	}
	for k, v := range b.extra {
		if v == "" {
			continue
		}
		values[k] = v
	}
	return values
}

func fingerprint(root string, values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(root))
	h.Write([]byte{0})
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(values[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func copyValues(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
