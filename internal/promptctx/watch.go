package promptctx

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// maxWatchDirs bounds the number of inotify watches one builder holds.
const maxWatchDirs = 128

// StartWatching begins invalidating the cached snapshot on filesystem
// changes. Watches cover the root, its subdirectories down to the rendered
// tree depth, and the .git directory when present. Calling it twice is a
// no-op; without it Build recomputes on every call.
func (b *Builder) StartWatching(ctx context.Context) error {
	started, err := b.attachWatcher(ctx)
	if err != nil {
		return err
	}
	if started {
		// Changes made before the watches landed were never observed.
		b.Invalidate()
	}
	return nil
}

func (b *Builder) attachWatcher(ctx context.Context) (bool, error) {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	if b.watcher != nil {
		return false, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("promptctx: start watcher: %w", err)
	}
	b.watcher = watcher
	b.watched = make(map[string]struct{})
	b.seedWatchesLocked(ctx)

	watchCtx, cancel := context.WithCancel(ctx)
	b.watchCancel = cancel
	b.watchWG.Add(1)
	go b.watchLoop(watchCtx, watcher)
	return true, nil
}

// Close stops the watcher and waits for the event loop to exit. Safe to call
// without StartWatching.
func (b *Builder) Close() error {
	b.watchMu.Lock()
	if b.watchCancel != nil {
		b.watchCancel()
		b.watchCancel = nil
	}
	watcher := b.watcher
	b.watcher = nil
	b.watched = nil
	b.watchMu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	b.watchWG.Wait()
	return err
}

func (b *Builder) watching() bool {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	return b.watcher != nil
}

// detachWatcher runs when the event loop exits for any reason, returning the
// builder to recompute-on-every-Build so a dead watcher cannot pin a stale
// snapshot.
func (b *Builder) detachWatcher(watcher *fsnotify.Watcher) {
	b.watchMu.Lock()
	if b.watcher == watcher {
		b.watcher = nil
		b.watched = nil
	}
	b.watchMu.Unlock()
	watcher.Close()
	b.Invalidate()
}

func (b *Builder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer b.watchWG.Done()
	defer b.detachWatcher(watcher)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Lock files churn on every git invocation, including our own
			// status collection.
			if strings.HasSuffix(event.Name, ".lock") {
				continue
			}
			b.Invalidate()
			if event.Op&fsnotify.Create != 0 {
				b.maybeWatch(ctx, event.Name)
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				b.forgetWatch(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				b.log.Warn(ctx, "context watcher error", "error", err)
			}
		}
	}
}

// seedWatchesLocked registers the initial watch set. Partial coverage from
// unreadable directories or the watch cap degrades to coarser invalidation,
// never to an error.
func (b *Builder) seedWatchesLocked(ctx context.Context) {
	b.addWatchLocked(ctx, b.root)

	gitDir := filepath.Join(b.root, ".git")
	if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
		b.addWatchLocked(ctx, gitDir)
	}

	walkErr := filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == b.root {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		if _, skip := skipDirNames[name]; skip {
			return filepath.SkipDir
		}
		if b.relDepth(path) >= b.maxDepth {
			return filepath.SkipDir
		}
		if len(b.watched) >= maxWatchDirs {
			return filepath.SkipAll
		}
		b.addWatchLocked(ctx, path)
		return nil
	})
	if walkErr != nil {
		b.log.Debug(ctx, "watch seeding incomplete", "error", walkErr)
	}
}

func (b *Builder) addWatchLocked(ctx context.Context, path string) {
	if _, ok := b.watched[path]; ok {
		return
	}
	if err := b.watcher.Add(path); err != nil {
		b.log.Warn(ctx, "cannot watch directory", "path", path, "error", err)
		return
	}
	b.watched[path] = struct{}{}
}

// maybeWatch extends coverage to directories created after startup.
func (b *Builder) maybeWatch(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") && name != ".git" {
		return
	}
	if _, skip := skipDirNames[name]; skip {
		return
	}
	if b.relDepth(path) >= b.maxDepth {
		return
	}

	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	if b.watcher == nil || len(b.watched) >= maxWatchDirs {
		return
	}
	b.addWatchLocked(ctx, path)
}

func (b *Builder) forgetWatch(path string) {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	if b.watched != nil {
		delete(b.watched, path)
	}
}

// relDepth counts path components below the root. The root itself is 0.
func (b *Builder) relDepth(path string) int {
	rel, err := filepath.Rel(b.root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(os.PathSeparator)) + 1
}
