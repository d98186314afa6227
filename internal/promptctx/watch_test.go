package promptctx

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatching(t *testing.T, b *Builder, ctx context.Context) {
	t.Helper()
	if err := b.StartWatching(ctx); err != nil {
		t.Skipf("watcher unavailable: %v", err)
	}
	t.Cleanup(func() { b.Close() })
}

func watchedPaths(b *Builder) map[string]struct{} {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	out := make(map[string]struct{}, len(b.watched))
	for p := range b.watched {
		out[p] = struct{}{}
	}
	return out
}

func TestWatcherServesCacheUntilChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "README.md"), "alpha")

	b, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	startWatching(t, b, ctx)

	if got := b.Build(ctx)[KeyReadme]; got != "alpha" {
		t.Fatalf("readme = %q", got)
	}
	builtAt := b.BuiltAt()
	b.Build(ctx)
	if !b.BuiltAt().Equal(builtAt) {
		t.Error("second build should serve the cached snapshot")
	}

	writeFile(t, filepath.Join(dir, "README.md"), "beta")
	deadline := time.Now().Add(3 * time.Second)
	for {
		if got := b.Build(ctx)[KeyReadme]; got == "beta" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher never invalidated the snapshot")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if b.BuiltAt().Equal(builtAt) {
		t.Error("rebuild should advance BuiltAt")
	}
}

func TestInvalidateForcesRecompute(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "README.md"), "alpha")

	b, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	startWatching(t, b, ctx)

	if got := b.Build(ctx)[KeyReadme]; got != "alpha" {
		t.Fatalf("readme = %q", got)
	}
	writeFile(t, filepath.Join(dir, "README.md"), "beta")
	b.Invalidate()
	if got := b.Build(ctx)[KeyReadme]; got != "beta" {
		t.Errorf("invalidate should force recompute, got %q", got)
	}
}

func TestSeedWatchesRespectSkips(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "internal", "agent", "x.go"), "x")
	writeFile(t, filepath.Join(dir, "node_modules", "pkg", "index.js"), "x")
	writeFile(t, filepath.Join(dir, ".hidden", "y"), "x")
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}

	b, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	startWatching(t, b, context.Background())

	watched := watchedPaths(b)
	for _, want := range []string{
		dir,
		filepath.Join(dir, ".git"),
		filepath.Join(dir, "internal"),
		filepath.Join(dir, "internal", "agent"),
	} {
		if _, ok := watched[want]; !ok {
			t.Errorf("expected watch on %s", want)
		}
	}
	for _, skip := range []string{
		filepath.Join(dir, "node_modules"),
		filepath.Join(dir, ".hidden"),
	} {
		if _, ok := watched[skip]; ok {
			t.Errorf("unexpected watch on %s", skip)
		}
	}
}

func TestCreatedDirectoryGetsWatched(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	startWatching(t, b, context.Background())

	sub := filepath.Join(dir, "pkg")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := watchedPaths(b)[sub]; ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("new directory never watched")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b, err := New(t.TempDir(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("close without watcher: %v", err)
	}

	if err := b.StartWatching(context.Background()); err != nil {
		t.Skipf("watcher unavailable: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestCanceledContextDetachesWatcher(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "README.md"), "alpha")

	b, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := b.StartWatching(ctx); err != nil {
		t.Skipf("watcher unavailable: %v", err)
	}
	b.Build(ctx)

	cancel()
	deadline := time.Now().Add(3 * time.Second)
	for b.watching() {
		if time.Now().After(deadline) {
			t.Fatal("watcher still attached after cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Back on the direct-computation path: changes show up immediately.
	writeFile(t, filepath.Join(dir, "README.md"), "beta")
	if got := b.Build(context.Background())[KeyReadme]; got != "beta" {
		t.Errorf("detached builder served stale snapshot: %q", got)
	}
}

func TestRelDepth(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		path string
		want int
	}{
		{dir, 0},
		{filepath.Join(dir, "a"), 1},
		{filepath.Join(dir, "a", "b"), 2},
		{filepath.Join(dir, "a", "b", "c"), 3},
	}
	for _, tt := range tests {
		if got := b.relDepth(tt.path); got != tt.want {
			t.Errorf("relDepth(%s) = %d, want %d", tt.path, got, tt.want)
		}
	}
}
