package workload

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// Watcher behavior rides on inotify; on Windows fsnotify keeps
// goroutines goleak cannot track, so these run elsewhere only.
func newTestWatcher(t *testing.T) (*Watcher, *Registry, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("Skipping: fsnotify Windows goroutines cause goleak failures")
	}

	dir := t.TempDir()
	r := testRegistry(t)
	w, err := NewWatcher(dir, r)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	return w, r, dir
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestWatcher_LoadsCreatedManifest(t *testing.T) {
	w, r, dir := newTestWatcher(t)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	writeManifest(t, dir, "fresh"+ManifestSuffix, "name: fresh\nbuiltin: spin\n")

	waitFor(t, "module to register", func() bool {
		_, ok := r.Get("fresh")
		return ok
	})

	stats := w.Stats()
	if stats.ManifestsLoaded == 0 {
		t.Error("Stats show no manifests loaded")
	}
}

func TestWatcher_ModifyReplacesModule(t *testing.T) {
	w, r, dir := newTestWatcher(t)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	path := writeManifest(t, dir, "m"+ManifestSuffix, "name: m\ncommand: /bin/true\n")
	waitFor(t, "initial module", func() bool {
		_, ok := r.Get("m")
		return ok
	})

	if err := os.WriteFile(path, []byte("name: m\ncommand: /bin/false\n"), 0644); err != nil {
		t.Fatalf("Rewriting manifest failed: %v", err)
	}
	waitFor(t, "module to update", func() bool {
		m, ok := r.Get("m")
		return ok && m.Command == "/bin/false"
	})
}

func TestWatcher_EvictsDeletedManifest(t *testing.T) {
	w, r, dir := newTestWatcher(t)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	path := writeManifest(t, dir, "doomed"+ManifestSuffix, "name: doomed\nbuiltin: spin\n")
	waitFor(t, "module to register", func() bool {
		_, ok := r.Get("doomed")
		return ok
	})

	if err := os.Remove(path); err != nil {
		t.Fatalf("Removing manifest failed: %v", err)
	}
	waitFor(t, "module to evict", func() bool {
		_, ok := r.Get("doomed")
		return !ok
	})

	stats := w.Stats()
	if stats.ManifestsRemoved == 0 {
		t.Error("Stats show no manifests removed")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	w, r, dir := newTestWatcher(t)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("name: sneaky\nbuiltin: spin\n"), 0644); err != nil {
		t.Fatalf("Writing file failed: %v", err)
	}

	// Give the event time to arrive; nothing should happen with it.
	time.Sleep(800 * time.Millisecond)
	if r.Len() != 0 {
		t.Errorf("Registry picked up a non-manifest file: %d entries", r.Len())
	}
	if stats := w.Stats(); stats.LastEventPath != "" {
		t.Errorf("Watcher recorded event for %s, want none", stats.LastEventPath)
	}
}

func TestWatcher_RejectedManifestCountsError(t *testing.T) {
	w, _, dir := newTestWatcher(t)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	writeManifest(t, dir, "broken"+ManifestSuffix, "name: broken\n")

	waitFor(t, "error to be counted", func() bool {
		return w.Stats().Errors > 0
	})
}

func TestWatcher_StartStopLifecycle(t *testing.T) {
	w, _, _ := newTestWatcher(t)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !w.IsWatching() {
		t.Error("IsWatching = false after Start")
	}
	// Second Start is a no-op.
	if err := w.Start(ctx); err != nil {
		t.Errorf("Second Start = %v, want nil", err)
	}

	w.Stop()
	if w.IsWatching() {
		t.Error("IsWatching = true after Stop")
	}
	// Second Stop is a no-op.
	w.Stop()
}
