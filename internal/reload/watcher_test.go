package reload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "baton.yaml")
	writeConfig(t, path, "version: \"1\"")

	w := NewWatcher(path, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	// The rewrite changes the file size, so the watcher notices even when
	// both writes land within the filesystem's mtime granularity.
	writeConfig(t, path, "version: \"1\"\njobs: {}\n")

	select {
	case ch := <-w.Changes():
		if ch.Path != path {
			t.Errorf("change path = %q, want %q", ch.Path, path)
		}
		if ch.ModTime.IsZero() {
			t.Error("change carries no mtime")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}

func TestWatcher_Stop(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "baton.yaml")
	writeConfig(t, path, "data")

	w := NewWatcher(path, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return in time")
	}
}

func TestWatcher_ContextCancellation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "baton.yaml")
	writeConfig(t, path, "data")

	w := NewWatcher(path, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	// Stop must still work after the context is gone.
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}

func TestWatcher_StopBeforeStart(t *testing.T) {
	t.Parallel()

	w := NewWatcher("/any/path", 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop before Start deadlocked")
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()

	w := NewWatcher("/nonexistent/baton.yaml", 20*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	select {
	case ch := <-w.Changes():
		t.Errorf("unexpected change: %+v", ch)
	case <-ctx.Done():
	}
}

func TestWatcher_FileAppears(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "baton.yaml")
	w := NewWatcher(path, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	writeConfig(t, path, "version: \"1\"")

	select {
	case ch := <-w.Changes():
		if ch.Path != path {
			t.Errorf("change path = %q, want %q", ch.Path, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("creating the watched file did not notify")
	}
}
