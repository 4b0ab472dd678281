package fswatch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/velmie/offsync"
	"github.com/velmie/offsync/realtime/fswatch"
)

func TestNewRequiresPath(t *testing.T) {
	if _, err := fswatch.New(""); !errors.Is(err, fswatch.ErrPathRequired) {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
}

// touchUntil appends to path until cond holds, since the watcher registers
// asynchronously.
func touchUntil(t *testing.T, path string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		_, _ = f.WriteString("x")
		_ = f.Close()
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func run(t *testing.T, w *fswatch.Watcher, handle func(offsync.Notification)) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Subscribe(ctx, handle) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestWatcherNotifiesOnDatabaseWrites(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "app.db")
	w, err := fswatch.New(db, fswatch.WithDebounce(5*time.Millisecond))
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}

	var count atomic.Int32
	var source atomic.Value
	run(t, w, func(n offsync.Notification) {
		source.Store(n.Source)
		count.Add(1)
	})

	touchUntil(t, db+"-wal", func() bool { return count.Load() > 0 })
	if got := source.Load(); got != fswatch.Source {
		t.Fatalf("expected source %q, got %v", fswatch.Source, got)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "app.db")
	w, err := fswatch.New(db, fswatch.WithDebounce(5*time.Millisecond))
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}

	var count atomic.Int32
	run(t, w, func(offsync.Notification) { count.Add(1) })

	other := filepath.Join(dir, "other.db")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(other, []byte{byte(i)}, 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if count.Load() != 0 {
		t.Fatalf("expected no notifications, got %d", count.Load())
	}
}

func TestWatcherSkipsUnchangedVersion(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "app.db")
	var version, probes atomic.Int64
	w, err := fswatch.New(db,
		fswatch.WithDebounce(5*time.Millisecond),
		fswatch.WithVersion(func(context.Context) (int64, error) {
			probes.Add(1)
			return version.Load(), nil
		}),
	)
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}

	var count atomic.Int32
	run(t, w, func(offsync.Notification) { count.Add(1) })

	// One probe at startup, more once file events are seen.
	touchUntil(t, db, func() bool { return probes.Load() > 1 })
	if count.Load() != 0 {
		t.Fatalf("expected own writes to be ignored, got %d notifications", count.Load())
	}

	version.Store(1)
	touchUntil(t, db, func() bool { return count.Load() > 0 })
}
