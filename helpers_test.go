package offsync_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/velmie/offsync"
	"github.com/velmie/offsync/memstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingTriggers struct {
	mu            sync.Mutex
	suppressed    bool
	suppressCalls int
	enableCalls   int
	suppressErr   error
	enableErr     error
}

func (t *recordingTriggers) Suppress(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.suppressCalls++
	if t.suppressErr != nil {
		return t.suppressErr
	}
	t.suppressed = true

	return nil
}

func (t *recordingTriggers) Enable(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enableCalls++
	if t.enableErr != nil {
		return t.enableErr
	}
	t.suppressed = false

	return nil
}

func (t *recordingTriggers) snapshot() (suppressed bool, suppressCalls, enableCalls int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.suppressed, t.suppressCalls, t.enableCalls
}

// guardedStorage records application-table writes and flags any made while
// change capture was active.
type guardedStorage struct {
	offsync.Storage
	triggers *recordingTriggers

	mu         sync.Mutex
	writes     []string
	violations int
	calls      int
}

func (s *guardedStorage) note(table string, write bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if !write || strings.HasPrefix(table, "_sync") {
		return
	}
	s.writes = append(s.writes, table)
	if suppressed, _, _ := s.triggers.snapshot(); !suppressed {
		s.violations++
	}
}

func (s *guardedStorage) Select(ctx context.Context, table string, q offsync.Query) ([]offsync.Row, error) {
	s.note(table, false)
	return s.Storage.Select(ctx, table, q)
}

func (s *guardedStorage) Upsert(ctx context.Context, table string, row offsync.Row, key []string) error {
	s.note(table, true)
	return s.Storage.Upsert(ctx, table, row, key)
}

func (s *guardedStorage) Delete(ctx context.Context, table string, where ...offsync.Predicate) (int64, error) {
	s.note(table, true)
	return s.Storage.Delete(ctx, table, where...)
}

func (s *guardedStorage) stats() (writes []string, violations, calls int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.writes...), s.violations, s.calls
}

type fixture struct {
	store    *memstore.Store
	storage  *guardedStorage
	triggers *recordingTriggers
	clock    *fakeClock
	registry *offsync.Registry
	rt       offsync.Runtime
}

func testRegistry(t *testing.T) *offsync.Registry {
	t.Helper()

	reg, err := offsync.NewRegistry(
		offsync.Table{Name: "tasks", Order: 1, UniqueKeys: [][]string{{"slug"}}},
		offsync.Table{Name: "projects", Order: 0},
		offsync.Table{Name: "memberships", SchemaKey: "project_members", PrimaryKey: []string{"project_id", "user_id"}, Order: 2},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	return reg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memstore.New()
	triggers := &recordingTriggers{}
	storage := &guardedStorage{Storage: store, triggers: triggers}
	clock := newFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	reg := testRegistry(t)

	return &fixture{
		store:    store,
		storage:  storage,
		triggers: triggers,
		clock:    clock,
		registry: reg,
		rt: offsync.Runtime{
			Registry: reg,
			Storage:  storage,
			Triggers: triggers,
			Backups:  offsync.StorageBackups{Storage: store},
			Clock:    clock,
		},
	}
}

func (f *fixture) enqueue(t *testing.T, id, table string, key offsync.RowKey, op offsync.Operation, changedAt time.Time) {
	t.Helper()

	err := f.store.Insert(context.Background(), offsync.DefaultOutboxTable, offsync.Row{
		"id":         id,
		"table_name": table,
		"row_id":     offsync.EncodeRowKey(key),
		"operation":  string(op),
		"status":     string(offsync.StatusPending),
		"changed_at": changedAt,
		"synced_at":  nil,
		"attempts":   0,
		"last_error": nil,
	})
	if err != nil {
		t.Fatalf("enqueue %s: %v", id, err)
	}
}

func (f *fixture) put(t *testing.T, table string, row offsync.Row) {
	t.Helper()

	if err := f.store.Insert(context.Background(), table, row); err != nil {
		t.Fatalf("insert %s: %v", table, err)
	}
}

func (f *fixture) queue(t *testing.T) *offsync.Queue {
	t.Helper()

	q, err := offsync.NewQueue(f.rt)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}

	return q
}

func (f *fixture) item(t *testing.T, id string) offsync.OutboxItem {
	t.Helper()

	it, err := f.queue(t).Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}

	return it
}
