package offsync_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/velmie/offsync"
)

func newApplier(t *testing.T, f *fixture) *offsync.Applier {
	t.Helper()

	a, err := offsync.NewApplier(f.rt)
	if err != nil {
		t.Fatalf("applier: %v", err)
	}

	return a
}

func assertCaptureRestored(t *testing.T, f *fixture) {
	t.Helper()

	suppressed, suppressCalls, enableCalls := f.triggers.snapshot()
	if suppressed {
		t.Fatalf("change capture left suppressed")
	}
	if suppressCalls != enableCalls {
		t.Fatalf("unbalanced trigger toggles: suppress=%d enable=%d", suppressCalls, enableCalls)
	}
	if _, violations, _ := f.storage.stats(); violations != 0 {
		t.Fatalf("expected every write with capture suppressed, got %d unsuppressed writes", violations)
	}
}

func TestApplierInsertUpsertsRow(t *testing.T) {
	f := newFixture(t)
	a := newApplier(t, f)

	err := a.Apply(context.Background(), offsync.RemoteChange{
		Table:     "tasks",
		RowID:     "t1",
		Operation: offsync.OpInsert,
		Row:       offsync.Row{"title": "write tests"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	rows := f.store.Rows("tasks")
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["id"] != "t1" || rows[0]["title"] != "write tests" {
		t.Fatalf("unexpected row %v", rows[0])
	}
	assertCaptureRestored(t, f)
}

func TestApplierUpdateOverwritesExistingRow(t *testing.T) {
	f := newFixture(t)
	f.put(t, "tasks", offsync.Row{"id": "t1", "title": "old", "done": false})
	a := newApplier(t, f)

	err := a.Apply(context.Background(), offsync.RemoteChange{
		Table:     "tasks",
		RowID:     "t1",
		Operation: offsync.OpUpdate,
		Row:       offsync.Row{"id": "t1", "title": "new", "done": true},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	rows := f.store.Rows("tasks")
	if len(rows) != 1 || rows[0]["title"] != "new" || rows[0]["done"] != true {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestApplierDeleteRemovesRow(t *testing.T) {
	f := newFixture(t)
	f.put(t, "tasks", offsync.Row{"id": "t1"})
	f.put(t, "tasks", offsync.Row{"id": "t2"})
	a := newApplier(t, f)

	err := a.Apply(context.Background(), offsync.RemoteChange{Table: "tasks", RowID: "t1", Operation: offsync.OpDelete})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	rows := f.store.Rows("tasks")
	if len(rows) != 1 || rows[0]["id"] != "t2" {
		t.Fatalf("unexpected rows %v", rows)
	}
	assertCaptureRestored(t, f)
}

func TestApplierCompositeKey(t *testing.T) {
	f := newFixture(t)
	a := newApplier(t, f)
	ctx := context.Background()

	err := a.Apply(ctx, offsync.RemoteChange{
		Table:     "memberships",
		RowID:     `{"project_id":"p1","user_id":7}`,
		Operation: offsync.OpInsert,
		Row:       offsync.Row{"role": "owner"},
	})
	if err != nil {
		t.Fatalf("apply insert: %v", err)
	}

	rows := f.store.Rows("project_members")
	if len(rows) != 1 {
		t.Fatalf("expected row under the schema key, got %v", rows)
	}
	if rows[0]["project_id"] != "p1" || rows[0]["user_id"] != json.Number("7") || rows[0]["role"] != "owner" {
		t.Fatalf("unexpected row %v", rows[0])
	}

	err = a.Apply(ctx, offsync.RemoteChange{
		Table:     "memberships",
		RowID:     `{"user_id":7,"project_id":"p1"}`,
		Operation: offsync.OpDelete,
	})
	if err != nil {
		t.Fatalf("apply delete: %v", err)
	}
	if rows := f.store.Rows("project_members"); len(rows) != 0 {
		t.Fatalf("expected composite row deleted, got %v", rows)
	}
}

func TestApplierScalarKeyOnCompositeTableFails(t *testing.T) {
	f := newFixture(t)
	a := newApplier(t, f)

	err := a.Apply(context.Background(), offsync.RemoteChange{Table: "memberships", RowID: "p1", Operation: offsync.OpDelete})
	if !errors.Is(err, offsync.ErrInvalidRowKey) {
		t.Fatalf("expected ErrInvalidRowKey, got %v", err)
	}
	assertCaptureRestored(t, f)
}

func TestApplierEvictsRowHoldingUniqueValue(t *testing.T) {
	f := newFixture(t)
	f.put(t, "tasks", offsync.Row{"id": "local", "slug": "launch"})
	f.put(t, "tasks", offsync.Row{"id": "other", "slug": "other"})
	a := newApplier(t, f)

	err := a.Apply(context.Background(), offsync.RemoteChange{
		Table:     "tasks",
		RowID:     "remote",
		Operation: offsync.OpInsert,
		Row:       offsync.Row{"id": "remote", "slug": "launch"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	ids := map[any]bool{}
	for _, r := range f.store.Rows("tasks") {
		ids[r["id"]] = true
	}
	if !reflect.DeepEqual(ids, map[any]bool{"remote": true, "other": true}) {
		t.Fatalf("expected local duplicate evicted, got %v", ids)
	}
	assertCaptureRestored(t, f)
}

func TestApplierUniqueValueOnSameRowIsKept(t *testing.T) {
	f := newFixture(t)
	f.put(t, "tasks", offsync.Row{"id": "t1", "slug": "launch", "title": "old"})
	a := newApplier(t, f)

	err := a.Apply(context.Background(), offsync.RemoteChange{
		Table:     "tasks",
		RowID:     "t1",
		Operation: offsync.OpUpdate,
		Row:       offsync.Row{"id": "t1", "slug": "launch", "title": "new"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	rows := f.store.Rows("tasks")
	if len(rows) != 1 || rows[0]["title"] != "new" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestApplierUnknownTableTouchesNothing(t *testing.T) {
	f := newFixture(t)
	a := newApplier(t, f)

	err := a.Apply(context.Background(), offsync.RemoteChange{
		Table:     "ghosts",
		RowID:     "g1",
		Operation: offsync.OpInsert,
		Row:       offsync.Row{"id": "g1"},
	})
	var ute *offsync.UnknownTableError
	if !errors.As(err, &ute) || ute.Table != "ghosts" {
		t.Fatalf("expected UnknownTableError for ghosts, got %v", err)
	}
	if _, _, calls := f.storage.stats(); calls != 0 {
		t.Fatalf("expected no storage access, got %d calls", calls)
	}
	if _, suppressCalls, _ := f.triggers.snapshot(); suppressCalls != 0 {
		t.Fatalf("expected triggers untouched, got %d suppress calls", suppressCalls)
	}
}

func TestApplierInvalidChange(t *testing.T) {
	f := newFixture(t)
	a := newApplier(t, f)

	err := a.Apply(context.Background(), offsync.RemoteChange{Table: "tasks", RowID: "t1", Operation: offsync.OpInsert})
	if !errors.Is(err, offsync.ErrChangeRowRequired) {
		t.Fatalf("expected ErrChangeRowRequired, got %v", err)
	}
}

func TestApplierReenablesCaptureOnWriteFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("disk full")
	f.store.Fail("Upsert", "tasks", boom)
	a := newApplier(t, f)

	err := a.Apply(context.Background(), offsync.RemoteChange{
		Table:     "tasks",
		RowID:     "t1",
		Operation: offsync.OpInsert,
		Row:       offsync.Row{"title": "x"},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
	suppressed, suppressCalls, enableCalls := f.triggers.snapshot()
	if suppressed || suppressCalls != 1 || enableCalls != 1 {
		t.Fatalf("expected capture restored, suppressed=%v suppress=%d enable=%d", suppressed, suppressCalls, enableCalls)
	}
}

func TestApplierReportsEnableFailure(t *testing.T) {
	f := newFixture(t)
	enableErr := errors.New("state table locked")
	f.triggers.enableErr = enableErr
	a := newApplier(t, f)

	err := a.Apply(context.Background(), offsync.RemoteChange{Table: "tasks", RowID: "t1", Operation: offsync.OpDelete})
	if !errors.Is(err, enableErr) {
		t.Fatalf("expected enable error, got %v", err)
	}
}

func TestApplierBatchFollowsSyncOrder(t *testing.T) {
	f := newFixture(t)
	a := newApplier(t, f)

	result, err := a.ApplyBatch(context.Background(), []offsync.RemoteChange{
		{Table: "memberships", RowID: `{"project_id":"p1","user_id":"u1"}`, Operation: offsync.OpInsert, Row: offsync.Row{}},
		{Table: "tasks", RowID: "t1", Operation: offsync.OpInsert, Row: offsync.Row{"project_id": "p1"}},
		{Table: "ghosts", RowID: "g1", Operation: offsync.OpDelete},
		{Table: "projects", RowID: "p1", Operation: offsync.OpInsert, Row: offsync.Row{"name": "launch"}},
		{Table: "tasks", RowID: "t2", Operation: offsync.OpInsert, Row: offsync.Row{"project_id": "p1"}},
	})
	if err != nil {
		t.Fatalf("apply batch: %v", err)
	}
	if result.Applied != 4 {
		t.Fatalf("expected 4 applied, got %d", result.Applied)
	}
	if len(result.Errors) != 1 || !offsync.IsUnknownTable(result.Errors[0]) {
		t.Fatalf("expected one unknown table error, got %v", result.Errors)
	}

	writes, _, _ := f.storage.stats()
	want := []string{"projects", "tasks", "tasks", "project_members"}
	if !reflect.DeepEqual(writes, want) {
		t.Fatalf("expected writes %v, got %v", want, writes)
	}
	if ids := []any{f.store.Rows("tasks")[0]["id"], f.store.Rows("tasks")[1]["id"]}; ids[0] != "t1" || ids[1] != "t2" {
		t.Fatalf("expected relative order kept within a table, got %v", ids)
	}
	if _, suppressCalls, _ := f.triggers.snapshot(); suppressCalls != 1 {
		t.Fatalf("expected a single suppression scope for the batch, got %d", suppressCalls)
	}
	assertCaptureRestored(t, f)
}

func TestApplierBatchDeletesDependentsFirst(t *testing.T) {
	f := newFixture(t)
	f.put(t, "projects", offsync.Row{"id": "p1"})
	f.put(t, "tasks", offsync.Row{"id": "t1", "project_id": "p1"})
	a := newApplier(t, f)

	result, err := a.ApplyBatch(context.Background(), []offsync.RemoteChange{
		{Table: "projects", RowID: "p1", Operation: offsync.OpDelete},
		{Table: "tasks", RowID: "t1", Operation: offsync.OpDelete},
		{Table: "tasks", RowID: "t2", Operation: offsync.OpInsert, Row: offsync.Row{"project_id": "p2"}},
		{Table: "projects", RowID: "p2", Operation: offsync.OpInsert, Row: offsync.Row{"name": "next"}},
		{Table: "tasks", RowID: "t2", Operation: offsync.OpDelete},
	})
	if err != nil {
		t.Fatalf("apply batch: %v", err)
	}
	if result.Applied != 5 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}

	writes, _, _ := f.storage.stats()
	want := []string{"tasks", "projects", "projects", "tasks", "tasks"}
	if !reflect.DeepEqual(writes, want) {
		t.Fatalf("expected writes %v, got %v", want, writes)
	}
	if rows := f.store.Rows("tasks"); len(rows) != 0 {
		t.Fatalf("expected re-inserted task deleted after its insert, got %v", rows)
	}
	if rows := f.store.Rows("projects"); len(rows) != 1 || rows[0]["id"] != "p2" {
		t.Fatalf("unexpected projects %v", rows)
	}
	assertCaptureRestored(t, f)
}

func TestApplierBatchContinuesPastFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("constraint")
	f.store.Fail("Upsert", "projects", boom)
	a := newApplier(t, f)

	result, err := a.ApplyBatch(context.Background(), []offsync.RemoteChange{
		{Table: "projects", RowID: "p1", Operation: offsync.OpInsert, Row: offsync.Row{}},
		{Table: "tasks", RowID: "t1", Operation: offsync.OpInsert, Row: offsync.Row{}},
	})
	if err != nil {
		t.Fatalf("apply batch: %v", err)
	}
	if result.Applied != 1 || len(result.Errors) != 1 || !errors.Is(result.Errors[0], boom) {
		t.Fatalf("unexpected result %+v", result)
	}
}
