package offsync

import (
	"context"
	"errors"
	"testing"
)

type countingStorage struct {
	rows  []Row
	calls int
	last  Query
}

func (s *countingStorage) Select(_ context.Context, _ string, q Query) ([]Row, error) {
	s.calls++
	s.last = q
	return s.rows, nil
}

func (s *countingStorage) Insert(context.Context, string, Row) error {
	s.calls++
	return nil
}

func (s *countingStorage) Upsert(context.Context, string, Row, []string) error {
	s.calls++
	return nil
}

func (s *countingStorage) Update(context.Context, string, Row, ...Predicate) (int64, error) {
	s.calls++
	return 0, nil
}

func (s *countingStorage) Delete(context.Context, string, ...Predicate) (int64, error) {
	s.calls++
	return 0, nil
}

func (s *countingStorage) Tally(context.Context, string, string) (Row, error) {
	s.calls++
	return Row{}, nil
}

func TestNewRegistryValidation(t *testing.T) {
	if _, err := NewRegistry(Table{}); !errors.Is(err, ErrTableNameRequired) {
		t.Fatalf("expected ErrTableNameRequired, got %v", err)
	}
	if _, err := NewRegistry(Table{Name: "a"}, Table{Name: "a"}); !errors.Is(err, ErrDuplicateTable) {
		t.Fatalf("expected ErrDuplicateTable, got %v", err)
	}
	if _, err := NewRegistry(Table{Name: "a", UniqueKeys: [][]string{{}}}); err == nil {
		t.Fatalf("expected error for empty unique key")
	}
}

func TestRegistryDefaultsAndOrder(t *testing.T) {
	reg := MustNewRegistry(
		Table{Name: "c", Order: 2},
		Table{Name: "a", Order: 1, SchemaKey: "app_a"},
		Table{Name: "b", Order: 1},
	)

	tables := reg.Tables()
	if len(tables) != 3 || tables[0].Name != "a" || tables[1].Name != "b" || tables[2].Name != "c" {
		t.Fatalf("unexpected order %+v", tables)
	}

	a, ok := reg.Resolve("a")
	if !ok || a.SchemaKey != "app_a" || len(a.PrimaryKey) != 1 || a.PrimaryKey[0] != "id" {
		t.Fatalf("unexpected descriptor %+v", a)
	}
	b, _ := reg.Resolve("b")
	if b.SchemaKey != "b" {
		t.Fatalf("expected schema key to default to the name, got %q", b.SchemaKey)
	}
	if _, ok := reg.Resolve("missing"); ok {
		t.Fatalf("expected unregistered name to resolve to not found")
	}
	if order, ok := reg.Order("c"); !ok || order != 2 {
		t.Fatalf("unexpected order %d %v", order, ok)
	}
	if reg.Syncable("missing") {
		t.Fatalf("expected missing to be unsyncable")
	}
}

func TestTableConstraintsPrimaryKeyFirst(t *testing.T) {
	tbl := Table{Name: "users", PrimaryKey: []string{"id"}, UniqueKeys: [][]string{{"email"}, {"org", "handle"}}}
	got := tbl.Constraints()
	if len(got) != 3 || got[0][0] != "id" || got[1][0] != "email" || got[2][1] != "handle" {
		t.Fatalf("unexpected constraints %v", got)
	}
}

func TestFetchRowByKeyUnknownTableBeforeStorage(t *testing.T) {
	reg := MustNewRegistry(Table{Name: "tasks"})
	storage := &countingStorage{}

	_, err := reg.FetchRowByKey(context.Background(), storage, "ghosts", ScalarKey("1"))
	var ute *UnknownTableError
	if !errors.As(err, &ute) || ute.Table != "ghosts" {
		t.Fatalf("expected UnknownTableError, got %v", err)
	}
	if storage.calls != 0 {
		t.Fatalf("expected no storage access, got %d calls", storage.calls)
	}
}

func TestFetchRowByKey(t *testing.T) {
	reg := MustNewRegistry(Table{Name: "members", SchemaKey: "org_members", PrimaryKey: []string{"org", "user"}})
	storage := &countingStorage{rows: []Row{{"org": "o1", "user": "u1", "role": "admin"}}}

	row, err := reg.FetchRowByKey(context.Background(), storage, "members", CompositeKey(map[string]any{"org": "o1", "user": "u1"}))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if row["role"] != "admin" {
		t.Fatalf("unexpected row %v", row)
	}
	if storage.last.Limit != 1 || len(storage.last.Where) != 2 {
		t.Fatalf("unexpected query %+v", storage.last)
	}

	storage.rows = nil
	if _, err := reg.FetchRowByKey(context.Background(), storage, "members", CompositeKey(map[string]any{"org": "o1", "user": "u2"})); !errors.Is(err, ErrRowNotFound) {
		t.Fatalf("expected ErrRowNotFound, got %v", err)
	}
}
