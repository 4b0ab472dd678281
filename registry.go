package offsync

import (
	"context"
	"fmt"
	"sort"
)

// Table describes a syncable table.
type Table struct {
	// Name is the logical table identifier used on the wire and in the outbox.
	Name string
	// SchemaKey is the local-schema key addressing the table in Storage.
	// Defaults to Name.
	SchemaKey string
	// PrimaryKey lists the primary key columns. Defaults to ["id"].
	PrimaryKey []string
	// UniqueKeys lists additional uniqueness constraints, each a set of columns.
	UniqueKeys [][]string
	// Order is the sync order weight: lower orders apply first.
	Order int
}

// Constraints returns every uniqueness constraint of the table,
// the primary key first.
func (t Table) Constraints() [][]string {
	out := make([][]string, 0, len(t.UniqueKeys)+1)
	out = append(out, t.PrimaryKey)
	out = append(out, t.UniqueKeys...)

	return out
}

func (t Table) withDefaults() Table {
	if t.SchemaKey == "" {
		t.SchemaKey = t.Name
	}
	if len(t.PrimaryKey) == 0 {
		t.PrimaryKey = []string{"id"}
	}

	return t
}

// Registry maps logical table names to their descriptors.
// It is built once and read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	tables  map[string]Table
	ordered []Table
}

// NewRegistry validates and indexes the table descriptors.
func NewRegistry(tables ...Table) (*Registry, error) {
	r := &Registry{tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		if t.Name == "" {
			return nil, ErrTableNameRequired
		}
		if _, ok := r.tables[t.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTable, t.Name)
		}
		t = t.withDefaults()
		for _, uk := range t.UniqueKeys {
			if len(uk) == 0 {
				return nil, fmt.Errorf("offsync: empty unique key on %s", t.Name)
			}
		}
		r.tables[t.Name] = t
		r.ordered = append(r.ordered, t)
	}
	sort.SliceStable(r.ordered, func(i, j int) bool {
		return r.ordered[i].Order < r.ordered[j].Order
	})

	return r, nil
}

// MustNewRegistry builds a Registry or panics on error.
func MustNewRegistry(tables ...Table) *Registry {
	r, err := NewRegistry(tables...)
	if err != nil {
		panic(err)
	}

	return r
}

// Resolve returns the descriptor for name. An unregistered name is a normal,
// checked outcome reported through the boolean.
func (r *Registry) Resolve(name string) (Table, bool) {
	t, ok := r.tables[name]

	return t, ok
}

// Syncable reports whether name is registered.
func (r *Registry) Syncable(name string) bool {
	_, ok := r.tables[name]

	return ok
}

// Order returns the sync order weight of name and whether it is registered.
func (r *Registry) Order(name string) (int, bool) {
	t, ok := r.tables[name]

	return t.Order, ok
}

// Tables returns the descriptors in sync order.
func (r *Registry) Tables() []Table {
	out := make([]Table, len(r.ordered))
	copy(out, r.ordered)

	return out
}

// FetchRowByKey loads a single row by primary key. The table is resolved
// before any storage access; unregistered names fail with *UnknownTableError.
func (r *Registry) FetchRowByKey(ctx context.Context, storage Storage, name string, key RowKey) (Row, error) {
	t, ok := r.Resolve(name)
	if !ok {
		return nil, &UnknownTableError{Table: name}
	}
	preds, err := key.Predicates(t)
	if err != nil {
		return nil, err
	}

	rows, err := storage.Select(ctx, t.SchemaKey, Query{Where: preds, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("offsync: fetch %s %s: %w", name, key, err)
	}
	if len(rows) == 0 {
		return nil, ErrRowNotFound
	}

	return rows[0], nil
}
