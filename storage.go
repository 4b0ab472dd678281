package offsync

import (
	"context"
	"sort"
)

// Row is a single record keyed by column name.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}

	return out
}

// Columns returns the row's column names in sorted order.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	return cols
}

// CompareOp is the comparison a Predicate applies.
type CompareOp string

const (
	CmpEq  CompareOp = "="
	CmpNe  CompareOp = "<>"
	CmpLt  CompareOp = "<"
	CmpLte CompareOp = "<="
	CmpGt  CompareOp = ">"
	CmpGte CompareOp = ">="
	CmpIn  CompareOp = "IN"
)

// Predicate filters rows on a single column.
// For CmpIn, Value holds a []any.
type Predicate struct {
	Column string
	Op     CompareOp
	Value  any
}

// Eq builds an equality predicate.
func Eq(column string, value any) Predicate {
	return Predicate{Column: column, Op: CmpEq, Value: value}
}

// Ne builds an inequality predicate.
func Ne(column string, value any) Predicate {
	return Predicate{Column: column, Op: CmpNe, Value: value}
}

// Lt builds a less-than predicate.
func Lt(column string, value any) Predicate {
	return Predicate{Column: column, Op: CmpLt, Value: value}
}

// Gt builds a greater-than predicate.
func Gt(column string, value any) Predicate {
	return Predicate{Column: column, Op: CmpGt, Value: value}
}

// In builds a set-membership predicate.
func In(column string, values ...any) Predicate {
	return Predicate{Column: column, Op: CmpIn, Value: values}
}

// Order sorts query results by a column.
type Order struct {
	Column string
	Desc   bool
}

// Query selects rows from a table.
type Query struct {
	// Columns limits the returned columns; empty selects all.
	Columns []string
	Where   []Predicate
	OrderBy []Order
	// Limit caps the number of rows; zero means unlimited.
	Limit int
}

// Storage is the narrow capability set the engine needs from a local or remote store.
// Table arguments are schema keys as returned by Registry.Resolve, or one of the
// engine's own bookkeeping tables. Each call is individually atomic.
type Storage interface {
	// Select returns rows matching q.
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	// Insert adds a new row.
	Insert(ctx context.Context, table string, row Row) error
	// Upsert inserts row or, when a row with the same key columns exists, overwrites it.
	Upsert(ctx context.Context, table string, row Row, key []string) error
	// Update sets columns on every row matching where and returns the affected count.
	Update(ctx context.Context, table string, set Row, where ...Predicate) (int64, error)
	// Delete removes every row matching where and returns the affected count.
	Delete(ctx context.Context, table string, where ...Predicate) (int64, error)
	// Tally counts rows per distinct value of column. The result maps each value
	// to its count plus a "total" entry. Counts may come back as text.
	Tally(ctx context.Context, table, column string) (Row, error)
}
