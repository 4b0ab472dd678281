package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/velmie/offsync"
)

// builder accumulates SQL text and its bind arguments.
type builder struct {
	d    Dialect
	sb   strings.Builder
	args []any
}

func newBuilder(d Dialect) *builder {
	return &builder{d: d}
}

func (b *builder) write(parts ...string) *builder {
	for _, p := range parts {
		b.sb.WriteString(p)
	}

	return b
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, b.d.Bind(v))

	return b.d.Placeholder(len(b.args))
}

func (b *builder) ident(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", err
	}

	return b.d.Quote(name), nil
}

func (b *builder) idents(names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		q, err := b.ident(name)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}

	return out, nil
}

func (b *builder) where(preds []offsync.Predicate) error {
	if len(preds) == 0 {
		return nil
	}
	clauses := make([]string, 0, len(preds))
	for _, p := range preds {
		col, err := b.ident(p.Column)
		if err != nil {
			return err
		}
		switch p.Op {
		case offsync.CmpEq, offsync.CmpNe, offsync.CmpLt, offsync.CmpLte, offsync.CmpGt, offsync.CmpGte:
			clauses = append(clauses, fmt.Sprintf("%s %s %s", col, p.Op, b.arg(p.Value)))
		case offsync.CmpIn:
			values, ok := p.Value.([]any)
			if !ok {
				return fmt.Errorf("%w: IN expects []any, got %T", ErrInvalidOperator, p.Value)
			}
			if len(values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			marks := make([]string, len(values))
			for i, v := range values {
				marks[i] = b.arg(v)
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")))
		default:
			return fmt.Errorf("%w: %q", ErrInvalidOperator, p.Op)
		}
	}
	b.write(" WHERE ", strings.Join(clauses, " AND "))

	return nil
}

func (b *builder) orderBy(orders []offsync.Order) error {
	if len(orders) == 0 {
		return nil
	}
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		col, err := b.ident(o.Column)
		if err != nil {
			return err
		}
		if o.Desc {
			col += " DESC"
		} else {
			col += " ASC"
		}
		parts = append(parts, col)
	}
	b.write(" ORDER BY ", strings.Join(parts, ", "))

	return nil
}

func (b *builder) limit(n int) {
	if n > 0 {
		b.write(" LIMIT ", strconv.Itoa(n))
	}
}

func (b *builder) String() string {
	return b.sb.String()
}

func buildSelect(d Dialect, table string, q offsync.Query) (*builder, error) {
	b := newBuilder(d)
	t, err := b.ident(table)
	if err != nil {
		return nil, err
	}
	cols := "*"
	if len(q.Columns) > 0 {
		quoted, err := b.idents(q.Columns)
		if err != nil {
			return nil, err
		}
		cols = strings.Join(quoted, ", ")
	}
	b.write("SELECT ", cols, " FROM ", t)
	if err := b.where(q.Where); err != nil {
		return nil, err
	}
	if err := b.orderBy(q.OrderBy); err != nil {
		return nil, err
	}
	b.limit(q.Limit)

	return b, nil
}

func buildInsert(d Dialect, table string, row offsync.Row) (*builder, []string, error) {
	if len(row) == 0 {
		return nil, nil, ErrEmptyRow
	}
	b := newBuilder(d)
	t, err := b.ident(table)
	if err != nil {
		return nil, nil, err
	}
	names := row.Columns()
	cols, err := b.idents(names)
	if err != nil {
		return nil, nil, err
	}
	marks := make([]string, len(names))
	for i, name := range names {
		marks[i] = b.arg(row[name])
	}
	b.write("INSERT INTO ", t, " (", strings.Join(cols, ", "), ") VALUES (", strings.Join(marks, ", "), ")")

	return b, names, nil
}

func buildUpsert(d Dialect, table string, row offsync.Row, key []string) (*builder, error) {
	if len(key) == 0 {
		return nil, ErrKeyRequired
	}
	b, names, err := buildInsert(d, table, row)
	if err != nil {
		return nil, err
	}
	keyCols, err := b.idents(key)
	if err != nil {
		return nil, err
	}
	isKey := make(map[string]bool, len(key))
	for _, k := range key {
		isKey[k] = true
	}
	update := make([]string, 0, len(names))
	for _, name := range names {
		if !isKey[name] {
			update = append(update, d.Quote(name))
		}
	}
	b.write(d.UpsertClause(keyCols, update))

	return b, nil
}

func buildUpdate(d Dialect, table string, set offsync.Row, where []offsync.Predicate) (*builder, error) {
	if len(set) == 0 {
		return nil, ErrEmptyRow
	}
	b := newBuilder(d)
	t, err := b.ident(table)
	if err != nil {
		return nil, err
	}
	names := set.Columns()
	sets := make([]string, len(names))
	for i, name := range names {
		col, err := b.ident(name)
		if err != nil {
			return nil, err
		}
		sets[i] = col + " = " + b.arg(set[name])
	}
	b.write("UPDATE ", t, " SET ", strings.Join(sets, ", "))
	if err := b.where(where); err != nil {
		return nil, err
	}

	return b, nil
}

func buildDelete(d Dialect, table string, where []offsync.Predicate) (*builder, error) {
	b := newBuilder(d)
	t, err := b.ident(table)
	if err != nil {
		return nil, err
	}
	b.write("DELETE FROM ", t)
	if err := b.where(where); err != nil {
		return nil, err
	}

	return b, nil
}

func buildTally(d Dialect, table, column string) (*builder, error) {
	b := newBuilder(d)
	t, err := b.ident(table)
	if err != nil {
		return nil, err
	}
	col, err := b.ident(column)
	if err != nil {
		return nil, err
	}
	b.write("SELECT ", col, ", COUNT(*) FROM ", t, " GROUP BY ", col)

	return b, nil
}
