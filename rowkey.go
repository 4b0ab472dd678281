package offsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// RowKey identifies a row by either a scalar value or a composite set of
// column values. The zero value is the empty scalar key.
type RowKey struct {
	scalar string
	parts  map[string]any
}

// ScalarKey returns a single-column row key.
func ScalarKey(id string) RowKey {
	return RowKey{scalar: id}
}

// CompositeKey returns a multi-column row key. The map is copied.
func CompositeKey(parts map[string]any) RowKey {
	cp := make(map[string]any, len(parts))
	for k, v := range parts {
		cp[k] = v
	}

	return RowKey{parts: cp}
}

// IsComposite reports whether the key has named components.
func (k RowKey) IsComposite() bool {
	return k.parts != nil
}

// Scalar returns the scalar value; empty for composite keys.
func (k RowKey) Scalar() string {
	return k.scalar
}

// Parts returns a copy of the composite components; nil for scalar keys.
func (k RowKey) Parts() map[string]any {
	if k.parts == nil {
		return nil
	}
	cp := make(map[string]any, len(k.parts))
	for col, v := range k.parts {
		cp[col] = v
	}

	return cp
}

// String returns the encoded form of the key.
func (k RowKey) String() string {
	return EncodeRowKey(k)
}

// Equal reports whether two keys address the same row.
// Composite components compare by their textual form so that json.Number,
// int64 and string representations of the same value are equal.
func (k RowKey) Equal(other RowKey) bool {
	if k.IsComposite() != other.IsComposite() {
		return false
	}
	if !k.IsComposite() {
		return k.scalar == other.scalar
	}
	if len(k.parts) != len(other.parts) {
		return false
	}
	for col, v := range k.parts {
		ov, ok := other.parts[col]
		if !ok {
			return false
		}
		if reflect.DeepEqual(v, ov) {
			continue
		}
		if AsString(v) != AsString(ov) {
			return false
		}
	}

	return true
}

// Predicates addresses the key against the table's primary key columns.
func (k RowKey) Predicates(t Table) ([]Predicate, error) {
	if !k.IsComposite() {
		if len(t.PrimaryKey) != 1 {
			return nil, fmt.Errorf("%w: scalar key for %d-column primary key of %s", ErrInvalidRowKey, len(t.PrimaryKey), t.Name)
		}

		return []Predicate{Eq(t.PrimaryKey[0], k.scalar)}, nil
	}

	preds := make([]Predicate, 0, len(t.PrimaryKey))
	for _, col := range t.PrimaryKey {
		v, ok := k.parts[col]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s for %s", ErrInvalidRowKey, col, t.Name)
		}
		preds = append(preds, Eq(col, v))
	}

	return preds, nil
}

// Columns returns the key as column values for the table's primary key.
func (k RowKey) Columns(t Table) (Row, error) {
	preds, err := k.Predicates(t)
	if err != nil {
		return nil, err
	}
	row := make(Row, len(preds))
	for _, p := range preds {
		row[p.Column] = p.Value
	}

	return row, nil
}

// KeyFromRow extracts the primary key of a row.
// Single-column keys become scalar keys in their textual form.
func KeyFromRow(t Table, row Row) (RowKey, error) {
	if len(t.PrimaryKey) == 0 {
		return RowKey{}, ErrPrimaryKeyRequired
	}
	if len(t.PrimaryKey) == 1 {
		v, ok := row[t.PrimaryKey[0]]
		if !ok || v == nil {
			return RowKey{}, fmt.Errorf("%w: missing %s for %s", ErrInvalidRowKey, t.PrimaryKey[0], t.Name)
		}

		return ScalarKey(AsString(v)), nil
	}

	parts := make(map[string]any, len(t.PrimaryKey))
	for _, col := range t.PrimaryKey {
		v, ok := row[col]
		if !ok || v == nil {
			return RowKey{}, fmt.Errorf("%w: missing %s for %s", ErrInvalidRowKey, col, t.Name)
		}
		parts[col] = v
	}

	return CompositeKey(parts), nil
}

// EncodeRowKey serializes a key: scalars as-is, composites as a JSON object
// with sorted keys.
func EncodeRowKey(k RowKey) string {
	if !k.IsComposite() {
		return k.scalar
	}

	cols := make([]string, 0, len(k.parts))
	for col := range k.parts {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range cols {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(col)
		buf.Write(name)
		buf.WriteByte(':')
		val, err := json.Marshal(k.parts[col])
		if err != nil {
			val, _ = json.Marshal(AsString(k.parts[col]))
		}
		buf.Write(val)
	}
	buf.WriteByte('}')

	return buf.String()
}

// DecodeRowKey parses an encoded key. A JSON object becomes a composite key
// (numbers kept as json.Number); any other input, including malformed JSON,
// is returned unchanged as a scalar key. It never fails.
func DecodeRowKey(raw string) RowKey {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ScalarKey(raw)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var parts map[string]any
	if err := dec.Decode(&parts); err != nil || parts == nil {
		return ScalarKey(raw)
	}
	if dec.More() {
		return ScalarKey(raw)
	}

	return RowKey{parts: parts}
}
