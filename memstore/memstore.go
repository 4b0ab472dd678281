// Package memstore provides an in-memory offsync.Storage.
//
// It is intended for tests and for running the engine without a database
// (the memory:// DSN of the CLI). Values are kept as given; comparisons
// normalize numbers, timestamps and text so that a key decoded from JSON
// matches the value originally stored.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/velmie/offsync"
)

// ErrDuplicateKey is returned by Insert when a row with the same declared key exists.
var ErrDuplicateKey = errors.New("memstore: duplicate key")

// Store is a concurrency-safe in-memory Storage.
type Store struct {
	mu     sync.RWMutex
	tables map[string][]offsync.Row
	keys   map[string][]string
	faults map[string]error
}

// Option configures a Store.
type Option func(*Store)

// WithKey declares the unique key Insert enforces for table.
func WithKey(table string, columns ...string) Option {
	return func(s *Store) {
		s.keys[table] = columns
	}
}

// New returns an empty store. The engine's outbox table is keyed on id.
func New(opts ...Option) *Store {
	s := &Store{
		tables: make(map[string][]offsync.Row),
		keys: map[string][]string{
			offsync.DefaultOutboxTable: {"id"},
		},
		faults: make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Fail makes every call of method ("Select", "Insert", "Upsert", "Update",
// "Delete" or "Tally") on table return err. A nil err clears the fault.
func (s *Store) Fail(method, table string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := method + "/" + table
	if err == nil {
		delete(s.faults, key)

		return
	}
	s.faults[key] = err
}

// Rows returns a copy of every row in table.
func (s *Store) Rows(table string) []offsync.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]offsync.Row, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		out = append(out, r.Clone())
	}

	return out
}

// Select implements offsync.Storage.
func (s *Store) Select(_ context.Context, table string, q offsync.Query) ([]offsync.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.fault("Select", table); err != nil {
		return nil, err
	}

	var out []offsync.Row
	for _, r := range s.tables[table] {
		ok, err := matches(r, q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	if len(q.OrderBy) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.OrderBy {
				c := compare(out[i][o.Column], out[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}

				return c < 0
			}

			return false
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	result := make([]offsync.Row, 0, len(out))
	for _, r := range out {
		result = append(result, project(r, q.Columns))
	}

	return result, nil
}

// Insert implements offsync.Storage.
func (s *Store) Insert(_ context.Context, table string, row offsync.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("Insert", table); err != nil {
		return err
	}
	if key := s.keys[table]; len(key) > 0 {
		if idx := s.find(table, row, key); idx >= 0 {
			return fmt.Errorf("%w: %s %v", ErrDuplicateKey, table, keyValues(row, key))
		}
	}
	s.tables[table] = append(s.tables[table], row.Clone())

	return nil
}

// Upsert implements offsync.Storage. Columns absent from row keep their
// current value on an existing row.
func (s *Store) Upsert(_ context.Context, table string, row offsync.Row, key []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("Upsert", table); err != nil {
		return err
	}
	if len(key) == 0 {
		return errors.New("memstore: upsert requires key columns")
	}
	if idx := s.find(table, row, key); idx >= 0 {
		current := s.tables[table][idx]
		for col, v := range row {
			current[col] = v
		}

		return nil
	}
	s.tables[table] = append(s.tables[table], row.Clone())

	return nil
}

// Update implements offsync.Storage.
func (s *Store) Update(_ context.Context, table string, set offsync.Row, where ...offsync.Predicate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("Update", table); err != nil {
		return 0, err
	}

	var n int64
	for _, r := range s.tables[table] {
		ok, err := matches(r, where)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		for col, v := range set {
			r[col] = v
		}
		n++
	}

	return n, nil
}

// Delete implements offsync.Storage.
func (s *Store) Delete(_ context.Context, table string, where ...offsync.Predicate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("Delete", table); err != nil {
		return 0, err
	}

	rows := s.tables[table]
	kept := rows[:0]
	var n int64
	for _, r := range rows {
		ok, err := matches(r, where)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.tables[table] = kept

	return n, nil
}

// Tally implements offsync.Storage.
func (s *Store) Tally(_ context.Context, table, column string) (offsync.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.fault("Tally", table); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, r := range s.tables[table] {
		counts[offsync.AsString(r[column])]++
	}
	out := offsync.Row{"total": len(s.tables[table])}
	for v, n := range counts {
		out[v] = n
	}

	return out, nil
}

func (s *Store) fault(method, table string) error {
	return s.faults[method+"/"+table]
}

func (s *Store) find(table string, row offsync.Row, key []string) int {
	for i, r := range s.tables[table] {
		same := true
		for _, col := range key {
			if compare(r[col], row[col]) != 0 {
				same = false
				break
			}
		}
		if same {
			return i
		}
	}

	return -1
}

func keyValues(row offsync.Row, key []string) []any {
	out := make([]any, 0, len(key))
	for _, col := range key {
		out = append(out, row[col])
	}

	return out
}

func project(r offsync.Row, columns []string) offsync.Row {
	if len(columns) == 0 {
		return r.Clone()
	}
	out := make(offsync.Row, len(columns))
	for _, col := range columns {
		out[col] = r[col]
	}

	return out
}

func matches(r offsync.Row, where []offsync.Predicate) (bool, error) {
	for _, p := range where {
		ok, err := eval(r[p.Column], p)
		if err != nil || !ok {
			return false, err
		}
	}

	return true, nil
}

func eval(v any, p offsync.Predicate) (bool, error) {
	if p.Op == offsync.CmpIn {
		values, ok := p.Value.([]any)
		if !ok {
			return false, fmt.Errorf("memstore: IN predicate on %s needs []any, got %T", p.Column, p.Value)
		}
		for _, candidate := range values {
			if v != nil && compare(v, candidate) == 0 {
				return true, nil
			}
		}

		return false, nil
	}

	// NULL never compares true, as in SQL.
	if v == nil || p.Value == nil {
		return false, nil
	}
	c := compare(v, p.Value)
	switch p.Op {
	case offsync.CmpEq:
		return c == 0, nil
	case offsync.CmpNe:
		return c != 0, nil
	case offsync.CmpLt:
		return c < 0, nil
	case offsync.CmpLte:
		return c <= 0, nil
	case offsync.CmpGt:
		return c > 0, nil
	case offsync.CmpGte:
		return c >= 0, nil
	default:
		return false, fmt.Errorf("memstore: unsupported operator %q", p.Op)
	}
}

// compare orders two column values. Numbers compare numerically, timestamps
// chronologically and everything else by text. nil sorts first.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if ta, ok := a.(time.Time); ok {
		if tb, err := offsync.AsTime(b); err == nil {
			return ta.Compare(tb)
		}
	}
	if tb, ok := b.(time.Time); ok {
		if ta, err := offsync.AsTime(a); err == nil {
			return ta.Compare(tb)
		}
	}

	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}

	sa, sb := offsync.AsString(a), offsync.AsString(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
