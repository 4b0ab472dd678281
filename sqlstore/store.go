package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/velmie/offsync"
)

// Executor is the subset of *sql.DB, *sql.Conn and *sql.Tx the store needs.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Beginner starts transactions. *sql.DB satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Store implements offsync.Storage on a database/sql handle.
type Store struct {
	db      Executor
	dialect Dialect
	cfg     Config
}

var _ offsync.Storage = (*Store)(nil)

// New constructs a Store.
func New(db Executor, dialect Dialect, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if dialect == nil {
		return nil, ErrDialectRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Store{db: db, dialect: dialect, cfg: cfg.withDefaults()}, nil
}

// MustNew constructs a Store or panics on error.
func MustNew(db Executor, dialect Dialect, opts ...Option) *Store {
	store, err := New(db, dialect, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Dialect returns the store's dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Select implements offsync.Storage.
func (s *Store) Select(ctx context.Context, table string, q offsync.Query) ([]offsync.Row, error) {
	b, err := buildSelect(s.dialect, table, q)
	if err != nil {
		return nil, err
	}
	s.log(b)

	rows, err := s.db.QueryContext(ctx, b.String(), b.args...)
	if err != nil {
		return nil, fmt.Errorf("offsync sqlstore: select %s failed: %w", table, err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// Insert implements offsync.Storage.
func (s *Store) Insert(ctx context.Context, table string, row offsync.Row) error {
	b, _, err := buildInsert(s.dialect, table, row)
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx, b); err != nil {
		return fmt.Errorf("offsync sqlstore: insert %s failed: %w", table, err)
	}

	return nil
}

// Upsert implements offsync.Storage.
func (s *Store) Upsert(ctx context.Context, table string, row offsync.Row, key []string) error {
	b, err := buildUpsert(s.dialect, table, row, key)
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx, b); err != nil {
		return fmt.Errorf("offsync sqlstore: upsert %s failed: %w", table, err)
	}

	return nil
}

// Update implements offsync.Storage.
func (s *Store) Update(ctx context.Context, table string, set offsync.Row, where ...offsync.Predicate) (int64, error) {
	b, err := buildUpdate(s.dialect, table, set, where)
	if err != nil {
		return 0, err
	}
	n, err := s.exec(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("offsync sqlstore: update %s failed: %w", table, err)
	}

	return n, nil
}

// Delete implements offsync.Storage.
func (s *Store) Delete(ctx context.Context, table string, where ...offsync.Predicate) (int64, error) {
	b, err := buildDelete(s.dialect, table, where)
	if err != nil {
		return 0, err
	}
	n, err := s.exec(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("offsync sqlstore: delete %s failed: %w", table, err)
	}

	return n, nil
}

// Tally implements offsync.Storage.
func (s *Store) Tally(ctx context.Context, table, column string) (offsync.Row, error) {
	b, err := buildTally(s.dialect, table, column)
	if err != nil {
		return nil, err
	}
	s.log(b)

	rows, err := s.db.QueryContext(ctx, b.String(), b.args...)
	if err != nil {
		return nil, fmt.Errorf("offsync sqlstore: tally %s failed: %w", table, err)
	}
	defer rows.Close()

	out := offsync.Row{}
	total := 0
	for rows.Next() {
		var (
			value any
			count int
		)
		if err := rows.Scan(&value, &count); err != nil {
			return nil, fmt.Errorf("offsync sqlstore: tally scan failed: %w", err)
		}
		out[offsync.AsString(value)] = count
		total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offsync sqlstore: tally rows failed: %w", err)
	}
	out["total"] = total

	return out, nil
}

// Exec runs raw statements in order, for schema and trigger installation.
func (s *Store) Exec(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		s.cfg.Logger.Debug("sqlstore exec", "dialect", s.dialect.Name(), "sql", stmt)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("offsync sqlstore: exec failed: %w", err)
		}
	}

	return nil
}

// InTx runs fn against a Store bound to a new transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(offsync.Storage) error) error {
	beginner, ok := s.db.(Beginner)
	if !ok {
		return ErrTxUnsupported
	}
	tx, err := beginner.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("offsync sqlstore: begin tx failed: %w", err)
	}

	txStore := &Store{db: tx, dialect: s.dialect, cfg: s.cfg}
	if err := fn(txStore); err != nil {
		return rollbackWith(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return rollbackWith(tx, fmt.Errorf("offsync sqlstore: commit failed: %w", err))
	}

	return nil
}

func rollbackWith(tx *sql.Tx, err error) error {
	rollbackErr := tx.Rollback()
	if rollbackErr == nil || errors.Is(rollbackErr, sql.ErrTxDone) {
		return err
	}

	return errors.Join(err, fmt.Errorf("offsync sqlstore: rollback failed: %w", rollbackErr))
}

func (s *Store) exec(ctx context.Context, b *builder) (int64, error) {
	s.log(b)
	res, err := s.db.ExecContext(ctx, b.String(), b.args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return n, nil
}

func (s *Store) log(b *builder) {
	s.cfg.Logger.Debug("sqlstore query", "dialect", s.dialect.Name(), "sql", b.String(), "args", len(b.args))
}

func scanRows(rows *sql.Rows) ([]offsync.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("offsync sqlstore: columns failed: %w", err)
	}

	var out []offsync.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("offsync sqlstore: scan failed: %w", err)
		}
		row := make(offsync.Row, len(cols))
		for i, col := range cols {
			if raw, ok := values[i].([]byte); ok {
				row[col] = string(raw)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offsync sqlstore: rows failed: %w", err)
	}

	return out, nil
}
