package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/velmie/offsync"
	"github.com/velmie/offsync/sqlstore"
)

// DB is a Postgres database serving as offsync.Storage.
type DB struct {
	*sqlstore.Store
	db  *sql.DB
	cfg Config
}

// Open connects using a lib/pq DSN or URL.
func Open(ctx context.Context, dsn string, opts ...Option) (*DB, error) {
	if dsn == "" {
		return nil, ErrDSNRequired
	}
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("offsync postgres: connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("offsync postgres: connect failed: %w", err)
	}

	d, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	if d.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(d.cfg.MaxOpenConns)
	}

	return d, nil
}

// New wraps an existing handle.
func New(db *sql.DB, opts ...Option) (*DB, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	store, err := sqlstore.New(db, Dialect{}, sqlstore.WithLogger(cfg.Logger))
	if err != nil {
		return nil, err
	}

	return &DB{Store: store, db: db, cfg: cfg}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// SQL returns the underlying handle.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// InstallSchema creates the bookkeeping tables and the capture function, and
// clears a stale suppression flag.
func (d *DB) InstallSchema(ctx context.Context) error {
	stmts := append(Schema(), CaptureFunctionDDL())
	if err := d.Exec(ctx, stmts...); err != nil {
		return err
	}
	if err := (offsync.StateTriggers{Storage: d}).Enable(ctx); err != nil {
		return fmt.Errorf("offsync postgres: reset capture flag: %w", err)
	}

	return nil
}

// InstallChangelog creates the server change log table.
func (d *DB) InstallChangelog(ctx context.Context, table string) error {
	if err := sqlstore.ValidateIdentifier(table); err != nil {
		return err
	}

	return d.Exec(ctx, ChangelogSchema(table)...)
}

// InstallTriggers (re)creates capture triggers for every registered table.
func (d *DB) InstallTriggers(ctx context.Context, reg *offsync.Registry) error {
	if reg == nil {
		return ErrRegistryRequired
	}
	for _, t := range reg.Tables() {
		stmts, err := TriggerDDL(t)
		if err != nil {
			return fmt.Errorf("offsync postgres: triggers for %s: %w", t.Name, err)
		}
		if err := d.Exec(ctx, stmts...); err != nil {
			return fmt.Errorf("offsync postgres: install triggers for %s: %w", t.Name, err)
		}
		d.cfg.Logger.Debug("capture triggers installed", "table", t.Name)
	}

	return nil
}

// DropTriggers removes capture triggers for every registered table.
func (d *DB) DropTriggers(ctx context.Context, reg *offsync.Registry) error {
	if reg == nil {
		return ErrRegistryRequired
	}
	for _, t := range reg.Tables() {
		if err := d.Exec(ctx, DropTriggerDDL(t)...); err != nil {
			return fmt.Errorf("offsync postgres: drop triggers for %s: %w", t.Name, err)
		}
	}

	return nil
}

// Locker returns an advisory locker on this database.
func (d *DB) Locker() *AdvisoryLocker {
	return &AdvisoryLocker{db: d.db, logger: d.cfg.Logger}
}

// Runtime returns an offsync.Runtime backed by this database.
func (d *DB) Runtime(reg *offsync.Registry) offsync.Runtime {
	return offsync.Runtime{
		Registry: reg,
		Storage:  d,
		Backups:  offsync.StorageBackups{Storage: d},
		Logger:   d.cfg.Logger,
	}
}
