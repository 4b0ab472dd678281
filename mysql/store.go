package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/velmie/offsync"
	"github.com/velmie/offsync/sqlstore"
)

// DB is a MySQL database serving as offsync.Storage.
type DB struct {
	*sqlstore.Store
	db  *sql.DB
	cfg Config
}

// Open connects using dsn. parseTime and clientFoundRows are forced on and
// timestamps are read and written in UTC.
func Open(ctx context.Context, dsn string, opts ...Option) (*DB, error) {
	if dsn == "" {
		return nil, ErrDSNRequired
	}
	driverCfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("offsync mysql: parse dsn: %w", err)
	}
	driverCfg.ParseTime = true
	driverCfg.ClientFoundRows = true
	driverCfg.Loc = time.UTC

	connector, err := mysql.NewConnector(driverCfg)
	if err != nil {
		return nil, fmt.Errorf("offsync mysql: connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("offsync mysql: connect failed: %w", err)
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

// New wraps an existing handle. The handle should have been opened with
// parseTime=true and clientFoundRows=true.
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

// MustNew wraps an existing handle or panics on error.
func MustNew(db *sql.DB, opts ...Option) *DB {
	d, err := New(db, opts...)
	if err != nil {
		panic(err)
	}

	return d
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// SQL returns the underlying handle.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// InstallSchema creates the bookkeeping tables and clears a stale suppression flag.
func (d *DB) InstallSchema(ctx context.Context) error {
	if err := d.Exec(ctx, Schema()...); err != nil {
		return err
	}
	if err := (offsync.StateTriggers{Storage: d}).Enable(ctx); err != nil {
		return fmt.Errorf("offsync mysql: reset capture flag: %w", err)
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
		create, err := TriggerDDL(t)
		if err != nil {
			return fmt.Errorf("offsync mysql: triggers for %s: %w", t.Name, err)
		}
		stmts := append(DropTriggerDDL(t), create...)
		if err := d.Exec(ctx, stmts...); err != nil {
			return fmt.Errorf("offsync mysql: install triggers for %s: %w", t.Name, err)
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
			return fmt.Errorf("offsync mysql: drop triggers for %s: %w", t.Name, err)
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
