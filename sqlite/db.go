package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/velmie/offsync"
	"github.com/velmie/offsync/sqlstore"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - outbox, state and backup tables
const currentSchemaVersion = 1

// DB is a local SQLite database serving as offsync.Storage.
type DB struct {
	*sqlstore.Store
	db  *sql.DB
	cfg Config
}

// Open creates or opens the database at path, applies pragmas and the schema,
// and clears a suppression flag left behind by a crash.
//
// The connection pool is limited to one connection: SQLite has a single
// writer, and the suppression flag must be seen by the connection that writes.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	if path == "" {
		return nil, ErrPathRequired
	}
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("offsync sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("offsync sqlite: connect failed: %w", err)
	}
	if err := applyPragmas(ctx, db, cfg); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	store, err := sqlstore.New(db, Dialect{}, sqlstore.WithLogger(cfg.Logger))
	if err != nil {
		db.Close()
		return nil, err
	}
	d := &DB{Store: store, db: db, cfg: cfg}

	if err := (offsync.StateTriggers{Storage: d}).Enable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("offsync sqlite: reset capture flag: %w", err)
	}

	return d, nil
}

// Close closes the database.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}

	return d.db.Close()
}

// SQL returns the underlying handle for direct application queries.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// DataVersion returns SQLite's data_version for the pooled connection. It
// changes only when another connection commits, which lets a file watcher tell
// application writes from the engine's own.
func (d *DB) DataVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := d.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("offsync sqlite: read data_version: %w", err)
	}

	return v, nil
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

func applyPragmas(ctx context.Context, db *sql.DB, cfg Config) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("offsync sqlite: %q failed: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("offsync sqlite: schema failed: %w", err)
	}

	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("offsync sqlite: read user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("offsync sqlite: set user_version: %w", err)
		}
	}

	return nil
}
