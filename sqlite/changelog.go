package sqlite

import (
	"context"
	"fmt"

	"github.com/velmie/offsync/sqlstore"
)

const changelogTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
    seq INTEGER PRIMARY KEY,
    table_name TEXT NOT NULL,
    row_id TEXT NOT NULL,
    operation TEXT NOT NULL,
    row_data TEXT,
    source_id TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (source_id, seq);`

// ChangelogSchema returns the DDL of the server change log, for a SQLite
// database acting as the authoritative store.
func ChangelogSchema(table string) []string {
	d := Dialect{}

	return []string{fmt.Sprintf(changelogTemplate, d.Quote(table), d.Quote("idx_"+table+"_source"))}
}

// InstallChangelog creates the server change log table.
func (d *DB) InstallChangelog(ctx context.Context, table string) error {
	if err := sqlstore.ValidateIdentifier(table); err != nil {
		return err
	}

	return d.Exec(ctx, ChangelogSchema(table)...)
}
