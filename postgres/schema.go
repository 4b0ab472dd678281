package postgres

import (
	"fmt"

	"github.com/velmie/offsync"
)

const outboxTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	table_name TEXT NOT NULL,
	row_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	changed_at TIMESTAMPTZ(3) NOT NULL,
	synced_at TIMESTAMPTZ(3) NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NULL
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (status, changed_at, id)`

const stateTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	suppressed INTEGER NOT NULL DEFAULT 0,
	"cursor" BIGINT NOT NULL DEFAULT 0,
	source_id TEXT NULL
);
INSERT INTO %[1]s (id) VALUES (1) ON CONFLICT (id) DO NOTHING`

const backupTemplate = `CREATE TABLE IF NOT EXISTS %s (
	user_id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ(3) NOT NULL,
	payload TEXT NOT NULL
)`

const changelogTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	seq BIGINT PRIMARY KEY,
	table_name TEXT NOT NULL,
	row_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	row_data TEXT NULL,
	source_id TEXT NOT NULL,
	created_at TIMESTAMPTZ(3) NOT NULL
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (source_id, seq)`

// Schema returns the statements creating the client bookkeeping tables.
// lib/pq runs a multi-statement string when it has no bind arguments.
func Schema() []string {
	d := Dialect{}

	return []string{
		fmt.Sprintf(outboxTemplate, d.Quote(offsync.DefaultOutboxTable), d.Quote("idx_sync_outbox_status_changed")),
		fmt.Sprintf(stateTemplate, d.Quote(offsync.DefaultStateTable)),
		fmt.Sprintf(backupTemplate, d.Quote(offsync.DefaultBackupTable)),
	}
}

// ChangelogSchema returns the statements creating the server change log.
func ChangelogSchema(table string) []string {
	d := Dialect{}

	return []string{
		fmt.Sprintf(changelogTemplate, d.Quote(table), d.Quote("idx_"+table+"_source")),
	}
}
