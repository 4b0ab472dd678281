package mysql

import (
	"fmt"

	"github.com/velmie/offsync"
)

const outboxTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(64) NOT NULL,
	table_name VARCHAR(128) NOT NULL,
	row_id VARCHAR(512) NOT NULL,
	operation VARCHAR(8) NOT NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	changed_at DATETIME(3) NOT NULL,
	synced_at DATETIME(3) NULL,
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT NULL,
	PRIMARY KEY (id),
	INDEX idx_status_changed (status, changed_at, id)
)`

const stateTemplate = "CREATE TABLE IF NOT EXISTS %s (\n" +
	"\tid INT NOT NULL,\n" +
	"\tsuppressed TINYINT NOT NULL DEFAULT 0,\n" +
	"\t`cursor` BIGINT NOT NULL DEFAULT 0,\n" +
	"\tsource_id VARCHAR(64) NULL,\n" +
	"\tPRIMARY KEY (id)\n" +
	")"

const backupTemplate = `CREATE TABLE IF NOT EXISTS %s (
	user_id VARCHAR(191) NOT NULL,
	created_at DATETIME(3) NOT NULL,
	payload LONGTEXT NOT NULL,
	PRIMARY KEY (user_id)
)`

// Schema returns the statements creating the outbox, state and backup tables
// under their default names. Each statement runs on its own, so the DSN does
// not need multiStatements.
func Schema() []string {
	d := Dialect{}
	state := d.Quote(offsync.DefaultStateTable)

	return []string{
		fmt.Sprintf(outboxTemplate, d.Quote(offsync.DefaultOutboxTable)),
		fmt.Sprintf(stateTemplate, state),
		fmt.Sprintf("INSERT IGNORE INTO %s (id) VALUES (1)", state),
		fmt.Sprintf(backupTemplate, d.Quote(offsync.DefaultBackupTable)),
	}
}

const changelogTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	seq BIGINT NOT NULL,
	table_name VARCHAR(128) NOT NULL,
	row_id VARCHAR(512) NOT NULL,
	operation VARCHAR(8) NOT NULL,
	row_data LONGTEXT NULL,
	source_id VARCHAR(64) NOT NULL,
	created_at DATETIME(3) NOT NULL,
	PRIMARY KEY (seq),
	INDEX idx_source_seq (source_id, seq)
)`

// ChangelogSchema returns the DDL of the server change log.
func ChangelogSchema(table string) []string {
	return []string{fmt.Sprintf(changelogTemplate, Dialect{}.Quote(table))}
}
