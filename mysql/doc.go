// Package mysql provides the MySQL 8.0+ backend.
//
// It supplies:
//   - Dialect, the sqlstore dialect (backtick quoting, ON DUPLICATE KEY UPDATE)
//   - Schema, the DDL for the outbox, state and backup tables
//   - TriggerDDL, per-table capture triggers guarded by the suppression flag
//   - AdvisoryLocker, a GET_LOCK based offsync.Locker for pruning across processes
//
// Open parses the DSN with the driver's Config and forces parseTime and
// clientFoundRows, which the store relies on for timestamps and affected-row counts.
package mysql
