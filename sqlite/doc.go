// Package sqlite is the embedded local backend: a SQLite database opened with
// WAL pragmas and a single connection, the engine's bookkeeping tables, and
// per-table capture triggers that write every local change to the outbox
// unless the suppression flag in _sync_state is set.
package sqlite
