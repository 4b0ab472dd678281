// Package sqlstore implements offsync.Storage over database/sql.
//
// SQL text is generated per call from the Query and Row values; a Dialect
// supplies identifier quoting, placeholders, the upsert clause and value
// binding, so the same Store serves the sqlite, mysql and postgres backends.
// Table and column names are validated before they reach SQL text.
package sqlstore
