// Package postgres provides the Postgres backend on lib/pq, typically used as
// the authoritative server store.
//
// Capture triggers share one plpgsql function; each table's trigger passes
// its logical name and primary key columns as trigger arguments.
package postgres
