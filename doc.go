// Package offsync provides a schema-agnostic offline-first synchronization engine.
//
// Typical flow:
//  1. Triggers installed by a storage backend (see the sqlite, mysql and postgres packages)
//     capture local writes into the outbox table.
//  2. An Engine drains the outbox in batches, pushes them through a Transport and
//     applies the server's results and remote changes with an Applier.
//  3. A RealtimeManager listens for remote notifications and triggers extra cycles.
//
// The engine never branches on table names: every table is described by a Registry
// entry and addressed through the Storage interface.
package offsync
