// Package server is a reference authoritative receiver for offsync clients.
//
// A Receiver implements offsync.Transport against any offsync.Storage: it
// applies pushed changes with the same generic Applier the clients use,
// appends every accepted change to a change log, answers unique-constraint
// conflicts with the server's version, and returns log entries from other
// sources past the client's cursor.
package server
