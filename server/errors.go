package server

import "errors"

var (
	// ErrStorageRequired is returned when a Receiver is built without storage.
	ErrStorageRequired = errors.New("offsync server: storage is required")
	// ErrRegistryRequired is returned when a Receiver is built without a registry.
	ErrRegistryRequired = errors.New("offsync server: registry is required")
	// ErrSourceRequired is returned for a push without a source id.
	ErrSourceRequired = errors.New("offsync server: source id is required")
	// ErrUniqueConflict reports that a change collides with another row on a unique constraint.
	ErrUniqueConflict = errors.New("offsync server: unique constraint conflict")
)
