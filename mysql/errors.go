package mysql

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("offsync mysql: db is required")
	// ErrDSNRequired is returned when Open is called with an empty DSN.
	ErrDSNRequired = errors.New("offsync mysql: dsn is required")
	// ErrRegistryRequired is returned when triggers are installed without a registry.
	ErrRegistryRequired = errors.New("offsync mysql: registry is required")
	// ErrLockNameRequired is returned when TryLock is called with an empty name.
	ErrLockNameRequired = errors.New("offsync mysql: lock name is required")
)
