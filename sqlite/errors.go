package sqlite

import "errors"

var (
	// ErrPathRequired is returned when Open is called without a database path.
	ErrPathRequired = errors.New("offsync sqlite: path is required")
	// ErrRegistryRequired is returned when triggers are installed without a registry.
	ErrRegistryRequired = errors.New("offsync sqlite: registry is required")
)
