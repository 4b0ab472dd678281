package sqlstore

import "errors"

var (
	// ErrDBRequired is returned when a nil database handle is provided.
	ErrDBRequired = errors.New("offsync sqlstore: db is required")
	// ErrDialectRequired is returned when no dialect is provided.
	ErrDialectRequired = errors.New("offsync sqlstore: dialect is required")
	// ErrInvalidIdentifier is returned when a table or column name has disallowed characters.
	ErrInvalidIdentifier = errors.New("offsync sqlstore: invalid identifier")
	// ErrInvalidOperator is returned for an unknown predicate operator.
	ErrInvalidOperator = errors.New("offsync sqlstore: invalid operator")
	// ErrEmptyRow is returned when an insert, upsert or update has no columns.
	ErrEmptyRow = errors.New("offsync sqlstore: row has no columns")
	// ErrKeyRequired is returned when an upsert names no key columns.
	ErrKeyRequired = errors.New("offsync sqlstore: upsert key is required")
	// ErrTxUnsupported is returned by InTx when the handle cannot begin transactions.
	ErrTxUnsupported = errors.New("offsync sqlstore: handle does not support transactions")
)
