package offsync

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBatchSize indicates that the requested batch size is not positive.
	ErrInvalidBatchSize = errors.New("offsync: batch size must be positive")
	// ErrRowNotFound signals that a row addressed by primary key does not exist.
	ErrRowNotFound = errors.New("offsync: row not found")
	// ErrItemNotFound signals that an outbox item does not exist.
	ErrItemNotFound = errors.New("offsync: outbox item not found")
	// ErrStorageRequired is returned when a Runtime has no Storage.
	ErrStorageRequired = errors.New("offsync: storage is required")
	// ErrRegistryRequired is returned when a Runtime has no Registry.
	ErrRegistryRequired = errors.New("offsync: registry is required")
	// ErrTransportRequired is returned when an Engine is built without a Transport.
	ErrTransportRequired = errors.New("offsync: transport is required")
	// ErrBackupsRequired is returned when a snapshot is requested without a BackupStore.
	ErrBackupsRequired = errors.New("offsync: backup store is required")
	// ErrEngineRequired is returned when a RealtimeManager has nothing to trigger.
	ErrEngineRequired = errors.New("offsync: engine is required")
	// ErrQueueRequired is returned when a Pruner is built without a Queue.
	ErrQueueRequired = errors.New("offsync: queue is required")
	// ErrNotifierRequired is returned when a RealtimeManager is built without a Notifier.
	ErrNotifierRequired = errors.New("offsync: notifier is required")
	// ErrTableNameRequired is returned when a table descriptor has no name.
	ErrTableNameRequired = errors.New("offsync: table name is required")
	// ErrPrimaryKeyRequired is returned when a table descriptor has no primary key columns.
	ErrPrimaryKeyRequired = errors.New("offsync: table primary key is required")
	// ErrDuplicateTable is returned when a table is registered twice.
	ErrDuplicateTable = errors.New("offsync: table registered twice")
	// ErrChangeTableRequired indicates a remote change without a table.
	ErrChangeTableRequired = errors.New("offsync: change table is required")
	// ErrChangeRowIDRequired indicates a remote change without a row id.
	ErrChangeRowIDRequired = errors.New("offsync: change row id is required")
	// ErrChangeOperationInvalid indicates a remote change with an unknown operation.
	ErrChangeOperationInvalid = errors.New("offsync: change operation is invalid")
	// ErrChangeRowRequired indicates an INSERT or UPDATE change without row data.
	ErrChangeRowRequired = errors.New("offsync: change row is required")
	// ErrInvalidRowKey is returned when a row key cannot address a table's primary key.
	ErrInvalidRowKey = errors.New("offsync: row key does not match primary key")
	// ErrRetentionInvalid is returned when pruning retention is not positive.
	ErrRetentionInvalid = errors.New("offsync: retention must be positive")
	// ErrWorkerPanic indicates a panic inside the engine loop.
	ErrWorkerPanic = errors.New("offsync: worker panic")
)

// UnknownTableError reports a table name that is not in the Registry.
// It is fatal to the single operation that hit it, never to the engine.
type UnknownTableError struct {
	Table string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("offsync: unknown table %q", e.Table)
}

// IsUnknownTable reports whether err wraps an *UnknownTableError.
func IsUnknownTable(err error) bool {
	var ute *UnknownTableError

	return errors.As(err, &ute)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. The default FailureClassifier
// dead-letters items whose push failed with a permanent error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError

	return errors.As(err, &pe)
}
