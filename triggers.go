package offsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	stateRowID        = 1
	colStateID        = "id"
	colStateSuppress  = "suppressed"
	colStateCursor    = "cursor"
	colStateSourceID  = "source_id"
	suppressedFlagOn  = 1
	suppressedFlagOff = 0
)

// TriggerController toggles local change capture.
type TriggerController interface {
	// Enable resumes capturing local writes into the outbox.
	Enable(ctx context.Context) error
	// Suppress stops capturing local writes into the outbox.
	Suppress(ctx context.Context) error
}

// NopTriggers is used where no capture triggers exist, such as a server store.
type NopTriggers struct{}

func (NopTriggers) Enable(context.Context) error   { return nil }
func (NopTriggers) Suppress(context.Context) error { return nil }

// StateTriggers flips the suppressed flag in the state table. Backend triggers
// only capture while the flag is zero.
type StateTriggers struct {
	Storage Storage
	// Table defaults to DefaultStateTable.
	Table string
}

// Enable implements TriggerController.
func (t StateTriggers) Enable(ctx context.Context) error {
	return t.set(ctx, suppressedFlagOff)
}

// Suppress implements TriggerController.
func (t StateTriggers) Suppress(ctx context.Context) error {
	return t.set(ctx, suppressedFlagOn)
}

func (t StateTriggers) set(ctx context.Context, flag int) error {
	return t.Storage.Upsert(ctx, stateTable(t.Table), Row{colStateID: stateRowID, colStateSuppress: flag}, []string{colStateID})
}

// WithTriggersSuppressed runs fn with change capture suppressed and re-enables
// capture on every exit path, including errors, panics and canceled contexts.
func WithTriggersSuppressed(ctx context.Context, tc TriggerController, fn func(ctx context.Context) error) (err error) {
	restore := context.WithoutCancel(ctx)
	if err := tc.Suppress(ctx); err != nil {
		return errors.Join(fmt.Errorf("offsync: suppress triggers: %w", err), tc.Enable(restore))
	}
	defer func() {
		if enableErr := tc.Enable(restore); enableErr != nil {
			err = errors.Join(err, fmt.Errorf("offsync: enable triggers: %w", enableErr))
		}
	}()

	return fn(ctx)
}

// StateStore persists the pull cursor between cycles.
type StateStore interface {
	LoadCursor(ctx context.Context) (int64, error)
	SaveCursor(ctx context.Context, cursor int64) error
}

// StorageState keeps the cursor in the state table.
type StorageState struct {
	Storage Storage
	// Table defaults to DefaultStateTable.
	Table string
}

// LoadCursor implements StateStore. A missing state row reads as zero.
func (s StorageState) LoadCursor(ctx context.Context) (int64, error) {
	rows, err := s.Storage.Select(ctx, stateTable(s.Table), Query{
		Columns: []string{colStateCursor},
		Where:   []Predicate{Eq(colStateID, stateRowID)},
		Limit:   1,
	})
	if err != nil {
		return 0, fmt.Errorf("offsync: load cursor: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	cursor, err := AsInt(rows[0][colStateCursor])
	if err != nil {
		return 0, fmt.Errorf("offsync: load cursor: %w", err)
	}

	return int64(cursor), nil
}

// SaveCursor implements StateStore.
func (s StorageState) SaveCursor(ctx context.Context, cursor int64) error {
	err := s.Storage.Upsert(ctx, stateTable(s.Table), Row{colStateID: stateRowID, colStateCursor: cursor}, []string{colStateID})
	if err != nil {
		return fmt.Errorf("offsync: save cursor: %w", err)
	}

	return nil
}

// EnsureSourceID returns the persisted source id of this database, generating
// and storing a new one on first use.
func EnsureSourceID(ctx context.Context, storage Storage, table string) (string, error) {
	table = stateTable(table)
	rows, err := storage.Select(ctx, table, Query{
		Columns: []string{colStateSourceID},
		Where:   []Predicate{Eq(colStateID, stateRowID)},
		Limit:   1,
	})
	if err != nil {
		return "", fmt.Errorf("offsync: load source id: %w", err)
	}
	if len(rows) > 0 {
		if id := AsString(rows[0][colStateSourceID]); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := storage.Upsert(ctx, table, Row{colStateID: stateRowID, colStateSourceID: id}, []string{colStateID}); err != nil {
		return "", fmt.Errorf("offsync: store source id: %w", err)
	}

	return id, nil
}

func stateTable(name string) string {
	if name == "" {
		return DefaultStateTable
	}

	return name
}
