package offsync

import (
	"fmt"
	"time"
)

// Outbox table columns.
const (
	colID        = "id"
	colTableName = "table_name"
	colRowID     = "row_id"
	colOperation = "operation"
	colStatus    = "status"
	colChangedAt = "changed_at"
	colSyncedAt  = "synced_at"
	colAttempts  = "attempts"
	colLastError = "last_error"
)

// OutboxItem is a captured local mutation awaiting push.
type OutboxItem struct {
	ID        string
	TableName string
	RowID     RowKey
	Operation Operation
	Status    Status
	ChangedAt time.Time
	// SyncedAt is set only when the item failed permanently.
	SyncedAt  *time.Time
	Attempts  int
	LastError *string
}

// OutboxStats aggregates outbox items per status.
type OutboxStats struct {
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

func itemFromRow(row Row) (OutboxItem, error) {
	item := OutboxItem{
		ID:        AsString(row[colID]),
		TableName: AsString(row[colTableName]),
		RowID:     DecodeRowKey(AsString(row[colRowID])),
		Operation: Operation(AsString(row[colOperation])),
		Status:    Status(AsString(row[colStatus])),
	}

	changedAt, err := AsTime(row[colChangedAt])
	if err != nil {
		return OutboxItem{}, fmt.Errorf("offsync: outbox item %s changed_at: %w", item.ID, err)
	}
	item.ChangedAt = changedAt

	if v := row[colSyncedAt]; v != nil {
		syncedAt, err := AsTime(v)
		if err != nil {
			return OutboxItem{}, fmt.Errorf("offsync: outbox item %s synced_at: %w", item.ID, err)
		}
		item.SyncedAt = &syncedAt
	}

	attempts, err := AsInt(row[colAttempts])
	if err != nil {
		return OutboxItem{}, fmt.Errorf("offsync: outbox item %s attempts: %w", item.ID, err)
	}
	item.Attempts = attempts

	if v := row[colLastError]; v != nil {
		msg := AsString(v)
		item.LastError = &msg
	}

	return item, nil
}

func itemToRow(item OutboxItem) Row {
	row := Row{
		colID:        item.ID,
		colTableName: item.TableName,
		colRowID:     EncodeRowKey(item.RowID),
		colOperation: string(item.Operation),
		colStatus:    string(item.Status),
		colChangedAt: item.ChangedAt.UTC(),
		colAttempts:  item.Attempts,
		colSyncedAt:  nil,
		colLastError: nil,
	}
	if item.SyncedAt != nil {
		row[colSyncedAt] = item.SyncedAt.UTC()
	}
	if item.LastError != nil {
		row[colLastError] = *item.LastError
	}

	return row
}
