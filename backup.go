package offsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Backup is a saved copy of the outstanding outbox for one user.
type Backup struct {
	UserID    string
	CreatedAt time.Time
	Items     []OutboxItem
}

// ReplayResult reports a backup replay. Errors holds one entry per item that
// could not be restored; replay continues past them.
type ReplayResult struct {
	Applied int     `json:"applied"`
	Skipped int     `json:"skipped"`
	Errors  []error `json:"-"`
}

// BackupStore keeps outbox backups for crash recovery.
type BackupStore interface {
	// LoadOutboxBackupForUser returns nil, nil when no backup exists.
	LoadOutboxBackupForUser(ctx context.Context, userID string) (*Backup, error)
	ClearOutboxBackupForUser(ctx context.Context, userID string) error
	ReplayOutboxBackup(ctx context.Context, backup *Backup) ReplayResult
	SaveOutboxBackupForUser(ctx context.Context, backup *Backup) error
}

// Backup table columns.
const (
	colBackupUser    = "user_id"
	colBackupCreated = "created_at"
	colBackupPayload = "payload"
)

// StorageBackups stores backups as JSON documents in a table reachable through
// Storage and replays them into the outbox table of the same store.
type StorageBackups struct {
	Storage Storage
	// Table defaults to DefaultBackupTable.
	Table string
	// OutboxTable defaults to DefaultOutboxTable.
	OutboxTable string
}

type backupItem struct {
	ID        string     `json:"id"`
	TableName string     `json:"tableName"`
	RowID     string     `json:"rowId"`
	Operation Operation  `json:"operation"`
	Status    Status     `json:"status"`
	ChangedAt time.Time  `json:"changedAt"`
	SyncedAt  *time.Time `json:"syncedAt,omitempty"`
	Attempts  int        `json:"attempts"`
	LastError *string    `json:"lastError,omitempty"`
}

// LoadOutboxBackupForUser implements BackupStore.
func (b StorageBackups) LoadOutboxBackupForUser(ctx context.Context, userID string) (*Backup, error) {
	rows, err := b.Storage.Select(ctx, b.table(), Query{
		Where: []Predicate{Eq(colBackupUser, userID)},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var payload []backupItem
	if err := json.Unmarshal([]byte(AsString(rows[0][colBackupPayload])), &payload); err != nil {
		return nil, fmt.Errorf("offsync: decode backup for %s: %w", userID, err)
	}
	createdAt, err := AsTime(rows[0][colBackupCreated])
	if err != nil {
		return nil, fmt.Errorf("offsync: backup for %s created_at: %w", userID, err)
	}

	backup := &Backup{UserID: userID, CreatedAt: createdAt, Items: make([]OutboxItem, 0, len(payload))}
	for _, it := range payload {
		backup.Items = append(backup.Items, OutboxItem{
			ID:        it.ID,
			TableName: it.TableName,
			RowID:     DecodeRowKey(it.RowID),
			Operation: it.Operation,
			Status:    it.Status,
			ChangedAt: it.ChangedAt,
			SyncedAt:  it.SyncedAt,
			Attempts:  it.Attempts,
			LastError: it.LastError,
		})
	}

	return backup, nil
}

// SaveOutboxBackupForUser implements BackupStore. An existing backup for the
// same user is replaced.
func (b StorageBackups) SaveOutboxBackupForUser(ctx context.Context, backup *Backup) error {
	payload := make([]backupItem, 0, len(backup.Items))
	for _, it := range backup.Items {
		payload = append(payload, backupItem{
			ID:        it.ID,
			TableName: it.TableName,
			RowID:     EncodeRowKey(it.RowID),
			Operation: it.Operation,
			Status:    it.Status,
			ChangedAt: it.ChangedAt.UTC(),
			SyncedAt:  it.SyncedAt,
			Attempts:  it.Attempts,
			LastError: it.LastError,
		})
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("offsync: encode backup for %s: %w", backup.UserID, err)
	}

	return b.Storage.Upsert(ctx, b.table(), Row{
		colBackupUser:    backup.UserID,
		colBackupCreated: backup.CreatedAt.UTC(),
		colBackupPayload: string(raw),
	}, []string{colBackupUser})
}

// ClearOutboxBackupForUser implements BackupStore.
func (b StorageBackups) ClearOutboxBackupForUser(ctx context.Context, userID string) error {
	_, err := b.Storage.Delete(ctx, b.table(), Eq(colBackupUser, userID))

	return err
}

// ReplayOutboxBackup implements BackupStore. Items already in the outbox are
// skipped; items that were in flight when the backup was taken come back as pending.
func (b StorageBackups) ReplayOutboxBackup(ctx context.Context, backup *Backup) ReplayResult {
	var result ReplayResult
	if backup == nil {
		return result
	}

	outbox := b.OutboxTable
	if outbox == "" {
		outbox = DefaultOutboxTable
	}
	for _, item := range backup.Items {
		existing, err := b.Storage.Select(ctx, outbox, Query{
			Columns: []string{colID},
			Where:   []Predicate{Eq(colID, item.ID)},
			Limit:   1,
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("offsync: replay item %s: %w", item.ID, err))
			continue
		}
		if len(existing) > 0 {
			result.Skipped++
			continue
		}
		if item.Status == StatusInProgress || item.Status == "" {
			item.Status = StatusPending
		}
		if err := b.Storage.Insert(ctx, outbox, itemToRow(item)); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("offsync: replay item %s: %w", item.ID, err))
			continue
		}
		result.Applied++
	}

	return result
}

func (b StorageBackups) table() string {
	if b.Table == "" {
		return DefaultBackupTable
	}

	return b.Table
}
