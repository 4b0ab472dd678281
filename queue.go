package offsync

import (
	"context"
	"fmt"
	"time"
)

// Queue is the durable push queue. Items are created by capture triggers;
// the queue only consumes and transitions existing rows.
type Queue struct {
	rt Runtime
}

// NewQueue builds a Queue over the runtime's storage.
func NewQueue(rt Runtime) (*Queue, error) {
	rt = rt.withDefaults()
	if rt.Storage == nil {
		return nil, ErrStorageRequired
	}

	return &Queue{rt: rt}, nil
}

// GetPending returns up to limit pending items, oldest first.
func (q *Queue) GetPending(ctx context.Context, limit int) ([]OutboxItem, error) {
	if limit <= 0 {
		return nil, ErrInvalidBatchSize
	}

	rows, err := q.rt.Storage.Select(ctx, q.rt.OutboxTable, Query{
		Where:   []Predicate{Eq(colStatus, string(StatusPending))},
		OrderBy: []Order{{Column: colChangedAt}, {Column: colID}},
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("offsync: get pending: %w", err)
	}

	return itemsFromRows(rows)
}

// Get loads a single item by id.
func (q *Queue) Get(ctx context.Context, id string) (OutboxItem, error) {
	rows, err := q.rt.Storage.Select(ctx, q.rt.OutboxTable, Query{
		Where: []Predicate{Eq(colID, id)},
		Limit: 1,
	})
	if err != nil {
		return OutboxItem{}, fmt.Errorf("offsync: get item %s: %w", id, err)
	}
	if len(rows) == 0 {
		return OutboxItem{}, ErrItemNotFound
	}

	return itemFromRow(rows[0])
}

// MarkInProgress moves an item to in_progress. Repeating the call is harmless.
func (q *Queue) MarkInProgress(ctx context.Context, id string) error {
	return q.update(ctx, id, Row{colStatus: string(StatusInProgress)})
}

// MarkFailed returns an item to pending after a retryable failure and records
// attempts as previousAttempts+1.
func (q *Queue) MarkFailed(ctx context.Context, id, errMsg string, previousAttempts int) error {
	return q.update(ctx, id, Row{
		colStatus:    string(StatusPending),
		colAttempts:  previousAttempts + 1,
		colLastError: errMsg,
	})
}

// MarkPermanentlyFailed moves an item to the terminal failed status.
// The row is kept for diagnostics.
func (q *Queue) MarkPermanentlyFailed(ctx context.Context, id, errMsg string) error {
	return q.update(ctx, id, Row{
		colStatus:    string(StatusFailed),
		colSyncedAt:  q.rt.Clock.Now().UTC(),
		colLastError: errMsg,
	})
}

// MarkCompleted deletes the item.
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	if _, err := q.rt.Storage.Delete(ctx, q.rt.OutboxTable, Eq(colID, id)); err != nil {
		return fmt.Errorf("offsync: complete item %s: %w", id, err)
	}

	return nil
}

// ResetInProgress returns items left in_progress by an interrupted push to pending.
func (q *Queue) ResetInProgress(ctx context.Context) (int64, error) {
	n, err := q.rt.Storage.Update(ctx, q.rt.OutboxTable,
		Row{colStatus: string(StatusPending)},
		Eq(colStatus, string(StatusInProgress)),
	)
	if err != nil {
		return 0, fmt.Errorf("offsync: reset in-progress items: %w", err)
	}

	return n, nil
}

// Stats counts items per status.
func (q *Queue) Stats(ctx context.Context) (OutboxStats, error) {
	tally, err := q.rt.Storage.Tally(ctx, q.rt.OutboxTable, colStatus)
	if err != nil {
		return OutboxStats{}, fmt.Errorf("offsync: outbox stats: %w", err)
	}

	return statsFromTally(tally)
}

func statsFromTally(tally Row) (OutboxStats, error) {
	var (
		stats OutboxStats
		err   error
	)
	fields := []struct {
		key string
		dst *int
	}{
		{string(StatusPending), &stats.Pending},
		{string(StatusInProgress), &stats.InProgress},
		{string(StatusFailed), &stats.Failed},
		{"total", &stats.Total},
	}
	for _, f := range fields {
		if *f.dst, err = AsInt(tally[f.key]); err != nil {
			return OutboxStats{}, fmt.Errorf("offsync: outbox stats %s: %w", f.key, err)
		}
	}

	return stats, nil
}

// ClearOld deletes items whose changed_at is strictly before now-maxAge and
// returns how many were removed. Items in flight are never touched, but
// pending items are: writes that were never pushed are lost.
// Candidates are selected first, then each one's changed_at is read and
// compared in Go, so the store needs no date arithmetic.
func (q *Queue) ClearOld(ctx context.Context, maxAge time.Duration) (int, error) {
	return q.clearOld(ctx, maxAge, Ne(colStatus, string(StatusInProgress)))
}

// ClearOldFailed is ClearOld restricted to permanently failed items.
func (q *Queue) ClearOldFailed(ctx context.Context, maxAge time.Duration) (int, error) {
	return q.clearOld(ctx, maxAge, Eq(colStatus, string(StatusFailed)))
}

func (q *Queue) clearOld(ctx context.Context, maxAge time.Duration, eligible Predicate) (int, error) {
	if maxAge <= 0 {
		return 0, ErrRetentionInvalid
	}
	cutoff := q.rt.Clock.Now().Add(-maxAge)

	candidates, err := q.rt.Storage.Select(ctx, q.rt.OutboxTable, Query{
		Columns: []string{colID},
		Where:   []Predicate{eligible},
	})
	if err != nil {
		return 0, fmt.Errorf("offsync: clear old candidates: %w", err)
	}

	deleted := 0
	for _, candidate := range candidates {
		id := AsString(candidate[colID])
		rows, err := q.rt.Storage.Select(ctx, q.rt.OutboxTable, Query{
			Columns: []string{colChangedAt},
			Where:   []Predicate{Eq(colID, id)},
			Limit:   1,
		})
		if err != nil {
			return deleted, fmt.Errorf("offsync: clear old item %s: %w", id, err)
		}
		if len(rows) == 0 {
			continue
		}
		changedAt, err := AsTime(rows[0][colChangedAt])
		if err != nil {
			q.rt.Logger.Warn("outbox item has unreadable changed_at", "id", id, "err", err)
			continue
		}
		if !changedAt.Before(cutoff) {
			continue
		}
		n, err := q.rt.Storage.Delete(ctx, q.rt.OutboxTable, Eq(colID, id), eligible)
		if err != nil {
			return deleted, fmt.Errorf("offsync: clear old item %s: %w", id, err)
		}
		deleted += int(n)
	}

	return deleted, nil
}

// Snapshot copies the outstanding items (pending and in_progress) into the
// backup store for userID and returns how many were saved.
func (q *Queue) Snapshot(ctx context.Context, userID string) (int, error) {
	if q.rt.Backups == nil {
		return 0, ErrBackupsRequired
	}

	rows, err := q.rt.Storage.Select(ctx, q.rt.OutboxTable, Query{
		Where:   []Predicate{In(colStatus, string(StatusPending), string(StatusInProgress))},
		OrderBy: []Order{{Column: colChangedAt}, {Column: colID}},
	})
	if err != nil {
		return 0, fmt.Errorf("offsync: snapshot outbox: %w", err)
	}
	items, err := itemsFromRows(rows)
	if err != nil {
		return 0, err
	}

	backup := &Backup{UserID: userID, CreatedAt: q.rt.Clock.Now().UTC(), Items: items}
	if err := q.rt.Backups.SaveOutboxBackupForUser(ctx, backup); err != nil {
		return 0, fmt.Errorf("offsync: save backup: %w", err)
	}

	return len(items), nil
}

// Recover replays the backup stored for userID, if any, and returns the
// replay result unchanged. The backup is cleared only when every item replayed
// without error, so a failed entry is retried on the next recovery.
func (q *Queue) Recover(ctx context.Context, userID string) (ReplayResult, error) {
	if q.rt.Backups == nil {
		return ReplayResult{}, nil
	}

	backup, err := q.rt.Backups.LoadOutboxBackupForUser(ctx, userID)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("offsync: load backup: %w", err)
	}
	if backup == nil {
		return ReplayResult{}, nil
	}

	result := q.rt.Backups.ReplayOutboxBackup(ctx, backup)
	q.rt.Logger.Info("outbox backup replayed",
		"user", userID, "applied", result.Applied, "skipped", result.Skipped, "errors", len(result.Errors))
	if len(result.Errors) > 0 {
		return result, nil
	}
	if err := q.rt.Backups.ClearOutboxBackupForUser(ctx, userID); err != nil {
		return result, fmt.Errorf("offsync: clear backup: %w", err)
	}

	return result, nil
}

// release returns an item to pending without counting an attempt.
func (q *Queue) release(ctx context.Context, id string) error {
	return q.update(ctx, id, Row{colStatus: string(StatusPending)})
}

func (q *Queue) update(ctx context.Context, id string, set Row) error {
	if _, err := q.rt.Storage.Update(ctx, q.rt.OutboxTable, set, Eq(colID, id)); err != nil {
		return fmt.Errorf("offsync: update item %s: %w", id, err)
	}

	return nil
}

func itemsFromRows(rows []Row) ([]OutboxItem, error) {
	items := make([]OutboxItem, 0, len(rows))
	for _, row := range rows {
		item, err := itemFromRow(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, nil
}
