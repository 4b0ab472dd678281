package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/velmie/offsync"
)

// TxStorage is implemented by stores that can run a function in a transaction,
// such as *sqlstore.Store. Each accepted change and its log entry are then
// written atomically.
type TxStorage interface {
	InTx(ctx context.Context, fn func(offsync.Storage) error) error
}

// Receiver applies pushes from many clients to one authoritative store.
// Pushes are serialized; the change log sequence is assigned in memory and
// loaded from the log on first use.
type Receiver struct {
	mu      sync.Mutex
	storage offsync.Storage
	reg     *offsync.Registry
	cfg     Config
	seq     int64
	loaded  bool
}

var _ offsync.Transport = (*Receiver)(nil)

// NewReceiver constructs a Receiver. The change log table must exist.
func NewReceiver(storage offsync.Storage, reg *offsync.Registry, opts ...Option) (*Receiver, error) {
	if storage == nil {
		return nil, ErrStorageRequired
	}
	if reg == nil {
		return nil, ErrRegistryRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Receiver{storage: storage, reg: reg, cfg: cfg.withDefaults()}, nil
}

// Push implements offsync.Transport.
func (r *Receiver) Push(ctx context.Context, req offsync.PushRequest) (offsync.PushResponse, error) {
	if req.SourceID == "" {
		return offsync.PushResponse{}, ErrSourceRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadSeq(ctx); err != nil {
		return offsync.PushResponse{}, err
	}

	resp := offsync.PushResponse{Results: make([]offsync.PushResult, 0, len(req.Changes))}
	touched := make(map[string]bool)
	for _, change := range req.Changes {
		result := r.accept(ctx, req.SourceID, change)
		if result.Status == offsync.ResultAccepted {
			touched[change.Table] = true
		}
		resp.Results = append(resp.Results, result)
	}

	if err := r.pull(ctx, req, &resp); err != nil {
		return offsync.PushResponse{}, err
	}
	if len(touched) > 0 {
		r.publish(ctx, req.SourceID, touched)
	}

	return resp, nil
}

// Seq returns the last assigned change log position.
func (r *Receiver) Seq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.seq
}

func (r *Receiver) accept(ctx context.Context, source string, change offsync.PushChange) offsync.PushResult {
	result := offsync.PushResult{ItemID: change.ItemID}
	t, ok := r.reg.Resolve(change.Table)
	if !ok {
		result.Status = offsync.ResultRejected
		result.Error = (&offsync.UnknownTableError{Table: change.Table}).Error()

		return result
	}
	remote := offsync.RemoteChange{Table: change.Table, RowID: change.RowID, Operation: change.Operation, Row: change.Row}
	if err := remote.Validate(); err != nil {
		result.Status = offsync.ResultRejected
		result.Error = err.Error()

		return result
	}
	key := offsync.DecodeRowKey(change.RowID)

	entry := Entry{
		Seq:       r.seq + 1,
		Table:     t.Name,
		RowID:     offsync.EncodeRowKey(key),
		Operation: change.Operation,
		SourceID:  source,
		CreatedAt: r.cfg.Clock.Now().UTC(),
	}
	err := r.inTx(ctx, func(storage offsync.Storage) error {
		if change.Operation != offsync.OpDelete {
			if err := checkUnique(ctx, storage, t, key, change.Row); err != nil {
				return err
			}
		}
		applier, err := offsync.NewApplier(offsync.Runtime{
			Registry: r.reg,
			Storage:  storage,
			Triggers: offsync.NopTriggers{},
			Logger:   r.cfg.Logger,
		})
		if err != nil {
			return err
		}
		if err := applier.Apply(ctx, remote); err != nil {
			return err
		}
		if change.Operation != offsync.OpDelete {
			if entry.Row, err = r.reg.FetchRowByKey(ctx, storage, t.Name, key); err != nil {
				return err
			}
		}
		row, err := entry.toRow()
		if err != nil {
			return err
		}

		return storage.Insert(ctx, r.cfg.ChangelogTable, row)
	})

	switch {
	case err == nil:
		r.seq = entry.Seq
		result.Status = offsync.ResultAccepted
	case errors.Is(err, ErrUniqueConflict):
		resolution, resErr := r.resolution(ctx, t, key)
		if resErr != nil {
			result.Status = offsync.ResultRetry
			result.Error = resErr.Error()

			return result
		}
		r.cfg.Logger.Info("push conflict", "table", t.Name, "row", entry.RowID, "source", source, "err", err)
		result.Status = offsync.ResultConflict
		result.Error = err.Error()
		result.Resolution = &resolution
	default:
		r.cfg.Logger.Warn("push not applied", "table", t.Name, "row", entry.RowID, "source", source, "err", err)
		result.Status = offsync.ResultRetry
		result.Error = err.Error()
	}

	return result
}

// resolution is the server's version of the row: its current state, or a
// delete when the server has no such row.
func (r *Receiver) resolution(ctx context.Context, t offsync.Table, key offsync.RowKey) (offsync.RemoteChange, error) {
	change := offsync.RemoteChange{Table: t.Name, RowID: offsync.EncodeRowKey(key), Seq: r.seq}
	row, err := r.reg.FetchRowByKey(ctx, r.storage, t.Name, key)
	switch {
	case errors.Is(err, offsync.ErrRowNotFound):
		change.Operation = offsync.OpDelete
	case err != nil:
		return offsync.RemoteChange{}, err
	default:
		change.Operation = offsync.OpUpdate
		change.Row = row
	}

	return change, nil
}

func checkUnique(ctx context.Context, storage offsync.Storage, t offsync.Table, key offsync.RowKey, row offsync.Row) error {
	for _, constraint := range t.UniqueKeys {
		preds := make([]offsync.Predicate, 0, len(constraint))
		for _, col := range constraint {
			v, ok := row[col]
			if !ok || v == nil {
				preds = nil
				break
			}
			preds = append(preds, offsync.Eq(col, v))
		}
		if len(preds) == 0 {
			continue
		}

		holders, err := storage.Select(ctx, t.SchemaKey, offsync.Query{Columns: t.PrimaryKey, Where: preds})
		if err != nil {
			return fmt.Errorf("offsync server: check %s unique %v: %w", t.Name, constraint, err)
		}
		for _, holder := range holders {
			holderKey, err := offsync.KeyFromRow(t, holder)
			if err != nil {
				return err
			}
			if !holderKey.Equal(key) {
				return fmt.Errorf("%w: %s %v held by %s", ErrUniqueConflict, t.Name, constraint, holderKey)
			}
		}
	}

	return nil
}

func (r *Receiver) pull(ctx context.Context, req offsync.PushRequest, resp *offsync.PushResponse) error {
	rows, err := r.storage.Select(ctx, r.cfg.ChangelogTable, offsync.Query{
		Where:   []offsync.Predicate{offsync.Gt(colSeq, req.Cursor)},
		OrderBy: []offsync.Order{{Column: colSeq}},
		Limit:   r.cfg.PageSize + 1,
	})
	if err != nil {
		return fmt.Errorf("offsync server: read changelog: %w", err)
	}
	if len(rows) > r.cfg.PageSize {
		resp.More = true
		rows = rows[:r.cfg.PageSize]
	}

	resp.Cursor = req.Cursor
	for _, row := range rows {
		entry, err := entryFromRow(row)
		if err != nil {
			return err
		}
		resp.Cursor = entry.Seq
		if entry.SourceID == req.SourceID {
			continue
		}
		resp.Changes = append(resp.Changes, entry.remoteChange())
	}

	return nil
}

func (r *Receiver) loadSeq(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	rows, err := r.storage.Select(ctx, r.cfg.ChangelogTable, offsync.Query{
		Columns: []string{colSeq},
		OrderBy: []offsync.Order{{Column: colSeq, Desc: true}},
		Limit:   1,
	})
	if err != nil {
		return fmt.Errorf("offsync server: load changelog position: %w", err)
	}
	if len(rows) > 0 {
		seq, err := offsync.AsInt(rows[0][colSeq])
		if err != nil {
			return fmt.Errorf("offsync server: load changelog position: %w", err)
		}
		r.seq = int64(seq)
	}
	r.loaded = true

	return nil
}

func (r *Receiver) inTx(ctx context.Context, fn func(offsync.Storage) error) error {
	if tx, ok := r.storage.(TxStorage); ok {
		return tx.InTx(ctx, fn)
	}

	return fn(r.storage)
}

func (r *Receiver) publish(ctx context.Context, source string, touched map[string]bool) {
	if r.cfg.Publisher == nil {
		return
	}
	tables := make([]string, 0, len(touched))
	for name := range touched {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	note := offsync.Notification{Source: source, Tables: tables, Cursor: r.seq}
	if err := r.cfg.Publisher.Publish(ctx, note); err != nil {
		r.cfg.Logger.Warn("publish notification failed", "source", source, "err", err)
	}
}
