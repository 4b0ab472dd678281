package offsync

import (
	"context"
	"fmt"
	"sort"
)

// Applier writes remote changes into local storage for any registered table.
// Every write runs with change capture suppressed so applied changes never
// re-enter the outbox.
type Applier struct {
	rt Runtime
}

// ApplyResult reports a batch application.
type ApplyResult struct {
	Applied int
	// Errors holds one entry per change that could not be applied.
	Errors []error
}

type preparedChange struct {
	change RemoteChange
	table  Table
	key    RowKey
}

// NewApplier builds an Applier.
func NewApplier(rt Runtime) (*Applier, error) {
	rt = rt.withDefaults()
	if err := rt.validate(); err != nil {
		return nil, err
	}

	return &Applier{rt: rt}, nil
}

// Apply applies a single remote change. An unregistered table fails with
// *UnknownTableError before storage is touched.
func (a *Applier) Apply(ctx context.Context, change RemoteChange) error {
	pc, err := a.prepare(change)
	if err != nil {
		return err
	}

	return WithTriggersSuppressed(ctx, a.rt.Triggers, func(ctx context.Context) error {
		return a.write(ctx, pc)
	})
}

// ApplyBatch applies changes in registry sync order. The batch is split into
// runs of consecutive upserts and consecutive deletes: upserts are applied
// dependencies first and deletes dependents first, while runs keep their
// order so a delete followed by a re-insert of the same row stays in that
// order. Changes keep their relative order within a table. A failing change is
// recorded in the result and does not stop the batch; the returned error is
// reserved for failures to toggle change capture.
func (a *Applier) ApplyBatch(ctx context.Context, changes []RemoteChange) (ApplyResult, error) {
	var result ApplyResult
	prepared := make([]preparedChange, 0, len(changes))
	for _, change := range changes {
		pc, err := a.prepare(change)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		prepared = append(prepared, pc)
	}
	if len(prepared) == 0 {
		return result, nil
	}
	orderRuns(prepared)

	err := WithTriggersSuppressed(ctx, a.rt.Triggers, func(ctx context.Context) error {
		for _, pc := range prepared {
			if err := a.write(ctx, pc); err != nil {
				a.rt.Logger.Warn("remote change not applied",
					"table", pc.change.Table, "row", pc.change.RowID, "op", pc.change.Operation, "err", err)
				result.Errors = append(result.Errors, err)
				continue
			}
			result.Applied++
		}

		return nil
	})

	return result, err
}

// orderRuns sorts each run of same-kind changes in place.
func orderRuns(changes []preparedChange) {
	for start := 0; start < len(changes); {
		deletes := changes[start].change.Operation == OpDelete
		end := start + 1
		for end < len(changes) && (changes[end].change.Operation == OpDelete) == deletes {
			end++
		}
		run := changes[start:end]
		sort.SliceStable(run, func(i, j int) bool {
			if deletes {
				return run[i].table.Order > run[j].table.Order
			}

			return run[i].table.Order < run[j].table.Order
		})
		start = end
	}
}

func (a *Applier) prepare(change RemoteChange) (preparedChange, error) {
	if len(change.Table) > 0 {
		if _, ok := a.rt.Registry.Resolve(change.Table); !ok {
			return preparedChange{}, &UnknownTableError{Table: change.Table}
		}
	}
	if err := change.Validate(); err != nil {
		return preparedChange{}, fmt.Errorf("offsync: change %s/%s: %w", change.Table, change.RowID, err)
	}
	t, _ := a.rt.Registry.Resolve(change.Table)

	return preparedChange{change: change, table: t, key: DecodeRowKey(change.RowID)}, nil
}

func (a *Applier) write(ctx context.Context, pc preparedChange) error {
	if pc.change.Operation == OpDelete {
		return a.delete(ctx, pc.table, pc.key)
	}

	row := pc.change.Row.Clone()
	keyCols, err := pc.key.Columns(pc.table)
	if err != nil {
		return fmt.Errorf("offsync: apply %s/%s: %w", pc.table.Name, pc.change.RowID, err)
	}
	for col, v := range keyCols {
		if cur, ok := row[col]; !ok || cur == nil {
			row[col] = v
		}
	}
	if err := a.evictUniqueConflicts(ctx, pc.table, row); err != nil {
		return err
	}
	if err := a.rt.Storage.Upsert(ctx, pc.table.SchemaKey, row, pc.table.PrimaryKey); err != nil {
		return fmt.Errorf("offsync: upsert %s/%s: %w", pc.table.Name, pc.change.RowID, err)
	}

	return nil
}

func (a *Applier) delete(ctx context.Context, t Table, key RowKey) error {
	preds, err := key.Predicates(t)
	if err != nil {
		return fmt.Errorf("offsync: delete %s/%s: %w", t.Name, key, err)
	}
	if _, err := a.rt.Storage.Delete(ctx, t.SchemaKey, preds...); err != nil {
		return fmt.Errorf("offsync: delete %s/%s: %w", t.Name, key, err)
	}

	return nil
}

// evictUniqueConflicts removes local rows that hold the incoming row's values
// for a declared unique constraint under a different primary key. The incoming
// row is authoritative.
func (a *Applier) evictUniqueConflicts(ctx context.Context, t Table, row Row) error {
	if len(t.UniqueKeys) == 0 {
		return nil
	}
	incoming, err := KeyFromRow(t, row)
	if err != nil {
		return err
	}

	for _, constraint := range t.UniqueKeys {
		preds, ok := constraintPredicates(constraint, row)
		if !ok {
			continue
		}
		holders, err := a.rt.Storage.Select(ctx, t.SchemaKey, Query{Columns: t.PrimaryKey, Where: preds})
		if err != nil {
			return fmt.Errorf("offsync: check %s unique %v: %w", t.Name, constraint, err)
		}
		for _, holder := range holders {
			holderKey, err := KeyFromRow(t, holder)
			if err != nil {
				return err
			}
			if holderKey.Equal(incoming) {
				continue
			}
			a.rt.Logger.Info("evicting local row on unique conflict",
				"table", t.Name, "constraint", constraint, "local", holderKey.String(), "remote", incoming.String())
			if err := a.delete(ctx, t, holderKey); err != nil {
				return err
			}
		}
	}

	return nil
}

// constraintPredicates builds equality predicates for a constraint. A row with
// a missing or NULL constraint column cannot violate it.
func constraintPredicates(constraint []string, row Row) ([]Predicate, bool) {
	preds := make([]Predicate, 0, len(constraint))
	for _, col := range constraint {
		v, ok := row[col]
		if !ok || v == nil {
			return nil, false
		}
		preds = append(preds, Eq(col, v))
	}

	return preds, true
}
