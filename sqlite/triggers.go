package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/velmie/offsync"
	"github.com/velmie/offsync/sqlstore"
)

var triggerKinds = []struct {
	suffix string
	event  string
	alias  string
	op     offsync.Operation
}{
	{suffix: "ai", event: "INSERT", alias: "NEW", op: offsync.OpInsert},
	{suffix: "au", event: "UPDATE", alias: "NEW", op: offsync.OpUpdate},
	{suffix: "ad", event: "DELETE", alias: "OLD", op: offsync.OpDelete},
}

// TriggerDDL returns the AFTER INSERT/UPDATE/DELETE triggers that capture
// changes to t into the outbox. Capture is skipped while _sync_state.suppressed
// is non-zero. Composite keys are captured as a JSON object with sorted
// column names, matching offsync.EncodeRowKey.
func TriggerDDL(t offsync.Table) ([]string, error) {
	if err := sqlstore.ValidateIdentifier(t.SchemaKey); err != nil {
		return nil, err
	}
	for _, col := range t.PrimaryKey {
		if err := sqlstore.ValidateIdentifier(col); err != nil {
			return nil, err
		}
	}

	d := Dialect{}
	out := make([]string, 0, len(triggerKinds))
	for _, kind := range triggerKinds {
		out = append(out, fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER %s ON %s
WHEN COALESCE((SELECT suppressed FROM %s WHERE id = 1), 0) = 0
BEGIN
    INSERT INTO %s (id, table_name, row_id, operation, status, changed_at, attempts)
    VALUES (
        lower(hex(randomblob(16))),
        %s,
        %s,
        '%s',
        '%s',
        strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now'),
        0
    );
END;`,
			d.Quote(triggerName(t, kind.suffix)),
			kind.event,
			d.Quote(t.SchemaKey),
			d.Quote(offsync.DefaultStateTable),
			d.Quote(offsync.DefaultOutboxTable),
			quoteLiteral(t.Name),
			keyExpr(t, kind.alias),
			kind.op,
			offsync.StatusPending,
		))
	}

	return out, nil
}

// DropTriggerDDL returns statements removing the capture triggers of t.
func DropTriggerDDL(t offsync.Table) []string {
	d := Dialect{}
	out := make([]string, 0, len(triggerKinds))
	for _, kind := range triggerKinds {
		out = append(out, "DROP TRIGGER IF EXISTS "+d.Quote(triggerName(t, kind.suffix))+";")
	}

	return out
}

// InstallTriggers creates capture triggers for every registered table.
func (d *DB) InstallTriggers(ctx context.Context, reg *offsync.Registry) error {
	if reg == nil {
		return ErrRegistryRequired
	}
	for _, t := range reg.Tables() {
		stmts, err := TriggerDDL(t)
		if err != nil {
			return fmt.Errorf("offsync sqlite: triggers for %s: %w", t.Name, err)
		}
		if err := d.Exec(ctx, stmts...); err != nil {
			return fmt.Errorf("offsync sqlite: install triggers for %s: %w", t.Name, err)
		}
		d.cfg.Logger.Debug("capture triggers installed", "table", t.Name)
	}

	return nil
}

// DropTriggers removes capture triggers for every registered table.
func (d *DB) DropTriggers(ctx context.Context, reg *offsync.Registry) error {
	if reg == nil {
		return ErrRegistryRequired
	}
	for _, t := range reg.Tables() {
		if err := d.Exec(ctx, DropTriggerDDL(t)...); err != nil {
			return fmt.Errorf("offsync sqlite: drop triggers for %s: %w", t.Name, err)
		}
	}

	return nil
}

func triggerName(t offsync.Table, suffix string) string {
	return "_sync_" + strings.ReplaceAll(t.SchemaKey, ".", "_") + "_" + suffix
}

func keyExpr(t offsync.Table, alias string) string {
	d := Dialect{}
	if len(t.PrimaryKey) == 1 {
		return fmt.Sprintf("CAST(%s.%s AS TEXT)", alias, d.Quote(t.PrimaryKey[0]))
	}

	cols := append([]string(nil), t.PrimaryKey...)
	sort.Strings(cols)
	args := make([]string, 0, 2*len(cols))
	for _, col := range cols {
		args = append(args, quoteLiteral(col), alias+"."+d.Quote(col))
	}

	return "json_object(" + strings.Join(args, ", ") + ")"
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
