package mysql

import (
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

// TriggerDDL returns AFTER INSERT/UPDATE/DELETE trigger definitions that
// capture changes to t into the outbox while _sync_state.suppressed is zero.
// Each definition is a single statement; no DELIMITER handling is needed when
// it is sent through the driver.
//
// The suppression flag is a table row, so it applies to every session writing
// the captured tables, not only the one applying remote changes.
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
		out = append(out, fmt.Sprintf(`CREATE TRIGGER %s AFTER %s ON %s
FOR EACH ROW
BEGIN
    IF COALESCE((SELECT suppressed FROM %s WHERE id = 1), 0) = 0 THEN
        INSERT INTO %s (id, table_name, row_id, operation, status, changed_at, attempts)
        VALUES (
            LOWER(HEX(RANDOM_BYTES(16))),
            %s,
            %s,
            '%s',
            '%s',
            UTC_TIMESTAMP(3),
            0
        );
    END IF;
END`,
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
		out = append(out, "DROP TRIGGER IF EXISTS "+d.Quote(triggerName(t, kind.suffix)))
	}

	return out
}

// keyExpr renders the row key. MySQL normalizes JSON objects on output, so a
// composite key is not byte-identical to offsync.EncodeRowKey but decodes to
// the same key.
func keyExpr(t offsync.Table, alias string) string {
	d := Dialect{}
	if len(t.PrimaryKey) == 1 {
		return fmt.Sprintf("CAST(%s.%s AS CHAR)", alias, d.Quote(t.PrimaryKey[0]))
	}

	cols := append([]string(nil), t.PrimaryKey...)
	sort.Strings(cols)
	args := make([]string, 0, 2*len(cols))
	for _, col := range cols {
		args = append(args, quoteLiteral(col), alias+"."+d.Quote(col))
	}

	return "CAST(JSON_OBJECT(" + strings.Join(args, ", ") + ") AS CHAR)"
}
