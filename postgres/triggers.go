package postgres

import (
	"fmt"
	"strings"

	"github.com/velmie/offsync"
	"github.com/velmie/offsync/sqlstore"
)

const captureFunction = "_sync_capture"

const captureFunctionTemplate = `CREATE OR REPLACE FUNCTION %[1]s() RETURNS trigger
LANGUAGE plpgsql AS $fn$
DECLARE
    rec jsonb;
    pk jsonb := '{}'::jsonb;
    row_key text;
BEGIN
    IF COALESCE((SELECT suppressed FROM %[2]s WHERE id = 1), 0) <> 0 THEN
        RETURN NULL;
    END IF;
    IF TG_OP = 'DELETE' THEN
        rec := to_jsonb(OLD);
    ELSE
        rec := to_jsonb(NEW);
    END IF;
    IF TG_NARGS = 2 THEN
        row_key := rec ->> TG_ARGV[1];
    ELSE
        FOR i IN 1 .. TG_NARGS - 1 LOOP
            pk := pk || jsonb_build_object(TG_ARGV[i], rec -> TG_ARGV[i]);
        END LOOP;
        row_key := pk::text;
    END IF;
    INSERT INTO %[3]s (id, table_name, row_id, operation, status, changed_at, attempts)
    VALUES (replace(gen_random_uuid()::text, '-', ''), TG_ARGV[0], row_key, TG_OP, '%[4]s', clock_timestamp(), 0);
    RETURN NULL;
END;
$fn$`

// CaptureFunctionDDL returns the shared trigger function. Capture is skipped
// while _sync_state.suppressed is non-zero. The first trigger argument is the
// logical table name, the rest are primary key columns; a composite key is
// captured as a jsonb object, which decodes to the same offsync.RowKey.
func CaptureFunctionDDL() string {
	d := Dialect{}

	return fmt.Sprintf(captureFunctionTemplate,
		d.Quote(captureFunction),
		d.Quote(offsync.DefaultStateTable),
		d.Quote(offsync.DefaultOutboxTable),
		offsync.StatusPending,
	)
}

// TriggerDDL returns the statements attaching the capture function to t.
func TriggerDDL(t offsync.Table) ([]string, error) {
	if err := sqlstore.ValidateIdentifier(t.SchemaKey); err != nil {
		return nil, err
	}
	args := []string{quoteLiteral(t.Name)}
	for _, col := range t.PrimaryKey {
		if err := sqlstore.ValidateIdentifier(col); err != nil {
			return nil, err
		}
		args = append(args, quoteLiteral(col))
	}

	d := Dialect{}
	create := fmt.Sprintf(
		"CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION %s(%s)",
		d.Quote(triggerName(t)),
		d.Quote(t.SchemaKey),
		d.Quote(captureFunction),
		strings.Join(args, ", "),
	)

	return append(DropTriggerDDL(t), create), nil
}

// DropTriggerDDL returns the statement removing the capture trigger of t.
func DropTriggerDDL(t offsync.Table) []string {
	d := Dialect{}

	return []string{fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", d.Quote(triggerName(t)), d.Quote(t.SchemaKey))}
}

func triggerName(t offsync.Table) string {
	return "_sync_" + strings.ReplaceAll(t.SchemaKey, ".", "_") + "_capture"
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
