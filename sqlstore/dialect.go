package sqlstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/velmie/offsync"
)

// Dialect isolates the SQL differences between backends.
type Dialect interface {
	// Name identifies the dialect in logs and errors.
	Name() string
	// Quote quotes a validated identifier, possibly schema-qualified.
	Quote(ident string) string
	// Placeholder returns the bind marker for the n-th argument, starting at 1.
	Placeholder(n int) string
	// UpsertClause returns the conflict clause appended to an INSERT.
	// key and update hold quoted column names; update may be empty.
	UpsertClause(key, update []string) string
	// Bind converts a value before it is passed to the driver.
	Bind(v any) any
}

// BindCommon converts composite values to JSON text. Dialects call it from Bind.
func BindCommon(v any) any {
	switch val := v.(type) {
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}

		return string(raw)
	case json.RawMessage:
		return string(val)
	case json.Number:
		return val.String()
	default:
		return v
	}
}

// ExcludedUpsert builds the ON CONFLICT clause shared by SQLite and Postgres.
func ExcludedUpsert(key, update []string) string {
	if len(update) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(key, ", "))
	}
	sets := make([]string, len(update))
	for i, col := range update {
		sets[i] = col + " = excluded." + col
	}

	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(key, ", "), strings.Join(sets, ", "))
}

// TextTime formats a time for backends that store timestamps as text.
func TextTime(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(offsync.TimestampLayout)
	case *time.Time:
		if t == nil {
			return nil
		}

		return t.UTC().Format(offsync.TimestampLayout)
	default:
		return v
	}
}
