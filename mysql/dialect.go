package mysql

import (
	"fmt"
	"strings"
	"time"

	"github.com/velmie/offsync/sqlstore"
)

// Dialect implements sqlstore.Dialect for MySQL.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "mysql" }

func (Dialect) Quote(ident string) string { return sqlstore.QuoteWith(ident, "`") }

func (Dialect) Placeholder(int) string { return "?" }

// UpsertClause uses ON DUPLICATE KEY UPDATE, which fires on any unique key,
// not only the named one. A row with only key columns becomes a no-op update.
func (Dialect) UpsertClause(key, update []string) string {
	if len(update) == 0 {
		return fmt.Sprintf(" ON DUPLICATE KEY UPDATE %[1]s = %[1]s", key[0])
	}
	sets := make([]string, len(update))
	for i, col := range update {
		sets[i] = fmt.Sprintf("%[1]s = VALUES(%[1]s)", col)
	}

	return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

func (Dialect) Bind(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}

	return sqlstore.BindCommon(v)
}
