package postgres

import (
	"strconv"

	"github.com/velmie/offsync/sqlstore"
)

// Dialect implements sqlstore.Dialect for Postgres.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Quote(ident string) string { return sqlstore.QuoteWith(ident, `"`) }

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Dialect) UpsertClause(key, update []string) string {
	return sqlstore.ExcludedUpsert(key, update)
}

func (Dialect) Bind(v any) any {
	return sqlstore.BindCommon(v)
}
