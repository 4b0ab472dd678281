package sqlite

import "github.com/velmie/offsync/sqlstore"

// Dialect implements sqlstore.Dialect for SQLite.
// Timestamps are stored as text in offsync.TimestampLayout.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Quote(ident string) string { return sqlstore.QuoteWith(ident, `"`) }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) UpsertClause(key, update []string) string {
	return sqlstore.ExcludedUpsert(key, update)
}

func (Dialect) Bind(v any) any {
	return sqlstore.TextTime(sqlstore.BindCommon(v))
}
