package components

import (
	"context"
	"database/sql"

	"github.com/pthm/hxlive/lib/sqlstore"
)

// Todo is one row of the todos table.
type Todo struct {
	ID    int64  `db:"id,pk" json:"id"`
	Title string `db:"title" json:"title"`
	Done  bool   `db:"done" json:"done"`
}

func (t *Todo) PrimaryKey() any { return t.ID }

var schema = map[sqlstore.Dialect]string{
	sqlstore.SQLite: `CREATE TABLE IF NOT EXISTS todos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL DEFAULT '',
		done BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	sqlstore.Postgres: `CREATE TABLE IF NOT EXISTS todos (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		done BOOLEAN NOT NULL DEFAULT FALSE
	)`,
}

// OpenTodos creates the todos table if needed and returns it.
func OpenTodos(ctx context.Context, db *sql.DB, dialect sqlstore.Dialect) (*sqlstore.Table[Todo], error) {
	if _, err := db.ExecContext(ctx, schema[dialect]); err != nil {
		return nil, err
	}
	return sqlstore.NewTable[Todo](db, "todos", dialect)
}
