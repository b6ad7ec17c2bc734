// Package sqlstore persists component models in SQL tables through
// database/sql. A Table maps a struct type onto one table using `db`
// struct tags and doubles as the model store used by dbInput actions and
// model-typed method parameters.
//
//	type Todo struct {
//	    ID    int64  `db:"id,pk" json:"id"`
//	    Title string `db:"title" json:"title"`
//	    Done  bool   `db:"done" json:"done"`
//	}
//
//	func (t *Todo) PrimaryKey() any { return t.ID }
//
//	todos, err := sqlstore.NewTable[Todo](db, "todos", sqlstore.SQLite)
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/lib/pq"
	"github.com/pthm/hxlive/lib/encoding"
	"github.com/pthm/hxlive/lib/typecast"
)

// Dialect selects the placeholder syntax.
type Dialect int

const (
	// SQLite uses ? placeholders.
	SQLite Dialect = iota
	// Postgres uses $n placeholders.
	Postgres
)

var (
	// ErrNotFound is returned when no row has the requested primary key.
	ErrNotFound = errors.New("sqlstore: row not found")
	// ErrUnknownColumn is returned for a field name that maps to no column.
	ErrUnknownColumn = errors.New("sqlstore: unknown column")
)

type column struct {
	name  string
	json  string
	index []int
	typ   reflect.Type
}

// Table reads and writes rows of T. *T must implement encoding.Model.
type Table[T any] struct {
	db      *sql.DB
	name    string
	dialect Dialect
	pk      column
	cols    []column
}

// NewTable maps T onto the named table.
func NewTable[T any](db *sql.DB, name string, dialect Dialect) (*Table[T], error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("sqlstore: %s is not a struct", t)
	}
	if !reflect.PointerTo(t).Implements(reflect.TypeOf((*encoding.Model)(nil)).Elem()) {
		return nil, fmt.Errorf("sqlstore: *%s does not implement PrimaryKey", t)
	}

	tbl := &Table[T]{db: db, name: name, dialect: dialect}
	havePK := false
	for _, f := range reflect.VisibleFields(t) {
		tag, ok := f.Tag.Lookup("db")
		if !ok || tag == "-" || !f.IsExported() {
			continue
		}
		parts := strings.Split(tag, ",")
		jsonName, _, _ := encoding.FieldName(f)
		if jsonName == "" {
			jsonName = f.Name
		}
		col := column{name: parts[0], json: jsonName, index: f.Index, typ: f.Type}
		for _, opt := range parts[1:] {
			if opt == "pk" {
				tbl.pk = col
				havePK = true
			}
		}
		tbl.cols = append(tbl.cols, col)
	}
	if !havePK {
		for _, c := range tbl.cols {
			if c.name == "id" {
				tbl.pk = c
				havePK = true
			}
		}
	}
	if !havePK {
		return nil, fmt.Errorf("sqlstore: %s has no primary key column", t)
	}
	return tbl, nil
}

// Name returns the table name.
func (t *Table[T]) Name() string {
	return t.name
}

func (t *Table[T]) placeholder(n int) string {
	if t.dialect == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (t *Table[T]) selectList() string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = pq.QuoteIdentifier(c.name)
	}
	return strings.Join(names, ", ")
}

func (t *Table[T]) scanRow(row interface{ Scan(...any) error }) (*T, error) {
	out := new(T)
	rv := reflect.ValueOf(out).Elem()
	dest := make([]any, len(t.cols))
	for i, c := range t.cols {
		dest[i] = rv.FieldByIndex(c.index).Addr().Interface()
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return out, nil
}

// Find loads the row with primary key pk.
func (t *Table[T]) Find(ctx context.Context, pk any) (*T, error) {
	key, err := typecast.Cast(pk, t.pk.typ)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		t.selectList(), pq.QuoteIdentifier(t.name), pq.QuoteIdentifier(t.pk.name), t.placeholder(1))
	out, err := t.scanRow(t.db.QueryRowContext(ctx, query, key.Interface()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, t.name, pk)
	}
	return out, err
}

// All loads every row ordered by primary key.
func (t *Table[T]) All(ctx context.Context) ([]*T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		t.selectList(), pq.QuoteIdentifier(t.name), pq.QuoteIdentifier(t.pk.name))
	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		row, err := t.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Insert writes a new row from fields and returns it. Fields are keyed by
// column or JSON name; the primary key is assigned by the database.
func (t *Table[T]) Insert(ctx context.Context, fields map[string]any) (*T, error) {
	names, args, err := t.assignments(fields)
	if err != nil {
		return nil, err
	}

	var query string
	if len(names) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s",
			pq.QuoteIdentifier(t.name), pq.QuoteIdentifier(t.pk.name))
	} else {
		quoted := make([]string, len(names))
		marks := make([]string, len(names))
		for i, n := range names {
			quoted[i] = pq.QuoteIdentifier(n)
			marks[i] = t.placeholder(i + 1)
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			pq.QuoteIdentifier(t.name), strings.Join(quoted, ", "), strings.Join(marks, ", "),
			pq.QuoteIdentifier(t.pk.name))
	}

	pk := reflect.New(t.pk.typ)
	if err := t.db.QueryRowContext(ctx, query, args...).Scan(pk.Interface()); err != nil {
		return nil, err
	}
	return t.Find(ctx, pk.Elem().Interface())
}

// Save updates the given fields of the row with primary key pk and returns
// the stored row.
func (t *Table[T]) Save(ctx context.Context, pk any, fields map[string]any) (*T, error) {
	names, args, err := t.assignments(fields)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return t.Find(ctx, pk)
	}
	key, err := typecast.Cast(pk, t.pk.typ)
	if err != nil {
		return nil, err
	}

	sets := make([]string, len(names))
	for i, n := range names {
		sets[i] = pq.QuoteIdentifier(n) + " = " + t.placeholder(i+1)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		pq.QuoteIdentifier(t.name), strings.Join(sets, ", "),
		pq.QuoteIdentifier(t.pk.name), t.placeholder(len(names)+1))
	res, err := t.db.ExecContext(ctx, query, append(args, key.Interface())...)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, t.name, pk)
	}
	return t.Find(ctx, pk)
}

// Remove deletes the row with primary key pk.
func (t *Table[T]) Remove(ctx context.Context, pk any) error {
	key, err := typecast.Cast(pk, t.pk.typ)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		pq.QuoteIdentifier(t.name), pq.QuoteIdentifier(t.pk.name), t.placeholder(1))
	_, err = t.db.ExecContext(ctx, query, key.Interface())
	return err
}

// assignments resolves field names to columns and casts each value to the
// column's Go type. Names are returned sorted so queries are stable.
func (t *Table[T]) assignments(fields map[string]any) ([]string, []any, error) {
	var (
		names []string
		args  []any
	)
	for _, key := range encoding.SortedKeys(fields) {
		col, ok := t.column(key)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.name, key)
		}
		if col.name == t.pk.name {
			continue
		}
		v, err := typecast.Cast(fields[key], col.typ)
		if err != nil {
			return nil, nil, err
		}
		names = append(names, col.name)
		args = append(args, v.Interface())
	}
	return names, args, nil
}

func (t *Table[T]) column(name string) (column, bool) {
	for _, c := range t.cols {
		if c.name == name {
			return c, true
		}
	}
	for _, c := range t.cols {
		if c.json == name {
			return c, true
		}
	}
	return column{}, false
}
