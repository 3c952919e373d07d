// Package generic models the metadata of information_schema style catalogs
// (PostgreSQL, MySQL, SQLite and, with the oracle build tag, Oracle) as
// schemas of tables and views with their columns and constraints.
package generic

import (
	"fmt"
	"strconv"

	"dbmeta/internal/cache"
	"dbmeta/internal/db"
)

// Dialect builds the catalog queries of one database family. Every query
// aliases its result columns to the names read by the row mappers:
//
//	schemas:     schema_name
//	tables:      schema_name, table_name, table_type (TABLE or VIEW), remarks, size_8k_pages
//	columns:     table_name, column_name, data_type, ordinal_position, is_nullable, column_default
//	constraints: table_name, constraint_name, constraint_type, column_name, ordinal_position,
//	             ref_schema, ref_table, ref_column, update_rule, delete_rule
//
// An empty table argument selects every table of the schema.
type Dialect struct {
	Name string

	Schemas     func() cache.Query
	Tables      func(schema, table string) cache.Query
	Columns     func(schema, table string) cache.Query
	Constraints func(schema, table string) cache.Query
	// ViewSource returns the definition column of one view. Optional.
	ViewSource func(schema, view string) cache.Query
}

// register makes d available to db.Connect under every name.
func register(d *Dialect, names ...string) {
	factory := func(exec cache.Executor, s db.Settings) (db.Catalog, error) {
		return NewCatalog(exec, d, s.Database, s.Options...), nil
	}
	for _, n := range names {
		db.Register(n, factory)
	}
}

// placeholder renders the n-th (1-based) bind parameter of a dialect.
type placeholder func(n int) string

func dollar(n int) string { return "$" + strconv.Itoa(n) }
func colon(n int) string  { return ":" + strconv.Itoa(n) }
func question(int) string { return "?" }

// scoped fills the single %s verb of tmpl with "<schemaCol> = p1", followed
// by " AND <tableCol> = p2" when table is set.
func scoped(p placeholder, tmpl, schemaCol, schema, tableCol, table string) cache.Query {
	cond := schemaCol + " = " + p(1)
	args := []any{schema}
	if table != "" {
		cond += " AND " + tableCol + " = " + p(2)
		args = append(args, table)
	}
	return cache.NewQuery(fmt.Sprintf(tmpl, cond), args...)
}
