package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"dbmeta/internal/cache"
)

// Table is a row of sys.all_objects of type U (user table), S (system table)
// or V (view).
type Table struct {
	schema    *Schema
	persisted bool
	stats     atomic.Pointer[TableStats]

	ID       int64
	Name     string
	Type     string
	Comment  string
	Created  time.Time
	Modified time.Time
}

// TableStats are the sizes read by Schema.ReadStatistics.
type TableStats struct {
	Rows    int64
	Pages8k int64
}

// Column is a row of sys.all_columns.
type Column struct {
	Table *Table

	ID         int64
	Name       string
	TypeName   string
	UserTypeID int64
	MaxLength  int
	Precision  int
	Scale      int
	Nullable   bool
	Identity   bool
	Computed   bool
	Collation  string
	// Default is the definition of the default constraint, if any.
	Default    string
	HasDefault bool
}

const (
	tableColumns = `SELECT c.*, t.name AS table_name, t.schema_id, ty.name AS type_name, dc.definition AS default_definition
FROM %[1]s c
JOIN %[2]s t ON t.object_id = c.object_id
LEFT OUTER JOIN %[3]s ty ON ty.user_type_id = c.user_type_id
LEFT OUTER JOIN %[4]s dc ON dc.parent_object_id = t.object_id AND dc.parent_column_id = c.column_id
WHERE t.type IN ('U','S','V') AND %[5]s
ORDER BY c.object_id, c.column_id`
	tableObjects = `SELECT o.*, CAST(ep.value AS nvarchar(4000)) AS remarks
FROM %[1]s o
LEFT OUTER JOIN %[2]s ep ON ep.class = 1 AND ep.major_id = o.object_id AND ep.minor_id = 0 AND ep.name = 'MS_Description'
WHERE o.type IN ('U','S','V') AND o.schema_id = @schema`
)

func (s *Schema) tableQuery(extra string, args ...any) cache.Query {
	q := fmt.Sprintf(tableObjects, s.table("all_objects"), s.table("extended_properties"))
	return cache.NewQuery(q+extra, append([]any{s.id()}, args...)...)
}

func (s *Schema) columnQuery(cond string, arg sql.NamedArg) cache.Query {
	q := fmt.Sprintf(tableColumns, s.table("all_columns"), s.table("all_objects"), s.table("types"), s.table("default_constraints"), cond)
	return cache.NewQuery(q, arg)
}

func tableSpec() cache.StructSpec[*Schema, *Table, *Column] {
	return cache.StructSpec[*Schema, *Table, *Column]{
		LookupSpec: cache.LookupSpec[*Schema, *Table]{
			ObjectSpec: cache.ObjectSpec[*Schema, *Table]{
				Name:  "tables",
				Key:   func(t *Table) string { return t.Name },
				List:  func(s *Schema) cache.Query { return s.tableQuery("") },
				Fetch: fetchTable,
			},
			Lookup: func(s *Schema, name string) cache.Query {
				return s.tableQuery(" AND o.name = @name", sql.Named("name", name))
			},
		},
		ChildKey:     func(c *Column) string { return c.Name },
		ParentColumn: "table_name",
		ChildrenOfAll: func(s *Schema) cache.Query {
			return s.columnQuery("t.schema_id = @schema", s.id())
		},
		ChildrenOf: func(s *Schema, t *Table) cache.Query {
			return s.columnQuery("t.object_id = @table", sql.Named("table", t.ID))
		},
		FetchChild: fetchColumn,
	}
}

func fetchTable(_ context.Context, s *Schema, r *cache.Row) (*Table, error) {
	return &Table{
		schema:    s,
		persisted: true,
		ID:        r.Int64("object_id"),
		Name:      r.String("name"),
		Type:      r.Trimmed("type"),
		Comment:   r.String("remarks"),
		Created:   r.Time("create_date"),
		Modified:  r.Time("modify_date"),
	}, nil
}

func fetchColumn(_ context.Context, _ *Schema, t *Table, r *cache.Row) (*Column, error) {
	return &Column{
		Table:      t,
		ID:         r.Int64("column_id"),
		Name:       r.String("name"),
		TypeName:   r.String("type_name"),
		UserTypeID: r.Int64("user_type_id"),
		MaxLength:  r.Int("max_length"),
		Precision:  r.Int("precision"),
		Scale:      r.Int("scale"),
		Nullable:   r.Bool("is_nullable"),
		Identity:   r.Bool("is_identity"),
		Computed:   r.Bool("is_computed"),
		Collation:  r.String("collation_name"),
		Default:    r.String("default_definition"),
		HasDefault: !r.IsNull("default_definition"),
	}, nil
}

// Schema returns the owning schema.
func (t *Table) Schema() *Schema { return t.schema }

// View reports whether t is a view.
func (t *Table) View() bool { return t.Type == "V" }

// System reports whether t is a system table.
func (t *Table) System() bool { return t.Type == "S" }

// Persisted reports whether t exists in the catalog.
func (t *Table) Persisted() bool { return t.persisted }

// Stats returns the sizes read by the last Schema.ReadStatistics.
func (t *Table) Stats() (TableStats, bool) {
	st := t.stats.Load()
	if st == nil {
		return TableStats{}, false
	}
	return *st, true
}

func (t *Table) setStats(st TableStats) {
	t.stats.Store(&st)
}

// Columns lists the columns of t in column_id order.
func (t *Table) Columns(ctx context.Context) ([]*Column, error) {
	return t.schema.tables.Children(ctx, t.schema, t)
}

// Column returns the named column, or nil.
func (t *Table) Column(ctx context.Context, name string) (*Column, error) {
	c, _, err := t.schema.tables.Child(ctx, t.schema, t, name)
	return c, err
}

// ColumnByID returns the column with the given column_id, or nil.
func (t *Table) ColumnByID(ctx context.Context, id int64) (*Column, error) {
	cols, err := t.Columns(ctx)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(cols, func(c *Column) bool { return c.ID == id })
	if i < 0 {
		return nil, nil
	}
	return cols[i], nil
}

// Indexes lists the indexes of t.
func (t *Table) Indexes(ctx context.Context) ([]*Index, error) {
	if _, err := t.Columns(ctx); err != nil {
		return nil, err
	}
	return t.schema.indexes.ObjectsOf(ctx, t.schema, t)
}

// IndexByID returns the index with the given index_id, or nil.
func (t *Table) IndexByID(ctx context.Context, id int64) (*Index, error) {
	all, err := t.Indexes(ctx)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(all, func(ix *Index) bool { return ix.ID == id })
	if i < 0 {
		return nil, nil
	}
	return all[i], nil
}

// UniqueKeys lists the primary key and unique constraints of t.
func (t *Table) UniqueKeys(ctx context.Context) ([]*UniqueKey, error) {
	if t.View() {
		return nil, nil
	}
	if _, err := t.Indexes(ctx); err != nil {
		return nil, err
	}
	return t.schema.uniqueKeys.ObjectsOf(ctx, t.schema, t)
}

// PrimaryKey returns the primary key of t, or nil.
func (t *Table) PrimaryKey(ctx context.Context) (*UniqueKey, error) {
	keys, err := t.UniqueKeys(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k.Primary {
			return k, nil
		}
	}
	return nil, nil
}

// ForeignKeys lists the foreign keys declared on t.
func (t *Table) ForeignKeys(ctx context.Context) ([]*ForeignKey, error) {
	if t.View() {
		return nil, nil
	}
	if _, err := t.Indexes(ctx); err != nil {
		return nil, err
	}
	return t.schema.foreignKeys.ObjectsOf(ctx, t.schema, t)
}

// Triggers lists the triggers defined on t.
func (t *Table) Triggers(ctx context.Context) ([]*Trigger, error) {
	all, err := t.schema.Triggers(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(tr *Trigger) bool { return tr.Table.ID != t.ID }), nil
}

// Source returns the definition of a view.
func (t *Table) Source(ctx context.Context) (string, error) {
	if !t.View() {
		return "", errors.Newf("%s is not a view", t.Name)
	}
	return t.schema.db.ReadSource(ctx, t.ID)
}

// Refresh re-reads t and forgets its columns, indexes and keys. It returns
// the fresh table, or nil when t no longer exists.
func (t *Table) Refresh(ctx context.Context) (*Table, error) {
	s := t.schema
	s.dropTableState(t)
	fresh, ok, err := s.tables.Refresh(ctx, s, t)
	if err != nil || !ok {
		return nil, err
	}
	return fresh, nil
}
