package generic

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"dbmeta/internal/cache"
)

// Schema owns the table and constraint caches of one schema.
type Schema struct {
	cat  *Catalog
	Name string

	tables      *cache.StructCache[*Schema, *Table, *Column]
	constraints *cache.CompositeCache[*Schema, *Table, *Constraint, *ConstraintColumn]
}

// Table is a base table or a view.
type Table struct {
	schema *Schema

	Name    string
	View    bool
	Comment string
	Pages8k int64
}

// Column is one column of a table or view.
type Column struct {
	Table *Table

	Name     string
	Type     string
	Position int
	Nullable bool
	Default  *string
}

func newSchema(c *Catalog, name string) *Schema {
	s := &Schema{cat: c, Name: name}
	s.tables = cache.NewStructCache(cache.StructSpec[*Schema, *Table, *Column]{
		LookupSpec: cache.LookupSpec[*Schema, *Table]{
			ObjectSpec: cache.ObjectSpec[*Schema, *Table]{
				Name:  "tables",
				Key:   func(t *Table) string { return t.Name },
				List:  func(s *Schema) cache.Query { return c.dialect.Tables(s.Name, "") },
				Fetch: fetchTable,
			},
			Lookup: func(s *Schema, name string) cache.Query { return c.dialect.Tables(s.Name, name) },
		},
		ChildKey:      func(col *Column) string { return col.Name },
		ParentColumn:  "table_name",
		ChildrenOfAll: func(s *Schema) cache.Query { return c.dialect.Columns(s.Name, "") },
		ChildrenOf:    func(s *Schema, t *Table) cache.Query { return c.dialect.Columns(s.Name, t.Name) },
		FetchChild:    fetchColumn,
	}, c.opts...)
	s.constraints = cache.NewCompositeCache(s.tables, constraintSpec(c.dialect), c.opts...)
	return s
}

func fetchTable(_ context.Context, s *Schema, r *cache.Row) (*Table, error) {
	return &Table{
		schema:  s,
		Name:    r.String("table_name"),
		View:    strings.EqualFold(r.Trimmed("table_type"), "VIEW"),
		Comment: r.String("remarks"),
		Pages8k: r.Int64("size_8k_pages"),
	}, nil
}

func fetchColumn(_ context.Context, _ *Schema, t *Table, r *cache.Row) (*Column, error) {
	col := &Column{
		Table:    t,
		Name:     r.String("column_name"),
		Type:     r.String("data_type"),
		Position: r.Int("ordinal_position"),
		Nullable: r.Bool("is_nullable"),
	}
	if !r.IsNull("column_default") {
		def := r.String("column_default")
		col.Default = &def
	}
	return col, nil
}

func (s *Schema) Executor() cache.Executor { return s.cat.exec }

// Catalog returns the owning catalog.
func (s *Schema) Catalog() *Catalog { return s.cat }

// Tables lists the base tables of s.
func (s *Schema) Tables(ctx context.Context) ([]*Table, error) {
	return s.objects(ctx, false)
}

// Views lists the views of s.
func (s *Schema) Views(ctx context.Context) ([]*Table, error) {
	return s.objects(ctx, true)
}

func (s *Schema) objects(ctx context.Context, views bool) ([]*Table, error) {
	all, err := s.tables.All(ctx, s)
	if err != nil {
		return nil, err
	}
	var out []*Table
	for _, t := range all {
		if t.View == views {
			out = append(out, t)
		}
	}
	return out, nil
}

// Table returns the named table or view, or nil.
func (s *Schema) Table(ctx context.Context, name string) (*Table, error) {
	t, _, err := s.tables.Get(ctx, s, name)
	return t, err
}

// Constraints returns the constraints of every table of s. Columns are
// loaded first so that constraint columns resolve from memory.
func (s *Schema) Constraints(ctx context.Context) ([]*Constraint, error) {
	if _, err := s.tables.AllChildren(ctx, s); err != nil {
		return nil, err
	}
	return s.constraints.All(ctx, s)
}

// CacheStructure loads the tables, columns and constraints of s.
func (s *Schema) CacheStructure(ctx context.Context) error {
	_, err := s.Constraints(ctx)
	return err
}

// Refresh forgets everything cached for s.
func (s *Schema) Refresh() {
	s.tables.Clear()
	s.constraints.Clear()
}

// Schema returns the owning schema.
func (t *Table) Schema() *Schema { return t.schema }

// Columns lists the columns of t in ordinal order.
func (t *Table) Columns(ctx context.Context) ([]*Column, error) {
	return t.schema.tables.Children(ctx, t.schema, t)
}

// Column returns the named column, or nil.
func (t *Table) Column(ctx context.Context, name string) (*Column, error) {
	c, _, err := t.schema.tables.Child(ctx, t.schema, t, name)
	return c, err
}

// Constraints lists the primary key, unique and foreign key constraints of t.
func (t *Table) Constraints(ctx context.Context) ([]*Constraint, error) {
	if t.View {
		return nil, nil
	}
	if _, err := t.Columns(ctx); err != nil {
		return nil, err
	}
	return t.schema.constraints.ObjectsOf(ctx, t.schema, t)
}

// PrimaryKey returns the primary key of t, or nil.
func (t *Table) PrimaryKey(ctx context.Context) (*Constraint, error) {
	all, err := t.Constraints(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range all {
		if c.Type == PrimaryKey {
			return c, nil
		}
	}
	return nil, nil
}

// Source returns the definition of a view.
func (t *Table) Source(ctx context.Context) (string, error) {
	d := t.schema.cat.dialect
	if !t.View || d.ViewSource == nil {
		return "", errors.Newf("%s has no source", t.Name)
	}
	var def string
	err := cache.Run(ctx, t.schema.cat.exec, d.ViewSource(t.schema.Name, t.Name), func(r *cache.Row) error {
		def = r.String("definition")
		return nil
	})
	return def, err
}

// Refresh re-reads t and forgets its columns and constraints. It returns
// the fresh table, or nil when t no longer exists.
func (t *Table) Refresh(ctx context.Context) (*Table, error) {
	s := t.schema
	s.constraints.ClearParent(t)
	fresh, ok, err := s.tables.Refresh(ctx, s, t)
	if err != nil || !ok {
		return nil, err
	}
	return fresh, nil
}
