package mssql

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"dbmeta/internal/cache"
	"dbmeta/internal/db"
	"dbmeta/internal/introspect"
	"dbmeta/internal/logger"
	"dbmeta/internal/navigator"
)

// Catalog implements db.Catalog for SQL Server.
type Catalog struct {
	ds *DataSource
}

var _ db.Catalog = (*Catalog)(nil)

// NewCatalog is the db.Factory for SQL Server.
func NewCatalog(exec cache.Executor, s db.Settings) (db.Catalog, error) {
	return &Catalog{ds: NewDataSource(exec, s.Database, s.Options...)}, nil
}

func init() {
	db.Register("sqlserver", NewCatalog)
	db.Register("mssql", NewCatalog)
}

// DataSource returns the root of the object graph.
func (c *Catalog) DataSource() *DataSource { return c.ds }

func (c *Catalog) Root() navigator.Node { return c.ds.Node() }

func (c *Catalog) Refresh(context.Context) error {
	c.ds.Refresh()
	return nil
}

// Prefetch loads the structure of every schema of the default database.
func (c *Catalog) Prefetch(ctx context.Context, workers int) error {
	d, err := c.defaultDatabase(ctx)
	if err != nil {
		return err
	}
	return d.CacheStructure(ctx, StructAll, workers)
}

func (c *Catalog) defaultDatabase(ctx context.Context) (*Database, error) {
	d, err := c.ds.DefaultDatabase(ctx)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errors.New("default database not found")
	}
	return d, nil
}

// Extract builds the ERD of the user schemas of the default database.
func (c *Catalog) Extract(ctx context.Context) (introspect.Schema, error) {
	var out introspect.Schema
	d, err := c.defaultDatabase(ctx)
	if err != nil {
		return out, err
	}
	out.Database = d.Name
	schemas, err := d.Schemas(ctx)
	if err != nil {
		return out, err
	}
	for _, s := range schemas {
		if s.System() {
			continue
		}
		if err := extractSchema(ctx, s, &out); err != nil {
			return introspect.Schema{}, errors.Wrapf(err, "schema %s", s.Name)
		}
	}
	out.Sort()
	return out, nil
}

func extractSchema(ctx context.Context, s *Schema, out *introspect.Schema) error {
	tables, err := s.Tables(ctx)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		return nil
	}
	if err := s.CacheStructure(ctx, StructAll); err != nil {
		return err
	}
	if err := s.ReadStatistics(ctx); err != nil {
		if cache.IsCanceled(err) {
			return err
		}
		logger.Warn("read statistics of schema %s: %v", s.Name, err)
	}

	for _, t := range tables {
		if t.System() {
			continue
		}
		tab, err := extractTable(ctx, t)
		if err != nil {
			return err
		}
		out.Tables = append(out.Tables, tab)

		fks, err := t.ForeignKeys(ctx)
		if err != nil {
			return err
		}
		for _, fk := range fks {
			out.ForeignKeys = append(out.ForeignKeys, extractForeignKey(fk))
		}
	}
	return nil
}

func extractTable(ctx context.Context, t *Table) (introspect.Table, error) {
	tab := introspect.Table{Schema: t.schema.Name, Name: t.Name}
	if t.Comment != "" {
		comment := t.Comment
		tab.Comment = &comment
	}
	if st, ok := t.Stats(); ok {
		tab.Rows = st.Rows
		tab.Size8kPages = st.Pages8k
	}

	pkCols := map[string]bool{}
	pk, err := t.PrimaryKey(ctx)
	if err != nil {
		return tab, err
	}
	if pk != nil {
		for _, name := range columnNames(pk.Columns()) {
			pkCols[name] = true
		}
	}

	cols, err := t.Columns(ctx)
	if err != nil {
		return tab, err
	}
	for _, c := range cols {
		col := introspect.Column{Name: c.Name, Type: c.TypeName, Nullable: c.Nullable, PK: pkCols[c.Name]}
		if c.HasDefault {
			def := c.Default
			col.Default = &def
		}
		tab.Columns = append(tab.Columns, col)
	}

	indexes, err := t.Indexes(ctx)
	if err != nil {
		return tab, err
	}
	for _, ix := range indexes {
		tab.Indexes = append(tab.Indexes, introspect.Index{
			Name:    ix.Name,
			Kind:    ix.Kind.String(),
			Unique:  ix.Unique,
			Columns: columnNames(ix.KeyColumns()),
		})
	}
	return tab, nil
}

func extractForeignKey(fk *ForeignKey) introspect.ForeignKey {
	from := make([]string, 0, len(fk.Columns))
	to := make([]string, 0, len(fk.Columns))
	for _, c := range fk.Columns {
		from = append(from, c.Column.Name)
		to = append(to, c.RefColumn.Name)
	}
	return introspect.ForeignKey{
		FromSchema: fk.Table.schema.Name,
		FromTable:  fk.Table.Name,
		FromColumn: strings.Join(from, ", "),
		ToSchema:   fk.RefTable.schema.Name,
		ToTable:    fk.RefTable.Name,
		ToColumn:   strings.Join(to, ", "),
		Constraint: fk.Name,
		OnDelete:   fk.DeleteRule.String(),
		OnUpdate:   fk.UpdateRule.String(),
	}
}
