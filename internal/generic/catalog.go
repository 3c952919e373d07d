package generic

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"dbmeta/internal/cache"
	"dbmeta/internal/db"
	"dbmeta/internal/introspect"
	"dbmeta/internal/navigator"
)

// Catalog is the root of a generic object graph. It owns the schema cache.
type Catalog struct {
	exec    cache.Executor
	dialect *Dialect
	opts    []cache.Option
	// only restricts Extract and Prefetch to one schema when set.
	only string

	schemas *cache.ObjectCache[*Catalog, *Schema]
}

var _ db.Catalog = (*Catalog)(nil)

// NewCatalog returns an unpopulated graph for d. schema limits ERD export
// and prefetch to one schema; when empty every schema is used.
func NewCatalog(exec cache.Executor, d *Dialect, schema string, opts ...cache.Option) *Catalog {
	c := &Catalog{exec: exec, dialect: d, opts: opts, only: schema}
	c.schemas = cache.NewObjectCache(cache.ObjectSpec[*Catalog, *Schema]{
		Name: "schemas",
		Key:  func(s *Schema) string { return s.Name },
		List: func(*Catalog) cache.Query { return d.Schemas() },
		Fetch: func(_ context.Context, c *Catalog, r *cache.Row) (*Schema, error) {
			return newSchema(c, r.String("schema_name")), nil
		},
	}, opts...)
	return c
}

func (c *Catalog) Executor() cache.Executor { return c.exec }

// Dialect returns the query builders of c.
func (c *Catalog) Dialect() *Dialect { return c.dialect }

// Schemas lists the non-system schemas.
func (c *Catalog) Schemas(ctx context.Context) ([]*Schema, error) {
	return c.schemas.All(ctx, c)
}

// Schema returns the named schema, or nil.
func (c *Catalog) Schema(ctx context.Context, name string) (*Schema, error) {
	if _, err := c.schemas.All(ctx, c); err != nil {
		return nil, err
	}
	s, _ := c.schemas.CachedObject(name)
	return s, nil
}

func (c *Catalog) Root() navigator.Node { return c.Node() }

func (c *Catalog) Refresh(context.Context) error {
	c.schemas.Clear()
	return nil
}

func (c *Catalog) targets(ctx context.Context) ([]*Schema, error) {
	if c.only == "" {
		return c.Schemas(ctx)
	}
	s, err := c.Schema(ctx, c.only)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.Newf("schema %q not found", c.only)
	}
	return []*Schema{s}, nil
}

// Prefetch loads the structure of the target schemas, up to workers in
// parallel.
func (c *Catalog) Prefetch(ctx context.Context, workers int) error {
	schemas, err := c.targets(ctx)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, s := range schemas {
		g.Go(func() error {
			return s.CacheStructure(ctx)
		})
	}
	return g.Wait()
}

// Extract builds the ERD of the target schemas.
func (c *Catalog) Extract(ctx context.Context) (introspect.Schema, error) {
	out := introspect.Schema{Database: c.only}
	schemas, err := c.targets(ctx)
	if err != nil {
		return out, err
	}
	for _, s := range schemas {
		if err := extractSchema(ctx, s, &out); err != nil {
			return introspect.Schema{}, errors.Wrapf(err, "schema %s", s.Name)
		}
	}
	out.Sort()
	return out, nil
}

func extractSchema(ctx context.Context, s *Schema, out *introspect.Schema) error {
	if err := s.CacheStructure(ctx); err != nil {
		return err
	}
	tables, err := s.Tables(ctx)
	if err != nil {
		return err
	}
	for _, t := range tables {
		tab := introspect.Table{Schema: s.Name, Name: t.Name, Size8kPages: t.Pages8k}
		if t.Comment != "" {
			comment := t.Comment
			tab.Comment = &comment
		}
		constraints, err := t.Constraints(ctx)
		if err != nil {
			return err
		}
		pk := map[string]bool{}
		for _, k := range constraints {
			switch k.Type {
			case PrimaryKey:
				for _, kc := range k.Columns {
					pk[kc.Column.Name] = true
				}
				fallthrough
			case Unique:
				tab.Indexes = append(tab.Indexes, introspect.Index{
					Name:    k.Name,
					Kind:    k.Type.String(),
					Unique:  true,
					Columns: keyColumns(k),
				})
			case ForeignKey:
				out.ForeignKeys = append(out.ForeignKeys, extractForeignKey(k))
			}
		}

		cols, err := t.Columns(ctx)
		if err != nil {
			return err
		}
		for _, col := range cols {
			tab.Columns = append(tab.Columns, introspect.Column{
				Name:     col.Name,
				Type:     col.Type,
				Nullable: col.Nullable,
				PK:       pk[col.Name],
				Default:  col.Default,
			})
		}
		out.Tables = append(out.Tables, tab)
	}
	return nil
}

func keyColumns(k *Constraint) []string {
	names := make([]string, 0, len(k.Columns))
	for _, kc := range k.Columns {
		names = append(names, kc.Column.Name)
	}
	return names
}

func refColumns(k *Constraint) []string {
	names := make([]string, 0, len(k.Columns))
	for _, kc := range k.Columns {
		names = append(names, kc.RefColumn.Name)
	}
	return names
}

func extractForeignKey(k *Constraint) introspect.ForeignKey {
	return introspect.ForeignKey{
		FromSchema: k.Table.schema.Name,
		FromTable:  k.Table.Name,
		FromColumn: strings.Join(keyColumns(k), ", "),
		ToSchema:   k.RefTable.schema.Name,
		ToTable:    k.RefTable.Name,
		ToColumn:   strings.Join(refColumns(k), ", "),
		Constraint: k.Name,
		OnDelete:   k.DeleteRule,
		OnUpdate:   k.UpdateRule,
	}
}
