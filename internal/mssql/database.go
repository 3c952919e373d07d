package mssql

import (
	"context"
	"database/sql"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"dbmeta/internal/cache"
)

// Database is one row of sys.databases. It owns the schema and data type
// caches.
type Database struct {
	source *DataSource

	ID      int64
	Name    string
	State   string
	Created time.Time

	schemas *cache.LookupCache[*Database, *Schema]
	types   *cache.ObjectCache[*Database, *DataType]
}

func fetchDatabase(_ context.Context, ds *DataSource, r *cache.Row) (*Database, error) {
	d := &Database{
		source:  ds,
		ID:      r.Int64("database_id"),
		Name:    r.String("name"),
		State:   r.String("state_desc"),
		Created: r.Time("create_date"),
	}
	d.schemas = cache.NewLookupCache(cache.LookupSpec[*Database, *Schema]{
		ObjectSpec: cache.ObjectSpec[*Database, *Schema]{
			Name: "schemas",
			Key:  func(s *Schema) string { return s.Name },
			List: func(d *Database) cache.Query {
				return cache.NewQuery("SELECT * FROM " + systemTable(d, "schemas"))
			},
			Fetch: fetchSchema,
		},
		Lookup: func(d *Database, name string) cache.Query {
			return cache.NewQuery("SELECT * FROM "+systemTable(d, "schemas")+" WHERE name = @name", sql.Named("name", name))
		},
	}, ds.opts...)
	d.schemas.SetListOrder(func(a, b *Schema) int { return strings.Compare(a.Name, b.Name) })
	d.types = cache.NewObjectCache(cache.ObjectSpec[*Database, *DataType]{
		Name: "data types",
		Key:  func(t *DataType) string { return strconv.FormatInt(t.ID, 10) },
		List: func(d *Database) cache.Query {
			return cache.NewQuery("SELECT * FROM " + systemTable(d, "types") + " ORDER BY user_type_id")
		},
		Fetch: fetchDataType,
	}, ds.opts...)
	return d, nil
}

func (d *Database) Executor() cache.Executor { return d.source.exec }

// DataSource returns the owning data source.
func (d *Database) DataSource() *DataSource { return d.source }

// System reports whether d is one of the databases shipped with the server.
func (d *Database) System() bool {
	switch strings.ToLower(d.Name) {
	case "master", "model", "msdb", "tempdb":
		return true
	}
	return false
}

// Schemas lists the schemas of d sorted by name.
func (d *Database) Schemas(ctx context.Context) ([]*Schema, error) {
	return d.schemas.All(ctx, d)
}

// Schema returns the named schema, or nil.
func (d *Database) Schema(ctx context.Context, name string) (*Schema, error) {
	s, _, err := d.schemas.Get(ctx, d, name)
	return s, err
}

// SchemaByID returns the schema with the given schema_id, or nil.
func (d *Database) SchemaByID(ctx context.Context, id int64) (*Schema, error) {
	all, err := d.Schemas(ctx)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(all, func(s *Schema) bool { return s.ID == id })
	if i < 0 {
		return nil, nil
	}
	return all[i], nil
}

// DataTypes lists the system and user types of d.
func (d *Database) DataTypes(ctx context.Context) ([]*DataType, error) {
	return d.types.All(ctx, d)
}

// DataType returns the type with the given user_type_id, or nil.
func (d *Database) DataType(ctx context.Context, userTypeID int64) (*DataType, error) {
	if _, err := d.types.All(ctx, d); err != nil {
		return nil, err
	}
	t, _ := d.types.CachedObject(strconv.FormatInt(userTypeID, 10))
	return t, nil
}

// ReadSource returns the module definition of a view, procedure or trigger.
// It is not cached.
func (d *Database) ReadSource(ctx context.Context, objectID int64) (string, error) {
	var def string
	q := cache.NewQuery("SELECT definition FROM "+systemTable(d, "sql_modules")+" WHERE object_id = @id", sql.Named("id", objectID))
	err := cache.Run(ctx, d.Executor(), q, func(r *cache.Row) error {
		def = r.String("definition")
		return nil
	})
	return def, err
}

// CacheStructure loads scope for every schema, running up to workers schemas
// in parallel.
func (d *Database) CacheStructure(ctx context.Context, scope Scope, workers int) error {
	schemas, err := d.Schemas(ctx)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, s := range schemas {
		g.Go(func() error {
			return s.CacheStructure(ctx, scope)
		})
	}
	return g.Wait()
}

// Refresh forgets the schemas and data types of d.
func (d *Database) Refresh() {
	d.schemas.Clear()
	d.types.Clear()
}
