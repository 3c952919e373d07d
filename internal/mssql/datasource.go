// Package mssql models the metadata of a SQL Server instance as a graph of
// lazily loaded caches: data source, databases, schemas, and the tables,
// views, indexes, keys, routines and triggers of each schema.
package mssql

import (
	"context"
	"database/sql"
	"strings"

	"dbmeta/internal/cache"
)

// DataSource is the root of the graph. It owns the database cache.
type DataSource struct {
	exec     cache.Executor
	opts     []cache.Option
	database string

	databases *cache.LookupCache[*DataSource, *Database]
}

// NewDataSource returns an unpopulated graph. defaultDB names the database
// used for ERD export and prefetch; when empty the session's current
// database is used.
func NewDataSource(exec cache.Executor, defaultDB string, opts ...cache.Option) *DataSource {
	ds := &DataSource{exec: exec, opts: opts, database: defaultDB}
	ds.databases = cache.NewLookupCache(cache.LookupSpec[*DataSource, *Database]{
		ObjectSpec: cache.ObjectSpec[*DataSource, *Database]{
			Name:  "databases",
			Key:   func(d *Database) string { return d.Name },
			List:  func(*DataSource) cache.Query { return cache.NewQuery("SELECT db.* FROM sys.databases db ORDER BY db.name") },
			Fetch: fetchDatabase,
		},
		Lookup: func(_ *DataSource, name string) cache.Query {
			return cache.NewQuery("SELECT db.* FROM sys.databases db WHERE db.name = @name", sql.Named("name", name))
		},
	}, opts...)
	return ds
}

func (ds *DataSource) Executor() cache.Executor { return ds.exec }

// Databases lists every database of the instance.
func (ds *DataSource) Databases(ctx context.Context) ([]*Database, error) {
	return ds.databases.All(ctx, ds)
}

// Database returns the named database, or nil.
func (ds *DataSource) Database(ctx context.Context, name string) (*Database, error) {
	d, _, err := ds.databases.Get(ctx, ds, name)
	return d, err
}

// DefaultDatabase returns the database the data source was opened for.
func (ds *DataSource) DefaultDatabase(ctx context.Context) (*Database, error) {
	name := ds.database
	if name == "" {
		err := cache.Run(ctx, ds.exec, cache.NewQuery("SELECT DB_NAME() AS name"), func(r *cache.Row) error {
			name = r.String("name")
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return ds.Database(ctx, name)
}

// Refresh forgets every database and everything below.
func (ds *DataSource) Refresh() {
	ds.databases.Clear()
}

// systemTable qualifies a catalog view with its database, e.g. [db].sys.tables.
func systemTable(db *Database, view string) string {
	return quoteName(db.Name) + ".sys." + view
}

func quoteName(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}
