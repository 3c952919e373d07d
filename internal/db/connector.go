package db

import (
	"context"
	"database/sql"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"dbmeta/internal/cache"
	"dbmeta/internal/introspect"
	"dbmeta/internal/navigator"
	"dbmeta/pkg/config"
)

// Catalog is the metadata graph of one connection.
type Catalog interface {
	// Root is the top navigator node of the graph.
	Root() navigator.Node
	// Extract returns data for the ERD.
	Extract(ctx context.Context) (introspect.Schema, error)
	// Prefetch loads the whole structure using up to workers parallel
	// queries.
	Prefetch(ctx context.Context, workers int) error
	// Refresh forgets everything cached.
	Refresh(ctx context.Context) error
}

// Settings are passed to a Factory.
type Settings struct {
	// Database is the database a catalog is scoped to, when the dialect
	// scopes by database and the DSN does not say.
	Database string
	// Options are applied to every cache of the catalog.
	Options []cache.Option
}

// Factory builds a catalog over exec.
type Factory func(exec cache.Executor, s Settings) (Catalog, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a catalog Factory available under name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[strings.ToLower(name)] = f
}

// listRegistered returns the registered dialect keys (for diagnostics).
func listRegistered() []string {
	mu.RLock()
	defer mu.RUnlock()
	keys := make([]string, 0, len(factories))
	for k := range factories {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func lookup(driver string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[driver]
	return f, ok
}

// Connection is an open database with its catalog.
type Connection struct {
	Driver  string
	DB      *sql.DB
	Catalog Catalog
}

// Close releases the connection pool.
func (c *Connection) Close() error {
	return c.DB.Close()
}

// Connect opens the database, pings it within timeout and builds the catalog
// registered for driver.
func Connect(ctx context.Context, driver, dsn string, timeout time.Duration, s Settings) (*Connection, error) {
	driver = config.NormalizeDriver(driver)
	factory, ok := lookup(driver)
	if !ok {
		return nil, errors.Newf("dialect not registered: %q (available: %v)", driver, listRegistered())
	}
	dbConn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := dbConn.PingContext(pingCtx); err != nil {
		dbConn.Close()
		return nil, errors.Wrapf(err, "ping %s", driver)
	}
	catalog, err := factory(NewExecutor(dbConn), s)
	if err != nil {
		dbConn.Close()
		return nil, err
	}
	return &Connection{Driver: driver, DB: dbConn, Catalog: catalog}, nil
}

// ConnectAndExtract connects, extracts the ERD model and closes the
// connection again.
func ConnectAndExtract(ctx context.Context, driver, dsn string, timeout time.Duration, s Settings) (introspect.Schema, error) {
	conn, err := Connect(ctx, driver, dsn, timeout, s)
	if err != nil {
		return introspect.Schema{}, err
	}
	defer conn.Close()
	return conn.Catalog.Extract(ctx)
}

// RegisteredDialects is a helper that allows main to print registered dialects
func RegisteredDialects() []string {
	return listRegistered()
}
