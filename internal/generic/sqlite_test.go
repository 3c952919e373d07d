package generic

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbmeta/internal/cache"
	"dbmeta/internal/db"
	"dbmeta/internal/navigator"
)

const shopDDL = `
CREATE TABLE customers (id INTEGER PRIMARY KEY, email TEXT NOT NULL UNIQUE, name TEXT DEFAULT 'anon');
CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER NOT NULL REFERENCES customers ON DELETE CASCADE, total REAL);
CREATE TABLE order_lines (
	order_id INTEGER NOT NULL,
	line INTEGER NOT NULL,
	sku TEXT,
	PRIMARY KEY (order_id, line),
	FOREIGN KEY (order_id) REFERENCES orders(id)
);
CREATE VIEW big_orders AS SELECT * FROM orders WHERE total > 100;
`

type queryCounter struct {
	queries atomic.Int32
	skipped atomic.Int32
}

func (c *queryCounter) Populated(string, string, int, time.Duration, error) { c.queries.Add(1) }
func (c *queryCounter) Skipped(string, error)                               { c.skipped.Add(1) }

func openShop(t *testing.T, opts ...cache.Option) (*db.Connection, *Catalog) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shop.db")
	conn, err := db.Connect(ctx, "sqlite3", path, 5*time.Second, db.Settings{Options: opts})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = conn.DB.ExecContext(ctx, shopDDL)
	require.NoError(t, err)
	cat, ok := conn.Catalog.(*Catalog)
	require.True(t, ok, "sqlite catalog is %T", conn.Catalog)
	return conn, cat
}

func TestSQLiteExtract(t *testing.T) {
	_, cat := openShop(t)

	got, err := cat.Extract(context.Background())
	require.NoError(t, err)

	require.Len(t, got.Tables, 3)
	assert.Equal(t, "customers", got.Tables[0].Name)
	assert.Equal(t, "order_lines", got.Tables[1].Name)
	assert.Equal(t, "orders", got.Tables[2].Name)

	customers := got.Table("main", "customers")
	require.NotNil(t, customers)
	require.Len(t, customers.Columns, 3)
	assert.Equal(t, "id", customers.Columns[0].Name)
	assert.Equal(t, "INTEGER", customers.Columns[0].Type)
	assert.True(t, customers.Columns[0].PK)
	assert.False(t, customers.Columns[0].Nullable)
	assert.False(t, customers.Columns[1].Nullable)
	assert.True(t, customers.Columns[2].Nullable)
	require.NotNil(t, customers.Columns[2].Default)
	assert.Equal(t, "'anon'", *customers.Columns[2].Default)

	require.Len(t, customers.Indexes, 2)
	assert.Equal(t, "primary key", customers.Indexes[0].Kind)
	assert.Equal(t, "unique", customers.Indexes[1].Kind)
	assert.Equal(t, []string{"email"}, customers.Indexes[1].Columns)

	lines := got.Table("main", "order_lines")
	require.NotNil(t, lines)
	assert.True(t, lines.Columns[0].PK)
	assert.True(t, lines.Columns[1].PK)
	assert.False(t, lines.Columns[2].PK)

	require.Len(t, got.ForeignKeys, 2)
	fk := got.ForeignKeys[0]
	assert.Equal(t, "order_lines", fk.FromTable)
	assert.Equal(t, "order_id", fk.FromColumn)
	assert.Equal(t, "orders", fk.ToTable)
	assert.Equal(t, "id", fk.ToColumn)

	// References without a column list resolve to the primary key.
	fk = got.ForeignKeys[1]
	assert.Equal(t, "orders", fk.FromTable)
	assert.Equal(t, "customer_id", fk.FromColumn)
	assert.Equal(t, "main", fk.ToSchema)
	assert.Equal(t, "customers", fk.ToTable)
	assert.Equal(t, "id", fk.ToColumn)
	assert.Equal(t, "CASCADE", fk.OnDelete)
	assert.Equal(t, "NO ACTION", fk.OnUpdate)
}

func TestSQLitePrefetchRunsOneQueryPerCache(t *testing.T) {
	counter := &queryCounter{}
	_, cat := openShop(t, cache.WithObserver(counter))
	ctx := context.Background()

	require.NoError(t, cat.Prefetch(ctx, 2))
	// schemas, tables, columns, constraints
	assert.Equal(t, int32(4), counter.queries.Load())

	_, err := cat.Extract(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(4), counter.queries.Load())
	assert.Zero(t, counter.skipped.Load())
}

func TestSQLiteNavigate(t *testing.T) {
	_, cat := openShop(t)
	ctx := context.Background()
	root := cat.Root()

	view, err := navigator.Resolve(ctx, root, "main/views/big_orders")
	require.NoError(t, err)
	assert.Equal(t, "view", view.Kind())
	src, err := view.Source(ctx)
	require.NoError(t, err)
	assert.Contains(t, src, "CREATE VIEW big_orders")

	n, err := navigator.Resolve(ctx, root, "main/tables/orders/constraints")
	require.NoError(t, err)
	kids, err := n.Children(ctx)
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, "fk_orders_0", kids[0].Name())
	assert.Equal(t, "foreign key", kids[0].Kind())
	assert.Equal(t, "customers", kids[0].Properties()["ref_table"])
	assert.Equal(t, "pk_orders", kids[1].Name())

	info, err := navigator.Describe(ctx, root, 2)
	require.NoError(t, err)
	require.Len(t, info.Children, 1)
	assert.Equal(t, "main", info.Children[0].Name)
	assert.Len(t, info.Children[0].Children, 2)

	_, err = navigator.Resolve(ctx, root, "main/tables/missing")
	assert.ErrorIs(t, err, navigator.ErrNotFound)
	_, err = navigator.Resolve(ctx, root, "nope")
	assert.ErrorIs(t, err, navigator.ErrNotFound)
}

func TestSQLiteTableRefresh(t *testing.T) {
	conn, cat := openShop(t)
	ctx := context.Background()

	s, err := cat.Schema(ctx, "main")
	require.NoError(t, err)
	require.NotNil(t, s)
	orders, err := s.Table(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, orders)
	cols, err := orders.Columns(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 3)

	_, err = conn.DB.ExecContext(ctx, `ALTER TABLE orders ADD COLUMN note TEXT`)
	require.NoError(t, err)
	cols, err = orders.Columns(ctx)
	require.NoError(t, err)
	assert.Len(t, cols, 3, "columns are memoized until refresh")

	fresh, err := orders.Refresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	cols, err = fresh.Columns(ctx)
	require.NoError(t, err)
	assert.Len(t, cols, 4)

	lines, err := s.Table(ctx, "order_lines")
	require.NoError(t, err)
	require.NotNil(t, lines)
	_, err = conn.DB.ExecContext(ctx, `DROP TABLE order_lines`)
	require.NoError(t, err)
	gone, err := lines.Refresh(ctx)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSQLiteSchemaFilter(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "empty.db")
	conn, err := db.Connect(ctx, "sqlite", path, 5*time.Second, db.Settings{Database: "other"})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Catalog.Extract(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `schema "other" not found`)
}
