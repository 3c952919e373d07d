package cache

import (
	"context"
	"database/sql"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

type testExecutor struct {
	db    *sql.DB
	opens atomic.Int32
}

func (e *testExecutor) Open(ctx context.Context) (Session, error) {
	e.opens.Add(1)
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type testOwner struct {
	exec *testExecutor
}

func (o *testOwner) Executor() Executor { return o.exec }

func setupOwner(t *testing.T) (*testOwner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &testOwner{exec: &testExecutor{db: db}}, mock
}

func q(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

type table struct {
	Name string
	Rows int
}

type column struct {
	Table string
	Name  string
	Pos   int
}

type index struct {
	Table   string
	Name    string
	Unique  bool
	Columns []string
}

const (
	listTables   = "SELECT name, row_count FROM tables ORDER BY name"
	lookupTable  = "SELECT name, row_count FROM tables WHERE name = ?"
	listColumns  = "SELECT table_name, name, pos FROM columns ORDER BY table_name, pos"
	tableColumns = "SELECT table_name, name, pos FROM columns WHERE table_name = ?"
	listIndexes  = "SELECT table_name, index_name, is_unique, column_name FROM indexes ORDER BY table_name, index_name, ordinal"
	tableIndexes = "SELECT table_name, index_name, is_unique, column_name FROM indexes WHERE table_name = ?"
)

func tableRows(mock sqlmock.Sqlmock) *sqlmock.Rows {
	return mock.NewRows([]string{"name", "row_count"})
}

func fetchTable(_ context.Context, _ *testOwner, r *Row) (table, error) {
	if r.IsNull("name") {
		return table{}, Skip("table without name")
	}
	return table{Name: r.String("name"), Rows: r.Int("row_count")}, nil
}

func tableSpec() LookupSpec[*testOwner, table] {
	return LookupSpec[*testOwner, table]{
		ObjectSpec: ObjectSpec[*testOwner, table]{
			Name:  "tables",
			Key:   func(t table) string { return t.Name },
			List:  func(*testOwner) Query { return NewQuery(listTables) },
			Fetch: fetchTable,
		},
		Lookup: func(_ *testOwner, name string) Query { return NewQuery(lookupTable, name) },
	}
}

func columnSpec() StructSpec[*testOwner, table, column] {
	return StructSpec[*testOwner, table, column]{
		LookupSpec:    tableSpec(),
		ChildKey:      func(c column) string { return c.Name },
		ParentColumn:  "table_name",
		ChildrenOfAll: func(*testOwner) Query { return NewQuery(listColumns) },
		ChildrenOf: func(_ *testOwner, t table) Query {
			return NewQuery(tableColumns, t.Name)
		},
		FetchChild: func(_ context.Context, _ *testOwner, t table, r *Row) (column, error) {
			return column{Table: t.Name, Name: r.String("name"), Pos: r.Int("pos")}, nil
		},
	}
}

func indexSpec() CompositeSpec[*testOwner, table, *index, string] {
	return CompositeSpec[*testOwner, table, *index, string]{
		Name:         "indexes",
		Key:          func(ix *index) string { return ix.Name },
		ParentColumn: "table_name",
		ObjectColumn: "index_name",
		ListAll:      func(*testOwner) Query { return NewQuery(listIndexes) },
		ListFor: func(_ *testOwner, t table) Query {
			return NewQuery(tableIndexes, t.Name)
		},
		FetchObject: func(_ context.Context, _ *testOwner, t table, name string, r *Row) (*index, error) {
			if name == "" {
				return nil, Skip("unnamed index on %s", t.Name)
			}
			return &index{Table: t.Name, Name: name, Unique: r.Bool("is_unique")}, nil
		},
		FetchRow: func(_ context.Context, _ *testOwner, _ table, _ *index, r *Row) ([]string, error) {
			if r.IsNull("column_name") {
				return nil, nil
			}
			return []string{r.String("column_name")}, nil
		},
		Finalize: func(ix *index, cols []string) { ix.Columns = cols },
	}
}

type event struct {
	cache string
	kind  string
	rows  int
	err   error
}

type recordingObserver struct {
	mu      sync.Mutex
	events  []event
	skipped []string
}

func (o *recordingObserver) Populated(cache, kind string, rows int, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event{cache: cache, kind: kind, rows: rows, err: err})
}

func (o *recordingObserver) Skipped(_ string, reason error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped = append(o.skipped, reason.Error())
}
