package mssql

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"dbmeta/internal/cache"
	"dbmeta/internal/db"
)

const (
	qDatabase    = "FROM sys.databases db WHERE db.name = @name"
	qDBName      = "SELECT DB_NAME() AS name"
	qSchemas     = "SELECT * FROM [shop].sys.schemas"
	qSchema      = "SELECT * FROM [shop].sys.schemas WHERE name = @name"
	qTables      = "FROM [shop].sys.all_objects o"
	qAllColumns  = "WHERE t.type IN ('U','S','V') AND t.schema_id = @schema"
	qColumnsOf   = "WHERE t.type IN ('U','S','V') AND t.object_id = @table"
	qIndexes     = "FROM [shop].sys.indexes i"
	qKeys        = "FROM [shop].sys.key_constraints kc"
	qForeignKeys = "JOIN [shop].sys.foreign_keys fk"
	qTriggers    = "FROM [shop].sys.triggers t"
	qStatistics  = "AS row_count"
	qModule      = "SELECT definition FROM [shop].sys.sql_modules WHERE object_id = @id"
)

func q(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

type skipRecorder struct {
	mu      sync.Mutex
	skipped map[string]int
}

func (r *skipRecorder) Populated(string, string, int, time.Duration, error) {}

func (r *skipRecorder) Skipped(name string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.skipped == nil {
		r.skipped = map[string]int{}
	}
	r.skipped[name]++
}

func (r *skipRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped[name]
}

func setup(t *testing.T, database string, opts ...cache.Option) (*DataSource, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewDataSource(db.NewExecutor(conn), database, opts...), mock
}

func expectDatabase(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(q(qDatabase)).WillReturnRows(
		mock.NewRows([]string{"database_id", "name", "state_desc", "create_date"}).
			AddRow(int64(5), "shop", "ONLINE", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func expectSchemas(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(q(qSchemas)).WillReturnRows(
		mock.NewRows([]string{"schema_id", "name", "principal_id"}).
			AddRow(int64(4), "sys", int64(4)).
			AddRow(int64(1), "dbo", int64(1)))
}

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(q(qTables)).WillReturnRows(
		mock.NewRows([]string{"object_id", "name", "schema_id", "type", "remarks", "create_date", "modify_date"}).
			AddRow(int64(11), "orders", int64(1), "U ", nil, nil, nil).
			AddRow(int64(10), "customers", int64(1), "U ", "People who order", nil, nil).
			AddRow(int64(12), "v_orders", int64(1), "V ", nil, nil, nil))
}

func columnRows(mock sqlmock.Sqlmock) *sqlmock.Rows {
	return mock.NewRows([]string{
		"object_id", "column_id", "name", "user_type_id", "max_length", "precision", "scale",
		"is_nullable", "is_identity", "is_computed", "collation_name",
		"table_name", "schema_id", "type_name", "default_definition",
	})
}

func expectAllColumns(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(q(qAllColumns)).WillReturnRows(columnRows(mock).
		AddRow(int64(10), int64(1), "id", int64(56), 4, 10, 0, false, true, false, nil, "customers", int64(1), "int", nil).
		AddRow(int64(10), int64(2), "name", int64(231), 200, 0, 0, true, false, false, "Latin1_General_CI_AS", "customers", int64(1), "nvarchar", "(N'anonymous')").
		AddRow(int64(11), int64(1), "id", int64(56), 4, 10, 0, false, true, false, nil, "orders", int64(1), "int", nil).
		AddRow(int64(11), int64(2), "customer_id", int64(56), 4, 10, 0, false, false, false, nil, "orders", int64(1), "int", nil).
		AddRow(int64(12), int64(1), "id", int64(56), 4, 10, 0, false, false, false, nil, "v_orders", int64(1), "int", nil))
}

func expectIndexes(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(q(qIndexes)).WillReturnRows(
		mock.NewRows([]string{
			"object_id", "name", "index_id", "type", "is_unique", "is_primary_key", "is_unique_constraint", "is_disabled",
			"index_column_id", "column_id", "key_ordinal", "is_descending_key", "is_included_column", "table_name",
		}).
			AddRow(int64(10), "PK_customers", int64(1), 1, true, true, false, false, int64(1), int64(1), 1, false, false, "customers").
			AddRow(int64(11), "PK_orders", int64(1), 1, true, true, false, false, int64(1), int64(1), 1, false, false, "orders").
			AddRow(int64(11), "IX_orders_customer", int64(2), 2, false, false, false, false, int64(1), int64(2), 1, true, false, "orders").
			AddRow(int64(11), "IX_orders_customer", int64(2), 2, false, false, false, false, int64(2), int64(1), 0, false, true, "orders"))
}

func expectKeys(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(q(qKeys)).WillReturnRows(
		mock.NewRows([]string{"name", "type", "unique_index_id", "is_system_named", "parent_object_id", "table_name"}).
			AddRow("PK_customers", "PK", int64(1), false, int64(10), "customers").
			AddRow("PK_orders", "PK", int64(1), false, int64(11), "orders").
			AddRow("UQ_orphan", "UQ", int64(9), true, int64(11), "orders"))
}

func expectForeignKeys(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(q(qForeignKeys)).WillReturnRows(
		mock.NewRows([]string{
			"table_name", "name", "key_index_id", "is_disabled", "delete_referential_action", "update_referential_action",
			"constraint_object_id", "constraint_column_id", "parent_object_id", "parent_column_id",
			"referenced_object_id", "referenced_column_id", "referenced_schema_id",
		}).
			AddRow("orders", "FK_orders_customers", int64(1), false, 1, 0, int64(20), 1, int64(11), int64(2), int64(10), int64(1), int64(1)).
			AddRow("orders", "FK_orders_elsewhere", int64(1), false, 0, 0, int64(21), 1, int64(11), int64(2), int64(99), int64(1), int64(1)))
}

func expectStatistics(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(q(qStatistics)).WillReturnRows(
		mock.NewRows([]string{"object_id", "row_count", "used_pages"}).
			AddRow(int64(10), int64(42), int64(3)).
			AddRow(int64(11), int64(1000), nil))
}
