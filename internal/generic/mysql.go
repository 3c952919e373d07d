package generic

import "dbmeta/internal/cache"

const (
	myTables = `SELECT table_schema AS schema_name, table_name AS table_name,
       CASE table_type WHEN 'VIEW' THEN 'VIEW' ELSE 'TABLE' END AS table_type,
       table_comment AS remarks, round(data_length/8192) AS size_8k_pages
FROM information_schema.tables
WHERE %s
ORDER BY table_name`
	myColumns = `SELECT table_name AS table_name, column_name AS column_name, column_type AS data_type,
       ordinal_position AS ordinal_position, is_nullable AS is_nullable, column_default AS column_default
FROM information_schema.columns
WHERE %s
ORDER BY table_name, ordinal_position`
	myConstraints = `SELECT tc.table_name AS table_name, tc.constraint_name AS constraint_name, tc.constraint_type AS constraint_type,
       kcu.column_name AS column_name, kcu.ordinal_position AS ordinal_position,
       kcu.referenced_table_schema AS ref_schema, kcu.referenced_table_name AS ref_table,
       kcu.referenced_column_name AS ref_column, rc.update_rule AS update_rule, rc.delete_rule AS delete_rule
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_schema = tc.constraint_schema AND kcu.constraint_name = tc.constraint_name AND kcu.table_name = tc.table_name
LEFT JOIN information_schema.referential_constraints rc
  ON rc.constraint_schema = tc.constraint_schema AND rc.constraint_name = tc.constraint_name AND rc.table_name = tc.table_name
WHERE tc.constraint_type IN ('PRIMARY KEY','UNIQUE','FOREIGN KEY') AND %s
ORDER BY tc.table_name, tc.constraint_name, kcu.ordinal_position`
)

// MySQL reads information_schema; the referenced columns of foreign keys
// come from key_column_usage.
var MySQL = &Dialect{
	Name: "mysql",
	Schemas: func() cache.Query {
		return cache.NewQuery(`SELECT schema_name AS schema_name
FROM information_schema.schemata
WHERE schema_name NOT IN ('mysql','information_schema','performance_schema','sys')
ORDER BY schema_name`)
	},
	Tables: func(schema, table string) cache.Query {
		return scoped(question, myTables, "table_schema", schema, "table_name", table)
	},
	Columns: func(schema, table string) cache.Query {
		return scoped(question, myColumns, "table_schema", schema, "table_name", table)
	},
	Constraints: func(schema, table string) cache.Query {
		return scoped(question, myConstraints, "tc.table_schema", schema, "tc.table_name", table)
	},
	ViewSource: func(schema, view string) cache.Query {
		return cache.NewQuery(`SELECT view_definition AS definition FROM information_schema.views
WHERE table_schema = ? AND table_name = ?`, schema, view)
	},
}

func init() {
	register(MySQL, "mysql", "mariadb")
}
