package generic

import "dbmeta/internal/cache"

const (
	pgTables = `SELECT table_schema AS schema_name, table_name,
       CASE table_type WHEN 'VIEW' THEN 'VIEW' ELSE 'TABLE' END AS table_type,
       obj_description((quote_ident(table_schema)||'.'||quote_ident(table_name))::regclass) AS remarks,
       pg_table_size(quote_ident(table_schema)||'.'||quote_ident(table_name))/8192 AS size_8k_pages
FROM information_schema.tables
WHERE table_type IN ('BASE TABLE','VIEW') AND %s
ORDER BY table_name`
	pgColumns = `SELECT table_name, column_name, data_type, ordinal_position, is_nullable, column_default
FROM information_schema.columns
WHERE %s
ORDER BY table_name, ordinal_position`
	pgConstraints = `SELECT tc.table_name, tc.constraint_name, tc.constraint_type, kcu.column_name, kcu.ordinal_position,
       rkcu.table_schema AS ref_schema, rkcu.table_name AS ref_table, rkcu.column_name AS ref_column,
       rc.update_rule, rc.delete_rule
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_schema = tc.constraint_schema AND kcu.constraint_name = tc.constraint_name AND kcu.table_name = tc.table_name
LEFT JOIN information_schema.referential_constraints rc
  ON rc.constraint_schema = tc.constraint_schema AND rc.constraint_name = tc.constraint_name
LEFT JOIN information_schema.key_column_usage rkcu
  ON rkcu.constraint_schema = rc.unique_constraint_schema AND rkcu.constraint_name = rc.unique_constraint_name
 AND rkcu.ordinal_position = kcu.position_in_unique_constraint
WHERE tc.constraint_type IN ('PRIMARY KEY','UNIQUE','FOREIGN KEY') AND %s
ORDER BY tc.table_name, tc.constraint_name, kcu.ordinal_position`
)

// Postgres reads information_schema and pg_catalog.
var Postgres = &Dialect{
	Name: "postgres",
	Schemas: func() cache.Query {
		return cache.NewQuery(`SELECT schema_name
FROM information_schema.schemata
WHERE schema_name NOT IN ('pg_catalog','information_schema','pg_toast')
  AND schema_name NOT LIKE 'pg_temp%' AND schema_name NOT LIKE 'pg_toast_temp%'
ORDER BY schema_name`)
	},
	Tables: func(schema, table string) cache.Query {
		return scoped(dollar, pgTables, "table_schema", schema, "table_name", table)
	},
	Columns: func(schema, table string) cache.Query {
		return scoped(dollar, pgColumns, "table_schema", schema, "table_name", table)
	},
	Constraints: func(schema, table string) cache.Query {
		return scoped(dollar, pgConstraints, "tc.table_schema", schema, "tc.table_name", table)
	},
	ViewSource: func(schema, view string) cache.Query {
		return cache.NewQuery(`SELECT view_definition AS definition FROM information_schema.views
WHERE table_schema = $1 AND table_name = $2`, schema, view)
	},
}

func init() {
	register(Postgres, "postgres", "postgresql")
}
