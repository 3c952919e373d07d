//go:build oracle
// +build oracle

package generic

import (
	_ "github.com/godror/godror"

	"dbmeta/internal/cache"
)

const (
	oraTables = `SELECT * FROM (
  SELECT atab.owner AS schema_name, atab.table_name, 'TABLE' AS table_type, acom.comments AS remarks,
         nvl(atab.blocks*nvl(ts.block_size, 8192)/8192, 1) AS size_8k_pages
  FROM all_tables atab
  LEFT JOIN all_tab_comments acom ON acom.owner = atab.owner AND acom.table_name = atab.table_name
  LEFT JOIN user_tablespaces ts ON atab.tablespace_name = ts.tablespace_name
  UNION ALL
  SELECT v.owner, v.view_name, 'VIEW', NULL, NULL FROM all_views v
) WHERE %s
ORDER BY table_name`
	oraColumns = `SELECT table_name, column_name, data_type, column_id AS ordinal_position,
       nullable AS is_nullable, NULL AS column_default
FROM all_tab_columns
WHERE %s
ORDER BY table_name, column_id`
	oraConstraints = `SELECT a.table_name, a.constraint_name,
       CASE a.constraint_type WHEN 'P' THEN 'PRIMARY KEY' WHEN 'U' THEN 'UNIQUE' ELSE 'FOREIGN KEY' END AS constraint_type,
       acc.column_name, acc.position AS ordinal_position,
       rcc.owner AS ref_schema, rcc.table_name AS ref_table, rcc.column_name AS ref_column,
       'NO ACTION' AS update_rule, a.delete_rule
FROM all_constraints a
JOIN all_cons_columns acc ON a.owner = acc.owner AND a.constraint_name = acc.constraint_name
LEFT JOIN all_cons_columns rcc
  ON a.r_owner = rcc.owner AND a.r_constraint_name = rcc.constraint_name AND nvl(acc.position, 0) = nvl(rcc.position, 0)
WHERE a.constraint_type IN ('P','U','R') AND %s
ORDER BY a.table_name, a.constraint_name, acc.position`
)

// Oracle reads the all_* dictionary views of users that are not
// maintained by Oracle.
var Oracle = &Dialect{
	Name: "oracle",
	Schemas: func() cache.Query {
		return cache.NewQuery(`SELECT username AS schema_name FROM all_users WHERE oracle_maintained = 'N' ORDER BY username`)
	},
	Tables: func(schema, table string) cache.Query {
		return scoped(colon, oraTables, "schema_name", schema, "table_name", table)
	},
	Columns: func(schema, table string) cache.Query {
		return scoped(colon, oraColumns, "owner", schema, "table_name", table)
	},
	Constraints: func(schema, table string) cache.Query {
		return scoped(colon, oraConstraints, "a.owner", schema, "a.table_name", table)
	},
	ViewSource: func(schema, view string) cache.Query {
		return cache.NewQuery(`SELECT text AS definition FROM all_views WHERE owner = :1 AND view_name = :2`, schema, view)
	},
}

func init() {
	register(Oracle, "godror", "oracle")
}
