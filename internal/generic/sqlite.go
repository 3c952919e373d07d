package generic

import (
	"strings"

	"dbmeta/internal/cache"
)

// SQLite queries reference {schema} (quoted identifier), {literal} (quoted
// string) and {cond} (the optional single-table filter, once per branch).
const (
	liteTables = `SELECT {literal} AS schema_name, m.name AS table_name,
       CASE m.type WHEN 'view' THEN 'VIEW' ELSE 'TABLE' END AS table_type,
       NULL AS remarks, NULL AS size_8k_pages
FROM {schema}.sqlite_master m
WHERE m.type IN ('table','view') AND m.name NOT LIKE 'sqlite_%' AND {cond}
ORDER BY m.name`
	liteColumns = `SELECT m.name AS table_name, p.name AS column_name, p.type AS data_type, p.cid + 1 AS ordinal_position,
       CASE WHEN p."notnull" = 0 AND p.pk = 0 THEN 'YES' ELSE 'NO' END AS is_nullable, p.dflt_value AS column_default
FROM {schema}.sqlite_master m, pragma_table_info(m.name, {literal}) p
WHERE m.type IN ('table','view') AND m.name NOT LIKE 'sqlite_%' AND {cond}
ORDER BY m.name, p.cid`
	// Foreign keys to an implicit primary key have no "to" column; it is
	// taken from the referenced primary key by position.
	liteConstraints = `SELECT * FROM (
SELECT m.name AS table_name, 'pk_' || m.name AS constraint_name, 'PRIMARY KEY' AS constraint_type,
       p.name AS column_name, p.pk AS ordinal_position,
       NULL AS ref_schema, NULL AS ref_table, NULL AS ref_column, NULL AS update_rule, NULL AS delete_rule
FROM {schema}.sqlite_master m, pragma_table_info(m.name, {literal}) p
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%' AND p.pk > 0 AND {cond}
UNION ALL
SELECT m.name, il.name, 'UNIQUE', ii.name, ii.seqno + 1, NULL, NULL, NULL, NULL, NULL
FROM {schema}.sqlite_master m, pragma_index_list(m.name, {literal}) il, pragma_index_info(il.name, {literal}) ii
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%' AND il."unique" = 1 AND il.origin = 'u' AND {cond}
UNION ALL
SELECT m.name, 'fk_' || m.name || '_' || fk.id, 'FOREIGN KEY', fk."from", fk.seq + 1,
       {literal}, fk."table", COALESCE(fk."to", r.name), fk.on_update, fk.on_delete
FROM {schema}.sqlite_master m, pragma_foreign_key_list(m.name, {literal}) fk
LEFT JOIN pragma_table_info(fk."table", {literal}) r ON fk."to" IS NULL AND r.pk = fk.seq + 1
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%' AND {cond}
) ORDER BY table_name, constraint_name, ordinal_position`
)

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func liteQuery(tmpl, schema, table string) cache.Query {
	cond := "1 = 1"
	if table != "" {
		cond = "m.name = ?"
	}
	var args []any
	if table != "" {
		for range strings.Count(tmpl, "{cond}") {
			args = append(args, table)
		}
	}
	sql := strings.NewReplacer(
		"{schema}", quoteIdent(schema),
		"{literal}", quoteLiteral(schema),
		"{cond}", cond,
	).Replace(tmpl)
	return cache.NewQuery(sql, args...)
}

// SQLite reads sqlite_master and the pragma table-valued functions. Each
// attached database is a schema.
var SQLite = &Dialect{
	Name: "sqlite",
	Schemas: func() cache.Query {
		return cache.NewQuery(`SELECT name AS schema_name FROM pragma_database_list WHERE name <> 'temp' ORDER BY seq`)
	},
	Tables: func(schema, table string) cache.Query {
		return liteQuery(liteTables, schema, table)
	},
	Columns: func(schema, table string) cache.Query {
		return liteQuery(liteColumns, schema, table)
	},
	Constraints: func(schema, table string) cache.Query {
		return liteQuery(liteConstraints, schema, table)
	},
	ViewSource: func(schema, view string) cache.Query {
		return cache.NewQuery(`SELECT sql AS definition FROM `+quoteIdent(schema)+`.sqlite_master WHERE type = 'view' AND name = ?`, view)
	},
}

func init() {
	register(SQLite, "sqlite", "sqlite3")
}
