package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"dbmeta/internal/cache"
)

// Rule is a referential action of a foreign key.
type Rule int

const (
	NoAction Rule = iota
	Cascade
	SetNull
	SetDefault
)

// ruleOf maps delete_referential_action and update_referential_action.
func ruleOf(n int) Rule {
	switch n {
	case 1:
		return Cascade
	case 2:
		return SetNull
	case 3:
		return SetDefault
	}
	return NoAction
}

func (r Rule) String() string {
	switch r {
	case Cascade:
		return "CASCADE"
	case SetNull:
		return "SET NULL"
	case SetDefault:
		return "SET DEFAULT"
	}
	return "NO ACTION"
}

// ForeignKey is a row of sys.foreign_keys with its column pairs.
type ForeignKey struct {
	Table *Table

	Name       string
	RefTable   *Table
	RefIndex   *Index
	DeleteRule Rule
	UpdateRule Rule
	Disabled   bool
	Columns    []*ForeignKeyColumn
}

// ForeignKeyColumn pairs a referencing column with the referenced one.
type ForeignKeyColumn struct {
	Ordinal   int
	Column    *Column
	RefColumn *Column
}

const foreignKeyRows = `SELECT t.name AS table_name, fk.name, fk.key_index_id, fk.is_disabled,
  fk.delete_referential_action, fk.update_referential_action, fkc.*, tr.schema_id AS referenced_schema_id
FROM %[1]s t
JOIN %[2]s fk ON t.object_id = fk.parent_object_id
JOIN %[3]s fkc ON fk.object_id = fkc.constraint_object_id
JOIN %[1]s tr ON tr.object_id = fk.referenced_object_id
WHERE %[4]s
ORDER BY fkc.constraint_object_id, fkc.constraint_column_id`

func (s *Schema) foreignKeyQuery(cond string, arg sql.NamedArg) cache.Query {
	q := fmt.Sprintf(foreignKeyRows, s.table("tables"), s.table("foreign_keys"), s.table("foreign_key_columns"), cond)
	return cache.NewQuery(q, arg)
}

func foreignKeySpec() cache.CompositeSpec[*Schema, *Table, *ForeignKey, *ForeignKeyColumn] {
	return cache.CompositeSpec[*Schema, *Table, *ForeignKey, *ForeignKeyColumn]{
		Name:         "foreign keys",
		Key:          func(fk *ForeignKey) string { return fk.Name },
		ParentColumn: "table_name",
		ObjectColumn: "name",
		ListAll: func(s *Schema) cache.Query {
			return s.foreignKeyQuery("t.schema_id = @schema", s.id())
		},
		ListFor: func(s *Schema, t *Table) cache.Query {
			return s.foreignKeyQuery("t.object_id = @table", sql.Named("table", t.ID))
		},
		FetchObject: fetchForeignKey,
		FetchRow: func(ctx context.Context, _ *Schema, t *Table, fk *ForeignKey, r *cache.Row) ([]*ForeignKeyColumn, error) {
			col, err := t.ColumnByID(ctx, r.Int64("parent_column_id"))
			if err != nil {
				return nil, err
			}
			ref, err := fk.RefTable.ColumnByID(ctx, r.Int64("referenced_column_id"))
			if err != nil {
				return nil, err
			}
			if col == nil {
				return nil, cache.SkipObject("column %d of %s not found in table %s", r.Int64("parent_column_id"), fk.Name, t.Name)
			}
			if ref == nil {
				return nil, cache.SkipObject("column %d referenced by %s not found in table %s", r.Int64("referenced_column_id"), fk.Name, fk.RefTable.Name)
			}
			return []*ForeignKeyColumn{{Ordinal: r.Int("constraint_column_id"), Column: col, RefColumn: ref}}, nil
		},
		Finalize: func(fk *ForeignKey, cols []*ForeignKeyColumn) { fk.Columns = cols },
	}
}

// fetchForeignKey resolves the referenced schema, table and index. A key
// with any unresolvable reference is dropped.
func fetchForeignKey(ctx context.Context, s *Schema, t *Table, name string, r *cache.Row) (*ForeignKey, error) {
	refSchemaID := r.Int64("referenced_schema_id")
	refSchema, err := s.db.SchemaByID(ctx, refSchemaID)
	if err != nil {
		return nil, err
	}
	if refSchema == nil {
		return nil, cache.Skip("ref schema %d not found", refSchemaID)
	}
	refTableID := r.Int64("referenced_object_id")
	refTable, err := refSchema.TableByID(ctx, refTableID)
	if err != nil {
		return nil, err
	}
	if refTable == nil {
		return nil, cache.Skip("ref table %d not found in schema %s", refTableID, refSchema.Name)
	}
	refIndexID := r.Int64("key_index_id")
	refIndex, err := refTable.IndexByID(ctx, refIndexID)
	if err != nil {
		return nil, err
	}
	if refIndex == nil {
		return nil, cache.Skip("ref index %d not found in table %s.%s", refIndexID, refSchema.Name, refTable.Name)
	}
	return &ForeignKey{
		Table:      t,
		Name:       name,
		RefTable:   refTable,
		RefIndex:   refIndex,
		DeleteRule: ruleOf(r.Int("delete_referential_action")),
		UpdateRule: ruleOf(r.Int("update_referential_action")),
		Disabled:   r.Bool("is_disabled"),
	}, nil
}
