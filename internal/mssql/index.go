package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"dbmeta/internal/cache"
)

// IndexKind is the sys.indexes type column.
type IndexKind int

const (
	IndexHeap         IndexKind = 0
	IndexClustered    IndexKind = 1
	IndexNonClustered IndexKind = 2
	// IndexOther covers XML, spatial, columnstore and hash indexes.
	IndexOther IndexKind = -1
)

func indexKind(n int) IndexKind {
	switch n {
	case 0:
		return IndexHeap
	case 1:
		return IndexClustered
	case 2:
		return IndexNonClustered
	}
	return IndexOther
}

func (k IndexKind) String() string {
	switch k {
	case IndexHeap:
		return "heap"
	case IndexClustered:
		return "clustered"
	case IndexNonClustered:
		return "nonclustered"
	}
	return "other"
}

// Index is a row of sys.indexes together with its key and included columns.
type Index struct {
	Table *Table

	ID               int64
	Name             string
	Kind             IndexKind
	Unique           bool
	PrimaryKey       bool
	UniqueConstraint bool
	Disabled         bool
	Columns          []*IndexColumn
}

// IndexColumn is a row of sys.index_columns.
type IndexColumn struct {
	ID int64
	// Column is nil when the column could not be resolved.
	Column    *Column
	Ordinal   int
	Ascending bool
	Included  bool
}

const indexRows = `SELECT i.*, ic.index_column_id, ic.column_id, ic.key_ordinal, ic.is_descending_key, ic.is_included_column, t.name AS table_name
FROM %[1]s i
JOIN %[2]s ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
JOIN %[3]s t ON t.object_id = i.object_id
WHERE %[4]s
ORDER BY i.object_id, i.index_id, ic.index_column_id`

func (s *Schema) indexQuery(cond string, arg sql.NamedArg) cache.Query {
	q := fmt.Sprintf(indexRows, s.table("indexes"), s.table("index_columns"), s.table("tables"), cond)
	return cache.NewQuery(q, arg)
}

func indexSpec() cache.CompositeSpec[*Schema, *Table, *Index, *IndexColumn] {
	return cache.CompositeSpec[*Schema, *Table, *Index, *IndexColumn]{
		Name:         "indexes",
		Key:          func(ix *Index) string { return ix.Name },
		ParentColumn: "table_name",
		ObjectColumn: "name",
		ListAll: func(s *Schema) cache.Query {
			return s.indexQuery("t.schema_id = @schema", s.id())
		},
		ListFor: func(s *Schema, t *Table) cache.Query {
			return s.indexQuery("t.object_id = @table", sql.Named("table", t.ID))
		},
		FetchObject: func(_ context.Context, _ *Schema, t *Table, name string, r *cache.Row) (*Index, error) {
			return &Index{
				Table:            t,
				ID:               r.Int64("index_id"),
				Name:             name,
				Kind:             indexKind(r.Int("type")),
				Unique:           r.Bool("is_unique"),
				PrimaryKey:       r.Bool("is_primary_key"),
				UniqueConstraint: r.Bool("is_unique_constraint"),
				Disabled:         r.Bool("is_disabled"),
			}, nil
		},
		FetchRow: func(ctx context.Context, _ *Schema, t *Table, _ *Index, r *cache.Row) ([]*IndexColumn, error) {
			ic := &IndexColumn{
				ID:        r.Int64("index_column_id"),
				Ordinal:   r.Int("key_ordinal"),
				Ascending: !r.Bool("is_descending_key"),
				Included:  r.Bool("is_included_column"),
			}
			if id := r.Int64("column_id"); id != 0 {
				col, err := t.ColumnByID(ctx, id)
				if err != nil {
					return nil, err
				}
				ic.Column = col
			}
			return []*IndexColumn{ic}, nil
		},
		Finalize: func(ix *Index, cols []*IndexColumn) { ix.Columns = cols },
	}
}

// KeyColumns returns the non-included columns of ix.
func (ix *Index) KeyColumns() []*IndexColumn {
	var out []*IndexColumn
	for _, c := range ix.Columns {
		if !c.Included {
			out = append(out, c)
		}
	}
	return out
}

// UniqueKey is a primary key or unique constraint from sys.key_constraints.
// Its columns are those of the index that enforces it.
type UniqueKey struct {
	Table *Table

	Name        string
	Primary     bool
	SystemNamed bool
	Index       *Index
}

// Columns returns the key columns of the enforcing index.
func (k *UniqueKey) Columns() []*IndexColumn {
	return k.Index.KeyColumns()
}

const keyRows = `SELECT kc.*, t.name AS table_name
FROM %[1]s kc
JOIN %[2]s t ON kc.parent_object_id = t.object_id
WHERE kc.schema_id = @schema%[3]s
ORDER BY kc.name`

func (s *Schema) keyQuery(extra string, args ...any) cache.Query {
	q := fmt.Sprintf(keyRows, s.table("key_constraints"), s.table("tables"), extra)
	return cache.NewQuery(q, append([]any{s.id()}, args...)...)
}

func uniqueKeySpec() cache.CompositeSpec[*Schema, *Table, *UniqueKey, struct{}] {
	return cache.CompositeSpec[*Schema, *Table, *UniqueKey, struct{}]{
		Name:         "unique keys",
		Key:          func(k *UniqueKey) string { return k.Name },
		ParentColumn: "table_name",
		ObjectColumn: "name",
		ListAll:      func(s *Schema) cache.Query { return s.keyQuery("") },
		ListFor: func(s *Schema, t *Table) cache.Query {
			return s.keyQuery(" AND kc.parent_object_id = @table", sql.Named("table", t.ID))
		},
		FetchObject: func(ctx context.Context, _ *Schema, t *Table, name string, r *cache.Row) (*UniqueKey, error) {
			indexID := r.Int64("unique_index_id")
			ix, err := t.IndexByID(ctx, indexID)
			if err != nil {
				return nil, err
			}
			if ix == nil {
				return nil, cache.Skip("index %d of key %s not found in table %s", indexID, name, t.Name)
			}
			return &UniqueKey{
				Table:       t,
				Name:        name,
				Primary:     r.Trimmed("type") == "PK",
				SystemNamed: r.Bool("is_system_named"),
				Index:       ix,
			}, nil
		},
		FetchRow: func(context.Context, *Schema, *Table, *UniqueKey, *cache.Row) ([]struct{}, error) {
			return nil, nil
		},
	}
}
