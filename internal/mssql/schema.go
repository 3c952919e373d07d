package mssql

import (
	"context"
	"database/sql"
	"slices"
	"strings"

	"dbmeta/internal/cache"
)

// Scope selects what CacheStructure loads.
type Scope uint8

const (
	// StructEntities loads tables and views.
	StructEntities Scope = 1 << iota
	// StructAttributes loads the columns of every table.
	StructAttributes
	// StructAssociations loads indexes, unique keys and foreign keys.
	StructAssociations

	StructAll = StructEntities | StructAttributes | StructAssociations
)

// Schema is one row of sys.schemas and owns every schema scoped cache.
type Schema struct {
	db *Database

	ID   int64
	Name string

	tables      *cache.StructCache[*Schema, *Table, *Column]
	indexes     *cache.CompositeCache[*Schema, *Table, *Index, *IndexColumn]
	uniqueKeys  *cache.CompositeCache[*Schema, *Table, *UniqueKey, struct{}]
	foreignKeys *cache.CompositeCache[*Schema, *Table, *ForeignKey, *ForeignKeyColumn]
	sequences   *cache.ObjectCache[*Schema, *Sequence]
	synonyms    *cache.ObjectCache[*Schema, *Synonym]
	procedures  *cache.StructCache[*Schema, *Procedure, *Parameter]
	triggers    *cache.LookupCache[*Schema, *Trigger]
}

func fetchSchema(_ context.Context, d *Database, r *cache.Row) (*Schema, error) {
	return newSchema(d, r.Int64("schema_id"), r.String("name")), nil
}

func newSchema(d *Database, id int64, name string) *Schema {
	s := &Schema{db: d, ID: id, Name: name}
	opts := d.source.opts
	s.tables = cache.NewStructCache(tableSpec(), opts...)
	s.tables.SetListOrder(func(a, b *Table) int { return strings.Compare(a.Name, b.Name) })
	s.indexes = cache.NewCompositeCache(s.tables, indexSpec(), opts...)
	s.uniqueKeys = cache.NewCompositeCache(s.tables, uniqueKeySpec(), opts...)
	s.foreignKeys = cache.NewCompositeCache(s.tables, foreignKeySpec(), opts...)
	s.sequences = cache.NewObjectCache(sequenceSpec(), opts...)
	s.synonyms = cache.NewObjectCache(synonymSpec(), opts...)
	s.procedures = cache.NewStructCache(procedureSpec(), opts...)
	s.triggers = cache.NewLookupCache(triggerSpec(), opts...)
	return s
}

func (s *Schema) Executor() cache.Executor { return s.db.Executor() }

// Database returns the owning database.
func (s *Schema) Database() *Database { return s.db }

// System reports whether s belongs to the server rather than to users.
func (s *Schema) System() bool {
	switch strings.ToLower(s.Name) {
	case "sys", "information_schema", "guest":
		return true
	}
	return strings.HasPrefix(s.Name, "db_")
}

func (s *Schema) table(view string) string {
	return systemTable(s.db, view)
}

func (s *Schema) id() sql.NamedArg {
	return sql.Named("schema", s.ID)
}

// Tables lists the user and system tables of s, sorted by name.
func (s *Schema) Tables(ctx context.Context) ([]*Table, error) {
	return s.objects(ctx, func(t *Table) bool { return !t.View() })
}

// Views lists the views of s, sorted by name.
func (s *Schema) Views(ctx context.Context) ([]*Table, error) {
	return s.objects(ctx, (*Table).View)
}

func (s *Schema) objects(ctx context.Context, keep func(*Table) bool) ([]*Table, error) {
	all, err := s.tables.All(ctx, s)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(t *Table) bool { return !keep(t) }), nil
}

// Table returns the table or view named name, or nil.
func (s *Schema) Table(ctx context.Context, name string) (*Table, error) {
	t, _, err := s.tables.Get(ctx, s, name)
	return t, err
}

// TableByID returns the table or view with the given object_id, or nil.
func (s *Schema) TableByID(ctx context.Context, id int64) (*Table, error) {
	all, err := s.tables.All(ctx, s)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(all, func(t *Table) bool { return t.ID == id })
	if i < 0 {
		return nil, nil
	}
	return all[i], nil
}

// Indexes returns the indexes of every table of s.
func (s *Schema) Indexes(ctx context.Context) ([]*Index, error) {
	if _, err := s.tables.AllChildren(ctx, s); err != nil {
		return nil, err
	}
	return s.indexes.All(ctx, s)
}

// UniqueKeys returns the primary and unique keys of every table of s.
func (s *Schema) UniqueKeys(ctx context.Context) ([]*UniqueKey, error) {
	if _, err := s.Indexes(ctx); err != nil {
		return nil, err
	}
	return s.uniqueKeys.All(ctx, s)
}

// ForeignKeys returns the foreign keys of every table of s. Indexes and
// columns of s are loaded first so that references inside s resolve from
// memory.
func (s *Schema) ForeignKeys(ctx context.Context) ([]*ForeignKey, error) {
	if _, err := s.Indexes(ctx); err != nil {
		return nil, err
	}
	return s.foreignKeys.All(ctx, s)
}

// Sequences lists the sequences of s.
func (s *Schema) Sequences(ctx context.Context) ([]*Sequence, error) {
	return s.sequences.All(ctx, s)
}

// Synonyms lists the synonyms of s.
func (s *Schema) Synonyms(ctx context.Context) ([]*Synonym, error) {
	return s.synonyms.All(ctx, s)
}

// Procedures lists the stored procedures of s.
func (s *Schema) Procedures(ctx context.Context) ([]*Procedure, error) {
	return s.procedures.All(ctx, s)
}

// Procedure returns the named procedure, or nil.
func (s *Schema) Procedure(ctx context.Context, name string) (*Procedure, error) {
	p, _, err := s.procedures.Get(ctx, s, name)
	return p, err
}

// Triggers lists the DML triggers of the tables and views of s.
func (s *Schema) Triggers(ctx context.Context) ([]*Trigger, error) {
	if _, err := s.tables.All(ctx, s); err != nil {
		return nil, err
	}
	return s.triggers.All(ctx, s)
}

// Trigger returns the named trigger, or nil.
func (s *Schema) Trigger(ctx context.Context, name string) (*Trigger, error) {
	if _, err := s.tables.All(ctx, s); err != nil {
		return nil, err
	}
	t, _, err := s.triggers.Get(ctx, s, name)
	return t, err
}

// CacheStructure loads the parts of s selected by scope, each with one
// query.
func (s *Schema) CacheStructure(ctx context.Context, scope Scope) error {
	if scope&StructEntities != 0 {
		if _, err := s.tables.All(ctx, s); err != nil {
			return err
		}
	}
	if scope&StructAttributes != 0 {
		if _, err := s.tables.AllChildren(ctx, s); err != nil {
			return err
		}
	}
	if scope&StructAssociations != 0 {
		if _, err := s.UniqueKeys(ctx); err != nil {
			return err
		}
		if _, err := s.ForeignKeys(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Refresh forgets everything cached for s.
func (s *Schema) Refresh() {
	s.tables.Clear()
	s.indexes.Clear()
	s.uniqueKeys.Clear()
	s.foreignKeys.Clear()
	s.sequences.Clear()
	s.synonyms.Clear()
	s.procedures.Clear()
	s.triggers.Clear()
}

// NewTable returns a table of s that does not exist in the catalog yet.
func (s *Schema) NewTable(name string) *Table {
	return &Table{schema: s, Name: name, Type: "U"}
}

// CacheTable records t after it was created in the catalog.
func (s *Schema) CacheTable(t *Table) {
	t.persisted = true
	s.tables.CacheObject(t)
}

// UncacheTable forgets t after it was dropped from the catalog.
func (s *Schema) UncacheTable(t *Table) {
	s.tables.RemoveObject(t)
	s.dropTableState(t)
}

func (s *Schema) dropTableState(t *Table) {
	s.indexes.ClearParent(t)
	s.uniqueKeys.ClearParent(t)
	s.foreignKeys.ClearParent(t)
}

// ReadStatistics loads row counts and used 8k pages of every table of s
// with one query.
func (s *Schema) ReadStatistics(ctx context.Context) error {
	tables, err := s.Tables(ctx)
	if err != nil {
		return err
	}
	byID := make(map[int64]*Table, len(tables))
	for _, t := range tables {
		byID[t.ID] = t
	}
	q := cache.NewQuery(`SELECT t.object_id,
  (SELECT SUM(p.rows) FROM `+s.table("partitions")+` p WHERE p.object_id = t.object_id AND p.index_id IN (0,1)) AS row_count,
  (SELECT SUM(au.used_pages) FROM `+s.table("partitions")+` p JOIN `+s.table("allocation_units")+` au ON au.container_id = p.hobt_id WHERE p.object_id = t.object_id) AS used_pages
FROM `+s.table("tables")+` t
WHERE t.schema_id = @schema`, s.id())
	return cache.Run(ctx, s.Executor(), q, func(r *cache.Row) error {
		if t, ok := byID[r.Int64("object_id")]; ok {
			t.setStats(TableStats{Rows: r.Int64("row_count"), Pages8k: r.Int64("used_pages")})
		}
		return nil
	})
}
