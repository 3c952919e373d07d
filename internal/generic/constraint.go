package generic

import (
	"context"
	"strings"

	"dbmeta/internal/cache"
)

// ConstraintType distinguishes primary keys, unique constraints and foreign
// keys.
type ConstraintType int

const (
	PrimaryKey ConstraintType = iota
	Unique
	ForeignKey
)

func constraintType(s string) ConstraintType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PRIMARY KEY", "P":
		return PrimaryKey
	case "FOREIGN KEY", "R":
		return ForeignKey
	}
	return Unique
}

func (t ConstraintType) String() string {
	switch t {
	case PrimaryKey:
		return "primary key"
	case ForeignKey:
		return "foreign key"
	}
	return "unique"
}

// Constraint is a primary key, unique constraint or foreign key with its
// columns in key order.
type Constraint struct {
	Table *Table

	Name string
	Type ConstraintType
	// RefTable, UpdateRule and DeleteRule are set for foreign keys.
	RefTable   *Table
	UpdateRule string
	DeleteRule string
	Columns    []*ConstraintColumn
}

// ConstraintColumn is one key column. RefColumn is set for foreign keys.
type ConstraintColumn struct {
	Position  int
	Column    *Column
	RefColumn *Column
}

func constraintSpec(d *Dialect) cache.CompositeSpec[*Schema, *Table, *Constraint, *ConstraintColumn] {
	return cache.CompositeSpec[*Schema, *Table, *Constraint, *ConstraintColumn]{
		Name:         "constraints",
		Key:          func(c *Constraint) string { return c.Name },
		ParentColumn: "table_name",
		ObjectColumn: "constraint_name",
		ListAll:      func(s *Schema) cache.Query { return d.Constraints(s.Name, "") },
		ListFor:      func(s *Schema, t *Table) cache.Query { return d.Constraints(s.Name, t.Name) },
		FetchObject:  fetchConstraint,
		FetchRow:     fetchConstraintColumn,
		Finalize:     func(c *Constraint, cols []*ConstraintColumn) { c.Columns = cols },
	}
}

// fetchConstraint resolves the referenced table of a foreign key, possibly
// in another schema. Keys referencing unknown tables are dropped.
func fetchConstraint(ctx context.Context, s *Schema, t *Table, name string, r *cache.Row) (*Constraint, error) {
	c := &Constraint{Table: t, Name: name, Type: constraintType(r.String("constraint_type"))}
	if c.Type != ForeignKey {
		return c, nil
	}
	refSchema := s
	if other := r.String("ref_schema"); other != "" && other != s.Name {
		rs, err := s.cat.Schema(ctx, other)
		if err != nil {
			return nil, err
		}
		if rs == nil {
			return nil, cache.Skip("schema %s of foreign key %s not found", other, name)
		}
		refSchema = rs
	}
	refName := r.String("ref_table")
	ref, err := refSchema.Table(ctx, refName)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, cache.Skip("table %s.%s of foreign key %s not found", refSchema.Name, refName, name)
	}
	c.RefTable = ref
	c.UpdateRule = rule(r.String("update_rule"))
	c.DeleteRule = rule(r.String("delete_rule"))
	return c, nil
}

func fetchConstraintColumn(ctx context.Context, _ *Schema, t *Table, c *Constraint, r *cache.Row) ([]*ConstraintColumn, error) {
	name := r.String("column_name")
	col, err := t.Column(ctx, name)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, cache.SkipObject("column %s of constraint %s not found in table %s", name, c.Name, t.Name)
	}
	cc := &ConstraintColumn{Position: r.Int("ordinal_position"), Column: col}
	if c.Type == ForeignKey {
		refName := r.String("ref_column")
		ref, err := c.RefTable.Column(ctx, refName)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			return nil, cache.SkipObject("column %s referenced by %s not found in table %s", refName, c.Name, c.RefTable.Name)
		}
		cc.RefColumn = ref
	}
	return []*ConstraintColumn{cc}, nil
}

func rule(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "NO ACTION"
	}
	return s
}
