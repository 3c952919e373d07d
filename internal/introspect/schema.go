package introspect

import (
	"cmp"
	"slices"
)

// Column represents a table column.
type Column struct {
	Name     string  `json:"name" yaml:"name"`
	Type     string  `json:"type" yaml:"type"`
	Nullable bool    `json:"nullable" yaml:"nullable"`
	PK       bool    `json:"pk" yaml:"pk"`
	Default  *string `json:"default,omitempty" yaml:"default,omitempty"`
}

// ForeignKey represents a foreign key relationship.
type ForeignKey struct {
	FromSchema string `json:"from_schema,omitempty" yaml:"from_schema,omitempty"`
	FromTable  string `json:"from_table" yaml:"from_table"`
	FromColumn string `json:"from_column" yaml:"from_column"`
	ToSchema   string `json:"to_schema,omitempty" yaml:"to_schema,omitempty"`
	ToTable    string `json:"to_table" yaml:"to_table"`
	ToColumn   string `json:"to_column" yaml:"to_column"`
	Constraint string `json:"constraint,omitempty" yaml:"constraint,omitempty"`
	OnDelete   string `json:"on_delete,omitempty" yaml:"on_delete,omitempty"`
	OnUpdate   string `json:"on_update,omitempty" yaml:"on_update,omitempty"`
}

// Index represents a table index.
type Index struct {
	Name    string   `json:"name" yaml:"name"`
	Kind    string   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Unique  bool     `json:"unique" yaml:"unique"`
	Columns []string `json:"columns" yaml:"columns"`
}

// Table represents a database table and its columns.
type Table struct {
	Schema      string   `json:"schema,omitempty" yaml:"schema,omitempty"`
	Name        string   `json:"name" yaml:"name"`
	Columns     []Column `json:"columns" yaml:"columns"`
	Indexes     []Index  `json:"indexes,omitempty" yaml:"indexes,omitempty"`
	Rows        int64    `json:"rows,omitempty" yaml:"rows,omitempty"`               // optional row estimate/counted value
	Comment     *string  `json:"comment,omitempty" yaml:"comment,omitempty"`         // optional table comment
	Size8kPages int64    `json:"size8kPages,omitempty" yaml:"size8kPages,omitempty"` // optional size in 8k pages
}

// Schema is the full DB schema extracted for visualization.
type Schema struct {
	Database    string       `json:"database,omitempty" yaml:"database,omitempty"`
	Tables      []Table      `json:"tables" yaml:"tables"`
	ForeignKeys []ForeignKey `json:"foreign_keys" yaml:"foreign_keys"`
}

// Sort orders tables by schema and name and foreign keys by source table and
// constraint, so that output is stable across dialects.
func (s *Schema) Sort() {
	slices.SortStableFunc(s.Tables, func(a, b Table) int {
		return cmp.Or(cmp.Compare(a.Schema, b.Schema), cmp.Compare(a.Name, b.Name))
	})
	slices.SortStableFunc(s.ForeignKeys, func(a, b ForeignKey) int {
		return cmp.Or(
			cmp.Compare(a.FromSchema, b.FromSchema),
			cmp.Compare(a.FromTable, b.FromTable),
			cmp.Compare(a.Constraint, b.Constraint),
		)
	})
}

// Table returns the named table, or nil.
func (s *Schema) Table(schema, name string) *Table {
	for i := range s.Tables {
		if s.Tables[i].Schema == schema && s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}
