package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dbmeta/internal/cache"
)

// Sequence is a row of sys.sequences.
type Sequence struct {
	Schema *Schema

	ID        int64
	Name      string
	Current   int64
	Min       int64
	Max       int64
	Increment int64
	Cycle     bool
}

// Synonym is a row of sys.synonyms.
type Synonym struct {
	Schema *Schema

	ID         int64
	Name       string
	BaseObject string
}

// Procedure is a row of sys.procedures.
type Procedure struct {
	Schema *Schema

	ID       int64
	Name     string
	Type     string
	Modified time.Time
}

// Parameter is a row of sys.parameters.
type Parameter struct {
	Procedure *Procedure

	ID        int
	Name      string
	TypeName  string
	MaxLength int
	Precision int
	Scale     int
	Output    bool
	// HasDefault is set for CLR parameters that declare a default.
	HasDefault bool
}

// Trigger is a row of sys.triggers. Table is the table or view it fires on.
type Trigger struct {
	Table *Table

	ID        int64
	Name      string
	Disabled  bool
	InsteadOf bool
}

func sequenceSpec() cache.ObjectSpec[*Schema, *Sequence] {
	return cache.ObjectSpec[*Schema, *Sequence]{
		Name: "sequences",
		Key:  func(q *Sequence) string { return q.Name },
		List: func(s *Schema) cache.Query {
			return cache.NewQuery("SELECT * FROM "+s.table("sequences")+" WHERE schema_id = @schema ORDER BY name", s.id())
		},
		Fetch: func(_ context.Context, s *Schema, r *cache.Row) (*Sequence, error) {
			return &Sequence{
				Schema:    s,
				ID:        r.Int64("object_id"),
				Name:      r.String("name"),
				Current:   r.Int64("current_value"),
				Min:       r.Int64("minimum_value"),
				Max:       r.Int64("maximum_value"),
				Increment: r.Int64("increment"),
				Cycle:     r.Bool("is_cycling"),
			}, nil
		},
	}
}

func synonymSpec() cache.ObjectSpec[*Schema, *Synonym] {
	return cache.ObjectSpec[*Schema, *Synonym]{
		Name: "synonyms",
		Key:  func(y *Synonym) string { return y.Name },
		List: func(s *Schema) cache.Query {
			return cache.NewQuery("SELECT * FROM "+s.table("synonyms")+" WHERE schema_id = @schema ORDER BY name", s.id())
		},
		Fetch: func(_ context.Context, s *Schema, r *cache.Row) (*Synonym, error) {
			return &Synonym{
				Schema:     s,
				ID:         r.Int64("object_id"),
				Name:       r.String("name"),
				BaseObject: r.String("base_object_name"),
			}, nil
		},
	}
}

const parameterRows = `SELECT p.name AS proc_name, pp.*, ty.name AS type_name
FROM %[1]s p
JOIN %[2]s pp ON p.object_id = pp.object_id
LEFT OUTER JOIN %[3]s ty ON ty.user_type_id = pp.user_type_id
WHERE %[4]s
ORDER BY pp.object_id, pp.parameter_id`

func (s *Schema) parameterQuery(cond string, arg sql.NamedArg) cache.Query {
	q := fmt.Sprintf(parameterRows, s.table("procedures"), s.table("parameters"), s.table("types"), cond)
	return cache.NewQuery(q, arg)
}

func procedureSpec() cache.StructSpec[*Schema, *Procedure, *Parameter] {
	return cache.StructSpec[*Schema, *Procedure, *Parameter]{
		LookupSpec: cache.LookupSpec[*Schema, *Procedure]{
			ObjectSpec: cache.ObjectSpec[*Schema, *Procedure]{
				Name: "procedures",
				Key:  func(p *Procedure) string { return p.Name },
				List: func(s *Schema) cache.Query {
					return cache.NewQuery("SELECT * FROM "+s.table("procedures")+" WHERE schema_id = @schema ORDER BY name", s.id())
				},
				Fetch: func(_ context.Context, s *Schema, r *cache.Row) (*Procedure, error) {
					return &Procedure{
						Schema:   s,
						ID:       r.Int64("object_id"),
						Name:     r.String("name"),
						Type:     r.Trimmed("type"),
						Modified: r.Time("modify_date"),
					}, nil
				},
			},
			Lookup: func(s *Schema, name string) cache.Query {
				return cache.NewQuery("SELECT * FROM "+s.table("procedures")+" WHERE schema_id = @schema AND name = @name",
					s.id(), sql.Named("name", name))
			},
		},
		ChildKey:     func(p *Parameter) string { return p.Name },
		ParentColumn: "proc_name",
		ChildrenOfAll: func(s *Schema) cache.Query {
			return s.parameterQuery("p.schema_id = @schema", s.id())
		},
		ChildrenOf: func(s *Schema, p *Procedure) cache.Query {
			return s.parameterQuery("p.object_id = @proc", sql.Named("proc", p.ID))
		},
		FetchChild: func(_ context.Context, _ *Schema, p *Procedure, r *cache.Row) (*Parameter, error) {
			return &Parameter{
				Procedure:  p,
				ID:         r.Int("parameter_id"),
				Name:       r.String("name"),
				TypeName:   r.String("type_name"),
				MaxLength:  r.Int("max_length"),
				Precision:  r.Int("precision"),
				Scale:      r.Int("scale"),
				Output:     r.Bool("is_output"),
				HasDefault: r.Bool("has_default_value"),
			}, nil
		},
	}
}

// Parameters lists the parameters of p in declaration order.
func (p *Procedure) Parameters(ctx context.Context) ([]*Parameter, error) {
	return p.Schema.procedures.Children(ctx, p.Schema, p)
}

// Source returns the body of p.
func (p *Procedure) Source(ctx context.Context) (string, error) {
	return p.Schema.db.ReadSource(ctx, p.ID)
}

const triggerRows = `SELECT t.*
FROM %[1]s t
JOIN %[2]s o ON o.object_id = t.object_id
WHERE o.schema_id = @schema%[3]s
ORDER BY t.name`

func (s *Schema) triggerQuery(extra string, args ...any) cache.Query {
	q := fmt.Sprintf(triggerRows, s.table("triggers"), s.table("all_objects"), extra)
	return cache.NewQuery(q, append([]any{s.id()}, args...)...)
}

func triggerSpec() cache.LookupSpec[*Schema, *Trigger] {
	return cache.LookupSpec[*Schema, *Trigger]{
		ObjectSpec: cache.ObjectSpec[*Schema, *Trigger]{
			Name:  "triggers",
			Key:   func(t *Trigger) string { return t.Name },
			List:  func(s *Schema) cache.Query { return s.triggerQuery("") },
			Fetch: fetchTrigger,
		},
		Lookup: func(s *Schema, name string) cache.Query {
			return s.triggerQuery(" AND t.name = @name", sql.Named("name", name))
		},
	}
}

// fetchTrigger resolves parent_id against the memoized tables of s. Triggers
// whose table is unknown are dropped.
func fetchTrigger(_ context.Context, s *Schema, r *cache.Row) (*Trigger, error) {
	parentID := r.Int64("parent_id")
	var table *Table
	for _, t := range s.tables.Cached() {
		if t.ID == parentID {
			table = t
			break
		}
	}
	if table == nil {
		return nil, cache.Skip("table %d of trigger %s not found in schema %s", parentID, r.String("name"), s.Name)
	}
	return &Trigger{
		Table:     table,
		ID:        r.Int64("object_id"),
		Name:      r.String("name"),
		Disabled:  r.Bool("is_disabled"),
		InsteadOf: r.Bool("is_instead_of_trigger"),
	}, nil
}

// Source returns the body of tr.
func (tr *Trigger) Source(ctx context.Context) (string, error) {
	return tr.Table.schema.db.ReadSource(ctx, tr.ID)
}
