package mssql

import (
	"context"

	"dbmeta/internal/navigator"
)

// Node returns the navigator root for ds.
func (ds *DataSource) Node() navigator.Node {
	return &navigator.Item{
		NodeName: "sqlserver",
		NodeKind: "datasource",
		List:     navigator.Lister(ds.Databases, (*Database).Node),
		Lookup: func(ctx context.Context, name string) (navigator.Node, error) {
			d, err := ds.Database(ctx, name)
			if err != nil {
				return nil, err
			}
			if d == nil {
				return nil, navigator.Missing("database", name)
			}
			return d.Node(), nil
		},
		Reload: func(context.Context) error {
			ds.Refresh()
			return nil
		},
	}
}

func (d *Database) Node() navigator.Node {
	return &navigator.Item{
		NodeName: d.Name,
		NodeKind: "database",
		Props: map[string]any{
			"id":     d.ID,
			"state":  d.State,
			"system": d.System(),
		},
		List: navigator.Lister(d.Schemas, (*Schema).Node),
		Lookup: func(ctx context.Context, name string) (navigator.Node, error) {
			s, err := d.Schema(ctx, name)
			if err != nil {
				return nil, err
			}
			if s == nil {
				return nil, navigator.Missing("schema", name)
			}
			return s.Node(), nil
		},
		Reload: func(context.Context) error {
			d.Refresh()
			return nil
		},
	}
}

func (s *Schema) Node() navigator.Node {
	folders := []navigator.Node{
		navigator.Folder("tables", navigator.Lister(s.Tables, (*Table).Node)),
		navigator.Folder("views", navigator.Lister(s.Views, (*Table).Node)),
		navigator.Folder("sequences", navigator.Lister(s.Sequences, (*Sequence).Node)),
		navigator.Folder("synonyms", navigator.Lister(s.Synonyms, (*Synonym).Node)),
		navigator.Folder("procedures", navigator.Lister(s.Procedures, (*Procedure).Node)),
		navigator.Folder("triggers", navigator.Lister(s.Triggers, (*Trigger).Node)),
	}
	return &navigator.Item{
		NodeName: s.Name,
		NodeKind: "schema",
		Props:    map[string]any{"id": s.ID, "system": s.System()},
		List: func(context.Context) ([]navigator.Node, error) {
			return folders, nil
		},
		Reload: func(context.Context) error {
			s.Refresh()
			return nil
		},
	}
}

func (t *Table) Node() navigator.Node {
	props := map[string]any{"id": t.ID, "type": t.Type}
	if t.Comment != "" {
		props["comment"] = t.Comment
	}
	if st, ok := t.Stats(); ok {
		props["rows"] = st.Rows
		props["pages8k"] = st.Pages8k
	}
	item := &navigator.Item{
		NodeName: t.Name,
		NodeKind: "table",
		Props:    props,
		Reload: func(ctx context.Context) error {
			fresh, err := t.Refresh(ctx)
			if err != nil {
				return err
			}
			if fresh == nil {
				return navigator.Missing("table", t.Name)
			}
			return nil
		},
	}
	columns := navigator.Folder("columns", navigator.Lister(t.Columns, (*Column).Node))
	if t.View() {
		item.NodeKind = "view"
		item.Text = t.Source
		item.List = func(context.Context) ([]navigator.Node, error) {
			return []navigator.Node{columns}, nil
		}
		return item
	}
	folders := []navigator.Node{
		columns,
		navigator.Folder("indexes", navigator.Lister(t.Indexes, (*Index).Node)),
		navigator.Folder("keys", navigator.Lister(t.UniqueKeys, (*UniqueKey).Node)),
		navigator.Folder("foreign keys", navigator.Lister(t.ForeignKeys, (*ForeignKey).Node)),
		navigator.Folder("triggers", navigator.Lister(t.Triggers, (*Trigger).Node)),
	}
	item.List = func(context.Context) ([]navigator.Node, error) {
		return folders, nil
	}
	return item
}

func (c *Column) Node() navigator.Node {
	props := map[string]any{
		"id":       c.ID,
		"type":     c.TypeName,
		"nullable": c.Nullable,
	}
	if c.Identity {
		props["identity"] = true
	}
	if c.Computed {
		props["computed"] = true
	}
	if c.HasDefault {
		props["default"] = c.Default
	}
	return &navigator.Item{NodeName: c.Name, NodeKind: "column", Props: props}
}

func columnNames(cols []*IndexColumn) []string {
	names := make([]string, 0, len(cols))
	for _, ic := range cols {
		if ic.Column != nil {
			names = append(names, ic.Column.Name)
		}
	}
	return names
}

func (ix *Index) Node() navigator.Node {
	return &navigator.Item{
		NodeName: ix.Name,
		NodeKind: "index",
		Props: map[string]any{
			"id":       ix.ID,
			"kind":     ix.Kind.String(),
			"unique":   ix.Unique,
			"disabled": ix.Disabled,
			"columns":  columnNames(ix.Columns),
		},
	}
}

func (k *UniqueKey) Node() navigator.Node {
	kind := "unique key"
	if k.Primary {
		kind = "primary key"
	}
	return &navigator.Item{
		NodeName: k.Name,
		NodeKind: kind,
		Props: map[string]any{
			"index":   k.Index.Name,
			"columns": columnNames(k.Columns()),
		},
	}
}

func (fk *ForeignKey) Node() navigator.Node {
	from := make([]string, 0, len(fk.Columns))
	to := make([]string, 0, len(fk.Columns))
	for _, c := range fk.Columns {
		from = append(from, c.Column.Name)
		to = append(to, c.RefColumn.Name)
	}
	return &navigator.Item{
		NodeName: fk.Name,
		NodeKind: "foreign key",
		Props: map[string]any{
			"columns":     from,
			"ref_schema":  fk.RefTable.schema.Name,
			"ref_table":   fk.RefTable.Name,
			"ref_columns": to,
			"on_delete":   fk.DeleteRule.String(),
			"on_update":   fk.UpdateRule.String(),
			"disabled":    fk.Disabled,
		},
	}
}

func (q *Sequence) Node() navigator.Node {
	return &navigator.Item{
		NodeName: q.Name,
		NodeKind: "sequence",
		Props: map[string]any{
			"current":   q.Current,
			"min":       q.Min,
			"max":       q.Max,
			"increment": q.Increment,
			"cycle":     q.Cycle,
		},
	}
}

func (y *Synonym) Node() navigator.Node {
	return &navigator.Item{
		NodeName: y.Name,
		NodeKind: "synonym",
		Props:    map[string]any{"base_object": y.BaseObject},
	}
}

func (p *Procedure) Node() navigator.Node {
	return &navigator.Item{
		NodeName: p.Name,
		NodeKind: "procedure",
		Props:    map[string]any{"id": p.ID, "type": p.Type},
		List:     navigator.Lister(p.Parameters, (*Parameter).Node),
		Text:     p.Source,
		Reload: func(ctx context.Context) error {
			_, _, err := p.Schema.procedures.Refresh(ctx, p.Schema, p)
			return err
		},
	}
}

func (pp *Parameter) Node() navigator.Node {
	return &navigator.Item{
		NodeName: pp.Name,
		NodeKind: "parameter",
		Props: map[string]any{
			"id":     pp.ID,
			"type":   pp.TypeName,
			"output": pp.Output,
		},
	}
}

func (tr *Trigger) Node() navigator.Node {
	return &navigator.Item{
		NodeName: tr.Name,
		NodeKind: "trigger",
		Props: map[string]any{
			"table":      tr.Table.Name,
			"disabled":   tr.Disabled,
			"instead_of": tr.InsteadOf,
		},
		Text: tr.Source,
	}
}
