package generic

import (
	"context"

	"dbmeta/internal/navigator"
)

// Node returns the navigator root for c.
func (c *Catalog) Node() navigator.Node {
	return &navigator.Item{
		NodeName: c.dialect.Name,
		NodeKind: "catalog",
		List:     navigator.Lister(c.Schemas, (*Schema).Node),
		Lookup: func(ctx context.Context, name string) (navigator.Node, error) {
			s, err := c.Schema(ctx, name)
			if err != nil {
				return nil, err
			}
			if s == nil {
				return nil, navigator.Missing("schema", name)
			}
			return s.Node(), nil
		},
		Reload: c.Refresh,
	}
}

func (s *Schema) Node() navigator.Node {
	folders := []navigator.Node{
		navigator.Folder("tables", navigator.Lister(s.Tables, (*Table).Node)),
		navigator.Folder("views", navigator.Lister(s.Views, (*Table).Node)),
	}
	return &navigator.Item{
		NodeName: s.Name,
		NodeKind: "schema",
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
	props := map[string]any{}
	if t.Comment != "" {
		props["comment"] = t.Comment
	}
	if t.Pages8k > 0 {
		props["pages8k"] = t.Pages8k
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
	folders := []navigator.Node{columns}
	if t.View {
		item.NodeKind = "view"
		if t.schema.cat.dialect.ViewSource != nil {
			item.Text = t.Source
		}
	} else {
		folders = append(folders, navigator.Folder("constraints", navigator.Lister(t.Constraints, (*Constraint).Node)))
	}
	item.List = func(context.Context) ([]navigator.Node, error) {
		return folders, nil
	}
	return item
}

func (c *Column) Node() navigator.Node {
	props := map[string]any{
		"type":     c.Type,
		"position": c.Position,
		"nullable": c.Nullable,
	}
	if c.Default != nil {
		props["default"] = *c.Default
	}
	return &navigator.Item{NodeName: c.Name, NodeKind: "column", Props: props}
}

func (k *Constraint) Node() navigator.Node {
	props := map[string]any{"columns": keyColumns(k)}
	if k.Type == ForeignKey {
		props["ref_schema"] = k.RefTable.schema.Name
		props["ref_table"] = k.RefTable.Name
		props["ref_columns"] = refColumns(k)
		props["on_update"] = k.UpdateRule
		props["on_delete"] = k.DeleteRule
	}
	return &navigator.Item{NodeName: k.Name, NodeKind: k.Type.String(), Props: props}
}
