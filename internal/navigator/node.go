// Package navigator exposes catalog object graphs as a uniform tree of named
// nodes. Callers test capabilities instead of asserting concrete types.
package navigator

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrUnsupported is returned when a node lacks the capability a call needs.
	ErrUnsupported = errors.New("operation not supported")
	// ErrNotFound is returned when a child or path does not exist.
	ErrNotFound = errors.New("not found")
)

// Capabilities is a set of optional node behaviours.
type Capabilities uint8

const (
	// CapChildren nodes are containers.
	CapChildren Capabilities = 1 << iota
	// CapRefresh nodes can drop their cached state and reload it.
	CapRefresh
	// CapSource nodes carry source text, such as a view or procedure body.
	CapSource
)

var capNames = []struct {
	c    Capabilities
	name string
}{
	{CapChildren, "children"},
	{CapRefresh, "refresh"},
	{CapSource, "source"},
}

// Has reports whether all of want are present.
func (c Capabilities) Has(want Capabilities) bool {
	return c&want == want
}

// Names lists the capabilities in a fixed order.
func (c Capabilities) Names() []string {
	names := []string{}
	for _, n := range capNames {
		if c.Has(n.c) {
			names = append(names, n.name)
		}
	}
	return names
}

func (c Capabilities) String() string {
	return strings.Join(c.Names(), ",")
}

// Node is one object of a catalog graph.
type Node interface {
	Name() string
	Kind() string
	Capabilities() Capabilities
	// Properties are display attributes; the map must not be modified.
	Properties() map[string]any
	// Children lists child nodes. Without CapChildren it returns ErrUnsupported.
	Children(ctx context.Context) ([]Node, error)
	// Child returns the named child or an error matching ErrNotFound.
	Child(ctx context.Context, name string) (Node, error)
	// Refresh drops cached state below the node.
	Refresh(ctx context.Context) error
	// Source returns the definition text of the node.
	Source(ctx context.Context) (string, error)
}

// Item is a Node assembled from functions. Capabilities follow from which
// functions are set.
type Item struct {
	NodeName string
	NodeKind string
	Props    map[string]any

	List   func(ctx context.Context) ([]Node, error)
	Lookup func(ctx context.Context, name string) (Node, error)
	Reload func(ctx context.Context) error
	Text   func(ctx context.Context) (string, error)
}

var _ Node = (*Item)(nil)

func (it *Item) Name() string { return it.NodeName }
func (it *Item) Kind() string { return it.NodeKind }

func (it *Item) Capabilities() Capabilities {
	var c Capabilities
	if it.List != nil {
		c |= CapChildren
	}
	if it.Reload != nil {
		c |= CapRefresh
	}
	if it.Text != nil {
		c |= CapSource
	}
	return c
}

func (it *Item) Properties() map[string]any { return it.Props }

func (it *Item) Children(ctx context.Context) ([]Node, error) {
	if it.List == nil {
		return nil, errors.Wrapf(ErrUnsupported, "%s %q has no children", it.NodeKind, it.NodeName)
	}
	return it.List(ctx)
}

// Child uses Lookup when set and scans the children otherwise.
func (it *Item) Child(ctx context.Context, name string) (Node, error) {
	if it.List == nil {
		return nil, errors.Wrapf(ErrUnsupported, "%s %q has no children", it.NodeKind, it.NodeName)
	}
	if it.Lookup != nil {
		return it.Lookup(ctx, name)
	}
	kids, err := it.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range kids {
		if k.Name() == name {
			return k, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "%s %q has no child %q", it.NodeKind, it.NodeName, name)
}

func (it *Item) Refresh(ctx context.Context) error {
	if it.Reload == nil {
		return errors.Wrapf(ErrUnsupported, "%s %q cannot be refreshed", it.NodeKind, it.NodeName)
	}
	return it.Reload(ctx)
}

func (it *Item) Source(ctx context.Context) (string, error) {
	if it.Text == nil {
		return "", errors.Wrapf(ErrUnsupported, "%s %q has no source", it.NodeKind, it.NodeName)
	}
	return it.Text(ctx)
}

// Missing returns the error Lookup functions report for an absent child.
func Missing(kind, name string) error {
	return errors.Wrapf(ErrNotFound, "%s %q", kind, name)
}

// Nodes converts a slice of concrete values into nodes with fn.
func Nodes[T any](items []T, fn func(T) Node) []Node {
	out := make([]Node, 0, len(items))
	for _, it := range items {
		out = append(out, fn(it))
	}
	return out
}

// Folder returns a container that groups children of one kind.
func Folder(name string, list func(ctx context.Context) ([]Node, error)) *Item {
	return &Item{NodeName: name, NodeKind: "folder", List: list}
}

// Lister adapts a loader of concrete values to an Item.List function.
func Lister[T any](load func(ctx context.Context) ([]T, error), fn func(T) Node) func(ctx context.Context) ([]Node, error) {
	return func(ctx context.Context) ([]Node, error) {
		items, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return Nodes(items, fn), nil
	}
}
