package navigator

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

// SkipChildren may be returned by a WalkFunc to skip the children of the
// current node.
var SkipChildren = errors.New("skip children")

var (
	escaper   = strings.NewReplacer("~", "~0", "/", "~1")
	unescaper = strings.NewReplacer("~1", "/", "~0", "~")
)

// Escape encodes name as one path segment.
func Escape(name string) string {
	return escaper.Replace(name)
}

// Join builds a path from raw names.
func Join(names ...string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = Escape(n)
	}
	return strings.Join(parts, "/")
}

// Split decodes a slash separated path. Empty segments are ignored.
func Split(path string) []string {
	var names []string
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		names = append(names, unescaper.Replace(seg))
	}
	return names
}

// Resolve follows path from root. An empty path resolves to root.
func Resolve(ctx context.Context, root Node, path string) (Node, error) {
	n := root
	for _, name := range Split(path) {
		if !n.Capabilities().Has(CapChildren) {
			return nil, errors.Wrapf(ErrNotFound, "%s %q is not a container", n.Kind(), n.Name())
		}
		child, err := n.Child(ctx, name)
		if err != nil {
			return nil, err
		}
		n = child
	}
	return n, nil
}

// WalkFunc visits one node. path is relative to the walk root.
type WalkFunc func(path string, depth int, n Node) error

// Walk visits root and its descendants depth first, down to maxDepth levels
// below root. A negative maxDepth walks the whole tree.
func Walk(ctx context.Context, root Node, maxDepth int, fn WalkFunc) error {
	err := walk(ctx, "", 0, root, maxDepth, fn)
	if errors.Is(err, SkipChildren) {
		return nil
	}
	return err
}

func walk(ctx context.Context, path string, depth int, n Node, maxDepth int, fn WalkFunc) error {
	if err := fn(path, depth, n); err != nil {
		return err
	}
	if maxDepth >= 0 && depth >= maxDepth {
		return nil
	}
	if !n.Capabilities().Has(CapChildren) {
		return nil
	}
	kids, err := n.Children(ctx)
	if err != nil {
		return err
	}
	for _, k := range kids {
		p := Escape(k.Name())
		if path != "" {
			p = path + "/" + p
		}
		err := walk(ctx, p, depth+1, k, maxDepth, fn)
		if err != nil && !errors.Is(err, SkipChildren) {
			return err
		}
	}
	return nil
}

// Info is a serializable snapshot of a subtree.
type Info struct {
	Name         string         `json:"name" yaml:"name"`
	Kind         string         `json:"kind" yaml:"kind"`
	Capabilities []string       `json:"capabilities" yaml:"capabilities"`
	Properties   map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	Children     []Info         `json:"children,omitempty" yaml:"children,omitempty"`
}

// Describe snapshots n and depth levels of descendants.
func Describe(ctx context.Context, n Node, depth int) (Info, error) {
	info := Info{
		Name:         n.Name(),
		Kind:         n.Kind(),
		Capabilities: n.Capabilities().Names(),
		Properties:   n.Properties(),
	}
	if depth == 0 || !n.Capabilities().Has(CapChildren) {
		return info, nil
	}
	kids, err := n.Children(ctx)
	if err != nil {
		return Info{}, err
	}
	info.Children = make([]Info, 0, len(kids))
	for _, k := range kids {
		ki, err := Describe(ctx, k, depth-1)
		if err != nil {
			return Info{}, err
		}
		info.Children = append(info.Children, ki)
	}
	return info, nil
}
