package cache

import (
	"context"
	"maps"
	"slices"

	"github.com/cockroachdb/errors"

	"dbmeta/internal/logger"
)

// ParentSource is the cache holding the parents of a CompositeCache.
// ObjectCache, LookupCache and StructCache all satisfy it.
type ParentSource[O Owner, P any] interface {
	All(ctx context.Context, owner O) ([]P, error)
	CachedObject(key string) (P, bool)
	Key(P) string
}

// CompositeSpec describes a cache loading objects and their multi-row facets
// from one joined query.
type CompositeSpec[O Owner, P any, T any, C any] struct {
	// Name identifies the cache in logs and metrics.
	Name string
	// Key returns the name of an object, unique within its parent.
	Key func(T) string
	// ParentColumn and ObjectColumn name the result columns carrying the
	// parent key and the object name of each row.
	ParentColumn string
	ObjectColumn string
	// ListAll builds the join over every parent of the owner.
	ListAll func(owner O) Query
	// ListFor builds the same join restricted to one parent.
	ListFor func(owner O, parent P) Query
	// FetchObject builds an object from the first row of its group.
	FetchObject func(ctx context.Context, owner O, parent P, name string, row *Row) (T, error)
	// FetchRow maps every row of a group to zero or more children. An error
	// marked ErrSkipRow drops the row; one made by SkipObject drops the
	// whole object.
	FetchRow func(ctx context.Context, owner O, parent P, object T, row *Row) ([]C, error)
	// Finalize receives each object with its children, in row order, before
	// the object becomes visible.
	Finalize func(object T, children []C)
}

// CompositeCache memoizes objects that belong to the parents of another
// cache, such as the indexes of the tables of a schema.
//
// Rows are grouped by (parent key, object name) with a keyed accumulator, so
// grouping does not depend on row order. Row order still decides the order
// of objects within a parent and of children within an object; backing
// queries should sort by parent, object, then child order.
type CompositeCache[O Owner, P any, T any, C any] struct {
	gate
	cfg     config
	spec    CompositeSpec[O, P, T, C]
	parents ParentSource[O, P]

	// guarded by gate.mu
	objects   map[string][]T
	allLoaded bool
}

// NewCompositeCache returns an empty composite cache over parents.
func NewCompositeCache[O Owner, P any, T any, C any](parents ParentSource[O, P], spec CompositeSpec[O, P, T, C], opts ...Option) *CompositeCache[O, P, T, C] {
	return &CompositeCache[O, P, T, C]{
		cfg:     newConfig(spec.Name, opts),
		spec:    spec,
		parents: parents,
		objects: map[string][]T{},
	}
}

// Name returns the cache name.
func (c *CompositeCache[O, P, T, C]) Name() string { return c.cfg.name }

func (c *CompositeCache[O, P, T, C]) parentKey(p P) string {
	return c.cfg.normalize(c.parents.Key(p))
}

// All returns the objects of every parent, grouped in parent order. The
// parent cache is populated before this cache's gate is taken.
func (c *CompositeCache[O, P, T, C]) All(ctx context.Context, owner O) ([]T, error) {
	parents, err := c.parents.All(ctx, owner)
	if err != nil {
		return nil, err
	}
	if out, ok := c.allCached(parents); ok {
		return out, nil
	}
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	if out, ok := c.allCached(parents); ok {
		return out, nil
	}

	gen := c.generation()
	groups, err := c.load(ctx, owner, nil)
	if err != nil {
		return nil, err
	}
	var out []T
	c.mu.Lock()
	keep := gen == c.gen
	for _, p := range parents {
		k := c.parentKey(p)
		objs := groups[k]
		if objs == nil {
			objs = []T{}
		}
		if keep {
			c.objects[k] = objs
		}
		out = append(out, objs...)
	}
	if keep {
		c.allLoaded = true
	}
	c.mu.Unlock()
	return out, nil
}

func (c *CompositeCache[O, P, T, C]) allCached(parents []P) ([]T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.allLoaded {
		return nil, false
	}
	var out []T
	for _, p := range parents {
		objs, ok := c.objects[c.parentKey(p)]
		if !ok {
			return nil, false
		}
		out = append(out, objs...)
	}
	return out, true
}

// ObjectsOf returns the objects of one parent, running the join restricted
// to that parent unless they are memoized.
func (c *CompositeCache[O, P, T, C]) ObjectsOf(ctx context.Context, owner O, parent P) ([]T, error) {
	if objs, ok := c.CachedObjects(parent); ok {
		return objs, nil
	}
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	if objs, ok := c.CachedObjects(parent); ok {
		return objs, nil
	}

	gen := c.generation()
	groups, err := c.load(ctx, owner, &parent)
	if err != nil {
		return nil, err
	}
	k := c.parentKey(parent)
	objs := groups[k]
	if objs == nil {
		objs = []T{}
	}
	c.mu.Lock()
	if gen == c.gen {
		c.objects[k] = objs
	}
	c.mu.Unlock()
	return slices.Clone(objs), nil
}

// Object returns the object of parent named name.
func (c *CompositeCache[O, P, T, C]) Object(ctx context.Context, owner O, parent P, name string) (T, bool, error) {
	var zero T
	objs, err := c.ObjectsOf(ctx, owner, parent)
	if err != nil {
		return zero, false, err
	}
	want := c.cfg.normalize(name)
	for _, o := range objs {
		if c.cfg.normalize(c.spec.Key(o)) == want {
			return o, true, nil
		}
	}
	return zero, false, nil
}

type group[P any, T any, C any] struct {
	parentKey string
	parent    P
	object    T
	children  []C
	skipped   bool
}

// load runs the join once and returns the finalized objects per parent key.
func (c *CompositeCache[O, P, T, C]) load(ctx context.Context, owner O, forParent *P) (map[string][]T, error) {
	var q Query
	if forParent != nil {
		q = c.spec.ListFor(owner, *forParent)
	} else {
		q = c.spec.ListAll(owner)
	}

	index := map[string]*group[P, T, C]{}
	var order []*group[P, T, C]
	p := c.cfg.begin(KindComposite)
	err := Run(ctx, owner.Executor(), q, func(row *Row) error {
		p.rows++
		var parent P
		if forParent != nil {
			parent = *forParent
		} else {
			name := row.String(c.spec.ParentColumn)
			found, ok := c.parents.CachedObject(name)
			if !ok {
				c.skip(Skip("row references unknown parent %q", name))
				return nil
			}
			parent = found
		}
		pk := c.parentKey(parent)
		name := row.String(c.spec.ObjectColumn)
		gk := pk + "\x00" + c.cfg.normalize(name)

		g, seen := index[gk]
		if !seen {
			g = &group[P, T, C]{parentKey: pk, parent: parent}
			index[gk] = g
			obj, err := c.spec.FetchObject(ctx, owner, parent, name, row)
			if err != nil {
				if !IsSkip(err) {
					return err
				}
				g.skipped = true
				c.skip(err)
				return nil
			}
			g.object = obj
			order = append(order, g)
		}
		if g.skipped {
			return nil
		}
		kids, err := c.spec.FetchRow(ctx, owner, parent, g.object, row)
		if err != nil {
			if !IsSkip(err) {
				return err
			}
			g.skipped = errors.Is(err, ErrSkipObject)
			c.skip(err)
			return nil
		}
		g.children = append(g.children, kids...)
		return nil
	})
	p.done(err)
	if err != nil {
		if IsCanceled(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "load %s", c.cfg.name)
	}

	groups := map[string][]T{}
	for _, g := range order {
		if g.skipped {
			continue
		}
		if c.spec.Finalize != nil {
			c.spec.Finalize(g.object, g.children)
		}
		groups[g.parentKey] = append(groups[g.parentKey], g.object)
	}
	return groups, nil
}

func (c *CompositeCache[O, P, T, C]) skip(reason error) {
	logger.Debug("%s: %v", c.cfg.name, reason)
	c.cfg.skipped(reason)
}

// CachedObjects returns the memoized objects of parent without I/O.
func (c *CompositeCache[O, P, T, C]) CachedObjects(parent P) ([]T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	objs, ok := c.objects[c.parentKey(parent)]
	if !ok {
		return nil, false
	}
	return slices.Clone(objs), true
}

// Cached returns every memoized object without I/O, grouped by parent in
// parent key order.
func (c *CompositeCache[O, P, T, C]) Cached() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []T
	for _, k := range slices.Sorted(maps.Keys(c.objects)) {
		out = append(out, c.objects[k]...)
	}
	return out
}

// CacheObject inserts or replaces obj under parent. It is a no-op while the
// parent's objects were never loaded.
func (c *CompositeCache[O, P, T, C]) CacheObject(parent P, obj T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.parentKey(parent)
	objs, ok := c.objects[k]
	if !ok {
		return
	}
	name := c.cfg.normalize(c.spec.Key(obj))
	for i, o := range objs {
		if c.cfg.normalize(c.spec.Key(o)) == name {
			objs[i] = obj
			return
		}
	}
	c.objects[k] = append(objs, obj)
}

// RemoveObject evicts obj from parent. Like CacheObject it leaves parents
// whose objects were never loaded alone.
func (c *CompositeCache[O, P, T, C]) RemoveObject(parent P, obj T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.parentKey(parent)
	objs, ok := c.objects[k]
	if !ok {
		return
	}
	name := c.cfg.normalize(c.spec.Key(obj))
	c.objects[k] = slices.DeleteFunc(objs, func(o T) bool {
		return c.cfg.normalize(c.spec.Key(o)) == name
	})
}

// ClearParent forgets the objects of one parent.
func (c *CompositeCache[O, P, T, C]) ClearParent(parent P) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, c.parentKey(parent))
	c.allLoaded = false
	c.gen++
}

// Clear forgets everything.
func (c *CompositeCache[O, P, T, C]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.objects)
	c.allLoaded = false
	c.gen++
}

// State returns Full after a whole-owner load, Partial when only some
// parents are loaded and Empty otherwise.
func (c *CompositeCache[O, P, T, C]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.allLoaded:
		return Full
	case len(c.objects) > 0:
		return Partial
	}
	return Empty
}
