package cache

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"

	"dbmeta/internal/logger"
)

// StructSpec describes a LookupCache whose objects own children.
type StructSpec[O Owner, T any, C any] struct {
	LookupSpec[O, T]
	// ChildKey returns the name of a child, unique within its parent.
	ChildKey func(C) string
	// ParentColumn names the result column that carries the parent key in
	// children rows.
	ParentColumn string
	// ChildrenOfAll builds the query returning the children of every object
	// of the owner. Rows should be ordered by parent, then child order; rows
	// of different parents may interleave.
	ChildrenOfAll func(owner O) Query
	// ChildrenOf builds the query returning the children of one parent.
	ChildrenOf func(owner O, parent T) Query
	// FetchChild maps one row to a child of parent.
	FetchChild func(ctx context.Context, owner O, parent T, row *Row) (C, error)
}

// StructCache memoizes parents through lookup semantics and their children
// through a second, batched query. Whether children are loaded is tracked per
// parent, so a parent fetched after a container-wide load still gets its own
// children query.
type StructCache[O Owner, T any, C any] struct {
	*LookupCache[O, T]
	cs StructSpec[O, T, C]

	// guarded by store.mu
	children  map[string][]C
	allLoaded bool
	childGen  uint64
}

// NewStructCache returns an empty struct cache.
func NewStructCache[O Owner, T any, C any](spec StructSpec[O, T, C], opts ...Option) *StructCache[O, T, C] {
	return &StructCache[O, T, C]{
		LookupCache: NewLookupCache(spec.LookupSpec, opts...),
		cs:          spec,
		children:    map[string][]C{},
	}
}

// Children returns the children of parent, loading them with a single-parent
// query unless they are memoized.
func (c *StructCache[O, T, C]) Children(ctx context.Context, owner O, parent T) ([]C, error) {
	key := c.store.keyOf(parent)
	if kids, ok := c.CachedChildren(parent); ok {
		return kids, nil
	}
	release, err := c.store.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	if kids, ok := c.CachedChildren(parent); ok {
		return kids, nil
	}

	gen := c.childGeneration()
	buckets, err := c.loadChildren(ctx, owner, &parent)
	if err != nil {
		return nil, err
	}
	kids := buckets[key]
	if kids == nil {
		kids = []C{}
	}
	c.store.mu.Lock()
	if gen == c.childGen {
		c.children[key] = kids
	}
	c.store.mu.Unlock()
	return slices.Clone(kids), nil
}

// AllChildren loads the children of every parent with one query and returns
// them grouped in parent order. Parents are populated first.
func (c *StructCache[O, T, C]) AllChildren(ctx context.Context, owner O) ([]C, error) {
	parents, err := c.All(ctx, owner)
	if err != nil {
		return nil, err
	}
	if kids, ok := c.allCached(parents); ok {
		return kids, nil
	}
	release, err := c.store.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	if kids, ok := c.allCached(parents); ok {
		return kids, nil
	}

	gen := c.childGeneration()
	buckets, err := c.loadChildren(ctx, owner, nil)
	if err != nil {
		return nil, err
	}

	var out []C
	c.store.mu.Lock()
	keep := gen == c.childGen
	for _, p := range c.store.items {
		k := c.store.keyOf(p)
		kids := buckets[k]
		if kids == nil {
			kids = []C{}
		}
		if keep {
			c.children[k] = kids
		}
		out = append(out, kids...)
	}
	if keep {
		c.allLoaded = true
	}
	c.store.mu.Unlock()
	return out, nil
}

func (c *StructCache[O, T, C]) allCached(parents []T) ([]C, bool) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if !c.allLoaded {
		return nil, false
	}
	var out []C
	for _, p := range parents {
		kids, ok := c.children[c.store.keyOf(p)]
		if !ok {
			return nil, false
		}
		out = append(out, kids...)
	}
	return out, true
}

// loadChildren runs one children query and demultiplexes the rows into
// per-parent buckets. With a nil parent, each row's parent is resolved from
// the memoized parents; rows whose parent is unknown are skipped.
func (c *StructCache[O, T, C]) loadChildren(ctx context.Context, owner O, parent *T) (map[string][]C, error) {
	var q Query
	if parent != nil {
		q = c.cs.ChildrenOf(owner, *parent)
	} else {
		q = c.cs.ChildrenOfAll(owner)
	}
	buckets := map[string][]C{}
	p := c.cfg.begin(KindChildren)
	err := Run(ctx, owner.Executor(), q, func(row *Row) error {
		p.rows++
		var (
			owning T
			key    string
		)
		if parent != nil {
			owning = *parent
			key = c.store.keyOf(owning)
		} else {
			name := row.String(c.cs.ParentColumn)
			obj, ok := c.store.get(name)
			if !ok {
				reason := Skip("child row references unknown parent %q", name)
				logger.Debug("%s: %v", c.cfg.name, reason)
				c.cfg.skipped(reason)
				return nil
			}
			owning = obj
			key = c.store.keyOf(obj)
		}
		child, err := c.cs.FetchChild(ctx, owner, owning, row)
		if err != nil {
			if IsSkip(err) {
				logger.Debug("%s: %v", c.cfg.name, err)
				c.cfg.skipped(err)
				return nil
			}
			return err
		}
		buckets[key] = append(buckets[key], child)
		return nil
	})
	p.done(err)
	if err != nil {
		if IsCanceled(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "load %s children", c.cfg.name)
	}
	return buckets, nil
}

// Child returns the child of parent named name, loading the parent's
// children if needed.
func (c *StructCache[O, T, C]) Child(ctx context.Context, owner O, parent T, name string) (C, bool, error) {
	var zero C
	kids, err := c.Children(ctx, owner, parent)
	if err != nil {
		return zero, false, err
	}
	want := c.cfg.normalize(name)
	for _, kid := range kids {
		if c.cfg.normalize(c.cs.ChildKey(kid)) == want {
			return kid, true, nil
		}
	}
	return zero, false, nil
}

// CachedChildren returns the memoized children of parent without I/O.
func (c *StructCache[O, T, C]) CachedChildren(parent T) ([]C, bool) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	kids, ok := c.children[c.store.keyOf(parent)]
	if !ok {
		return nil, false
	}
	return slices.Clone(kids), true
}

// ClearChildren forgets the children of parent only.
func (c *StructCache[O, T, C]) ClearChildren(parent T) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.dropChildrenLocked(c.store.keyOf(parent))
}

func (c *StructCache[O, T, C]) dropChildrenLocked(key string) {
	delete(c.children, key)
	c.allLoaded = false
	c.childGen++
}

func (c *StructCache[O, T, C]) childGeneration() uint64 {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.childGen
}

// RemoveObject evicts obj together with its children.
func (c *StructCache[O, T, C]) RemoveObject(obj T) {
	c.ObjectCache.RemoveObject(obj)
	c.ClearChildren(obj)
}

// Refresh re-reads obj and forgets its children.
func (c *StructCache[O, T, C]) Refresh(ctx context.Context, owner O, obj T) (T, bool, error) {
	fresh, ok, err := c.LookupCache.Refresh(ctx, owner, obj)
	if err != nil {
		return fresh, ok, err
	}
	c.ClearChildren(obj)
	return fresh, ok, nil
}

// Clear drops parents and children.
func (c *StructCache[O, T, C]) Clear() {
	c.store.clear()
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	clear(c.children)
	c.allLoaded = false
	c.childGen++
}
