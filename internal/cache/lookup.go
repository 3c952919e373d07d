package cache

import "context"

// LookupSpec describes an ObjectCache that can also fetch single objects.
type LookupSpec[O Owner, T any] struct {
	ObjectSpec[O, T]
	// Lookup builds the query that returns at most the one object named name.
	Lookup func(owner O, name string) Query
}

// LookupCache is an ObjectCache that resolves single names without running
// the full listing. Objects fetched this way leave the cache Partial, so a
// later All still runs the full query once.
type LookupCache[O Owner, T any] struct {
	*ObjectCache[O, T]
	lookup func(owner O, name string) Query
}

// NewLookupCache returns an empty lookup cache.
func NewLookupCache[O Owner, T any](spec LookupSpec[O, T], opts ...Option) *LookupCache[O, T] {
	return &LookupCache[O, T]{
		ObjectCache: NewObjectCache(spec.ObjectSpec, opts...),
		lookup:      spec.Lookup,
	}
}

// Get returns the object named name. A fully populated cache answers from
// memory; otherwise a cached object is returned as is and a miss runs the
// lookup query. The bool result is false when no such object exists.
func (c *LookupCache[O, T]) Get(ctx context.Context, owner O, name string) (T, bool, error) {
	var zero T
	if obj, ok := c.store.get(name); ok {
		return obj, true, nil
	}
	if c.store.getState() == Full {
		return zero, false, nil
	}
	release, err := c.store.acquire(ctx)
	if err != nil {
		return zero, false, err
	}
	defer release()
	if obj, ok := c.store.get(name); ok {
		return obj, true, nil
	}
	if c.store.getState() == Full {
		return zero, false, nil
	}
	return c.fetchOne(ctx, owner, name)
}

// fetchOne runs the lookup query for name and memoizes the result. The
// caller holds the population gate.
func (c *LookupCache[O, T]) fetchOne(ctx context.Context, owner O, name string) (T, bool, error) {
	var zero T
	gen := c.store.generation()
	items, err := c.load(ctx, owner, KindLookup, c.lookup(owner, name))
	if err != nil || len(items) == 0 {
		return zero, false, err
	}
	obj := items[len(items)-1]
	if c.store.generation() == gen {
		c.store.put(obj)
	}
	return obj, true, nil
}

// Refresh re-reads obj from the catalog and replaces the cached entry. When
// the object no longer exists it is evicted, the cache stops being Full and
// the bool result is false.
func (c *LookupCache[O, T]) Refresh(ctx context.Context, owner O, obj T) (T, bool, error) {
	var zero T
	name := c.spec.Key(obj)
	release, err := c.store.acquire(ctx)
	if err != nil {
		return zero, false, err
	}
	defer release()

	gen := c.store.generation()
	items, err := c.load(ctx, owner, KindLookup, c.lookup(owner, name))
	if err != nil {
		return zero, false, err
	}
	if len(items) == 0 {
		c.store.evict(name)
		return zero, false, nil
	}
	fresh := items[len(items)-1]
	if c.store.generation() == gen {
		if c.cfg.normalize(c.spec.Key(fresh)) != c.cfg.normalize(name) {
			c.store.remove(name)
		}
		c.store.put(fresh)
	}
	return fresh, true, nil
}
