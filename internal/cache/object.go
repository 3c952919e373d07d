package cache

import (
	"context"

	"github.com/cockroachdb/errors"

	"dbmeta/internal/logger"
)

// ObjectSpec describes how an ObjectCache is populated.
type ObjectSpec[O Owner, T any] struct {
	// Name identifies the cache in logs and metrics.
	Name string
	// Key returns the identifying name of an object.
	Key func(T) string
	// List builds the query that returns every object of the owner.
	List func(owner O) Query
	// Fetch maps one row to an object. Returning an error marked with
	// ErrSkipRow drops the row.
	Fetch func(ctx context.Context, owner O, row *Row) (T, error)
}

// ObjectCache memoizes all objects of one kind owned by a container.
type ObjectCache[O Owner, T any] struct {
	cfg   config
	spec  ObjectSpec[O, T]
	store *store[T]
}

// NewObjectCache returns an empty cache.
func NewObjectCache[O Owner, T any](spec ObjectSpec[O, T], opts ...Option) *ObjectCache[O, T] {
	c := &ObjectCache[O, T]{spec: spec, cfg: newConfig(spec.Name, opts)}
	c.store = newStore(&c.cfg, spec.Key)
	return c
}

// Name returns the cache name.
func (c *ObjectCache[O, T]) Name() string { return c.cfg.name }

// Key returns the cache key of v.
func (c *ObjectCache[O, T]) Key(v T) string { return c.spec.Key(v) }

// All returns every object, running the list query on first use. The result
// keeps query order unless a list order was set.
func (c *ObjectCache[O, T]) All(ctx context.Context, owner O) ([]T, error) {
	if items, ok := c.store.full(); ok {
		return items, nil
	}
	release, err := c.store.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	if items, ok := c.store.full(); ok {
		return items, nil
	}
	return c.populate(ctx, owner)
}

// populate runs the list query. The caller holds the population gate.
func (c *ObjectCache[O, T]) populate(ctx context.Context, owner O) ([]T, error) {
	gen := c.store.generation()
	items, err := c.load(ctx, owner, KindAll, c.spec.List(owner))
	if err != nil {
		return nil, err
	}
	if !c.store.replaceAll(gen, items) {
		logger.Debug("%s: cache cleared during population, result not kept", c.cfg.name)
		return items, nil
	}
	return c.store.snapshot(), nil
}

func (c *ObjectCache[O, T]) load(ctx context.Context, owner O, kind string, q Query) ([]T, error) {
	var items []T
	p := c.cfg.begin(kind)
	err := Run(ctx, owner.Executor(), q, func(row *Row) error {
		p.rows++
		obj, err := c.spec.Fetch(ctx, owner, row)
		if err != nil {
			if IsSkip(err) {
				logger.Debug("%s: %v", c.cfg.name, err)
				c.cfg.skipped(err)
				return nil
			}
			return err
		}
		items = append(items, obj)
		return nil
	})
	p.done(err)
	if err != nil {
		if IsCanceled(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "load %s", c.cfg.name)
	}
	return items, nil
}

// Cached returns the memoized objects without any I/O.
func (c *ObjectCache[O, T]) Cached() []T {
	return c.store.snapshot()
}

// CachedObject returns the memoized object with the given key without I/O.
func (c *ObjectCache[O, T]) CachedObject(key string) (T, bool) {
	return c.store.get(key)
}

// CacheObject inserts or replaces obj, typically after a successful create.
func (c *ObjectCache[O, T]) CacheObject(obj T) {
	c.store.put(obj)
}

// RemoveObject evicts obj, typically after a successful drop.
func (c *ObjectCache[O, T]) RemoveObject(obj T) {
	c.store.remove(c.spec.Key(obj))
}

// Clear drops every object and resets the cache to Empty. A population that
// is in flight is not memoized.
func (c *ObjectCache[O, T]) Clear() {
	c.store.clear()
}

// SetListOrder sorts the memoized list with cmp after every population.
func (c *ObjectCache[O, T]) SetListOrder(cmp func(a, b T) int) {
	c.store.setOrder(cmp)
}

// State returns the population state.
func (c *ObjectCache[O, T]) State() State {
	return c.store.getState()
}

// IsFullyPopulated reports whether the full list is memoized.
func (c *ObjectCache[O, T]) IsFullyPopulated() bool {
	return c.State() == Full
}
