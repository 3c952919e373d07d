package cache

import (
	"strings"
	"time"
)

// Load kinds reported to observers.
const (
	KindAll       = "all"
	KindLookup    = "lookup"
	KindChildren  = "children"
	KindComposite = "composite"
)

// Observer receives population events. Implementations must be safe for
// concurrent use.
type Observer interface {
	// Populated is called once per executed query, successful or not.
	Populated(cache, kind string, rows int, elapsed time.Duration, err error)
	// Skipped is called for each row dropped because of inconsistent data.
	Skipped(cache string, reason error)
}

// Option configures a cache.
type Option func(*config)

type config struct {
	name     string
	observer Observer
	fold     bool
}

// WithObserver reports population events to o.
func WithObserver(o Observer) Option {
	return func(c *config) { c.observer = o }
}

// WithFoldedKeys makes key lookups case-insensitive, for catalogs with a
// case-insensitive collation.
func WithFoldedKeys() Option {
	return func(c *config) { c.fold = true }
}

func newConfig(name string, opts []Option) config {
	c := config{name: name}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *config) normalize(key string) string {
	if c.fold {
		return strings.ToLower(key)
	}
	return key
}

func (c *config) skipped(reason error) {
	if c.observer != nil {
		c.observer.Skipped(c.name, reason)
	}
}
