package cache

import (
	"context"
	"slices"
	"sync"
)

// State is the population state of a cache.
type State int

const (
	// Empty caches hold nothing and have never been listed.
	Empty State = iota
	// Partial caches hold individually fetched objects; the full list was
	// never loaded, or was invalidated by a refresh miss.
	Partial
	// Full caches hold the complete result of the last full population.
	Full
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Partial:
		return "partial"
	case Full:
		return "full"
	}
	return "unknown"
}

// store is an ordered, keyed memo guarded by one mutex. Population is
// serialized by a gate: at most one population per store is in flight and
// other populators wait for it to finish.
type store[T any] struct {
	gate
	cfg *config
	key func(T) string

	state State
	items []T
	pos   map[string]int
	order func(a, b T) int
}

// gate serializes the populations of one cache. Its mutex also guards the
// state of the cache that embeds it; gen is bumped on every invalidation so
// that a population racing a Clear is not memoized.
type gate struct {
	mu       sync.Mutex
	gen      uint64
	inflight chan struct{}
}

func newStore[T any](cfg *config, key func(T) string) *store[T] {
	return &store[T]{cfg: cfg, key: key, pos: map[string]int{}}
}

func (s *store[T]) keyOf(v T) string {
	return s.cfg.normalize(s.key(v))
}

// acquire takes the population gate, waiting for an in-flight population to
// finish first. The returned release func must be called exactly once.
func (g *gate) acquire(ctx context.Context) (func(), error) {
	for {
		g.mu.Lock()
		if g.inflight == nil {
			ch := make(chan struct{})
			g.inflight = ch
			g.mu.Unlock()
			return func() {
				g.mu.Lock()
				g.inflight = nil
				g.mu.Unlock()
				close(ch)
			}, nil
		}
		ch := g.inflight
		g.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, canceled(ctx.Err())
		}
	}
}

func (g *gate) generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gen
}

func (s *store[T]) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// full returns a copy of the items if the store is fully populated.
func (s *store[T]) full() ([]T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Full {
		return nil, false
	}
	return slices.Clone(s.items), true
}

func (s *store[T]) snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

func (s *store[T]) get(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *store[T]) getLocked(key string) (T, bool) {
	i, ok := s.pos[s.cfg.normalize(key)]
	if !ok {
		var zero T
		return zero, false
	}
	return s.items[i], true
}

// replaceAll publishes a full population unless the store was cleared since
// gen was read. Duplicate keys keep the first position and the last value.
// Objects that were already memoized keep their identity, so containers
// handed out by a lookup stay attached to the graph with their own caches.
func (s *store[T]) replaceAll(gen uint64, items []T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	cached, pos := s.items, s.pos
	s.items = make([]T, 0, len(items))
	s.pos = make(map[string]int, len(items))
	for _, it := range items {
		if i, ok := pos[s.keyOf(it)]; ok {
			it = cached[i]
		}
		s.putLocked(it)
	}
	s.sortLocked()
	s.state = Full
	return true
}

// put inserts or replaces one object. An empty store becomes partial.
func (s *store[T]) put(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(v)
	if s.state == Empty {
		s.state = Partial
	}
	if s.state == Full {
		s.sortLocked()
	}
}

func (s *store[T]) putLocked(v T) {
	k := s.keyOf(v)
	if i, ok := s.pos[k]; ok {
		s.items[i] = v
		return
	}
	s.pos[k] = len(s.items)
	s.items = append(s.items, v)
}

// remove drops key and reports whether it was present.
func (s *store[T]) remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(s.cfg.normalize(key))
}

func (s *store[T]) removeLocked(k string) bool {
	i, ok := s.pos[k]
	if !ok {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)
	delete(s.pos, k)
	s.reindexLocked()
	return true
}

func (s *store[T]) reindexLocked() {
	clear(s.pos)
	for i, it := range s.items {
		s.pos[s.keyOf(it)] = i
	}
}

func (s *store[T]) sortLocked() {
	if s.order == nil {
		return
	}
	slices.SortStableFunc(s.items, s.order)
	s.reindexLocked()
}

// clear drops everything and invalidates populations in flight.
func (s *store[T]) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.items = nil
	clear(s.pos)
	s.state = Empty
}

func (s *store[T]) setOrder(cmp func(a, b T) int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = cmp
	s.sortLocked()
}

// evict removes key after the catalog reported it gone. A fully populated
// store can no longer vouch for its list and is demoted.
func (s *store[T]) evict(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(s.cfg.normalize(key))
	switch {
	case len(s.items) == 0:
		s.state = Empty
	case s.state == Full:
		s.state = Partial
	}
}
