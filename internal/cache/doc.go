// Package cache memoizes remote catalog metadata in lazily populated, keyed
// object caches.
//
// Four cache shapes are provided, all built from the same keyed store and
// population gate:
//
//   - ObjectCache loads every object of one kind with a single query.
//   - LookupCache additionally fetches or refreshes one named object without
//     running the full listing.
//   - StructCache is a LookupCache whose objects own children (tables own
//     columns). Children of all parents are loaded with one batched query and
//     demultiplexed by parent key.
//   - CompositeCache loads objects and their multi-row facets (indexes and
//     index columns) from one joined query and groups rows by parent and
//     object key.
//
// Every population opens one Session from the owner's Executor, runs exactly
// one query, polls the context between rows and closes the session on every
// exit path. A failed or canceled population leaves the cache as it was.
package cache
