// Package cache implements a small, fully-associative, write-back cache that
// sits in front of a backing.Store.
//
// Reads that hit return the cached value without touching the store. Reads
// that miss pay the store's latency and install the value in a line picked by
// the victim finder, writing the previous content back to the store first if
// it was dirty. Writes always land in the cache and reach the store only when
// their line is evicted or the cache is flushed.
//
// A Cache is safe for concurrent use. All lookups and line replacements
// happen under one mutex, but the slow store read of a miss is performed with
// the mutex released, so hits keep being served while misses are in flight.
// Concurrent accesses to an address that is being filled wait for the fill
// instead of filling a second line.
package cache
