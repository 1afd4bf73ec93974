// Package cache keeps recently read file blocks in memory.
//
// Relational inputs fetch one buffer-sized range per refill. Caching those
// ranges by (file, offset) turns repeated reads of hot files, like term
// dictionaries and segment descriptors, into memory copies.
//
// The ShardedLRUBlockCache spreads entries across 64 shards to reduce lock
// contention. Memory is accounted against an optional resource.Controller;
// a block that cannot be accounted is simply not cached.
package cache
